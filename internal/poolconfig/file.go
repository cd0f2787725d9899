package poolconfig

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mongopool/pool/internal/mongoaddr"
)

// FileConfig is the on-disk shape of a pool configuration, loaded with
// ${VAR} environment-substitution for secrets like passwords.
type FileConfig struct {
	Endpoint struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"endpoint"`
	Pool struct {
		MaxPoolSize           int    `yaml:"max_pool_size"`
		MinPoolSize           int    `yaml:"min_pool_size"`
		MaxIdleTimeMS         int    `yaml:"max_idle_time_ms"`
		ConnectTimeoutMS      int    `yaml:"connect_timeout_ms"`
		SocketTimeoutMS       int    `yaml:"socket_timeout_ms"`
		WaitQueueTimeoutMS    int    `yaml:"wait_queue_timeout_ms"`
		WaitQueueMultiple     int    `yaml:"wait_queue_multiple"`
		LivenessIntervalMS    *int   `yaml:"liveness_check_interval_ms,omitempty"`
		AppName               string `yaml:"app_name"`
	} `yaml:"pool"`
	TLS struct {
		Enabled            bool   `yaml:"enabled"`
		CAFile             string `yaml:"ca_file"`
		CertFile           string `yaml:"cert_file"`
		KeyFile            string `yaml:"key_file"`
		InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
		MatchHostname      bool   `yaml:"match_hostname"`
	} `yaml:"tls"`
	Credential CredentialFile `yaml:"credential"`
}

// CredentialFile is the serialized form of a single authentication
// credential, loaded both from the main config and the hot-reloadable
// credentials file.
type CredentialFile struct {
	Source    string `yaml:"source"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Mechanism string `yaml:"mechanism"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(name)); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a pool config file with env var substitution.
func Load(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("poolconfig: reading config file: %w", err)
	}
	data = substituteEnvVars(data)

	cfg := &FileConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("poolconfig: parsing config file: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("poolconfig: validating config: %w", err)
	}
	applyFileDefaults(cfg)
	return cfg, nil
}

func validate(cfg *FileConfig) error {
	if cfg.Endpoint.Host == "" {
		return fmt.Errorf("endpoint.host is required")
	}
	if !isUnixSocketHost(cfg.Endpoint.Host) && cfg.Endpoint.Port == 0 {
		return fmt.Errorf("endpoint.port is required for TCP endpoints")
	}
	return nil
}

func isUnixSocketHost(host string) bool {
	return mongoaddr.Endpoint{Host: host}.IsUnixSocket()
}

func applyFileDefaults(cfg *FileConfig) {
	if cfg.Pool.MaxPoolSize == 0 {
		cfg.Pool.MaxPoolSize = 20
	}
	if cfg.Pool.MinPoolSize == 0 {
		cfg.Pool.MinPoolSize = 2
	}
	if cfg.Pool.MaxIdleTimeMS == 0 {
		cfg.Pool.MaxIdleTimeMS = int((5 * time.Minute).Milliseconds())
	}
	if cfg.Pool.ConnectTimeoutMS == 0 {
		cfg.Pool.ConnectTimeoutMS = 10000
	}
	if cfg.Pool.WaitQueueTimeoutMS == 0 {
		cfg.Pool.WaitQueueTimeoutMS = 10000
	}
}

// ToOptions converts the file representation into an Options value.
func (f *FileConfig) ToOptions() Options {
	opts := Options{
		MaxPoolSize:       f.Pool.MaxPoolSize,
		MinPoolSize:       f.Pool.MinPoolSize,
		MaxIdleTime:       time.Duration(f.Pool.MaxIdleTimeMS) * time.Millisecond,
		ConnectTimeout:    time.Duration(f.Pool.ConnectTimeoutMS) * time.Millisecond,
		SocketTimeout:     time.Duration(f.Pool.SocketTimeoutMS) * time.Millisecond,
		WaitQueueTimeout:  time.Duration(f.Pool.WaitQueueTimeoutMS) * time.Millisecond,
		WaitQueueMultiple: f.Pool.WaitQueueMultiple,
		AppName:           f.Pool.AppName,
		TLS: TLSOptions{
			Enabled:            f.TLS.Enabled,
			CAFile:             f.TLS.CAFile,
			CertFile:           f.TLS.CertFile,
			KeyFile:            f.TLS.KeyFile,
			InsecureSkipVerify: f.TLS.InsecureSkipVerify,
			MatchHostname:      f.TLS.MatchHostname,
		},
	}
	if f.Pool.LivenessIntervalMS != nil {
		d := time.Duration(*f.Pool.LivenessIntervalMS) * time.Millisecond
		opts.LivenessCheckInterval = &d
	} else {
		d := time.Second
		opts.LivenessCheckInterval = &d
	}
	return opts
}

// ToEndpoint converts the file's endpoint block into a mongoaddr.Endpoint.
func (f *FileConfig) ToEndpoint() mongoaddr.Endpoint {
	return mongoaddr.Endpoint{Host: f.Endpoint.Host, Port: f.Endpoint.Port}
}
