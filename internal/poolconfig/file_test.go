package poolconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
endpoint:
  host: db.example.com
  port: 27017
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pool.MaxPoolSize != 20 {
		t.Errorf("MaxPoolSize = %d, want default 20", cfg.Pool.MaxPoolSize)
	}
	if cfg.Pool.MinPoolSize != 2 {
		t.Errorf("MinPoolSize = %d, want default 2", cfg.Pool.MinPoolSize)
	}
}

func TestLoadRequiresHost(t *testing.T) {
	path := writeTempConfig(t, `
endpoint:
  port: 27017
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a missing endpoint.host")
	}
}

func TestLoadSubstitutesEnvVars(t *testing.T) {
	t.Setenv("POOL_TEST_HOST", "env-host.example.com")
	path := writeTempConfig(t, `
endpoint:
  host: ${POOL_TEST_HOST}
  port: 27017
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Endpoint.Host != "env-host.example.com" {
		t.Errorf("Endpoint.Host = %q, want env-host.example.com", cfg.Endpoint.Host)
	}
}

func TestLoadAllowsUnixSocketWithoutPort(t *testing.T) {
	path := writeTempConfig(t, `
endpoint:
  host: /tmp/mongodb-27017.sock
`)
	if _, err := Load(path); err != nil {
		t.Fatalf("Load should accept a UNIX socket endpoint without a port: %v", err)
	}
}

func TestToOptionsConvertsMillisecondFields(t *testing.T) {
	path := writeTempConfig(t, `
endpoint:
  host: db.example.com
  port: 27017
pool:
  max_pool_size: 5
  connect_timeout_ms: 2000
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	opts := cfg.ToOptions()
	if opts.MaxPoolSize != 5 {
		t.Errorf("MaxPoolSize = %d, want 5", opts.MaxPoolSize)
	}
	if opts.ConnectTimeout.Milliseconds() != 2000 {
		t.Errorf("ConnectTimeout = %v, want 2000ms", opts.ConnectTimeout)
	}
}
