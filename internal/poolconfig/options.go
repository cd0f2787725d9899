// Package poolconfig defines pool options, process-wide handshake
// metadata, and YAML configuration loading with environment-variable
// substitution and credential hot-reload.
package poolconfig

import (
	"time"

	"github.com/mongopool/pool/internal/poolevents"
)

// Options is immutable: every field is read at pool construction time and
// never mutated afterward (a reconfiguration replaces the Pool, it doesn't
// patch Options in place).
type Options struct {
	// MaxPoolSize caps concurrently checked-out sockets. A negative value
	// means "None" in the source terminology: the cap is disabled and the
	// admission semaphore never blocks a checkout on capacity.
	MaxPoolSize    int
	MinPoolSize    int
	MaxIdleTime    time.Duration
	ConnectTimeout time.Duration
	SocketTimeout  time.Duration
	// WaitQueueTimeout bounds how long Checkout blocks for a free slot.
	// Zero means wait indefinitely.
	WaitQueueTimeout time.Duration
	// WaitQueueMultiple, if > 0, caps the number of goroutines allowed to
	// queue for a checkout at MaxPoolSize * WaitQueueMultiple; beyond that
	// Checkout fails immediately. Zero means unbounded queueing.
	WaitQueueMultiple int
	// LivenessCheckInterval is a three-way switch: nil disables the
	// liveness probe entirely, a zero duration probes on every checkout,
	// and a positive duration only probes sockets idle longer than the
	// interval.
	LivenessCheckInterval *time.Duration
	AppName               string
	TLS                   TLSOptions
	// EventListeners is the optional observer sink for command events
	// (started/succeeded/failed), fired around every Socket Record Command
	// call. Nil means no listener is installed; it is Go-code only and has
	// no YAML representation, the same way mongo-go-driver's ClientOptions
	// Monitor field is code-only.
	EventListeners *poolevents.Monitor
}

// TLSOptions configures the optional TLS wrap applied after dialing.
type TLSOptions struct {
	Enabled            bool
	CAFile             string
	CertFile           string
	KeyFile            string
	InsecureSkipVerify bool
	// MatchHostname controls whether the peer certificate's subject is
	// checked against the dialed hostname, independent of verification.
	MatchHostname bool
}

// Validate enforces the basic sanity constraints on pool sizing.
func (o Options) Validate() error {
	if o.MaxPoolSize == 0 {
		return errInvalidOption("max_pool_size must be positive, or negative to disable the cap")
	}
	if o.MinPoolSize < 0 {
		return errInvalidOption("min_pool_size must not be negative")
	}
	if o.MaxPoolSize > 0 && o.MinPoolSize > o.MaxPoolSize {
		return errInvalidOption("min_pool_size must not exceed max_pool_size")
	}
	return nil
}

// Unbounded reports whether MaxPoolSize disables the admission cap.
func (o Options) Unbounded() bool { return o.MaxPoolSize < 0 }

type optionError string

func (e optionError) Error() string { return string(e) }

func errInvalidOption(msg string) error { return optionError("poolconfig: " + msg) }

// Default returns a moderate pool size with conservative timeouts.
func Default() Options {
	interval := time.Second
	return Options{
		MaxPoolSize:           20,
		MinPoolSize:           2,
		MaxIdleTime:           5 * time.Minute,
		ConnectTimeout:        10 * time.Second,
		SocketTimeout:         0,
		WaitQueueTimeout:      10 * time.Second,
		WaitQueueMultiple:     0,
		LivenessCheckInterval: &interval,
	}
}
