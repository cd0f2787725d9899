// Package mongopool implements the single-endpoint connection pool core —
// checkout, return, reset, and the idle stale-sweep/min-size warmup loop.
package mongopool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/mongopool/pool/internal/mongoauth"
	"github.com/mongopool/pool/internal/mongoerr"
	"github.com/mongopool/pool/internal/poolclock"
	"github.com/mongopool/pool/internal/poolconfig"
	"github.com/mongopool/pool/internal/poolsem"
	"github.com/mongopool/pool/internal/socket"
)

// Stats is a snapshot of pool occupancy used to feed Prometheus gauges.
type Stats struct {
	Active  int
	Idle    int
	Total   int
	Waiting int
}

// OnExhausted is invoked whenever Checkout observes the wait queue timing
// out.
type OnExhausted func()

// Pool is a single-endpoint MongoDB connection pool.
type Pool struct {
	endpointStr string
	connect     connectFunc
	opts        poolconfig.Options
	sem         *poolsem.Semaphore
	clock       poolclock.Clock

	mu          sync.Mutex
	idle        []*socket.Record
	activeCount int
	generation  int64
	pid         int
	closed      bool
	credentials map[string]mongoauth.Credential

	onExhausted OnExhausted

	stopCh chan struct{}
	wg     sync.WaitGroup
}

type connectFunc func(ctx context.Context, generation int64) (*socket.Record, error)

// newPool constructs a Pool. connect is the low-level dial+handshake
// function; production callers use New, which supplies a real connector.
func newPool(endpointStr string, opts poolconfig.Options, connect connectFunc, clock poolclock.Clock) (*Pool, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	maxWaiters := 0
	if opts.WaitQueueMultiple > 0 && !opts.Unbounded() {
		maxWaiters = opts.MaxPoolSize * opts.WaitQueueMultiple
	}
	p := &Pool{
		endpointStr: endpointStr,
		connect:     connect,
		opts:        opts,
		sem:         poolsem.New(opts.MaxPoolSize, maxWaiters),
		clock:       clock,
		pid:         os.Getpid(),
		credentials: make(map[string]mongoauth.Credential),
		stopCh:      make(chan struct{}),
	}
	p.wg.Add(1)
	go p.sweepLoop()
	return p, nil
}

// SetCredentials updates the desired authenticated set. Sockets already
// checked out reconcile against it on their next Checkout; idle sockets
// reconcile immediately so a subsequent Checkout doesn't pay the
// reconciliation latency.
func (p *Pool) SetCredentials(creds map[string]mongoauth.Credential) {
	p.mu.Lock()
	p.credentials = make(map[string]mongoauth.Credential, len(creds))
	for k, v := range creds {
		p.credentials[k] = v
	}
	wanted := p.credentials
	idle := append([]*socket.Record(nil), p.idle...)
	p.mu.Unlock()

	for _, s := range idle {
		if err := s.Reconcile(wanted); err != nil {
			slog.Warn("credential reconciliation failed on idle socket", "endpoint", p.endpointStr, "err", err)
			s.Close()
		}
	}
}

func (p *Pool) wantedCredentials() map[string]mongoauth.Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]mongoauth.Credential, len(p.credentials))
	for k, v := range p.credentials {
		out[k] = v
	}
	return out
}

// checkFork resets the pool if the process has forked since the pool was
// created.
func (p *Pool) checkFork() {
	if os.Getpid() != p.pid {
		p.resetLocked()
	}
}

// Checkout acquires a socket, connecting a new one if no idle socket is
// available. The returned socket has already had its credential set
// reconciled against the pool's current wanted credentials (§4.4).
func (p *Pool) Checkout(ctx context.Context) (*socket.Record, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("mongopool: pool for %s is closed", p.endpointStr)
	}
	p.checkFork()
	p.mu.Unlock()

	if err := p.sem.Acquire(ctx, p.opts.WaitQueueTimeout, p.opts.MaxPoolSize); err != nil {
		var timeoutErr *poolsem.ErrTimeout
		if errors.As(err, &timeoutErr) && p.onExhausted != nil {
			p.onExhausted()
		}
		return nil, mongoerr.New(mongoerr.KindConnectionFailure, "Checkout", err)
	}

	s, err := p.checkoutLocked(ctx)
	if err != nil {
		p.sem.Release()
		return nil, err
	}

	if err := s.Reconcile(p.wantedCredentials()); err != nil {
		p.sem.Release()
		s.Close()
		return nil, err
	}

	p.mu.Lock()
	p.activeCount++
	p.mu.Unlock()
	return s, nil
}

func (p *Pool) checkoutLocked(ctx context.Context) (*socket.Record, error) {
	for {
		p.mu.Lock()
		p.checkFork()
		var s *socket.Record
		if n := len(p.idle); n > 0 {
			s = p.idle[n-1]
			p.idle = p.idle[:n-1]
		}
		generation := p.generation
		p.mu.Unlock()

		if s == nil {
			fresh, err := p.connect(ctx, generation)
			if err != nil {
				return nil, err
			}
			return fresh, nil
		}

		if s.Generation() != generation {
			s.Close()
			continue
		}
		if p.isStale(s) {
			s.Close()
			continue
		}
		if !p.checkLiveness(s) {
			s.Close()
			continue
		}
		s.MarkCheckedOut(p.clock.Now())
		return s, nil
	}
}

// isStale applies MaxIdleTime to a socket pulled from the idle set.
func (p *Pool) isStale(s *socket.Record) bool {
	if p.opts.MaxIdleTime <= 0 {
		return false
	}
	return p.clock.Since(s.LastCheckout()) > p.opts.MaxIdleTime
}

// checkLiveness implements the three-way _check_interval_seconds contract:
// a nil interval disables probing, zero probes every time, and a positive
// duration only probes sockets idle longer than the interval.
func (p *Pool) checkLiveness(s *socket.Record) bool {
	interval := p.opts.LivenessCheckInterval
	if interval == nil {
		return true
	}
	if *interval > 0 && p.clock.Since(s.LastCheckout()) <= *interval {
		return true
	}
	return probeAlive(s)
}

// Return hands a socket back to the idle set, or closes it if the pool has
// moved to a new generation since it was checked out (§4.6 invariant 2) or
// the caller observed an I/O error forcing the socket closed already.
//
// Open question preserved from the source material: a socket that merely
// observed an application-level error (OperationFailure, NotMasterError)
// is still returned to the idle set here — only mongoerr.IsIOError
// failures, which socket.Record answers by closing itself, keep a socket
// out of the idle set. A socket returned after Close is closed as well.
func (p *Pool) Return(s *socket.Record) {
	p.mu.Lock()
	p.activeCount--
	p.checkFork()
	stale := p.closed || s.IsClosed() || s.Generation() != p.generation
	if !stale {
		p.idle = append(p.idle, s)
	}
	p.mu.Unlock()

	if stale {
		s.Close()
	}
	p.sem.Release()
}

// Reset invalidates every outstanding and idle socket by bumping the pool
// generation and re-sampling the owning pid.
func (p *Pool) Reset() {
	p.mu.Lock()
	p.resetLocked()
	p.mu.Unlock()
}

func (p *Pool) resetLocked() {
	p.generation++
	p.pid = os.Getpid()
	stale := p.idle
	p.idle = nil
	p.activeCount = 0
	go func() {
		for _, s := range stale {
			s.Close()
		}
	}()
}

// Stats returns a point-in-time occupancy snapshot.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Active:  p.activeCount,
		Idle:    len(p.idle),
		Total:   p.activeCount + len(p.idle),
		Waiting: p.sem.Waiters(),
	}
}

// SetOnExhausted installs the wait-queue-timeout callback.
func (p *Pool) SetOnExhausted(fn OnExhausted) {
	p.mu.Lock()
	p.onExhausted = fn
	p.mu.Unlock()
}

// Close drains the idle set and stops the background sweep loop. Sockets
// currently checked out are left for their holders to Return, at which
// point the generation bump from a prior Reset (if any) or the closed
// flag here causes them to be closed instead of recycled.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	close(p.stopCh)
	p.wg.Wait()

	for _, s := range idle {
		s.Close()
	}
}

// livenessProbeBudget bounds the deadline given to a single liveness peek;
// it must be small enough that a healthy, merely-quiet socket never trips
// the timeout path.
const livenessProbeBudget = 1 * time.Millisecond

func probeAlive(s *socket.Record) bool {
	return s.Alive(livenessProbeBudget)
}
