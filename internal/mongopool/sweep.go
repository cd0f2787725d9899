package mongopool

import (
	"context"
	"log/slog"
	"time"

	"github.com/mongopool/pool/internal/socket"
)

const sweepInterval = 30 * time.Second

// sweepLoop periodically evicts idle sockets older than MaxIdleTime and
// tops the pool back up to MinPoolSize.
func (p *Pool) sweepLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.Sweep(); err != nil {
				slog.Warn("background sweep failed", "endpoint", p.endpointStr, "err", err)
			}
		}
	}
}

// Sweep evicts idle sockets past MaxIdleTime and tops the idle set back up
// to MinPoolSize, exposed so a caller can trigger a deterministic sweep
// and observe its result rather than waiting on the background ticker.
// Warm-up connect failures propagate to the caller instead of being
// swallowed; the sockets it did manage to establish before the failure
// are kept.
func (p *Pool) Sweep() error {
	return p.sweepOnce()
}

// RemoveStaleSockets evicts idle sockets past MaxIdleTime without
// attempting to warm the pool back up to MinPoolSize.
func (p *Pool) RemoveStaleSockets() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.checkFork()
	p.evictStaleLocked()
	p.mu.Unlock()
}

func (p *Pool) evictStaleLocked() {
	var survivors []*socket.Record
	for _, s := range p.idle {
		if p.isStale(s) {
			go s.Close()
			continue
		}
		survivors = append(survivors, s)
	}
	p.idle = survivors
}

func (p *Pool) sweepOnce() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.checkFork()
	p.evictStaleLocked()
	generation := p.generation
	need := p.opts.MinPoolSize - (len(p.idle) + p.activeCount)
	p.mu.Unlock()

	for i := 0; i < need; i++ {
		ctx := context.Background()
		var cancel context.CancelFunc
		if p.opts.ConnectTimeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, p.opts.ConnectTimeout)
		}
		s, err := p.connect(ctx, generation)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			return err
		}

		p.mu.Lock()
		if p.closed || s.Generation() != p.generation {
			p.mu.Unlock()
			s.Close()
			return nil
		}
		p.idle = append(p.idle, s)
		p.mu.Unlock()
	}
	return nil
}
