// Package poolsem implements a bounded semaphore with an optional cap on
// the number of waiters and a wait timeout.
package poolsem

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Semaphore bounds concurrent checkouts to size slots. If maxWaiters > 0,
// Acquire fails immediately once that many goroutines are already queued.
// A negative size disables the capacity cap entirely (max_pool_size=None
// in the source terminology): Acquire never blocks on admission.
type Semaphore struct {
	slots      chan struct{}
	maxWaiters int64
	unbounded  bool

	mu      sync.Mutex
	waiters int64
}

// New creates a Semaphore with size permits and an optional maxWaiters cap
// (0 means unbounded queueing). size < 0 disables the capacity cap.
func New(size int, maxWaiters int) *Semaphore {
	if size < 0 {
		return &Semaphore{unbounded: true}
	}
	return &Semaphore{
		slots:      make(chan struct{}, size),
		maxWaiters: int64(maxWaiters),
	}
}

// ErrWaitQueueFull is returned when the waiter cap is already reached.
type ErrWaitQueueFull struct{ MaxWaiters int64 }

func (e *ErrWaitQueueFull) Error() string {
	return fmt.Sprintf("poolsem: wait queue already has %d waiters", e.MaxWaiters)
}

// ErrTimeout is returned when timeout elapses before a slot frees up.
type ErrTimeout struct {
	MaxSize int
	Timeout time.Duration
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("poolsem: timed out waiting for socket from pool with max_size %d and wait_queue_timeout %s", e.MaxSize, e.Timeout)
}

// Acquire blocks until a slot is free, ctx is done, or timeout (if > 0)
// elapses. maxSize is carried only for the timeout error message.
func (s *Semaphore) Acquire(ctx context.Context, timeout time.Duration, maxSize int) error {
	if s.unbounded {
		return nil
	}
	s.mu.Lock()
	if s.maxWaiters > 0 && s.waiters >= s.maxWaiters {
		s.mu.Unlock()
		return &ErrWaitQueueFull{MaxWaiters: s.maxWaiters}
	}
	s.waiters++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.waiters--
		s.mu.Unlock()
	}()

	if timeout <= 0 {
		select {
		case s.slots <- struct{}{}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-timer.C:
		return &ErrTimeout{MaxSize: maxSize, Timeout: timeout}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees one slot.
func (s *Semaphore) Release() {
	if s.unbounded {
		return
	}
	select {
	case <-s.slots:
	default:
		panic("poolsem: Release called without a matching Acquire")
	}
}

// Waiters reports the current number of goroutines blocked in Acquire.
func (s *Semaphore) Waiters() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.waiters)
}
