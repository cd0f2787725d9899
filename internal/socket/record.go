// Package socket implements the Record wrapping one live connection along
// with its negotiated capabilities and authentication state.
package socket

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mongopool/pool/internal/handshake"
	"github.com/mongopool/pool/internal/mongoaddr"
	"github.com/mongopool/pool/internal/mongoauth"
	"github.com/mongopool/pool/internal/poolevents"
)

var nextID int64

// Record is one pooled connection. Equality and hashing (as a map key) are
// by ID, not by field values, mirroring SocketInfo.__eq__/__hash__'s
// identity semantics on the underlying socket.
type Record struct {
	ID       int64
	Endpoint mongoaddr.Endpoint
	Caps     handshake.Capabilities

	conn     net.Conn
	reader   *bufio.Reader
	listener *poolevents.Monitor

	mu           sync.Mutex
	closed       bool
	generation   int64
	lastCheckout time.Time
	createdAt    time.Time
	authset      map[string]mongoauth.Credential
}

// New wraps an already-connected, already-handshaken net.Conn into a
// Record at the given pool generation. listener may be nil (no
// event_listeners configured).
func New(conn net.Conn, ep mongoaddr.Endpoint, caps handshake.Capabilities, generation int64, listener *poolevents.Monitor) *Record {
	now := time.Now()
	return &Record{
		ID:           atomic.AddInt64(&nextID, 1),
		Endpoint:     ep,
		Caps:         caps,
		conn:         conn,
		reader:       bufio.NewReader(conn),
		listener:     listener,
		generation:   generation,
		createdAt:    now,
		lastCheckout: now,
		authset:      make(map[string]mongoauth.Credential),
	}
}

// SetCaps updates the negotiated capabilities after the handshake command
// completes. Called once, right after New, before the socket is handed to
// any caller.
func (r *Record) SetCaps(caps handshake.Capabilities) {
	r.mu.Lock()
	r.Caps = caps
	r.mu.Unlock()
}

// Generation returns the pool generation this socket was created under,
// used by the pool to detect staleness after a reset (§4.6 invariant 2).
func (r *Record) Generation() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation
}

// LastCheckout returns the time this socket was last handed out, used by
// the liveness probe and idle-eviction sweep.
func (r *Record) LastCheckout() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastCheckout
}

// MarkCheckedOut stamps the last-checkout time, called by the pool whenever
// this socket leaves the idle set.
func (r *Record) MarkCheckedOut(at time.Time) {
	r.mu.Lock()
	r.lastCheckout = at
	r.mu.Unlock()
}

// CreatedAt returns when this socket was established.
func (r *Record) CreatedAt() time.Time { return r.createdAt }

// IsClosed reports whether Close has been called on this socket.
func (r *Record) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Close idempotently closes the underlying connection, swallowing errors:
// a socket being torn down is never itself a reason to fail the caller.
func (r *Record) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()
	_ = r.conn.Close()
}

// Alive runs the non-destructive liveness probe described in §4.6 step 5:
// a one-byte, deadline-bounded peek that distinguishes "nothing to
// read yet" (socket still good) from "peer closed" or "peer sent
// unexpected bytes" (socket must be discarded). It never blocks past
// the supplied budget and never consumes bytes a later Command/Receive
// would need: a successful Peek leaves the buffered reader untouched.
func (r *Record) Alive(budget time.Duration) bool {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return false
	}

	if budget <= 0 {
		budget = time.Millisecond
	}
	_ = r.conn.SetReadDeadline(time.Now().Add(budget))
	defer r.conn.SetReadDeadline(time.Time{})

	_, err := r.reader.Peek(1)
	switch {
	case err == nil:
		// Bytes arrived outside of a request/response cycle: the peer is
		// desynchronized from this client's protocol state.
		return false
	case errors.Is(err, io.EOF):
		return false
	default:
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return true
		}
		return false
	}
}

