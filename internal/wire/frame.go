// Package wire implements the length-prefixed framing the socket layer
// sends commands over. A full BSON/wire-protocol codec is intentionally
// out of scope; this package provides the minimal framer and a small
// ordered-document type good enough to exercise handshake and
// authentication command round-trips.
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// MaxMessageSize bounds a single frame so a malformed or hostile peer can't
// force an unbounded allocation.
const MaxMessageSize = 48 * 1024 * 1024

// WriteFrame writes a length-prefixed frame: a 4-byte little-endian length
// (including the header itself, matching the MongoDB wire protocol's own
// convention) followed by payload.
func WriteFrame(w io.Writer, payload []byte) error {
	total := len(payload) + 4
	if total > MaxMessageSize {
		return fmt.Errorf("wire: frame of %d bytes exceeds max message size %d", total, MaxMessageSize)
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(total))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("wire: writing frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: writing frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame and returns its payload (the
// header is consumed but not returned).
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	return ReadFrameBounded(r, 0)
}

// ReadFrameBounded behaves like ReadFrame but additionally rejects a frame
// that exceeds maxSize (the peer's negotiated max_message_size_bytes) before
// reading its payload. maxSize <= 0 falls back to the package-wide
// MaxMessageSize ceiling.
func ReadFrameBounded(r *bufio.Reader, maxSize int) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("wire: reading frame header: %w", err)
	}
	total := binary.LittleEndian.Uint32(hdr[:])
	if total < 4 {
		return nil, fmt.Errorf("wire: invalid frame length %d", total)
	}

	limit := MaxMessageSize
	if maxSize > 0 && maxSize < limit {
		limit = maxSize
	}
	if int(total) > limit {
		return nil, fmt.Errorf("wire: frame of %d bytes exceeds max message size %d", total, limit)
	}
	payload := make([]byte, total-4)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: reading frame payload: %w", err)
	}
	return payload, nil
}
