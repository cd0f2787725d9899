package wire

// WriteConcern mirrors the {w, j} shape of a MongoDB write concern closely
// enough to drive the wire-version gating in §4.3: w=0 is the
// unacknowledged case Command's collation pre-check rejects.
type WriteConcern struct {
	W       int
	Journal bool
}

// Acknowledged reports whether this write concern waits for a server reply.
func (wc WriteConcern) Acknowledged() bool { return wc.W != 0 }

// CommandOptions carries the per-command knobs Command's §4.3 pre-checks
// gate on. The zero value (no read concern, no collation, no write
// concern override) never fails a pre-check, matching the commands
// handshake and auth issue.
type CommandOptions struct {
	// ReadConcern is the requested read concern level. "" and "local" are
	// the legacy-compatible defaults; anything else requires MaxWireVersion
	// >= 4.
	ReadConcern string
	// Collation is non-empty when the caller requested a non-default
	// collation, which requires MaxWireVersion >= 5.
	Collation string
	// WriteConcern, if set, is attached to the outgoing command when the
	// peer supports it (MaxWireVersion >= 5).
	WriteConcern *WriteConcern
}
