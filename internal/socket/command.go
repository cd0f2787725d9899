package socket

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/mongopool/pool/internal/mongoerr"
	"github.com/mongopool/pool/internal/poolevents"
	"github.com/mongopool/pool/internal/wire"
)

var nextRequestID int64

// Command implements the Runner interface mongoauth and handshake depend
// on. It layers the §4.3 ConfigurationError pre-checks, writeConcern
// attachment, and event_listeners notification on top of SendRaw/Receive;
// it never bypasses them.
func (r *Record) Command(db string, cmd *wire.Document, opts wire.CommandOptions) (*wire.Document, error) {
	name := firstKey(cmd)
	requestID := atomic.AddInt64(&nextRequestID, 1)
	start := time.Now()
	r.listener.NotifyStarted(poolevents.CommandStartedEvent{
		DatabaseName: db,
		CommandName:  name,
		RequestID:    requestID,
	})

	reply, err := r.runCommand(db, cmd, opts, requestID)
	dur := time.Since(start)
	if err != nil {
		r.listener.NotifyFailed(poolevents.CommandFailedEvent{
			DatabaseName: db,
			CommandName:  name,
			RequestID:    requestID,
			Duration:     dur,
			Failure:      err,
		})
		return reply, err
	}
	r.listener.NotifySucceeded(poolevents.CommandSucceededEvent{
		DatabaseName: db,
		CommandName:  name,
		RequestID:    requestID,
		Duration:     dur,
	})
	return reply, nil
}

func (r *Record) runCommand(db string, cmd *wire.Document, opts wire.CommandOptions, requestID int64) (*wire.Document, error) {
	if err := r.checkCommandOptions(opts); err != nil {
		return nil, err
	}
	if opts.WriteConcern != nil && r.Caps.MaxWireVersion >= 5 {
		cmd.Set("writeConcern", writeConcernDoc(*opts.WriteConcern))
	}
	cmd.Set("$db", db)

	payload := cmd.Encode()
	if err := r.SendRaw(payload, int64(len(payload))); err != nil {
		return nil, err
	}

	respPayload, err := r.Receive(0, requestID)
	if err != nil {
		return nil, err
	}

	reply := wire.Decode(respPayload)
	if reply.Int64("ok") == 0 && !reply.Bool("ok") {
		if code, ok := reply.Get("code"); ok {
			if code == int64(10107) || code == int64(13435) {
				return reply, mongoerr.New(mongoerr.KindNotMaster, db, fmt.Errorf("%v", reply.String("errmsg")))
			}
		}
		return reply, mongoerr.New(mongoerr.KindOperationFailure, db, fmt.Errorf("%s", reply.String("errmsg")))
	}
	return reply, nil
}

// checkCommandOptions runs the §4.3 ConfigurationError pre-checks. A
// MaxWireVersion of 0 means the handshake hasn't populated capabilities
// yet (e.g. the hello command itself): undefined wire version is treated
// as "unknown," not "old," so these checks are skipped rather than firing
// spuriously against the very command that would establish it.
func (r *Record) checkCommandOptions(opts wire.CommandOptions) error {
	wireKnown := r.Caps.MaxWireVersion > 0

	if wireKnown && opts.ReadConcern != "" && opts.ReadConcern != "local" && r.Caps.MaxWireVersion < 4 {
		return mongoerr.New(mongoerr.KindConfigurationError, "Command",
			fmt.Errorf("read concern %q requires wire version >= 4, peer is at %d", opts.ReadConcern, r.Caps.MaxWireVersion))
	}
	if opts.WriteConcern != nil && !opts.WriteConcern.Acknowledged() && opts.Collation != "" {
		return mongoerr.New(mongoerr.KindConfigurationError, "Command",
			errors.New("unacknowledged write concern cannot be combined with a non-default collation"))
	}
	if wireKnown && opts.Collation != "" && r.Caps.MaxWireVersion < 5 {
		return mongoerr.New(mongoerr.KindConfigurationError, "Command",
			fmt.Errorf("collation %q requires wire version >= 5, peer is at %d", opts.Collation, r.Caps.MaxWireVersion))
	}
	return nil
}

func writeConcernDoc(wc wire.WriteConcern) *wire.Document {
	return wire.NewDocument("w", int64(wc.W), "j", wc.Journal)
}

func firstKey(cmd *wire.Document) string {
	keys := cmd.Keys()
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}

// SendRaw writes a pre-encoded message, rejecting it with DocumentTooLarge
// before touching the wire if maxDocSize exceeds the peer's negotiated
// maxBsonObjectSize.
func (r *Record) SendRaw(payload []byte, maxDocSize int64) error {
	if r.Caps.MaxBSONObjectSize > 0 && maxDocSize > r.Caps.MaxBSONObjectSize {
		return mongoerr.New(mongoerr.KindDocumentTooLarge, "SendRaw",
			fmt.Errorf("document of %d bytes exceeds peer maxBsonObjectSize %d", maxDocSize, r.Caps.MaxBSONObjectSize))
	}
	if err := wire.WriteFrame(r.conn, payload); err != nil {
		r.Close()
		return mongoerr.New(classifyIOError(err), "SendRaw", err)
	}
	return nil
}

// Receive reads the next reply frame, bounded by the peer's negotiated
// maxMessageSizeBytes rather than this package's absolute ceiling. opcode
// and requestID are accepted for interface parity with the wire protocol's
// request/response matching; this toy framer has exactly one outstanding
// exchange per socket at a time, so no explicit matching is needed.
func (r *Record) Receive(opcode int32, requestID int64) ([]byte, error) {
	limit := int(r.Caps.MaxMessageSizeByte)
	respPayload, err := wire.ReadFrameBounded(r.reader, limit)
	if err != nil {
		r.Close()
		return nil, mongoerr.New(classifyIOError(err), "Receive", err)
	}
	return respPayload, nil
}

// LegacyWrite sends a pre-OP_MSG style write. When withAck is false, §9
// requires the pre-send check this preserves: an unacknowledged write
// against a peer that isn't currently a writable primary fails
// NotMasterError locally rather than being sent into the void.
func (r *Record) LegacyWrite(requestID int64, msg []byte, maxDocSize int64, withAck bool) (*wire.Document, error) {
	if !withAck && !r.Caps.IsWritablePrimary {
		return nil, mongoerr.New(mongoerr.KindNotMaster, "LegacyWrite",
			errors.New("refusing unacknowledged write: peer is not a writable primary"))
	}

	if err := r.SendRaw(msg, maxDocSize); err != nil {
		return nil, err
	}
	if !withAck {
		return nil, nil
	}

	respPayload, err := r.Receive(0, requestID)
	if err != nil {
		return nil, err
	}
	reply := wire.Decode(respPayload)
	if errmsg := reply.String("err"); errmsg != "" {
		return reply, mongoerr.New(mongoerr.KindOperationFailure, "LegacyWrite", errors.New(errmsg))
	}
	return reply, nil
}

// WriteCommand sends an OP_MSG-style write command and waits for its reply;
// unlike LegacyWrite it always round-trips; write concern is encoded by
// the caller into msg.
func (r *Record) WriteCommand(requestID int64, msg []byte) (*wire.Document, error) {
	if err := r.SendRaw(msg, int64(len(msg))); err != nil {
		return nil, err
	}
	respPayload, err := r.Receive(0, requestID)
	if err != nil {
		return nil, err
	}
	reply := wire.Decode(respPayload)
	if reply.Int64("ok") == 0 && !reply.Bool("ok") {
		return reply, mongoerr.New(mongoerr.KindOperationFailure, "WriteCommand", fmt.Errorf("%s", reply.String("errmsg")))
	}
	return reply, nil
}

func classifyIOError(err error) mongoerr.Kind {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return mongoerr.KindNetworkTimeout
	}
	return mongoerr.KindConnectionFailure
}
