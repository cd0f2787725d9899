package socket

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/mongopool/pool/internal/handshake"
	"github.com/mongopool/pool/internal/mongoaddr"
	"github.com/mongopool/pool/internal/mongoauth"
	"github.com/mongopool/pool/internal/mongoerr"
	"github.com/mongopool/pool/internal/wire"
)

// serveOnce runs a single request/response round on the server side of a
// net.Pipe, using the same frame/document encoding the client speaks.
func serveOnce(t *testing.T, conn net.Conn, respond func(cmd *wire.Document) *wire.Document) {
	t.Helper()
	r := bufio.NewReader(conn)
	payload, err := wire.ReadFrame(r)
	if err != nil {
		t.Errorf("server ReadFrame: %v", err)
		return
	}
	reply := respond(wire.Decode(payload))
	if err := wire.WriteFrame(conn, reply.Encode()); err != nil {
		t.Errorf("server WriteFrame: %v", err)
	}
}

func newTestRecord(clientConn net.Conn) *Record {
	ep := mongoaddr.Endpoint{Host: "db.example.com", Port: 27017}
	caps := handshake.Capabilities{MaxBSONObjectSize: 16 * 1024 * 1024, MaxMessageSizeByte: 48 * 1024 * 1024}
	return New(clientConn, ep, caps, 1, nil)
}

func TestCommandSuccess(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	rec := newTestRecord(client)
	defer rec.Close()

	go serveOnce(t, server, func(cmd *wire.Document) *wire.Document {
		if cmd.Int64("ping") != 1 {
			t.Errorf("expected ping field in command, got %v", cmd.Keys())
		}
		return wire.NewDocument("ok", true)
	})

	reply, err := rec.Command("admin", wire.NewDocument("ping", int64(1)), wire.CommandOptions{})
	if err != nil {
		t.Fatalf("Command: %v", err)
	}
	if !reply.Bool("ok") {
		t.Error("expected ok reply")
	}
}

func TestCommandOperationFailure(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	rec := newTestRecord(client)
	defer rec.Close()

	go serveOnce(t, server, func(cmd *wire.Document) *wire.Document {
		return wire.NewDocument("ok", false, "errmsg", "bad command")
	})

	_, err := rec.Command("admin", wire.NewDocument("ping", int64(1)), wire.CommandOptions{})
	if err == nil {
		t.Fatal("expected an OperationFailure error")
	}
	// An application-level error must not have closed the socket.
	if rec.IsClosed() {
		t.Error("OperationFailure must not close the socket (open question: only I/O errors close it)")
	}
}

func TestCommandIOErrorClosesSocket(t *testing.T) {
	client, server := net.Pipe()
	rec := newTestRecord(client)
	server.Close() // break the pipe before the client ever writes

	_, err := rec.Command("admin", wire.NewDocument("ping", int64(1)), wire.CommandOptions{})
	if err == nil {
		t.Fatal("expected a write error against a closed pipe")
	}
	if !rec.IsClosed() {
		t.Error("an I/O error must close the socket")
	}
}

func TestCommandRejectsOldWireVersionWithReadConcern(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	rec := newTestRecord(client)
	rec.SetCaps(handshake.Capabilities{MaxWireVersion: 3, MaxBSONObjectSize: 16 * 1024 * 1024, MaxMessageSizeByte: 48 * 1024 * 1024})
	defer rec.Close()

	_, err := rec.Command("admin", wire.NewDocument("find", int64(1)), wire.CommandOptions{ReadConcern: "majority"})
	if mongoerr.KindOf(err) != mongoerr.KindConfigurationError {
		t.Fatalf("Command with readConcern against wire version 3 = %v, want ConfigurationError", err)
	}
}

func TestCommandRejectsUnackedWriteConcernWithCollation(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	rec := newTestRecord(client)
	rec.SetCaps(handshake.Capabilities{MaxWireVersion: 6, MaxBSONObjectSize: 16 * 1024 * 1024, MaxMessageSizeByte: 48 * 1024 * 1024})
	defer rec.Close()

	opts := wire.CommandOptions{WriteConcern: &wire.WriteConcern{W: 0}, Collation: "en_US"}
	_, err := rec.Command("admin", wire.NewDocument("insert", int64(1)), opts)
	if mongoerr.KindOf(err) != mongoerr.KindConfigurationError {
		t.Fatalf("Command with unacked write concern + collation = %v, want ConfigurationError", err)
	}
}

func TestCommandRejectsCollationBelowWireVersion5(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	rec := newTestRecord(client)
	rec.SetCaps(handshake.Capabilities{MaxWireVersion: 4, MaxBSONObjectSize: 16 * 1024 * 1024, MaxMessageSizeByte: 48 * 1024 * 1024})
	defer rec.Close()

	_, err := rec.Command("admin", wire.NewDocument("find", int64(1)), wire.CommandOptions{Collation: "en_US"})
	if mongoerr.KindOf(err) != mongoerr.KindConfigurationError {
		t.Fatalf("Command with collation against wire version 4 = %v, want ConfigurationError", err)
	}
}

func TestCommandAttachesWriteConcernAtWireVersion5(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	rec := newTestRecord(client)
	rec.SetCaps(handshake.Capabilities{MaxWireVersion: 6, MaxBSONObjectSize: 16 * 1024 * 1024, MaxMessageSizeByte: 48 * 1024 * 1024})
	defer rec.Close()

	go serveOnce(t, server, func(cmd *wire.Document) *wire.Document {
		if _, ok := cmd.Get("writeConcern"); !ok {
			t.Errorf("expected writeConcern attached to outgoing command, got %v", cmd.Keys())
		}
		return wire.NewDocument("ok", true)
	})

	opts := wire.CommandOptions{WriteConcern: &wire.WriteConcern{W: 1, Journal: true}}
	if _, err := rec.Command("admin", wire.NewDocument("insert", int64(1)), opts); err != nil {
		t.Fatalf("Command: %v", err)
	}
}

func TestSendRawRejectsOverPeerMaxBSONSize(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	rec := newTestRecord(client)
	rec.SetCaps(handshake.Capabilities{MaxBSONObjectSize: 100})
	defer rec.Close()

	err := rec.SendRaw([]byte("payload"), 200)
	if mongoerr.KindOf(err) != mongoerr.KindDocumentTooLarge {
		t.Fatalf("SendRaw over peer limit = %v, want DocumentTooLarge", err)
	}
}

func TestSendRawAndReceiveRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	rec := newTestRecord(client)
	defer rec.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		serveOnce(t, server, func(cmd *wire.Document) *wire.Document {
			return wire.NewDocument("ok", true)
		})
	}()

	if err := rec.SendRaw(wire.NewDocument("ping", int64(1)).Encode(), 0); err != nil {
		t.Fatalf("SendRaw: %v", err)
	}
	payload, err := rec.Receive(0, 1)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	<-done
	if !wire.Decode(payload).Bool("ok") {
		t.Error("expected ok reply")
	}
}

func TestLegacyWriteRejectsUnackedAgainstNonPrimary(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	rec := newTestRecord(client)
	rec.SetCaps(handshake.Capabilities{MaxBSONObjectSize: 16 * 1024 * 1024, IsWritablePrimary: false})
	defer rec.Close()

	_, err := rec.LegacyWrite(1, []byte("insert payload"), 14, false)
	if mongoerr.KindOf(err) != mongoerr.KindNotMaster {
		t.Fatalf("LegacyWrite unacked against non-primary = %v, want NotMasterError", err)
	}
}

func TestLegacyWriteUnackedAgainstPrimarySendsWithoutWaiting(t *testing.T) {
	client, server := net.Pipe()
	rec := newTestRecord(client)
	rec.SetCaps(handshake.Capabilities{MaxBSONObjectSize: 16 * 1024 * 1024, IsWritablePrimary: true})
	defer rec.Close()

	received := make(chan []byte, 1)
	go func() {
		r := bufio.NewReader(server)
		payload, _ := wire.ReadFrame(r)
		received <- payload
	}()

	reply, err := rec.LegacyWrite(1, []byte("insert payload"), 14, false)
	if err != nil {
		t.Fatalf("LegacyWrite: %v", err)
	}
	if reply != nil {
		t.Errorf("unacknowledged LegacyWrite should return a nil reply, got %v", reply)
	}
	select {
	case got := <-received:
		if string(got) != "insert payload" {
			t.Errorf("server received %q, want %q", got, "insert payload")
		}
	case <-time.After(time.Second):
		t.Fatal("server never received the unacknowledged write")
	}
}

func TestLegacyWriteAckedWaitsForReply(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	rec := newTestRecord(client)
	rec.SetCaps(handshake.Capabilities{MaxBSONObjectSize: 16 * 1024 * 1024, IsWritablePrimary: true})
	defer rec.Close()

	go serveOnce(t, server, func(cmd *wire.Document) *wire.Document {
		return wire.NewDocument("ok", true, "n", int64(1))
	})

	reply, err := rec.LegacyWrite(1, wire.NewDocument("insert", int64(1)).Encode(), 14, true)
	if err != nil {
		t.Fatalf("LegacyWrite: %v", err)
	}
	if reply.Int64("n") != 1 {
		t.Errorf("expected n=1 in acked reply")
	}
}

func TestWriteCommandRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	rec := newTestRecord(client)
	defer rec.Close()

	go serveOnce(t, server, func(cmd *wire.Document) *wire.Document {
		if cmd.Int64("insert") != 1 {
			t.Errorf("expected insert field, got %v", cmd.Keys())
		}
		return wire.NewDocument("ok", true, "n", int64(1))
	})

	reply, err := rec.WriteCommand(1, wire.NewDocument("insert", int64(1)).Encode())
	if err != nil {
		t.Fatalf("WriteCommand: %v", err)
	}
	if reply.Int64("n") != 1 {
		t.Errorf("expected n=1 in reply")
	}
}

func TestWriteCommandSurfacesOperationFailure(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	rec := newTestRecord(client)
	defer rec.Close()

	go serveOnce(t, server, func(cmd *wire.Document) *wire.Document {
		return wire.NewDocument("ok", false, "errmsg", "duplicate key")
	})

	_, err := rec.WriteCommand(1, wire.NewDocument("insert", int64(1)).Encode())
	if mongoerr.KindOf(err) != mongoerr.KindOperationFailure {
		t.Fatalf("WriteCommand failure = %v, want OperationFailure", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	rec := newTestRecord(client)

	rec.Close()
	rec.Close() // must not panic
	if !rec.IsClosed() {
		t.Error("IsClosed should be true after Close")
	}
}

func TestMarkCheckedOutUpdatesLastCheckout(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	rec := newTestRecord(client)
	defer rec.Close()

	before := rec.LastCheckout()
	later := before.Add(time.Minute)
	rec.MarkCheckedOut(later)
	if !rec.LastCheckout().Equal(later) {
		t.Errorf("LastCheckout() = %v, want %v", rec.LastCheckout(), later)
	}
}

func TestReconcileLogoutOnly(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	rec := newTestRecord(client)
	defer rec.Close()
	rec.authset["admin"] = mongoauth.Credential{Source: "admin", Username: "app", Mechanism: mongoauth.MechanismSCRAMSHA256}

	done := make(chan struct{})
	go func() {
		defer close(done)
		serveOnce(t, server, func(cmd *wire.Document) *wire.Document {
			if _, ok := cmd.Get("logout"); !ok {
				t.Errorf("expected a logout command, got %v", cmd.Keys())
			}
			return wire.NewDocument("ok", true)
		})
	}()

	if err := rec.Reconcile(map[string]mongoauth.Credential{}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	<-done
	if len(rec.authset) != 0 {
		t.Errorf("authset should be empty after logout, got %v", rec.authset)
	}
}

func TestAliveReturnsTrueWhenQuiet(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	rec := newTestRecord(client)
	defer rec.Close()

	if !rec.Alive(5 * time.Millisecond) {
		t.Error("a quiet, healthy socket should report alive")
	}
}

func TestAliveReturnsFalseWhenPeerClosed(t *testing.T) {
	client, server := net.Pipe()
	rec := newTestRecord(client)
	defer rec.Close()
	server.Close()

	if rec.Alive(5 * time.Millisecond) {
		t.Error("a socket whose peer closed should report not alive")
	}
}

func TestAliveReturnsFalseWhenAlreadyClosed(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	rec := newTestRecord(client)
	rec.Close()

	if rec.Alive(5 * time.Millisecond) {
		t.Error("a closed record should never report alive")
	}
}

func TestReconcileNoOpWhenAlreadyMatching(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	rec := newTestRecord(client)
	defer rec.Close()
	cred := mongoauth.Credential{Source: "admin", Username: "app", Mechanism: mongoauth.MechanismSCRAMSHA256}
	rec.authset["admin"] = cred

	// No goroutine serving the pipe: Reconcile must not attempt any I/O
	// when the wanted set already matches, or this test would hang.
	if err := rec.Reconcile(map[string]mongoauth.Credential{"admin": cred}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
}
