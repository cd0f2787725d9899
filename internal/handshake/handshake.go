// Package handshake implements the initial hello/ismaster command
// exchange that establishes a socket's negotiated capabilities.
package handshake

import (
	"fmt"

	"github.com/mongopool/pool/internal/poolconfig"
	"github.com/mongopool/pool/internal/wire"
)

// Runner is the minimal command round-trip a fresh connection exposes
// before a socket.Record wraps it.
type Runner interface {
	Command(db string, cmd *wire.Document, opts wire.CommandOptions) (*wire.Document, error)
}

// Capabilities is the negotiated server capability set a socket.Record
// carries for its lifetime.
type Capabilities struct {
	MaxWireVersion     int64
	MinWireVersion     int64
	MaxBSONObjectSize  int64
	MaxMessageSizeByte int64
	MaxWriteBatchSize  int64
	IsWritablePrimary  bool
	IsMongos           bool
}

const (
	defaultMaxBSONObjectSize  = 16 * 1024 * 1024
	defaultMaxMessageSizeByte = 48 * 1024 * 1024
	defaultMaxWriteBatchSize  = 100000
)

// Run performs the handshake command and returns the negotiated
// capabilities. Client metadata is attached as flattened "client.*" fields
// on the command, and a non-empty appName as "client.application.name".
func Run(conn Runner, appName string) (Capabilities, error) {
	cmd := wire.NewDocument(
		"hello", int64(1),
		"client.driver.name", poolconfig.Metadata.Driver.Name,
		"client.driver.version", poolconfig.Metadata.Driver.Version,
		"client.os.type", poolconfig.Metadata.OS.Type,
		"client.os.architecture", poolconfig.Metadata.OS.Architecture,
		"client.platform", poolconfig.Metadata.Platform,
	)
	if appName != "" {
		cmd.Set("client.application.name", appName)
	}

	reply, err := conn.Command("admin", cmd, wire.CommandOptions{})
	if err != nil {
		return Capabilities{}, fmt.Errorf("handshake: hello command: %w", err)
	}

	caps := Capabilities{
		MaxWireVersion:     reply.Int64("maxWireVersion"),
		MinWireVersion:     reply.Int64("minWireVersion"),
		MaxBSONObjectSize:  reply.Int64("maxBsonObjectSize"),
		MaxMessageSizeByte: reply.Int64("maxMessageSizeBytes"),
		MaxWriteBatchSize:  reply.Int64("maxWriteBatchSize"),
		IsWritablePrimary:  reply.Bool("isWritablePrimary") || reply.Bool("ismaster"),
		IsMongos:           reply.String("msg") == "isdbgrid",
	}
	if caps.MaxBSONObjectSize == 0 {
		caps.MaxBSONObjectSize = defaultMaxBSONObjectSize
	}
	if caps.MaxMessageSizeByte == 0 {
		caps.MaxMessageSizeByte = defaultMaxMessageSizeByte
	}
	if caps.MaxWriteBatchSize == 0 {
		caps.MaxWriteBatchSize = defaultMaxWriteBatchSize
	}
	return caps, nil
}
