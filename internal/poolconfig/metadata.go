package poolconfig

import (
	"fmt"
	"runtime"
)

// ClientMetadata is the process-wide handshake metadata document sent once
// per connection, built once at package init from the running platform.
// Exact string fidelity against any real driver is not contractual (see
// design notes).
type ClientMetadata struct {
	Driver struct {
		Name    string
		Version string
	}
	OS struct {
		Type         string
		Architecture string
	}
	Platform string
}

// Metadata is computed once at process start. It is safe to read
// concurrently since it's never mutated after init.
var Metadata = buildMetadata()

func buildMetadata() ClientMetadata {
	var m ClientMetadata
	m.Driver.Name = "mongopool"
	m.Driver.Version = "0.1.0"
	m.OS.Type = runtime.GOOS
	m.OS.Architecture = runtime.GOARCH
	m.Platform = fmt.Sprintf("Go/%s", runtime.Version())
	return m
}
