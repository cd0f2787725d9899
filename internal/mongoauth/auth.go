// Package mongoauth implements the SCRAM-SHA-256/SCRAM-SHA-1 login
// exchange and the credential type the socket layer reconciles against.
package mongoauth

import (
	"fmt"

	"github.com/mongopool/pool/internal/wire"
)

// Credential identifies one set of MongoDB authentication material.
// Source is the database the credential authenticates against — the key
// the reconciliation algorithm (§4.4) diffs by.
type Credential struct {
	Source    string
	Username  string
	Password  string
	Mechanism Mechanism
}

// Mechanism names a supported SASL authentication mechanism.
type Mechanism string

const (
	MechanismSCRAMSHA1   Mechanism = "SCRAM-SHA-1"
	MechanismSCRAMSHA256 Mechanism = "SCRAM-SHA-256"
)

// Runner is the minimal command round-trip the auth exchange needs from a
// socket. It is satisfied by *socket.Record.
type Runner interface {
	Command(db string, cmd *wire.Document, opts wire.CommandOptions) (*wire.Document, error)
}

// Login authenticates a single credential against conn using its
// configured mechanism.
func Login(conn Runner, cred Credential) error {
	switch cred.Mechanism {
	case MechanismSCRAMSHA256:
		return scramLogin(conn, cred, newSHA256Scram())
	case MechanismSCRAMSHA1:
		return scramLogin(conn, cred, newSHA1Scram())
	default:
		return fmt.Errorf("mongoauth: unsupported mechanism %q", cred.Mechanism)
	}
}

// Logout ends authentication for source on conn.
func Logout(conn Runner, source string) error {
	_, err := conn.Command(source, wire.NewDocument("logout", int64(1)), wire.CommandOptions{})
	if err != nil {
		return fmt.Errorf("mongoauth: logout on %q: %w", source, err)
	}
	return nil
}
