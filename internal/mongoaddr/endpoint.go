// Package mongoaddr models the address of a single MongoDB server endpoint
// and the host-parsing rules applied before dialing: UNIX domain sockets,
// IP-literal detection for TLS SNI suppression, and the "avoid IPv6 only
// for the literal hostname localhost" quirk.
package mongoaddr

import (
	"net"
	"strconv"
	"strings"
)

// Endpoint identifies one server to connect to, either TCP host:port or a
// UNIX domain socket path.
type Endpoint struct {
	Host string
	Port int
}

// String renders the endpoint the way it would appear in a seed list.
func (e Endpoint) String() string {
	if e.IsUnixSocket() {
		return e.Host
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// IsUnixSocket reports whether this endpoint names a UNIX domain socket
// path rather than a TCP host, decided purely on the ".sock" suffix.
func (e Endpoint) IsUnixSocket() bool {
	return strings.HasSuffix(e.Host, ".sock")
}

// IsIPLiteral reports whether Host is a literal IP address (as opposed to
// a DNS name). Used to suppress TLS SNI per RFC 6066 §3, which forbids
// sending IP addresses as the server_name extension.
func IsIPLiteral(host string) bool {
	return net.ParseIP(host) != nil
}

// PreferIPv4Only reports whether DNS resolution for this host should skip
// AAAA lookups. The literal hostname "localhost" is special-cased to avoid
// picking an IPv6 loopback that many local MongoDB deployments don't
// listen on.
func PreferIPv4Only(host string) bool {
	return strings.EqualFold(host, "localhost")
}

// Network returns the dial network for this endpoint ("unix" or "tcp").
func (e Endpoint) Network() string {
	if e.IsUnixSocket() {
		return "unix"
	}
	return "tcp"
}

// Address returns the string passed to net.Dial for this endpoint.
func (e Endpoint) Address() string {
	if e.IsUnixSocket() {
		return e.Host
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}
