// Package mongoconn dials an Endpoint and optionally wraps the connection
// in TLS, suppressing SNI for IP-literal hosts per RFC 6066 §3.
package mongoconn

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/mongopool/pool/internal/mongoaddr"
	"github.com/mongopool/pool/internal/mongoerr"
	"github.com/mongopool/pool/internal/poolconfig"
)

// Dial opens a new connection to ep honoring the connect timeout and
// optional TLS settings in opts.
func Dial(ctx context.Context, ep mongoaddr.Endpoint, opts poolconfig.TLSOptions, connectTimeout time.Duration) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}

	network := ep.Network()
	// The literal hostname "localhost" historically resolves to an IPv6
	// loopback many local MongoDB deployments don't listen on; pin to
	// "tcp4" rather than relying on Happy Eyeballs racing both families.
	if network == "tcp" && mongoaddr.PreferIPv4Only(ep.Host) {
		network = "tcp4"
	}

	conn, err := dialer.DialContext(ctx, network, ep.Address())
	if err != nil {
		kind := mongoerr.KindConnectionFailure
		if ctx.Err() == context.DeadlineExceeded {
			kind = mongoerr.KindNetworkTimeout
		}
		return nil, mongoerr.New(kind, "dial "+ep.String(), err)
	}

	if !opts.Enabled {
		return conn, nil
	}

	tlsConn, err := wrapTLS(conn, ep, opts)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return tlsConn, nil
}

func wrapTLS(conn net.Conn, ep mongoaddr.Endpoint, opts poolconfig.TLSOptions) (net.Conn, error) {
	cfg := &tls.Config{
		InsecureSkipVerify: opts.InsecureSkipVerify,
	}

	// RFC 6066 §3: the server_name extension must not carry an IP address.
	// tls.Config.ServerName suppresses SNI when left empty, so only set
	// it for DNS names.
	if !mongoaddr.IsIPLiteral(ep.Host) {
		cfg.ServerName = ep.Host
	}

	if opts.CAFile != "" {
		pool, err := loadCAFile(opts.CAFile)
		if err != nil {
			return nil, mongoerr.New(mongoerr.KindCertificateError, "loading CA file", err)
		}
		cfg.RootCAs = pool
	}

	if opts.CertFile != "" && opts.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, mongoerr.New(mongoerr.KindCertificateError, "loading client certificate", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.Handshake(); err != nil {
		// Per original_source/pymongo/pool.py: a failed handshake that isn't
		// a hostname mismatch (checked separately below) is a connection
		// failure, not a certificate error — CertificateError is reserved
		// for the two VerifyHostname branches.
		return nil, mongoerr.New(classifyHandshakeError(err), "TLS handshake with "+ep.String(), err)
	}

	// Hostname verification runs regardless of whether the host is an IP
	// literal (§4.1 step 4 / scenario S4) — only the SNI extension is
	// suppressed for IP literals, per RFC 6066 §3 above.
	if opts.MatchHostname {
		peers := tlsConn.ConnectionState().PeerCertificates
		if len(peers) == 0 {
			return nil, mongoerr.New(mongoerr.KindCertificateError, "verifying peer hostname", fmt.Errorf("no peer certificates presented"))
		}
		if err := peers[0].VerifyHostname(ep.Host); err != nil {
			return nil, mongoerr.New(mongoerr.KindCertificateError, "verifying peer hostname", err)
		}
	}

	return tlsConn, nil
}

func classifyHandshakeError(err error) mongoerr.Kind {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return mongoerr.KindNetworkTimeout
	}
	return mongoerr.KindConnectionFailure
}

func loadCAFile(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}
