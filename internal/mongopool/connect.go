package mongopool

import (
	"context"

	"github.com/mongopool/pool/internal/handshake"
	"github.com/mongopool/pool/internal/mongoaddr"
	"github.com/mongopool/pool/internal/mongoconn"
	"github.com/mongopool/pool/internal/poolclock"
	"github.com/mongopool/pool/internal/poolconfig"
	"github.com/mongopool/pool/internal/socket"
)

// New constructs a Pool that dials ep for real, the production entry
// point. Tests use newPool directly with a fake connectFunc and clock.
func New(ep mongoaddr.Endpoint, opts poolconfig.Options) (*Pool, error) {
	connect := func(ctx context.Context, generation int64) (*socket.Record, error) {
		return dialAndHandshake(ctx, ep, opts, generation)
	}
	return newPool(ep.String(), opts, connect, poolclock.Real{})
}

func dialAndHandshake(ctx context.Context, ep mongoaddr.Endpoint, opts poolconfig.Options, generation int64) (*socket.Record, error) {
	connectCtx := ctx
	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}

	conn, err := mongoconn.Dial(connectCtx, ep, opts.TLS, opts.ConnectTimeout)
	if err != nil {
		return nil, err
	}

	rec := socket.New(conn, ep, handshake.Capabilities{}, generation, opts.EventListeners)
	caps, err := handshake.Run(rec, opts.AppName)
	if err != nil {
		rec.Close()
		return nil, err
	}
	rec.SetCaps(caps)

	return rec, nil
}
