// Command poolprobe wires a single-endpoint MongoDB connection pool to the
// admin introspection API and credential hot-reload.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mongopool/pool/internal/adminapi"
	"github.com/mongopool/pool/internal/mongoauth"
	"github.com/mongopool/pool/internal/mongopool"
	"github.com/mongopool/pool/internal/poolconfig"
	"github.com/mongopool/pool/internal/poolevents"
	"github.com/mongopool/pool/internal/poolmetrics"
)

func main() {
	configPath := flag.String("config", "configs/poolprobe.yaml", "path to pool configuration file")
	credentialPath := flag.String("credentials", "", "path to a hot-reloadable credentials file (optional)")
	adminAddr := flag.String("admin-addr", "127.0.0.1:8081", "address for the admin introspection API")
	flag.Parse()

	slog.Info("poolprobe starting")

	fileCfg, err := poolconfig.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	ep := fileCfg.ToEndpoint()
	opts := fileCfg.ToOptions()
	opts.EventListeners = &poolevents.Monitor{
		Failed: func(e poolevents.CommandFailedEvent) {
			slog.Warn("command failed", "db", e.DatabaseName, "command", e.CommandName, "duration", e.Duration, "err", e.Failure)
		},
	}

	pool, err := mongopool.New(ep, opts)
	if err != nil {
		slog.Error("failed to construct pool", "err", err)
		os.Exit(1)
	}

	metrics := poolmetrics.New()
	pool.SetOnExhausted(func() { metrics.PoolExhausted(ep.String()) })
	pool.StartStatsLoop(5*time.Second, func(s mongopool.Stats) {
		metrics.UpdatePoolStats(ep.String(), s.Active, s.Idle, s.Total, s.Waiting)
	})

	if fileCfg.Credential.Username != "" {
		pool.SetCredentials(map[string]mongoauth.Credential{
			fileCfg.Credential.Source: {
				Source:    fileCfg.Credential.Source,
				Username:  fileCfg.Credential.Username,
				Password:  fileCfg.Credential.Password,
				Mechanism: mongoauth.Mechanism(fileCfg.Credential.Mechanism),
			},
		})
	}

	var credWatcher *poolconfig.CredentialWatcher
	if *credentialPath != "" {
		credWatcher, err = poolconfig.NewCredentialWatcher(*credentialPath, func(creds poolconfig.CredentialSet) {
			wanted := make(map[string]mongoauth.Credential, len(creds))
			for source, c := range creds {
				wanted[source] = mongoauth.Credential{
					Source:    source,
					Username:  c.Username,
					Password:  c.Password,
					Mechanism: mongoauth.Mechanism(c.Mechanism),
				}
			}
			pool.SetCredentials(wanted)
		})
		if err != nil {
			slog.Warn("credential hot-reload not available", "err", err)
		}
	}

	admin := adminapi.New(pool, metrics, ep.String(), *adminAddr)
	adminErrCh := make(chan error, 1)
	admin.Start(adminErrCh)

	slog.Info("poolprobe ready", "endpoint", ep.String(), "admin_addr", *adminAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig.String())
	case err := <-adminErrCh:
		slog.Error("admin API failed", "err", err)
	}

	if credWatcher != nil {
		credWatcher.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := admin.Stop(shutdownCtx); err != nil {
		slog.Warn("admin API shutdown error", "err", err)
	}
	pool.Close()

	slog.Info("poolprobe stopped")
}
