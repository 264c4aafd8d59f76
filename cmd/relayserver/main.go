// Command relayserver is the trade-copy relay: it terminates EA-facing
// websocket connections, derives and republishes runtime status as accounts
// connect, copy-and-transform trade signals across a master's members, and
// serves the operator REST/WS surface, all wired here from the relay's
// independent internal packages.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sankey-copier/relay-server/internal/api"
	"github.com/sankey-copier/relay-server/internal/bus"
	"github.com/sankey-copier/relay-server/internal/config"
	"github.com/sankey-copier/relay-server/internal/conntrack"
	"github.com/sankey-copier/relay-server/internal/gateway"
	"github.com/sankey-copier/relay-server/internal/logging"
	"github.com/sankey-copier/relay-server/internal/persist"
	"github.com/sankey-copier/relay-server/internal/retry"
	"github.com/sankey-copier/relay-server/internal/router"
	"github.com/sankey-copier/relay-server/internal/snapshot"
	"github.com/sankey-copier/relay-server/internal/statusupdater"
	"github.com/sankey-copier/relay-server/internal/ticketmap"
	"github.com/sankey-copier/relay-server/internal/timeoutmon"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if cfg.TLSCertPath == "" {
		log.Warn("TLS disabled: no tls_cert_path configured")
	}

	store, err := persist.Open(cfg.DBPath)
	if err != nil {
		log.Error("open store", zap.Error(err))
		os.Exit(1)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.Migrate(ctx); err != nil {
		log.Error("migrate store", zap.Error(err))
		os.Exit(1)
	}

	conns := conntrack.New(cfg.HeartbeatTimeout)
	b := bus.New()
	updater := statusupdater.New(store, conns, b, logging.Component(log, "statusupdater"))
	tickets := ticketmap.New()
	snap := snapshot.New(conns, store, b, cfg.SnapshotInterval, logging.Component(log, "snapshot"))
	rtr := router.New(store, conns, b, updater, tickets, snap, logging.Component(log, "router"))
	gw := gateway.New(b, store, rtr, logging.Component(log, "gateway"))
	retryWorker := retry.New(store, b, cfg.RetryInterval, cfg.MaxRetryAttempts, logging.Component(log, "retry"))
	timeoutMon := timeoutmon.New(conns, updater, cfg.TimeoutSweepInterval, logging.Component(log, "timeoutmon"))
	apiServer := api.New(store, conns, b, snap, updater, logging.Component(log, "api"))

	mux := http.NewServeMux()
	mux.Handle("/", apiServer.Router())
	mux.HandleFunc("/gateway", gw.Handler())

	ln, resolvedPort, err := listen(cfg)
	if err != nil {
		log.Error("bind listener", zap.Error(err))
		os.Exit(1)
	}
	if err := cfg.WriteRuntimeFile(resolvedPort); err != nil {
		log.Error("write runtime file", zap.Error(err))
		os.Exit(1)
	}

	srv := &http.Server{Handler: mux}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		bus.RunFailurePersister(gctx, b, store, logging.Component(log, "bus-persister"))
		return nil
	})
	g.Go(func() error {
		retryWorker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		timeoutMon.Run(gctx)
		return nil
	})
	g.Go(func() error {
		var serveErr error
		if cfg.TLSCertPath != "" && cfg.TLSKeyPath != "" {
			serveErr = srv.ServeTLS(ln, cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			serveErr = srv.Serve(ln)
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			return serveErr
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	log.Info("relay server listening", zap.Int("port", resolvedPort), zap.String("mode", string(cfg.PortMode)))

	if err := g.Wait(); err != nil {
		log.Error("relay server exited with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("relay server stopped")
}

// listen binds the configured host/port. In dynamic mode it asks the OS for
// a free port and reports back which one it got, so the caller can record
// it to the runtime file for UI discovery.
func listen(cfg *config.Config) (net.Listener, int, error) {
	host := cfg.Host
	port := cfg.Port
	if cfg.PortMode == config.PortModeDynamic {
		port = 0
	}
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, 0, fmt.Errorf("listen on %s:%d: %w", host, port, err)
	}
	return ln, ln.Addr().(*net.TCPAddr).Port, nil
}
