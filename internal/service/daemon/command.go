package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/oshokin/corekeeper/internal/config"
	"github.com/oshokin/corekeeper/internal/logger"
	"github.com/oshokin/corekeeper/internal/metrics"
	"github.com/oshokin/corekeeper/internal/repository/state"
	"github.com/oshokin/corekeeper/internal/service/lifecycle"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Options controls the daemon.
type Options struct {
	// Settings are the loaded daemon settings.
	Settings *config.Config
	// MetricsAddress overrides the configured listen address.
	MetricsAddress string
}

// Run detects the active core, watches the init scripts and serves the request API
// and metrics until ctx is canceled.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "daemon")

	manager, err := lifecycle.NewFromConfig(ctx, opts.Settings)
	if err != nil {
		return err
	}

	w, err := newWatcher(manager.State(), opts.Settings.InitScripts)
	if err != nil {
		return err
	}

	go w.run(ctx)

	address := opts.Settings.MetricsAddress
	if opts.MetricsAddress != "" {
		address = opts.MetricsAddress
	}

	if address == "" {
		logger.Info(ctx, "Listen address not set, only watching init scripts")
		<-ctx.Done()

		return nil
	}

	return serve(ctx, address, newMux(manager.State(), manager, opts.Settings.MetricsTextfile))
}

// newMux exposes the request API, metrics and the health probe.
func newMux(holder *state.Holder, requests Requests, textfile string) *http.ServeMux {
	mux := http.NewServeMux()
	(&api{requests: requests}).register(mux)
	mux.Handle("GET /metrics", metrics.Handler(textfile))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		active := holder.Snapshot()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":     "ok",
			"core":       string(active.Identity.Name),
			"initScript": active.InitScript,
		})
	})

	return mux
}

// serve blocks until ctx is canceled, then shuts the server down gracefully.
func serve(ctx context.Context, address string, handler http.Handler) error {
	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", address, err)
	}

	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	logger.InfoKV(ctx, "HTTP server listening", "listen_address", lis.Addr().String())

	// Closed after Shutdown finishes so Run returns only once the server is fully stopped.
	done := make(chan struct{})

	go func() {
		defer close(done)

		<-ctx.Done()
		logger.Info(ctx, "Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if serr := server.Shutdown(shutdownCtx); serr != nil {
			logger.WarnKV(ctx, "HTTP server shutdown failed", "error", serr)
		}
	}()

	if err = server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}

	<-done
	logger.Info(ctx, "HTTP server stopped")

	return nil
}
