// Package app wires the monitor, its sinks and storage, and the query API,
// and runs them until shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"arbwatch/internal/api"
	"arbwatch/internal/config"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// App is the root application object. It owns the configuration, the logger
// and cleanup functions called in reverse order on Close.
type App struct {
	cfg     config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from cfg.
func New(cfg config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Run wires dependencies and runs the monitor loop, the websocket hub and the
// API server until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	a.logger.InfoContext(ctx, "Starting arbwatch",
		"exchanges", a.cfg.Monitor.Exchanges,
		"instruments", a.cfg.Monitor.Instruments,
		"interval", a.cfg.Monitor.Interval,
		"sinks", deps.SinkNames(),
		"postgres", a.cfg.Database.Enabled,
	)

	apiCfg := api.Config{
		Addr:        a.cfg.Server.Addr,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		Metrics:     deps.Metrics.Handler(),
	}
	if deps.Hub != nil {
		apiCfg.Feed = deps.Hub.HandleWS
	}
	srv := api.NewServer(apiCfg, deps.Monitor, a.logger)

	g, gctx := errgroup.WithContext(ctx)
	if deps.Hub != nil {
		g.Go(func() error { return deps.Hub.Run(gctx) })
	}
	g.Go(func() error {
		return deps.Monitor.Run(gctx, a.cfg.Monitor.Interval)
	})
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close releases resources in reverse registration order. Subsequent calls
// are no-ops.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
