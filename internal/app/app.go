// Package app provides the top-level lifecycle of the trading agent. It wires
// the exchange, signal provider, stores, caches, object storage and
// notifications, and runs the selected command.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/tradeagent/internal/config"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
	}
}

// Run wires all dependencies and trades until ctx is cancelled or the
// reconnect supervisor gives up. On return the caller should invoke Close.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting agent",
		slog.String("symbol", a.cfg.Trading.Symbol),
		slog.Bool("dry_run", a.cfg.Trading.DryRun),
		slog.String("state_backend", a.cfg.State.Backend),
		slog.String("recorder_backend", a.cfg.Recorder.Backend),
	)

	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}
	return a.RunMode(ctx, deps)
}

// Panic wires the dependencies and liquidates every holding. It returns the
// number of orders placed.
func (a *App) Panic(ctx context.Context) (int, error) {
	a.logger.WarnContext(ctx, "panic close requested", slog.String("symbol", a.cfg.Trading.Symbol))

	deps, err := a.wire(ctx)
	if err != nil {
		return 0, err
	}
	return a.PanicMode(ctx, deps)
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) wire(ctx context.Context) (*Dependencies, error) {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	return deps, nil
}
