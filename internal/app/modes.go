package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradeagent/internal/domain"
	"github.com/alanyoungcy/tradeagent/internal/executor"
	"github.com/alanyoungcy/tradeagent/internal/notify"
	"github.com/alanyoungcy/tradeagent/internal/platform/gemini"
	"github.com/alanyoungcy/tradeagent/internal/server"
	"github.com/alanyoungcy/tradeagent/internal/server/handler"
	"github.com/alanyoungcy/tradeagent/internal/server/ws"
	"github.com/alanyoungcy/tradeagent/internal/service"
	"github.com/alanyoungcy/tradeagent/internal/signal"
)

// flushTimeout bounds how long shutdown waits for queued notifications.
const flushTimeout = 10 * time.Second

// RunMode restores state, then runs the supervised trading session together
// with the optional HTTP server until ctx is cancelled or the supervisor
// halts.
func (a *App) RunMode(ctx context.Context, deps *Dependencies) error {
	signals, model, err := a.buildSignals()
	if err != nil {
		return err
	}
	signals.SetNotifier(deps.Notifier)

	if deps.Locks != nil {
		unlock, err := deps.Locks.Hold(ctx, "agent:"+a.cfg.Trading.Symbol, a.cfg.Redis.LockTTL.Duration)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return fmt.Errorf("run: another agent is trading %s: %w", a.cfg.Trading.Symbol, err)
			}
			return fmt.Errorf("run: %w", err)
		}
		a.closers = append(a.closers, unlock)
	}

	svc := a.newTradingService(deps, signals)
	exec := executor.New(svc, 2, a.logger)
	svc.SetExitQueue(exec)

	if err := svc.Restore(ctx); err != nil {
		return fmt.Errorf("run: restore: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(gctx, g, deps, svc)
	}

	session := func(ctx context.Context) error {
		sg, sctx := errgroup.WithContext(ctx)
		sg.Go(func() error {
			return deps.Exchange.StreamPrice(sctx, a.cfg.Trading.Symbol, svc.OnPriceTick)
		})
		sg.Go(func() error { return svc.RunDecisionLoop(sctx) })
		sg.Go(func() error { return exec.Run(sctx) })
		sg.Go(func() error { return svc.RunSummaryLoop(sctx) })
		return sg.Wait()
	}
	onConnected := func(ctx context.Context) {
		deps.Notifier.Notify(ctx, domain.EventBotStarted, domain.Fields{
			notify.FieldSymbol: a.cfg.Trading.Symbol,
			notify.FieldDryRun: a.cfg.Trading.DryRun,
			notify.FieldModel:  model,
		})
	}

	sup := NewSupervisor(SupervisorConfig{
		MaxAttempts: a.cfg.Supervisor.MaxAttempts,
		Step:        a.cfg.Supervisor.BackoffStep.Duration,
		Max:         a.cfg.Supervisor.BackoffMax.Duration,
	}, deps.Exchange.Connect, session, onConnected, deps.Notifier, deps.Metrics, a.logger)

	g.Go(func() error {
		return sup.Run(gctx)
	})

	err = g.Wait()
	a.flush(deps)
	return err
}

// PanicMode liquidates every holding against the quote asset and clears the
// persisted position. It does not need a signal provider.
func (a *App) PanicMode(ctx context.Context, deps *Dependencies) (int, error) {
	svc := a.newTradingService(deps, nil)
	if err := deps.Exchange.Connect(ctx); err != nil {
		return 0, fmt.Errorf("panic: %w", err)
	}
	n, err := svc.Panic(ctx)
	a.flush(deps)
	return n, err
}

// ---- Internal helpers ----

func (a *App) buildSignals() (*signal.Provider, string, error) {
	keys, err := a.cfg.SignalKeys()
	if err != nil {
		return nil, "", fmt.Errorf("run: %w", err)
	}
	sc := a.cfg.Signal
	gen := gemini.NewClient(sc.BaseURL, sc.Model, sc.Timeout.Duration)
	p, err := signal.NewProvider(gen, keys, signal.Config{
		Timeout:           sc.Timeout.Duration,
		Temperature:       sc.Temperature,
		MaxOutputTokens:   sc.MaxOutputTokens,
		RateLimitCooldown: sc.RateLimitCooldown.Duration,
		InvalidCooldown:   sc.InvalidCooldown.Duration,
		AlertInterval:     sc.AlertInterval.Duration,
	}, a.logger)
	if err != nil {
		return nil, "", fmt.Errorf("run: %w", err)
	}
	return p, gen.Model(), nil
}

func (a *App) newTradingService(deps *Dependencies, signals domain.SignalProvider) *service.TradingService {
	t := a.cfg.Trading
	return service.NewTradingService(service.TradingConfig{
		Symbol:     t.Symbol,
		QuoteAsset: t.QuoteAsset,
		Risk: service.RiskConfig{
			TakeProfitPct:   t.TakeProfitPct,
			StopLossPct:     t.StopLossPct,
			TrailingStopPct: t.TrailingStopPct,
		},
		MinConfidence:    t.MinConfidence,
		WarmupTicks:      t.WarmupTicks,
		DecisionInterval: t.DecisionInterval.Duration,
		SummaryInterval:  t.SummaryInterval.Duration,
		HistorySize:      t.HistorySize,
		DryRun:           t.DryRun,
	}, service.Deps{
		Exchange: deps.Exchange,
		Signals:  signals,
		Sizer:    deps.Sizer,
		State:    deps.State,
		Trades:   deps.Trades,
		Notifier: deps.Notifier,
		Archiver: deps.Archiver,
		Metrics:  deps.Metrics,
	}, a.logger)
}

// startHTTPServer adds the status server and its event hub to g. Both stop
// when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *service.TradingService) {
	hub := ws.NewHub(func() any { return svc.Status() }, a.logger)
	deps.Notifier.Always(hub)

	checks := make(map[string]handler.Pinger, len(deps.Checks))
	for name, p := range deps.Checks {
		checks[name] = p
	}
	mode := "live"
	if a.cfg.Trading.DryRun {
		mode = "paper"
	}

	srv := server.NewServer(server.Config{
		Addr:        fmt.Sprintf(":%d", a.cfg.Server.Port),
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(checks, a.logger),
		Status:  handler.NewStatusHandler(svc, mode),
		Trades:  handler.NewTradeHandler(deps.Trades, a.logger),
		Audit:   handler.NewAuditHandler(deps.Audit, a.logger),
		Metrics: deps.Metrics.Handler(),
	}, hub, deps.Limiter, a.logger)

	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx) })
}

// flush waits for in-flight notifications so the last events of a run are
// delivered before the process exits.
func (a *App) flush(deps *Dependencies) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	deps.Notifier.Wait(ctx)
}
