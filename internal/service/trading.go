// Package service holds the trading coordinator: the position state machine,
// per-tick risk checks, the signal-driven decision cycle and the daily
// summary.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tradeagent/internal/domain"
	"github.com/alanyoungcy/tradeagent/internal/executor"
	"github.com/alanyoungcy/tradeagent/internal/metrics"
	"github.com/alanyoungcy/tradeagent/internal/notify"
	"github.com/alanyoungcy/tradeagent/internal/sizing"
)

// PositionSizer turns capital into a trade amount and learns from closed
// trades.
type PositionSizer interface {
	Calculate(capital, price float64) float64
	Update(pnl float64)
}

// ExitQueue accepts position work from the tick path without blocking.
type ExitQueue interface {
	Submit(in executor.Intent) bool
	ExitPending(symbol string) bool
}

// TradingConfig tunes the coordinator.
type TradingConfig struct {
	Symbol     string
	QuoteAsset string
	Risk       RiskConfig

	MinConfidence    float64
	WarmupTicks      int
	DecisionInterval time.Duration
	SummaryInterval  time.Duration
	// HistorySize caps the price and volume history handed to the signal
	// provider.
	HistorySize int
	DryRun      bool
}

// DefaultTradingConfig returns the stock settings for symbol.
func DefaultTradingConfig(symbol string) TradingConfig {
	return TradingConfig{
		Symbol:           symbol,
		QuoteAsset:       "USDT",
		Risk:             DefaultRiskConfig(),
		MinConfidence:    0.65,
		WarmupTicks:      30,
		DecisionInterval: 60 * time.Second,
		SummaryInterval:  24 * time.Hour,
		HistorySize:      1500,
	}
}

// Deps are the coordinator's collaborators. Archiver and Metrics are
// optional.
type Deps struct {
	Exchange domain.ExchangeClient
	Signals  domain.SignalProvider
	Sizer    PositionSizer
	State    domain.PositionStateStore
	Trades   domain.TradeRecorder
	Notifier domain.NotificationSink
	Archiver domain.Archiver
	Metrics  *metrics.Metrics
}

// TradingService coordinates one symbol's position. Enter, exit and
// checkpoint transitions are serialized by a transition lock held from the
// first venue call to the durable write; the in-memory position is replaced
// only after that write succeeds.
type TradingService struct {
	cfg      TradingConfig
	exchange domain.ExchangeClient
	signals  domain.SignalProvider
	sizer    PositionSizer
	state    domain.PositionStateStore
	trades   domain.TradeRecorder
	notifier domain.NotificationSink
	archiver domain.Archiver
	metrics  *metrics.Metrics
	queue    ExitQueue
	logger   *slog.Logger
	now      func() time.Time

	// mu guards the fields below. It is never held across I/O.
	mu       sync.Mutex
	pos      domain.Position
	prices   []float64
	volumes  []float64
	ticks    int
	lastTick time.Time

	transition sync.Mutex
	// unsettled is a fill whose durable write failed; guarded by transition.
	// hasUnsettled mirrors it for the tick path.
	unsettled    *fill
	hasUnsettled atomic.Bool
	deciding     atomic.Bool

	summaryMu   sync.Mutex
	lastSummary time.Time
}

// transitionTimeout bounds a transition once it holds the transition lock.
const transitionTimeout = 30 * time.Second

// fill is an executed venue order and the position it applies to: the new
// position for a buy, the closed one for a sell.
type fill struct {
	side   domain.OrderSide
	res    domain.OrderResult
	pos    domain.Position
	price  float64
	reason string
	at     time.Time
}

// NewTradingService creates the coordinator. Call SetExitQueue before feeding
// ticks.
func NewTradingService(cfg TradingConfig, deps Deps, logger *slog.Logger) *TradingService {
	if deps.Notifier == nil {
		deps.Notifier = notify.Discard{}
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 1500
	}
	return &TradingService{
		cfg:      cfg,
		exchange: deps.Exchange,
		signals:  deps.Signals,
		sizer:    deps.Sizer,
		state:    deps.State,
		trades:   deps.Trades,
		notifier: deps.Notifier,
		archiver: deps.Archiver,
		metrics:  deps.Metrics,
		logger:   logger.With(slog.String("component", "trading"), slog.String("symbol", cfg.Symbol)),
		now:      time.Now,
		pos:      domain.Flat(cfg.Symbol),
	}
}

// SetExitQueue attaches the intent queue fed by the tick path.
func (s *TradingService) SetExitQueue(q ExitQueue) {
	s.queue = q
}

// Position returns a copy of the current position.
func (s *TradingService) Position() domain.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// Status is a point-in-time view for the status endpoint.
type Status struct {
	Symbol      string          `json:"symbol"`
	State       string          `json:"state"`
	Position    domain.Position `json:"position"`
	LastPrice   float64         `json:"last_price"`
	Ticks       int             `json:"ticks"`
	LastTickAt  time.Time       `json:"last_tick_at,omitzero"`
	ExitPending bool            `json:"exit_pending"`
	Unsettled   bool            `json:"unsettled"`
	DryRun      bool            `json:"dry_run"`
}

// Status reports the coordinator's state.
func (s *TradingService) Status() Status {
	s.mu.Lock()
	st := Status{
		Symbol:     s.cfg.Symbol,
		State:      string(s.pos.Status()),
		Position:   s.pos,
		Ticks:      s.ticks,
		LastTickAt: s.lastTick,
		Unsettled:  s.hasUnsettled.Load(),
		DryRun:     s.cfg.DryRun,
	}
	if n := len(s.prices); n > 0 {
		st.LastPrice = s.prices[n-1]
	}
	s.mu.Unlock()

	if s.queue != nil {
		st.ExitPending = s.queue.ExitPending(s.cfg.Symbol)
	}
	return st
}

// --------------------------------------------------------------------------
// Tick path
// --------------------------------------------------------------------------

// OnPriceTick records the tick and runs the risk checks. It never performs
// I/O: exits and trailing-high checkpoints are handed to the exit queue.
func (s *TradingService) OnPriceTick(t domain.Tick) {
	if t.Price <= 0 || (t.Symbol != "" && t.Symbol != s.cfg.Symbol) {
		return
	}
	s.metrics.Tick()

	var (
		d      RiskDecision
		raised bool
	)
	s.mu.Lock()
	s.recordTickLocked(t)
	if s.pos.IsOpen {
		d = EvaluateRisk(s.cfg.Risk, s.pos, t.Price)
		raised = d.TrailingHigh > s.pos.TrailingHigh
		if raised {
			s.pos.TrailingHigh = d.TrailingHigh
		}
	}
	s.mu.Unlock()

	if s.queue == nil {
		return
	}
	switch {
	case d.Exit != "":
		if s.queue.Submit(executor.Intent{Kind: executor.IntentExit, Symbol: s.cfg.Symbol, Reason: d.Exit, Price: t.Price, At: t.Time}) {
			s.logger.Info("risk exit triggered",
				slog.String("reason", d.Exit),
				slog.Float64("price", t.Price),
			)
		}
	case s.hasUnsettled.Load():
		s.queue.Submit(executor.Intent{Kind: executor.IntentCheckpoint, Symbol: s.cfg.Symbol, Reason: "settle", Price: t.Price, At: t.Time})
	case raised:
		s.queue.Submit(executor.Intent{Kind: executor.IntentCheckpoint, Symbol: s.cfg.Symbol, Reason: "trailing_high", Price: t.Price, At: t.Time})
	}
}

func (s *TradingService) recordTickLocked(t domain.Tick) {
	s.prices = appendCapped(s.prices, t.Price, s.cfg.HistorySize)
	s.volumes = appendCapped(s.volumes, t.Volume, s.cfg.HistorySize)
	s.ticks++
	s.lastTick = t.Time
}

func appendCapped(buf []float64, v float64, limit int) []float64 {
	buf = append(buf, v)
	if len(buf) > limit {
		buf = append(buf[:0], buf[len(buf)-limit:]...)
	}
	return buf
}

// --------------------------------------------------------------------------
// Decision cycle
// --------------------------------------------------------------------------

// RunDecisionCycle asks the signal provider once and acts on a confident BUY
// or SELL. Concurrent invocations are skipped, as are cycles during warmup or
// while an exit is pending.
func (s *TradingService) RunDecisionCycle(ctx context.Context) error {
	if !s.deciding.CompareAndSwap(false, true) {
		s.logger.DebugContext(ctx, "decision cycle already running, skipping")
		return nil
	}
	defer s.deciding.Store(false)

	if s.queue != nil && s.queue.ExitPending(s.cfg.Symbol) {
		s.logger.DebugContext(ctx, "exit pending, skipping decision")
		return nil
	}

	s.mu.Lock()
	ticks := s.ticks
	snap := domain.MarketSnapshot{
		Symbol:  s.cfg.Symbol,
		Prices:  append([]float64(nil), s.prices...),
		Volumes: append([]float64(nil), s.volumes...),
	}
	open := s.pos.IsOpen
	s.mu.Unlock()

	if ticks < s.cfg.WarmupTicks {
		return nil
	}
	price, ok := s.exchange.CachedPrice(s.cfg.Symbol)
	if !ok || price <= 0 {
		return nil
	}

	sig := s.signals.GetSignal(ctx, snap)
	s.metrics.Decision(string(sig.Kind))
	s.logger.InfoContext(ctx, "signal received",
		slog.String("signal", string(sig.Kind)),
		slog.Float64("confidence", sig.Confidence),
		slog.String("reason", sig.Reason),
	)
	if sig.Confidence < s.cfg.MinConfidence {
		return nil
	}

	reason := domain.SignalReason(sig.Confidence)
	switch {
	case sig.Kind == domain.SignalBuy && !open:
		return s.EnterPosition(ctx, price, reason)
	case sig.Kind == domain.SignalSell && open:
		return s.ExitPosition(ctx, reason, price)
	}
	return nil
}

// RunDecisionLoop calls RunDecisionCycle every DecisionInterval until ctx is
// done. Cycle errors are already reported and do not stop the loop.
func (s *TradingService) RunDecisionLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.DecisionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.RunDecisionCycle(ctx); err != nil {
				s.logger.WarnContext(ctx, "decision cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// --------------------------------------------------------------------------
// Transitions
// --------------------------------------------------------------------------

// EnterPosition opens a position at price when flat. A sized amount below the
// minimum notional aborts without error. Once started, the transition runs
// on a context detached from ctx's cancellation.
func (s *TradingService) EnterPosition(ctx context.Context, price float64, reason string) error {
	s.transition.Lock()
	defer s.transition.Unlock()

	if f := s.unsettled; f != nil {
		ctx, cancel := detach(ctx)
		defer cancel()
		return s.settle(ctx, f)
	}
	if s.Position().IsOpen {
		s.logger.DebugContext(ctx, "already in position, entry ignored")
		return nil
	}
	if price <= 0 {
		return fmt.Errorf("service: enter: invalid price %v", price)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("service: enter: %w", err)
	}
	ctx, cancel := detach(ctx)
	defer cancel()

	balance, err := s.exchange.GetBalance(ctx, s.cfg.QuoteAsset)
	if err != nil {
		return s.fail(ctx, "enter", fmt.Errorf("get balance: %w", err))
	}
	amount := s.sizer.Calculate(balance, price)
	if amount < sizing.MinNotional {
		s.logger.WarnContext(ctx, "insufficient capital, entry aborted",
			slog.Float64("balance", balance),
			slog.Float64("amount", amount),
		)
		return nil
	}

	s.logger.InfoContext(ctx, "entering position",
		slog.Float64("price", price),
		slog.Float64("amount", amount),
		slog.String("reason", reason),
	)
	res, err := s.exchange.BuyMarket(ctx, s.cfg.Symbol, amount)
	if err != nil {
		return s.fail(ctx, "enter", fmt.Errorf("buy: %w", err))
	}

	qty := res.ExecutedQuantity
	if qty <= 0 {
		qty = amount / price
	}
	now := s.now().UTC()
	return s.settle(ctx, &fill{
		side: domain.OrderSideBuy,
		res:  res,
		pos: domain.Position{
			Symbol:        s.cfg.Symbol,
			IsOpen:        true,
			EntryPrice:    price,
			EntryQuantity: qty,
			EntryNotional: amount,
			TrailingHigh:  price,
			OpenedAt:      now,
		},
		price:  price,
		reason: reason,
		at:     now,
	})
}

// ExitPosition sells the full entry quantity at price. It is a no-op when
// flat, so a second exit for the same position does nothing. If an earlier
// sell filled but was not persisted, only the durable write is retried.
func (s *TradingService) ExitPosition(ctx context.Context, reason string, price float64) error {
	s.transition.Lock()
	defer s.transition.Unlock()

	ctx, cancel := detach(ctx)
	defer cancel()

	if f := s.unsettled; f != nil {
		return s.settle(ctx, f)
	}
	pos := s.Position()
	if !pos.IsOpen {
		return nil
	}

	s.logger.InfoContext(ctx, "exiting position",
		slog.String("reason", reason),
		slog.Float64("price", price),
	)
	res, err := s.exchange.SellMarket(ctx, s.cfg.Symbol, pos.EntryQuantity)
	if err != nil {
		return s.fail(ctx, "exit", fmt.Errorf("sell: %w", err))
	}
	return s.settle(ctx, &fill{
		side:   domain.OrderSideSell,
		res:    res,
		pos:    pos,
		price:  price,
		reason: reason,
		at:     s.now().UTC(),
	})
}

// ExecuteExit implements executor.Handler.
func (s *TradingService) ExecuteExit(ctx context.Context, in executor.Intent) error {
	return s.ExitPosition(ctx, in.Reason, in.Price)
}

// Checkpoint implements executor.Handler by persisting the current position,
// typically after the trailing high moved. An unsettled fill is settled
// first.
func (s *TradingService) Checkpoint(ctx context.Context, symbol string) error {
	s.transition.Lock()
	defer s.transition.Unlock()

	ctx, cancel := detach(ctx)
	defer cancel()

	if f := s.unsettled; f != nil {
		return s.settle(ctx, f)
	}
	pos := s.Position()
	if !pos.IsOpen || pos.Symbol != symbol {
		return nil
	}
	if err := s.state.Save(ctx, pos); err != nil {
		s.metrics.PersistFailed()
		return fmt.Errorf("service: checkpoint: %w", err)
	}
	return nil
}

// settle persists the state f leads to and then commits it in memory. A
// failed write keeps f so a later transition or checkpoint retries the write
// without placing another order. Callers hold the transition lock.
func (s *TradingService) settle(ctx context.Context, f *fill) error {
	op, target := "enter", f.pos
	if f.side == domain.OrderSideSell {
		op, target = "exit", domain.Flat(s.cfg.Symbol)
	}
	if err := s.state.Save(ctx, target); err != nil {
		s.unsettled = f
		s.hasUnsettled.Store(true)
		s.metrics.PersistFailed()
		return s.fail(ctx, op, fmt.Errorf("order %s filled but not persisted: %w", f.res.OrderID, err))
	}
	s.unsettled = nil
	s.hasUnsettled.Store(false)

	s.mu.Lock()
	if f.side == domain.OrderSideSell {
		s.pos = domain.Flat(s.cfg.Symbol)
	} else {
		s.pos = f.pos
	}
	s.mu.Unlock()

	if f.side == domain.OrderSideSell {
		s.closed(ctx, f)
	} else {
		s.opened(ctx, f)
	}
	return nil
}

func (s *TradingService) opened(ctx context.Context, f *fill) {
	pos := f.pos
	s.metrics.OrderFilled(f.res.Simulated, string(domain.OrderSideBuy))
	s.metrics.PositionOpened()
	s.record(ctx, s.buyRecord(f))
	s.notifier.Notify(ctx, domain.EventPositionOpened, domain.Fields{
		notify.FieldSymbol:   s.cfg.Symbol,
		notify.FieldPrice:    f.price,
		notify.FieldQuantity: pos.EntryQuantity,
		notify.FieldNotional: pos.EntryNotional,
		notify.FieldReason:   f.reason,
		notify.FieldQuote:    s.cfg.QuoteAsset,
	})
}

func (s *TradingService) buyRecord(f *fill) domain.TradeRecord {
	return domain.TradeRecord{
		Action:    domain.ActionBuy,
		Symbol:    s.cfg.Symbol,
		Price:     f.price,
		Quantity:  f.pos.EntryQuantity,
		Notional:  f.pos.EntryNotional,
		Reason:    f.reason,
		OrderID:   f.res.OrderID,
		DryRun:    f.res.Simulated,
		Timestamp: f.at,
	}
}

func (s *TradingService) closed(ctx context.Context, f *fill) {
	pos := f.pos
	pnl := pos.PnL(f.price)
	s.sizer.Update(pnl)
	s.metrics.OrderFilled(f.res.Simulated, string(domain.OrderSideSell))
	s.metrics.PositionClosed(f.reason, pnl)
	s.logger.InfoContext(ctx, "position closed",
		slog.String("reason", f.reason),
		slog.Float64("pnl", pnl),
	)
	s.record(ctx, domain.TradeRecord{
		Action:    domain.ActionSell,
		Symbol:    s.cfg.Symbol,
		Price:     f.price,
		Quantity:  pos.EntryQuantity,
		Notional:  f.price * pos.EntryQuantity,
		PnL:       pnl,
		Reason:    f.reason,
		OrderID:   f.res.OrderID,
		DryRun:    f.res.Simulated,
		Timestamp: f.at,
	})

	kind := domain.EventPositionClosed
	switch f.reason {
	case domain.ExitStopLoss:
		kind = domain.EventStopLoss
	case domain.ExitTakeProfit:
		kind = domain.EventTakeProfit
	}
	s.notifier.Notify(ctx, kind, domain.Fields{
		notify.FieldSymbol:   s.cfg.Symbol,
		notify.FieldPrice:    f.price,
		notify.FieldQuantity: pos.EntryQuantity,
		notify.FieldPnL:      pnl,
		notify.FieldReason:   f.reason,
		notify.FieldQuote:    s.cfg.QuoteAsset,
	})
}

// detach returns a context that ignores ctx's cancellation but expires after
// transitionTimeout, so a fill is persisted even when the session ends.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), transitionTimeout)
}

// Restore loads the persisted position at startup. An unreadable record is
// reported and the agent starts flat; a stale one is ignored by the store.
func (s *TradingService) Restore(ctx context.Context) error {
	s.transition.Lock()
	defer s.transition.Unlock()

	pos, ok, err := s.state.Load(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "could not restore state, starting flat", slog.String("error", err.Error()))
		s.notifier.Notify(ctx, domain.EventError, domain.Fields{notify.FieldError: err.Error()})
		return nil
	}
	if !ok || !pos.IsOpen {
		s.metrics.SetPositionOpen(false)
		return nil
	}
	if pos.Symbol != "" && pos.Symbol != s.cfg.Symbol {
		s.logger.WarnContext(ctx, "persisted position is for another symbol, ignoring",
			slog.String("persisted_symbol", pos.Symbol),
		)
		return nil
	}
	pos.Symbol = s.cfg.Symbol
	if pos.TrailingHigh < pos.EntryPrice {
		pos.TrailingHigh = pos.EntryPrice
	}

	s.mu.Lock()
	s.pos = pos
	s.mu.Unlock()
	s.metrics.SetPositionOpen(true)

	s.logger.WarnContext(ctx, "open position restored",
		slog.Float64("entry_price", pos.EntryPrice),
		slog.Float64("quantity", pos.EntryQuantity),
		slog.Time("opened_at", pos.OpenedAt),
	)
	return nil
}

// Panic liquidates every holding and clears the persisted position.
func (s *TradingService) Panic(ctx context.Context) (int, error) {
	s.transition.Lock()
	defer s.transition.Unlock()

	results, closeErr := s.exchange.CloseAllPositions(ctx)
	for _, r := range results {
		s.record(ctx, domain.TradeRecord{
			Action:    domain.ActionSell,
			Symbol:    r.Symbol,
			Price:     r.Price,
			Quantity:  r.ExecutedQuantity,
			Notional:  r.Price * r.ExecutedQuantity,
			Reason:    "PANIC",
			OrderID:   r.OrderID,
			DryRun:    r.Simulated,
			Timestamp: s.now().UTC(),
		})
	}

	saveErr := s.state.Save(ctx, domain.Flat(s.cfg.Symbol))
	if saveErr == nil {
		s.mu.Lock()
		s.pos = domain.Flat(s.cfg.Symbol)
		s.mu.Unlock()
		s.metrics.SetPositionOpen(false)
		s.dropUnsettled(ctx)
	}

	s.notifier.Notify(ctx, domain.EventPanic, domain.Fields{notify.FieldClosed: len(results)})
	if err := errors.Join(closeErr, saveErr); err != nil {
		return len(results), fmt.Errorf("service: panic: %w", err)
	}
	return len(results), nil
}

// dropUnsettled books a pending fill once the flat state is durable. The
// liquidation already closed whatever the fill left open.
func (s *TradingService) dropUnsettled(ctx context.Context) {
	f := s.unsettled
	if f == nil {
		return
	}
	s.unsettled = nil
	s.hasUnsettled.Store(false)
	if f.side == domain.OrderSideSell {
		s.closed(ctx, f)
		return
	}
	s.record(ctx, s.buyRecord(f))
}

// fail logs and notifies a failed transition and returns it wrapped.
func (s *TradingService) fail(ctx context.Context, op string, err error) error {
	err = fmt.Errorf("service: %s: %w", op, err)
	s.logger.ErrorContext(ctx, "transition failed", slog.String("op", op), slog.String("error", err.Error()))
	s.notifier.Notify(ctx, domain.EventError, domain.Fields{
		notify.FieldSymbol: s.cfg.Symbol,
		notify.FieldError:  err.Error(),
	})
	return err
}

// record appends a trade record. The transition already succeeded, so a
// failure is reported but not returned.
func (s *TradingService) record(ctx context.Context, rec domain.TradeRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if err := s.trades.Append(ctx, rec); err != nil {
		s.logger.ErrorContext(ctx, "trade record append failed",
			slog.String("action", string(rec.Action)),
			slog.String("error", err.Error()),
		)
		s.notifier.Notify(ctx, domain.EventError, domain.Fields{
			notify.FieldSymbol: rec.Symbol,
			notify.FieldError:  fmt.Sprintf("trade record not saved: %v", err),
		})
	}
}

// Compile-time interface check.
var _ executor.Handler = (*TradingService)(nil)
