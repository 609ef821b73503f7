package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/tradeagent/internal/domain"
	"github.com/alanyoungcy/tradeagent/internal/executor"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeExchange struct {
	mu       sync.Mutex
	price    float64
	balance  float64
	buys     []float64
	sells    []float64
	buyErr   error
	sellErr  error
	closeAll []domain.OrderResult
	fillQty  float64
	seq      int
}

func (f *fakeExchange) Connect(context.Context) error { return nil }
func (f *fakeExchange) Disconnect() error             { return nil }

func (f *fakeExchange) StreamPrice(ctx context.Context, _ string, _ domain.TickHandler) error {
	<-ctx.Done()
	return nil
}

func (f *fakeExchange) GetPrice(context.Context, string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.price, nil
}

func (f *fakeExchange) CachedPrice(string) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.price, f.price > 0
}

func (f *fakeExchange) GetBalance(context.Context, string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeExchange) GetAllBalances(context.Context) (map[string]float64, error) {
	return map[string]float64{"USDT": f.balance}, nil
}

func (f *fakeExchange) BuyMarket(_ context.Context, symbol string, notional float64) (domain.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buyErr != nil {
		return domain.OrderResult{}, f.buyErr
	}
	f.buys = append(f.buys, notional)
	f.seq++
	qty := f.fillQty
	if qty == 0 && f.price > 0 {
		qty = notional / f.price
	}
	return domain.OrderResult{OrderID: fmt.Sprintf("B%d", f.seq), Symbol: symbol, Side: domain.OrderSideBuy, ExecutedQuantity: qty, Price: f.price, Simulated: true}, nil
}

func (f *fakeExchange) SellMarket(_ context.Context, symbol string, qty float64) (domain.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sellErr != nil {
		return domain.OrderResult{}, f.sellErr
	}
	f.sells = append(f.sells, qty)
	f.seq++
	return domain.OrderResult{OrderID: fmt.Sprintf("S%d", f.seq), Symbol: symbol, Side: domain.OrderSideSell, ExecutedQuantity: qty, Price: f.price, Simulated: true}, nil
}

func (f *fakeExchange) CloseAllPositions(context.Context) ([]domain.OrderResult, error) {
	return f.closeAll, nil
}

func (f *fakeExchange) buyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buys)
}

func (f *fakeExchange) sellCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sells)
}

type fakeSignals struct {
	mu    sync.Mutex
	sig   domain.Signal
	delay time.Duration
	calls int
	snap  domain.MarketSnapshot
}

func (f *fakeSignals) GetSignal(ctx context.Context, snap domain.MarketSnapshot) domain.Signal {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.snap = snap
	return f.sig
}

type fakeState struct {
	mu      sync.Mutex
	saved   []domain.Position
	saveErr error
	load    domain.Position
	loadOK  bool
	loadErr error
}

func (f *fakeState) Save(_ context.Context, pos domain.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return fmt.Errorf("statestore: save: %w", errors.Join(domain.ErrPersist, f.saveErr))
	}
	f.saved = append(f.saved, pos)
	return nil
}

func (f *fakeState) Load(context.Context) (domain.Position, bool, error) {
	return f.load, f.loadOK, f.loadErr
}

func (f *fakeState) last() domain.Position {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.saved) == 0 {
		return domain.Position{}
	}
	return f.saved[len(f.saved)-1]
}

type fakeTrades struct {
	mu      sync.Mutex
	records []domain.TradeRecord
}

func (f *fakeTrades) Append(_ context.Context, rec domain.TradeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeTrades) LoadAll(context.Context) ([]domain.TradeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.TradeRecord(nil), f.records...), nil
}

type sentEvent struct {
	kind   domain.EventKind
	fields domain.Fields
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []sentEvent
}

func (f *fakeNotifier) Notify(_ context.Context, kind domain.EventKind, fields domain.Fields) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, sentEvent{kind, fields})
}

func (f *fakeNotifier) kinds() []domain.EventKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.EventKind, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.kind)
	}
	return out
}

type fakeSizer struct {
	amount float64
	pnls   []float64
}

func (f *fakeSizer) Calculate(capital, price float64) float64 { return f.amount }
func (f *fakeSizer) Update(pnl float64)                       { f.pnls = append(f.pnls, pnl) }

type fakeQueue struct {
	mu      sync.Mutex
	intents []executor.Intent
	pending bool
}

func (f *fakeQueue) Submit(in executor.Intent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents = append(f.intents, in)
	return true
}

func (f *fakeQueue) ExitPending(string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

func (f *fakeQueue) exits() []executor.Intent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []executor.Intent
	for _, in := range f.intents {
		if in.Kind == executor.IntentExit {
			out = append(out, in)
		}
	}
	return out
}

type fakeArchiver struct {
	day     time.Time
	records []domain.TradeRecord
}

func (f *fakeArchiver) ArchiveTrades(_ context.Context, day time.Time, records []domain.TradeRecord) (string, error) {
	f.day, f.records = day, records
	return "archive/trades/" + day.Format(time.DateOnly) + ".jsonl", nil
}

type harness struct {
	svc      *TradingService
	exchange *fakeExchange
	signals  *fakeSignals
	state    *fakeState
	trades   *fakeTrades
	notifier *fakeNotifier
	sizer    *fakeSizer
	queue    *fakeQueue
}

func newHarness(mutate func(*TradingConfig)) *harness {
	h := &harness{
		exchange: &fakeExchange{price: 100, balance: 1000},
		signals:  &fakeSignals{sig: domain.HoldSignal("")},
		state:    &fakeState{},
		trades:   &fakeTrades{},
		notifier: &fakeNotifier{},
		sizer:    &fakeSizer{amount: 50},
		queue:    &fakeQueue{},
	}
	cfg := DefaultTradingConfig("BTCUSDT")
	cfg.WarmupTicks = 0
	if mutate != nil {
		mutate(&cfg)
	}
	h.svc = NewTradingService(cfg, Deps{
		Exchange: h.exchange,
		Signals:  h.signals,
		Sizer:    h.sizer,
		State:    h.state,
		Trades:   h.trades,
		Notifier: h.notifier,
	}, testLogger())
	h.svc.SetExitQueue(h.queue)
	return h
}

func (h *harness) tick(price float64) {
	h.svc.OnPriceTick(domain.Tick{Symbol: "BTCUSDT", Price: price, Time: time.Now()})
}
