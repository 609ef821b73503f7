package binance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/tradeagent/internal/crypto"
	"github.com/alanyoungcy/tradeagent/internal/domain"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// rateLimitKey is the limiter bucket shared by every REST call.
const rateLimitKey = "binance:rest"

// errBelowLotSize marks a quantity that rounds to nothing tradable.
var errBelowLotSize = fmt.Errorf("quantity below lot size: %w", domain.ErrInvalidOrder)

// Config holds the exchange client settings.
type Config struct {
	RESTURL    string
	WSURL      string
	QuoteAsset string
	DryRun     bool
	Timeout    time.Duration
	RateLimit  int
	RateWindow time.Duration
	RetryBase  time.Duration // first order retry delay, doubled per attempt
	MaxRetries int           // order retries after the first attempt
	PaperQuote float64       // simulated quote balance when no credentials
}

// Exchange implements domain.ExchangeClient. Every REST call passes through
// the rate limiter; order placement is retried on rate-limit rejections only.
type Exchange struct {
	cfg     Config
	rest    *RESTClient
	stream  *StreamClient
	limiter domain.RateLimiter
	logger  *slog.Logger

	mu       sync.RWMutex
	prices   map[string]float64
	lots     map[string]LotSize
	paper    map[string]float64
	usePaper bool
}

// New creates an Exchange. auth may be nil; without credentials the client
// only works in dry-run mode, using a paper balance.
func New(cfg Config, auth *crypto.HMACAuth, limiter domain.RateLimiter, logger *slog.Logger) (*Exchange, error) {
	if !auth.Configured() && !cfg.DryRun {
		return nil, fmt.Errorf("binance: live trading requires API credentials: %w", domain.ErrUnauthorized)
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 1200
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	e := &Exchange{
		cfg:     cfg,
		rest:    NewRESTClient(cfg.RESTURL, auth, cfg.Timeout),
		stream:  NewStreamClient(cfg.WSURL),
		limiter: limiter,
		logger:  logger.With(slog.String("component", "binance")),
		prices:  make(map[string]float64),
		lots:    make(map[string]LotSize),
	}
	if !auth.Configured() {
		e.usePaper = true
		e.paper = map[string]float64{cfg.QuoteAsset: cfg.PaperQuote}
	}
	return e, nil
}

// Connect verifies the REST endpoint is reachable.
func (e *Exchange) Connect(ctx context.Context) error {
	if err := e.wait(ctx); err != nil {
		return err
	}
	if err := e.rest.Ping(ctx); err != nil {
		return fmt.Errorf("binance: connect: %w", err)
	}
	e.logger.InfoContext(ctx, "connected",
		slog.Bool("dry_run", e.cfg.DryRun),
		slog.Bool("paper_balance", e.usePaper),
	)
	return nil
}

// Disconnect releases idle HTTP connections.
func (e *Exchange) Disconnect() error {
	e.rest.httpClient.CloseIdleConnections()
	return nil
}

// StreamPrice streams ticks for symbol, keeping the price cache current.
func (e *Exchange) StreamPrice(ctx context.Context, symbol string, onTick domain.TickHandler) error {
	e.logger.InfoContext(ctx, "price stream starting", slog.String("symbol", symbol))
	return e.stream.Stream(ctx, symbol, func(t domain.Tick) {
		e.mu.Lock()
		e.prices[t.Symbol] = t.Price
		e.mu.Unlock()
		onTick(t)
	})
}

// CachedPrice returns the last streamed price for symbol.
func (e *Exchange) CachedPrice(symbol string) (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.prices[symbol]
	return p, ok
}

// GetPrice returns the cached price, falling back to the ticker endpoint.
func (e *Exchange) GetPrice(ctx context.Context, symbol string) (float64, error) {
	if p, ok := e.CachedPrice(symbol); ok {
		return p, nil
	}
	if err := e.wait(ctx); err != nil {
		return 0, err
	}
	p, err := e.rest.TickerPrice(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return p, nil
}

// GetBalance returns the free balance of asset.
func (e *Exchange) GetBalance(ctx context.Context, asset string) (float64, error) {
	all, err := e.balances(ctx, false)
	if err != nil {
		return 0, err
	}
	return all[asset], nil
}

// GetAllBalances returns every asset with a positive free balance.
func (e *Exchange) GetAllBalances(ctx context.Context) (map[string]float64, error) {
	return e.balances(ctx, true)
}

// BuyMarket buys notional worth of the base asset at market.
func (e *Exchange) BuyMarket(ctx context.Context, symbol string, notional float64) (domain.OrderResult, error) {
	if notional <= 0 {
		return domain.OrderResult{}, fmt.Errorf("binance: buy %s notional %.2f: %w", symbol, notional, domain.ErrInvalidOrder)
	}
	price, err := e.GetPrice(ctx, symbol)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("binance: buy %s: %w", symbol, err)
	}
	qty, err := e.roundQty(ctx, symbol, notional/price)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("binance: buy %s: %w", symbol, err)
	}

	e.logger.InfoContext(ctx, "market buy",
		slog.String("symbol", symbol),
		slog.String("quantity", qty.String()),
		slog.Float64("price", price),
	)
	return e.placeOrder(ctx, symbol, domain.OrderSideBuy, qty, price)
}

// SellMarket sells quantity units of the base asset at market.
func (e *Exchange) SellMarket(ctx context.Context, symbol string, quantity float64) (domain.OrderResult, error) {
	qty, err := e.roundQty(ctx, symbol, quantity)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("binance: sell %s: %w", symbol, err)
	}
	price, err := e.GetPrice(ctx, symbol)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("binance: sell %s: %w", symbol, err)
	}

	e.logger.InfoContext(ctx, "market sell",
		slog.String("symbol", symbol),
		slog.String("quantity", qty.String()),
		slog.Float64("price", price),
	)
	return e.placeOrder(ctx, symbol, domain.OrderSideSell, qty, price)
}

// CloseAllPositions sells every non-quote balance that trades against the
// quote asset. Failures on one asset are logged and do not stop the rest.
func (e *Exchange) CloseAllPositions(ctx context.Context) ([]domain.OrderResult, error) {
	e.logger.WarnContext(ctx, "closing all positions")

	balances, err := e.GetAllBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: close all: %w", err)
	}

	var (
		results []domain.OrderResult
		errs    []error
	)
	for asset, amount := range balances {
		if asset == e.cfg.QuoteAsset || amount <= 0 {
			continue
		}
		symbol := asset + e.cfg.QuoteAsset
		if _, err := e.lotSize(ctx, symbol); err != nil {
			e.logger.InfoContext(ctx, "no quote pair, skipping", slog.String("asset", asset))
			continue
		}
		res, err := e.SellMarket(ctx, symbol, amount)
		if err != nil {
			if errors.Is(err, errBelowLotSize) {
				e.logger.InfoContext(ctx, "dust below lot size, skipping",
					slog.String("asset", asset), slog.Float64("amount", amount))
				continue
			}
			e.logger.ErrorContext(ctx, "close position failed",
				slog.String("symbol", symbol), slog.String("error", err.Error()))
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (e *Exchange) wait(ctx context.Context) error {
	if err := e.limiter.Wait(ctx, rateLimitKey, e.cfg.RateLimit, e.cfg.RateWindow); err != nil {
		return fmt.Errorf("binance: rate limiter: %w", err)
	}
	return nil
}

func (e *Exchange) balances(ctx context.Context, positiveOnly bool) (map[string]float64, error) {
	if e.usePaper {
		e.mu.RLock()
		defer e.mu.RUnlock()
		out := make(map[string]float64, len(e.paper))
		for k, v := range e.paper {
			if !positiveOnly || v > 0 {
				out[k] = v
			}
		}
		return out, nil
	}

	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	acc, err := e.rest.Account(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(acc.Balances))
	for _, b := range acc.Balances {
		free := parseFloat(b.Free)
		if !positiveOnly || free > 0 {
			out[b.Asset] = free
		}
	}
	return out, nil
}

func (e *Exchange) lotSize(ctx context.Context, symbol string) (LotSize, error) {
	e.mu.RLock()
	ls, ok := e.lots[symbol]
	e.mu.RUnlock()
	if ok {
		return ls, nil
	}

	if err := e.wait(ctx); err != nil {
		return LotSize{}, err
	}
	info, err := e.rest.SymbolInfo(ctx, symbol)
	if err != nil {
		return LotSize{}, err
	}
	ls = info.LotSize()

	e.mu.Lock()
	e.lots[symbol] = ls
	e.mu.Unlock()
	return ls, nil
}

func (e *Exchange) roundQty(ctx context.Context, symbol string, qty float64) (decimal.Decimal, error) {
	ls, err := e.lotSize(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	rounded := ls.Round(qty)
	if !rounded.IsPositive() || rounded.LessThan(ls.MinQty) {
		return decimal.Zero, fmt.Errorf("%v with step %s: %w", qty, ls.StepSize, errBelowLotSize)
	}
	return rounded, nil
}

// placeOrder submits a market order, retrying only on rate-limit errors with
// a doubling delay. In dry-run mode the order is logged and filled locally.
func (e *Exchange) placeOrder(ctx context.Context, symbol string, side domain.OrderSide, qty decimal.Decimal, price float64) (domain.OrderResult, error) {
	op := func() (domain.OrderResult, error) {
		if err := e.wait(ctx); err != nil {
			return domain.OrderResult{}, backoff.Permanent(err)
		}
		if e.cfg.DryRun {
			return e.simulate(ctx, symbol, side, qty, price), nil
		}
		resp, err := e.rest.MarketOrder(ctx, symbol, string(side), qty.String())
		if err != nil {
			if IsRateLimit(err) {
				return domain.OrderResult{}, err
			}
			return domain.OrderResult{}, backoff.Permanent(err)
		}
		return resp.ToDomain(price), nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.cfg.RetryBase
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxInterval = e.cfg.RetryBase << e.cfg.MaxRetries

	notify := func(err error, d time.Duration) {
		e.logger.WarnContext(ctx, "order rate limited, retrying",
			slog.String("symbol", symbol),
			slog.String("side", string(side)),
			slog.Duration("backoff", d),
			slog.String("error", err.Error()),
		)
	}

	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(e.cfg.MaxRetries+1)),
		backoff.WithNotify(notify),
	)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("binance: %s %s: %w", side, symbol, err)
	}
	if res.Symbol == "" {
		res.Symbol = symbol
	}
	if res.Side == "" {
		res.Side = side
	}
	return res, nil
}

func (e *Exchange) simulate(ctx context.Context, symbol string, side domain.OrderSide, qty decimal.Decimal, price float64) domain.OrderResult {
	q := qty.InexactFloat64()
	res := domain.OrderResult{
		OrderID:          fmt.Sprintf("DRY_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8]),
		Symbol:           symbol,
		Side:             side,
		ExecutedQuantity: q,
		Price:            price,
		Simulated:        true,
	}

	if e.usePaper {
		base := strings.TrimSuffix(symbol, e.cfg.QuoteAsset)
		notional := q * price
		e.mu.Lock()
		switch side {
		case domain.OrderSideBuy:
			e.paper[e.cfg.QuoteAsset] -= notional
			e.paper[base] += q
		case domain.OrderSideSell:
			e.paper[e.cfg.QuoteAsset] += notional
			e.paper[base] -= q
		}
		e.mu.Unlock()
	}

	e.logger.InfoContext(ctx, "dry run order",
		slog.String("order_id", res.OrderID),
		slog.String("symbol", symbol),
		slog.String("side", string(side)),
		slog.String("quantity", qty.String()),
		slog.Float64("price", price),
	)
	return res
}

// Compile-time interface check.
var _ domain.ExchangeClient = (*Exchange)(nil)
