package domain

import (
	"context"
	"time"
)

// OrderSide is BUY or SELL on the venue.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderResult is the outcome of a filled market order.
type OrderResult struct {
	OrderID          string
	Symbol           string
	Side             OrderSide
	ExecutedQuantity float64
	Price            float64
	Simulated        bool
}

// Tick is one price update from the market-data stream.
type Tick struct {
	Symbol string
	Price  float64
	Volume float64
	Time   time.Time
}

// TickHandler receives ticks from a price stream. It must not block.
type TickHandler func(Tick)

// ExchangeClient is the venue boundary: market data, balances and market
// order execution.
type ExchangeClient interface {
	Connect(ctx context.Context) error
	Disconnect() error

	// StreamPrice delivers ticks for symbol until ctx is done or the stream
	// fails. It returns nil only when ctx was cancelled.
	StreamPrice(ctx context.Context, symbol string, onTick TickHandler) error

	GetPrice(ctx context.Context, symbol string) (float64, error)
	CachedPrice(symbol string) (float64, bool)

	GetBalance(ctx context.Context, asset string) (float64, error)
	GetAllBalances(ctx context.Context) (map[string]float64, error)

	BuyMarket(ctx context.Context, symbol string, notional float64) (OrderResult, error)
	SellMarket(ctx context.Context, symbol string, quantity float64) (OrderResult, error)

	// CloseAllPositions sells every non-quote balance that has a tradable
	// pair against the quote asset.
	CloseAllPositions(ctx context.Context) ([]OrderResult, error)
}
