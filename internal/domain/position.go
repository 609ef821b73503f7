package domain

import (
	"fmt"
	"time"
)

// StateMaxAge is how old a persisted position may be before it is ignored on
// startup.
const StateMaxAge = 24 * time.Hour

// PositionStatus is the per-symbol state machine value.
type PositionStatus string

const (
	PositionFlat PositionStatus = "FLAT"
	PositionOpen PositionStatus = "OPEN"
)

// Position is the single tracked position for a symbol. When IsOpen is false
// the entry fields carry no meaning and are zeroed before persisting.
type Position struct {
	Symbol        string    `json:"symbol"`
	IsOpen        bool      `json:"is_open"`
	EntryPrice    float64   `json:"entry_price"`
	EntryQuantity float64   `json:"entry_quantity"`
	EntryNotional float64   `json:"entry_notional"`
	TrailingHigh  float64   `json:"trailing_high"`
	OpenedAt      time.Time `json:"opened_at,omitzero"`
}

// Status reports FLAT or OPEN.
func (p Position) Status() PositionStatus {
	if p.IsOpen {
		return PositionOpen
	}
	return PositionFlat
}

// Flat returns the zeroed position for symbol.
func Flat(symbol string) Position {
	return Position{Symbol: symbol}
}

// Change returns the fractional move of price relative to the entry price.
func (p Position) Change(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice
}

// PnL returns the realized profit of selling the full entry quantity at price.
func (p Position) PnL(price float64) float64 {
	return (price - p.EntryPrice) * p.EntryQuantity
}

// PersistedState is the durable mirror of a Position plus its write time.
type PersistedState struct {
	Position Position  `json:"position"`
	SavedAt  time.Time `json:"saved_at"`
}

// Fresh reports whether the state was written less than maxAge before now.
func (s PersistedState) Fresh(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.SavedAt) < maxAge
}

// Exit reasons produced by tick risk evaluation. Signal-driven exits use
// SignalReason.
const (
	ExitTakeProfit   = "TAKE_PROFIT"
	ExitStopLoss     = "STOP_LOSS"
	ExitTrailingStop = "TRAILING_STOP"
)

// SignalReason formats the reason tag for a signal-driven trade, e.g.
// "SIGNAL(72%)".
func SignalReason(confidence float64) string {
	return fmt.Sprintf("SIGNAL(%.0f%%)", confidence*100)
}
