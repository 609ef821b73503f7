package domain

import "time"

// TradeAction is the side of an executed trade.
type TradeAction string

const (
	ActionBuy  TradeAction = "BUY"
	ActionSell TradeAction = "SELL"
)

// TradeRecord is an immutable fact about an executed order. PnL is only
// meaningful for SELL records.
type TradeRecord struct {
	ID        string      `json:"id"`
	Action    TradeAction `json:"action"`
	Symbol    string      `json:"symbol"`
	Price     float64     `json:"price"`
	Quantity  float64     `json:"quantity"`
	Notional  float64     `json:"notional"`
	PnL       float64     `json:"pnl"`
	Reason    string      `json:"reason"`
	OrderID   string      `json:"order_id"`
	DryRun    bool        `json:"dry_run"`
	Timestamp time.Time   `json:"timestamp"`
}

// DaySummary aggregates the trades of one calendar day.
type DaySummary struct {
	Day        time.Time
	Trades     int
	Closed     int
	Wins       int
	TotalPnL   float64
	WinRate    float64
	Balance    float64
	QuoteAsset string
}

// SummarizeDay aggregates the records whose timestamp falls on the same
// calendar day as day (in day's location). Win rate is computed over SELL
// records only.
func SummarizeDay(records []TradeRecord, day time.Time) (DaySummary, []TradeRecord) {
	y, m, d := day.Date()
	loc := day.Location()
	sum := DaySummary{Day: time.Date(y, m, d, 0, 0, 0, 0, loc)}

	var today []TradeRecord
	for _, r := range records {
		ry, rm, rd := r.Timestamp.In(loc).Date()
		if ry != y || rm != m || rd != d {
			continue
		}
		today = append(today, r)
		sum.Trades++
		if r.Action != ActionSell {
			continue
		}
		sum.Closed++
		sum.TotalPnL += r.PnL
		if r.PnL > 0 {
			sum.Wins++
		}
	}
	if sum.Closed > 0 {
		sum.WinRate = float64(sum.Wins) / float64(sum.Closed)
	}
	return sum, today
}
