// Package binance implements domain.ExchangeClient against the Binance spot
// REST and websocket APIs.
package binance

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/tradeagent/internal/domain"
	"github.com/shopspring/decimal"
)

// Venue error codes that signal request-weight or order-rate exhaustion.
const (
	codeTooManyRequests = -1003
	codeTooManyOrders   = -1015
	codeBadAPIKeyFormat = -2014
	codeRejectedMBXKey  = -2015
	codeNewOrderReject  = -2010
)

// APIError is the decoded error body returned by the REST API.
type APIError struct {
	HTTPStatus int    `json:"-"`
	Code       int    `json:"code"`
	Msg        string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance: HTTP %d code %d: %s", e.HTTPStatus, e.Code, e.Msg)
}

// Unwrap maps the venue error onto a domain sentinel so callers can classify
// it with errors.Is.
func (e *APIError) Unwrap() error {
	switch {
	case e.Code == codeTooManyRequests || e.Code == codeTooManyOrders,
		e.HTTPStatus == http.StatusTooManyRequests,
		e.HTTPStatus == http.StatusTeapot:
		return domain.ErrRateLimited
	case e.Code == codeBadAPIKeyFormat || e.Code == codeRejectedMBXKey,
		e.HTTPStatus == http.StatusUnauthorized,
		e.HTTPStatus == http.StatusForbidden:
		return domain.ErrUnauthorized
	case e.Code == codeNewOrderReject:
		return domain.ErrInsufficientBalance
	case e.HTTPStatus == http.StatusNotFound:
		return domain.ErrNotFound
	case e.HTTPStatus == http.StatusBadRequest:
		return domain.ErrInvalidOrder
	default:
		return nil
	}
}

// IsRateLimit reports whether err is a retryable rate-limit rejection.
func IsRateLimit(err error) bool {
	return errors.Is(err, domain.ErrRateLimited)
}

// TickerPrice is the /api/v3/ticker/price response.
type TickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Balance is one asset entry of the account response.
type Balance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// Account is the /api/v3/account response.
type Account struct {
	CanTrade bool      `json:"canTrade"`
	Balances []Balance `json:"balances"`
}

// SymbolFilter is one trading rule of a symbol.
type SymbolFilter struct {
	FilterType  string `json:"filterType"`
	StepSize    string `json:"stepSize,omitempty"`
	MinQty      string `json:"minQty,omitempty"`
	MaxQty      string `json:"maxQty,omitempty"`
	MinNotional string `json:"minNotional,omitempty"`
}

// SymbolInfo is a symbol entry of the exchangeInfo response.
type SymbolInfo struct {
	Symbol     string         `json:"symbol"`
	Status     string         `json:"status"`
	BaseAsset  string         `json:"baseAsset"`
	QuoteAsset string         `json:"quoteAsset"`
	Filters    []SymbolFilter `json:"filters"`
}

// ExchangeInfo is the /api/v3/exchangeInfo response.
type ExchangeInfo struct {
	Symbols []SymbolInfo `json:"symbols"`
}

// LotSize is the quantity rule for a symbol.
type LotSize struct {
	StepSize decimal.Decimal
	MinQty   decimal.Decimal
}

// LotSize extracts the LOT_SIZE filter. A symbol without one accepts any
// quantity at 8 decimal places.
func (s SymbolInfo) LotSize() LotSize {
	ls := LotSize{StepSize: decimal.New(1, -8)}
	for _, f := range s.Filters {
		if f.FilterType != "LOT_SIZE" {
			continue
		}
		if step, err := decimal.NewFromString(f.StepSize); err == nil && step.IsPositive() {
			ls.StepSize = step
		}
		if minQty, err := decimal.NewFromString(f.MinQty); err == nil {
			ls.MinQty = minQty
		}
	}
	return ls
}

// Round truncates qty down to a multiple of the step size.
func (ls LotSize) Round(qty float64) decimal.Decimal {
	d := decimal.NewFromFloat(qty)
	if d.Sign() <= 0 {
		return decimal.Zero
	}
	return d.Div(ls.StepSize).Floor().Mul(ls.StepSize)
}

// Fill is a partial execution reported with a FULL order response.
type Fill struct {
	Price string `json:"price"`
	Qty   string `json:"qty"`
}

// OrderResponse is the /api/v3/order FULL response.
type OrderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	TransactTime        int64  `json:"transactTime"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Status              string `json:"status"`
	Side                string `json:"side"`
	Fills               []Fill `json:"fills"`
}

// ToDomain converts the response into an OrderResult. fallbackPrice is used
// when the venue reports no quote quantity.
func (r OrderResponse) ToDomain(fallbackPrice float64) domain.OrderResult {
	qty := parseFloat(r.ExecutedQty)
	price := fallbackPrice
	if quote := parseFloat(r.CummulativeQuoteQty); quote > 0 && qty > 0 {
		price = quote / qty
	}
	id := r.ClientOrderID
	if r.OrderID != 0 {
		id = strconv.FormatInt(r.OrderID, 10)
	}
	return domain.OrderResult{
		OrderID:          id,
		Symbol:           r.Symbol,
		Side:             domain.OrderSide(r.Side),
		ExecutedQuantity: qty,
		Price:            price,
	}
}

// TickerEvent is a message of the <symbol>@ticker stream. Keys differing
// only by case are all declared so the decoder never folds one onto another.
type TickerEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	LastPrice string `json:"c"`
	CloseTime int64  `json:"C"`
	Volume    string `json:"v"`
}

// ToDomain converts the event into a Tick.
func (e TickerEvent) ToDomain() domain.Tick {
	return domain.Tick{
		Symbol: e.Symbol,
		Price:  parseFloat(e.LastPrice),
		Volume: parseFloat(e.Volume),
		Time:   time.UnixMilli(e.EventTime),
	}
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
