package signal

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/tradeagent/internal/domain"
)

const systemPrompt = `You are a cryptocurrency trading expert.
Analyse the market data and reply ONLY with valid JSON, no extra text or markdown:
{"signal": "BUY" | "SELL" | "HOLD", "confidence": 0.0-1.0, "reason": "short explanation"}
- BUY: positive momentum, support, bullish crossover
- SELL: resistance, overbought, bearish crossover
- HOLD: ambiguous situation or no clear signal`

// Lookbacks, in ticks, for the change figures.
const (
	lookback1h  = 60
	lookback24h = 1440
)

// BuildPrompt renders the market snapshot as the model prompt.
func BuildPrompt(snap domain.MarketSnapshot) string {
	prices := snap.Prices
	symbol := snap.Symbol
	if symbol == "" {
		symbol = "BTCUSDT"
	}

	last := at(prices, 1)
	p1h := at(prices, lookback1h)
	p24h := at(prices, lookback24h)
	ema9 := EMA(prices, 9)
	ema26 := EMA(prices, 26)

	trend := "BEARISH (EMA9 < EMA26)"
	if ema9 > ema26 {
		trend = "BULLISH (EMA9 > EMA26)"
	}

	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Data for %s:\n", symbol)
	fmt.Fprintf(&b, "- Current price: $%.2f\n", last)
	fmt.Fprintf(&b, "- 1h change: %+.2f%%\n", pctChange(p1h, last))
	fmt.Fprintf(&b, "- 24h change: %+.2f%%\n", pctChange(p24h, last))
	fmt.Fprintf(&b, "- EMA 9: $%.2f | EMA 26: $%.2f\n", ema9, ema26)
	fmt.Fprintf(&b, "- Trend: %s\n", trend)
	b.WriteString("What is your signal?")
	return b.String()
}

// EMA is the exponential moving average over the last period values, seeded
// with the oldest of them. With fewer values it returns the last one.
func EMA(data []float64, period int) float64 {
	if len(data) == 0 {
		return 0
	}
	if period <= 0 || len(data) < period {
		return data[len(data)-1]
	}
	k := 2.0 / float64(period+1)
	window := data[len(data)-period:]
	e := window[0]
	for _, p := range window[1:] {
		e = p*k + e*(1-k)
	}
	return e
}

// at returns the n-th value from the end, or the oldest value when the
// series is shorter.
func at(data []float64, n int) float64 {
	if len(data) == 0 {
		return 0
	}
	if len(data) >= n {
		return data[len(data)-n]
	}
	return data[0]
}

func pctChange(from, to float64) float64 {
	if from == 0 {
		return 0
	}
	return (to - from) / from * 100
}
