package signal

import (
	"testing"

	"github.com/alanyoungcy/tradeagent/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestEMA(t *testing.T) {
	assert.Equal(t, 0.0, EMA(nil, 9))
	assert.Equal(t, 3.0, EMA([]float64{1, 2, 3}, 9), "short series returns the last value")

	flat := make([]float64, 30)
	for i := range flat {
		flat[i] = 50
	}
	assert.InDelta(t, 50.0, EMA(flat, 26), 1e-9)

	// period 3: k = 0.5, seed 2, then 3 -> 2.5, then 4 -> 3.25
	assert.InDelta(t, 3.25, EMA([]float64{1, 2, 3, 4}, 3), 1e-9)
}

func TestBuildPrompt(t *testing.T) {
	prices := make([]float64, 0, 100)
	for i := 0; i < 100; i++ {
		prices = append(prices, 100+float64(i))
	}
	got := BuildPrompt(domain.MarketSnapshot{Symbol: "ETHUSDT", Prices: prices})

	assert.Contains(t, got, "Data for ETHUSDT:")
	assert.Contains(t, got, "Current price: $199.00")
	// 60 ticks back is 140: (199-140)/140
	assert.Contains(t, got, "1h change: +42.14%")
	// shorter than a day: compare with the oldest, 100
	assert.Contains(t, got, "24h change: +99.00%")
	assert.Contains(t, got, "BULLISH")
	assert.Contains(t, got, `"signal": "BUY" | "SELL" | "HOLD"`)

	empty := BuildPrompt(domain.MarketSnapshot{})
	assert.Contains(t, empty, "Data for BTCUSDT:")
	assert.Contains(t, empty, "1h change: +0.00%")
}
