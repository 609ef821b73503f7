package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeagent/internal/domain"
	"github.com/alanyoungcy/tradeagent/internal/notify"
)

func TestDailySummary(t *testing.T) {
	h := newHarness(nil)
	arch := &fakeArchiver{}
	h.svc.archiver = arch
	now := time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)
	h.svc.now = func() time.Time { return now }

	h.trades.records = []domain.TradeRecord{
		{Action: domain.ActionSell, PnL: 5, Timestamp: now.Add(-48 * time.Hour)},
		{Action: domain.ActionBuy, Timestamp: now.Add(-3 * time.Hour)},
		{Action: domain.ActionSell, PnL: 4, Timestamp: now.Add(-2 * time.Hour)},
		{Action: domain.ActionBuy, Timestamp: now.Add(-90 * time.Minute)},
		{Action: domain.ActionSell, PnL: -1, Timestamp: now.Add(-time.Hour)},
	}

	require.NoError(t, h.svc.DailySummary(context.Background()))
	require.Len(t, h.notifier.events, 1)
	ev := h.notifier.events[0]
	assert.Equal(t, domain.EventDailySummary, ev.kind)
	assert.Equal(t, 4, ev.fields[notify.FieldTrades])
	assert.InDelta(t, 3.0, ev.fields[notify.FieldPnL], 1e-9)
	assert.InDelta(t, 0.5, ev.fields[notify.FieldWinRate], 1e-9)
	assert.Equal(t, 1000.0, ev.fields[notify.FieldBalance])

	assert.Len(t, arch.records, 4)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), arch.day)

	now = now.Add(23 * time.Hour)
	require.NoError(t, h.svc.DailySummary(context.Background()))
	assert.Len(t, h.notifier.events, 1, "not due yet")
}

func TestDailySummarySkipsEmptyDay(t *testing.T) {
	h := newHarness(nil)
	require.NoError(t, h.svc.DailySummary(context.Background()))
	assert.Empty(t, h.notifier.events)
}
