package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeagent/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSender struct {
	name string
	err  error
	mu   sync.Mutex
	msgs []Message
	wait time.Duration
}

func (r *recordingSender) Send(ctx context.Context, msg Message) error {
	if r.wait > 0 {
		select {
		case <-time.After(r.wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func (r *recordingSender) received() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

func TestNotifierFansOutAndSurvivesFailures(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("down")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	n.Notify(context.Background(), domain.EventPositionOpened, domain.Fields{
		FieldSymbol: "BTCUSDT", FieldPrice: 50000.0, FieldQuantity: 0.001, FieldNotional: 50.0, FieldReason: "trend",
	})
	n.Wait(context.Background())

	require.Len(t, good.received(), 1)
	assert.Equal(t, "Buy executed", good.received()[0].Title)
	assert.Len(t, bad.received(), 1)
}

func TestNotifierFilter(t *testing.T) {
	chat := &recordingSender{name: "chat"}
	audit := &recordingSender{name: "audit"}
	n := NewNotifier([]Sender{chat}, []string{"halted", " stop_loss "}, testLogger())
	n.Always(audit)

	n.Notify(context.Background(), domain.EventReconnect, domain.Fields{FieldAttempt: 1})
	n.Notify(context.Background(), domain.EventStopLoss, domain.Fields{FieldSymbol: "BTCUSDT"})
	n.Wait(context.Background())

	require.Len(t, chat.received(), 1)
	assert.Equal(t, domain.EventStopLoss, chat.received()[0].Kind)
	assert.Len(t, audit.received(), 2)
}

func TestNotifierDoesNotBlockCaller(t *testing.T) {
	slow := &recordingSender{name: "slow", wait: time.Hour}
	n := NewNotifier([]Sender{slow}, nil, testLogger())
	n.timeout = 20 * time.Millisecond

	start := time.Now()
	n.Notify(context.Background(), domain.EventError, domain.Fields{FieldError: "x"})
	assert.Less(t, time.Since(start), 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n.Wait(ctx)
	require.NoError(t, ctx.Err(), "send timeout should release the sender")
	assert.Empty(t, slow.received())
}

func TestRender(t *testing.T) {
	tests := []struct {
		name      string
		kind      domain.EventKind
		fields    domain.Fields
		wantTitle string
		contains  []string
	}{
		{"started dry run", domain.EventBotStarted, domain.Fields{FieldSymbol: "BTCUSDT", FieldDryRun: true}, "Agent started", []string{"Pair: BTCUSDT", "Mode: DRY RUN"}},
		{"opened", domain.EventPositionOpened, domain.Fields{FieldSymbol: "BTCUSDT", FieldPrice: 64250.5, FieldQuantity: 0.00078, FieldNotional: 50.0, FieldQuote: "USDT"}, "Buy executed", []string{"Price: $64,250.50", "Quantity: 0.00078", "Invested: $50.00 USDT"}},
		{"closed", domain.EventPositionClosed, domain.Fields{FieldPnL: -1.5, FieldReason: "SIGNAL(80%)"}, "Sell executed", []string{"PnL: $-1.5000", "Reason: SIGNAL(80%)"}},
		{"take profit", domain.EventTakeProfit, domain.Fields{FieldPnL: 3.5}, "Take profit reached", []string{"Gain: $+3.5000"}},
		{"reconnect", domain.EventReconnect, domain.Fields{FieldAttempt: 3}, "Reconnecting", []string{"attempt #3"}},
		{"halted", domain.EventHalted, domain.Fields{FieldAttempt: 10}, "Agent halted", []string{"10 reconnect attempts"}},
		{"panic", domain.EventPanic, domain.Fields{FieldClosed: 2}, "Panic close", []string{"Closed 2 position(s)"}},
		{"summary", domain.EventDailySummary, domain.Fields{FieldTrades: 4, FieldPnL: 12.0, FieldWinRate: 0.5, FieldBalance: 1234.5}, "Daily summary", []string{"Trades: 4", "Day PnL: $+12.00", "Win rate: 50%", "Balance: $1,234.50"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, body := Render(tt.kind, tt.fields)
			assert.Equal(t, tt.wantTitle, title)
			for _, c := range tt.contains {
				assert.Contains(t, body, c)
			}
		})
	}
}

func TestRenderErrorTruncates(t *testing.T) {
	_, body := Render(domain.EventError, domain.Fields{FieldError: errors.New(strings.Repeat("x", 500))})
	assert.Len(t, body, maxErrorLen)
}

func TestCommas(t *testing.T) {
	assert.Equal(t, "1,234,567.89", commas("1234567.89"))
	assert.Equal(t, "-999.00", commas("-999.00"))
	assert.Equal(t, "100", commas("100"))
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL, "TOKEN", "42")
	require.NoError(t, s.Send(context.Background(), Message{Title: "Buy <now>", Body: "Pair: BTCUSDT"}))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "HTML", got["parse_mode"])
	assert.Equal(t, "<b>Buy &lt;now&gt;</b>\nPair: BTCUSDT", got["text"])
}

func TestTelegramSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "chat not found", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewTelegramSender(srv.URL, "TOKEN", "42").Send(context.Background(), Message{Title: "t"})
	require.ErrorContains(t, err, "unexpected status 400")
}

func TestTelegramSenderSilentAndDescription(t *testing.T) {
	var got telegramMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"ok":false,"description":"Forbidden: bot was blocked by the user"}`))
	}))
	defer srv.Close()

	err := NewTelegramSender(srv.URL, "TOKEN", "42").Send(context.Background(), Message{Kind: domain.EventReconnect, Title: "r"})
	require.ErrorContains(t, err, "bot was blocked")
	assert.NotContains(t, err.Error(), "TOKEN")
	assert.True(t, got.DisableNotification)
}

func TestDiscordSender(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	at := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	msg := Message{Kind: domain.EventHalted, Title: "Halted", Body: "bye", Time: at}
	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), msg))
	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "Halted", got.Embeds[0].Title)
	assert.Equal(t, "bye", got.Embeds[0].Description)
	assert.Equal(t, colorBad, got.Embeds[0].Color)
	assert.Equal(t, "2026-03-02T09:30:00Z", got.Embeds[0].Timestamp)
}

func TestDiscordSenderRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), Message{Title: "t"})
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

type fakeAudit struct {
	event  string
	detail map[string]any
}

func (f *fakeAudit) Log(_ context.Context, event string, detail map[string]any) error {
	f.event, f.detail = event, detail
	return nil
}

func (f *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type fakeBus struct {
	channel string
	payload []byte
}

func (f *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	f.channel, f.payload = channel, payload
	return nil
}

func TestAuditAndBusSenders(t *testing.T) {
	msg := Message{
		Kind:   domain.EventError,
		Title:  "Agent error",
		Fields: domain.Fields{FieldError: errors.New("boom"), FieldSymbol: "BTCUSDT"},
		Time:   time.Unix(1700000000, 0).UTC(),
	}

	audit := &fakeAudit{}
	require.NoError(t, NewAuditSender(audit).Send(context.Background(), msg))
	assert.Equal(t, "notify.error", audit.event)
	assert.Equal(t, "boom", audit.detail[FieldError])

	bus := &fakeBus{}
	require.NoError(t, NewBusSender(bus, "tradeagent:events:").Send(context.Background(), msg))
	assert.Equal(t, "tradeagent:events:error", bus.channel)
	assert.JSONEq(t, `{"kind":"error","title":"Agent error","fields":{"error":"boom","symbol":"BTCUSDT"},"time":"2023-11-14T22:13:20Z"}`, string(bus.payload))
}
