package signal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/tradeagent/internal/domain"
	"github.com/alanyoungcy/tradeagent/internal/platform/gemini"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reply struct {
	text string
	err  error
}

// fakeGenerator answers per key; a key without an entry blocks until ctx ends.
type fakeGenerator struct {
	mu      sync.Mutex
	replies map[string]reply
	calls   []string
	lastReq gemini.Request
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, apiKey string, req gemini.Request) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, apiKey)
	f.lastReq = req
	r, ok := f.replies[apiKey]
	f.mu.Unlock()
	if !ok {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return r.text, r.err
}

func newTestProvider(t *testing.T, gen Generator, keys ...string) *Provider {
	t.Helper()
	p, err := NewProvider(gen, keys, DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	p.now = func() time.Time { return t0 }
	return p
}

var snap = domain.MarketSnapshot{Symbol: "BTCUSDT", Prices: []float64{100, 101, 102}}

func TestGetSignalParsesFencedJSON(t *testing.T) {
	gen := &fakeGenerator{replies: map[string]reply{
		"k1": {text: "```json\n{\"signal\": \"BUY\", \"confidence\": 0.82, \"reason\": \"momentum\"}\n```"},
	}}
	p := newTestProvider(t, gen, "k1")

	sig := p.GetSignal(context.Background(), snap)
	assert.Equal(t, domain.SignalBuy, sig.Kind)
	assert.Equal(t, 0.82, sig.Confidence)
	assert.Equal(t, "momentum", sig.Reason)
	assert.Equal(t, 0.2, gen.lastReq.Temperature)
	assert.Equal(t, 200, gen.lastReq.MaxOutputTokens)
}

func TestGetSignalRotatesOnRateLimit(t *testing.T) {
	gen := &fakeGenerator{replies: map[string]reply{
		"k1": {err: &gemini.StatusError{StatusCode: 429}},
		"k2": {err: &gemini.StatusError{StatusCode: 403}},
		"k3": {text: `{"signal":"SELL","confidence":0.7,"reason":"x"}`},
	}}
	p := newTestProvider(t, gen, "k1", "k2", "k3")

	sig := p.GetSignal(context.Background(), snap)
	assert.Equal(t, domain.SignalSell, sig.Kind)
	assert.Equal(t, []string{"k1", "k2", "k3"}, gen.calls)
	assert.Equal(t, 1, p.Pool().Available(t0))
	assert.Equal(t, 2, p.Pool().Available(t0.Add(65*time.Second)))
	assert.Equal(t, 3, p.Pool().Available(t0.Add(24*time.Hour)))
}

func TestGetSignalAllKeysExhausted(t *testing.T) {
	gen := &fakeGenerator{replies: map[string]reply{
		"k1": {err: &gemini.StatusError{StatusCode: 429}},
		"k2": {err: &gemini.StatusError{StatusCode: 429}},
	}}
	p := newTestProvider(t, gen, "k1", "k2")

	sig := p.GetSignal(context.Background(), snap)
	assert.Equal(t, domain.SignalHold, sig.Kind)
	assert.Zero(t, sig.Confidence)
	assert.Len(t, gen.calls, 2)

	sig = p.GetSignal(context.Background(), snap)
	assert.Equal(t, domain.SignalHold, sig.Kind)
	assert.Len(t, gen.calls, 2, "benched keys are not called")
}

type recordingSink struct {
	mu     sync.Mutex
	kinds  []domain.EventKind
	errors []string
}

func (r *recordingSink) Notify(_ context.Context, kind domain.EventKind, fields domain.Fields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
	msg, _ := fields["error"].(string)
	r.errors = append(r.errors, msg)
}

func TestBenchedKeysNotifyOnce(t *testing.T) {
	gen := &fakeGenerator{replies: map[string]reply{
		"k1": {err: &gemini.StatusError{StatusCode: 429}},
		"k2": {err: &gemini.StatusError{StatusCode: 429}},
	}}
	p := newTestProvider(t, gen, "k1", "k2")
	sink := &recordingSink{}
	p.SetNotifier(sink)

	for range 3 {
		assert.Equal(t, domain.SignalHold, p.GetSignal(context.Background(), snap).Kind)
	}
	require.Equal(t, []domain.EventKind{domain.EventError}, sink.kinds)
	assert.Contains(t, sink.errors[0], "credentials cooling down")

	now := t0.Add(DefaultConfig().AlertInterval)
	p.now = func() time.Time { return now }
	p.GetSignal(context.Background(), snap)
	assert.Len(t, sink.kinds, 2, "alert repeats after the interval")
}

func TestProviderFailuresNotify(t *testing.T) {
	tests := []struct {
		name  string
		reply reply
		want  string
	}{
		{"server error", reply{err: &gemini.StatusError{StatusCode: 500}}, "signal provider:"},
		{"not json", reply{text: "I think you should buy"}, "decode"},
		{"rejected", reply{err: &gemini.StatusError{StatusCode: 401}}, "rejected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{replies: map[string]reply{"k": tt.reply}}
			p := newTestProvider(t, gen, "k")
			sink := &recordingSink{}
			p.SetNotifier(sink)

			p.GetSignal(context.Background(), snap)
			require.NotEmpty(t, sink.kinds)
			assert.Equal(t, domain.EventError, sink.kinds[0])
			assert.Contains(t, sink.errors[0], tt.want)
		})
	}
}

func TestRateLimitedKeyWithSpareDoesNotNotify(t *testing.T) {
	gen := &fakeGenerator{replies: map[string]reply{
		"k1": {err: &gemini.StatusError{StatusCode: 429}},
		"k2": {text: `{"signal":"HOLD","confidence":0.4,"reason":"flat"}`},
	}}
	p := newTestProvider(t, gen, "k1", "k2")
	sink := &recordingSink{}
	p.SetNotifier(sink)

	p.GetSignal(context.Background(), snap)
	assert.Empty(t, sink.kinds)
}

func TestGetSignalHoldOnFailure(t *testing.T) {
	tests := []struct {
		name  string
		reply reply
	}{
		{"server error", reply{err: &gemini.StatusError{StatusCode: 500}}},
		{"transport", reply{err: errors.New("connection reset")}},
		{"not json", reply{text: "I think you should buy"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{replies: map[string]reply{"k": tt.reply}}
			p := newTestProvider(t, gen, "k")
			sig := p.GetSignal(context.Background(), snap)
			assert.Equal(t, domain.SignalHold, sig.Kind)
			assert.Zero(t, sig.Confidence)
		})
	}
}

func TestGetSignalTimeout(t *testing.T) {
	gen := &fakeGenerator{replies: map[string]reply{}}
	p := newTestProvider(t, gen, "slow")
	p.cfg.Timeout = 20 * time.Millisecond

	start := time.Now()
	sig := p.GetSignal(context.Background(), snap)
	assert.Equal(t, domain.SignalHold, sig.Kind)
	assert.Less(t, time.Since(start), time.Second)
}

func TestNewProviderRequiresKeys(t *testing.T) {
	_, err := NewProvider(&fakeGenerator{}, []string{"", ""}, DefaultConfig(), slog.Default())
	require.ErrorIs(t, err, domain.ErrNoCredentials)
}

func TestParseSignal(t *testing.T) {
	tests := []struct {
		in   string
		want domain.Signal
	}{
		{`{"signal":"buy","confidence":1.7,"reason":"r"}`, domain.Signal{Kind: domain.SignalBuy, Confidence: 1, Reason: "r"}},
		{`{"signal":"SELL","confidence":-0.2}`, domain.Signal{Kind: domain.SignalSell, Confidence: 0}},
		{`{"signal":"MOON","confidence":0.9}`, domain.Signal{Kind: domain.SignalHold, Confidence: 0.9}},
		{"```\n{\"signal\":\"HOLD\",\"confidence\":0.5}\n```", domain.Signal{Kind: domain.SignalHold, Confidence: 0.5}},
	}
	for _, tt := range tests {
		got, err := ParseSignal(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseSignal("")
	assert.Error(t, err)
}
