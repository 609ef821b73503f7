package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeagent/internal/domain"
	"github.com/alanyoungcy/tradeagent/internal/metrics"
)

type recordedEvent struct {
	kind   domain.EventKind
	fields domain.Fields
}

type recordingSink struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingSink) Notify(_ context.Context, kind domain.EventKind, fields domain.Fields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{kind: kind, fields: fields})
}

func (r *recordingSink) count(kind domain.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.kind == kind {
			n++
		}
	}
	return n
}

type fakeClock struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return ctx.Err()
}

func newTestSupervisor(connect, session func(context.Context) error, sink *recordingSink, m *metrics.Metrics) (*Supervisor, *fakeClock) {
	s := NewSupervisor(DefaultSupervisorConfig(), connect, session, nil, sink, m,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	clock := &fakeClock{}
	s.sleep = clock.sleep
	return s, clock
}

func TestSupervisorHaltsAfterMaxAttempts(t *testing.T) {
	sink := &recordingSink{}
	m := metrics.New()
	connects := 0
	connect := func(context.Context) error {
		connects++
		return errors.New("dial tcp: connection refused")
	}
	session := func(context.Context) error {
		t.Fatal("session must not run without a connection")
		return nil
	}

	s, clock := newTestSupervisor(connect, session, sink, m)
	err := s.Run(context.Background())

	require.ErrorIs(t, err, domain.ErrReconnectExhausted)
	assert.Equal(t, 10, connects)
	assert.Equal(t, []time.Duration{
		30 * time.Second, 60 * time.Second, 90 * time.Second, 120 * time.Second, 150 * time.Second,
		180 * time.Second, 210 * time.Second, 240 * time.Second, 270 * time.Second, 300 * time.Second,
	}, clock.sleeps)
	assert.Equal(t, 1, sink.count(domain.EventHalted))
	assert.Equal(t, 10, sink.count(domain.EventReconnect))
	assert.Equal(t, 10, sink.count(domain.EventError))
	assert.Equal(t, 10.0, counterValue(t, m, "tradeagent_reconnects_total"))
}

func TestSupervisorResetsAttemptsAfterConnect(t *testing.T) {
	sink := &recordingSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Two failed dials, one session that drops, two more failed dials, then
	// a session that runs until shutdown.
	script := []error{errors.New("refused"), errors.New("refused"), nil, errors.New("refused"), errors.New("refused"), nil}
	sessions := 0
	connect := func(context.Context) error {
		err := script[0]
		script = script[1:]
		return err
	}
	session := func(ctx context.Context) error {
		sessions++
		if sessions == 1 {
			return domain.ErrStreamClosed
		}
		cancel()
		<-ctx.Done()
		return nil
	}

	s, clock := newTestSupervisor(connect, session, sink, nil)
	started := 0
	s.onConnected = func(context.Context) { started++ }

	require.NoError(t, s.Run(ctx))
	assert.Equal(t, 2, sessions)
	assert.Equal(t, 2, started)
	assert.Equal(t, []time.Duration{
		30 * time.Second, 60 * time.Second,
		30 * time.Second, 60 * time.Second, 90 * time.Second,
	}, clock.sleeps, "a successful connection restarts the schedule")
	assert.Zero(t, sink.count(domain.EventHalted))
}

func TestSupervisorCancelDuringBackoff(t *testing.T) {
	sink := &recordingSink{}
	ctx, cancel := context.WithCancel(context.Background())

	connect := func(context.Context) error { return errors.New("refused") }
	s, _ := newTestSupervisor(connect, nil, sink, nil)
	s.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	assert.NoError(t, s.Run(ctx))
	assert.Zero(t, sink.count(domain.EventHalted))
	assert.Equal(t, 1, sink.count(domain.EventReconnect))
}

func TestSupervisorCleanShutdownSendsNoError(t *testing.T) {
	sink := &recordingSink{}
	ctx, cancel := context.WithCancel(context.Background())

	connect := func(context.Context) error { return nil }
	session := func(ctx context.Context) error {
		cancel()
		<-ctx.Done()
		return errors.New("stream read: use of closed network connection")
	}
	s, clock := newTestSupervisor(connect, session, sink, nil)

	assert.NoError(t, s.Run(ctx))
	assert.Empty(t, clock.sleeps)
	assert.Zero(t, sink.count(domain.EventError))
}

func TestLinearBackOff(t *testing.T) {
	b := &linearBackOff{step: 30 * time.Second, max: 300 * time.Second}
	var got []time.Duration
	for i := 0; i < 12; i++ {
		got = append(got, b.NextBackOff())
	}
	assert.Equal(t, 30*time.Second, got[0])
	assert.Equal(t, 300*time.Second, got[9])
	assert.Equal(t, 300*time.Second, got[11])

	b.Reset()
	assert.Equal(t, 30*time.Second, b.NextBackOff())
}

func counterValue(t *testing.T, m *metrics.Metrics, name string) float64 {
	t.Helper()
	mfs, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}
