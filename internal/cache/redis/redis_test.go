package redis

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeagent/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return Wrap(rdb), mr
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	now := time.UnixMilli(1_700_000_000_000)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
		now = now.Add(10 * time.Second)
	}

	ok, retry, err := rl.try(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 30*time.Second, retry, "oldest call leaves the window at t+60s")

	now = now.Add(30 * time.Second)
	ok, err = rl.Allow(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = rl.Allow(ctx, "k", 0, time.Minute)
	assert.Error(t, err)
}

func TestRateLimiterSharedAcrossInstances(t *testing.T) {
	c, _ := newTestClient(t)
	a, b := NewRateLimiter(c), NewRateLimiter(c)
	ctx := context.Background()

	ok, _ := a.Allow(ctx, "shared", 1, time.Minute)
	assert.True(t, ok)
	ok, _ = b.Allow(ctx, "shared", 1, time.Minute)
	assert.False(t, ok)
}

func TestRateLimiterWaitCancelled(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, rl.Wait(ctx, "w", 1, time.Hour))
	err := rl.Wait(ctx, "w", 1, time.Hour)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLockManager(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "agent:BTCUSDT", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "agent:BTCUSDT", time.Minute)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()
	assert.False(t, mr.Exists(lockKey("agent:BTCUSDT")))

	release, err := lm.Hold(ctx, "agent:BTCUSDT", 30*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.True(t, mr.Exists(lockKey("agent:BTCUSDT")))
	release()
	assert.False(t, mr.Exists(lockKey("agent:BTCUSDT")))
}

func TestLockUnlockDoesNotStealForeignLock(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	other, err := lm.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	unlock()
	assert.True(t, mr.Exists(lockKey("k")))
	other()
}

func TestStateBackend(t *testing.T) {
	c, _ := newTestClient(t)
	b := NewStateBackend(c, "BTCUSDT")
	ctx := context.Background()

	_, ok, err := b.Read(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	st := domain.PersistedState{
		Position: domain.Position{Symbol: "BTCUSDT", IsOpen: true, EntryPrice: 100, EntryQuantity: 1, EntryNotional: 100, TrailingHigh: 100, OpenedAt: time.Unix(1700000000, 0).UTC()},
		SavedAt:  time.Unix(1700000100, 0).UTC(),
	}
	require.NoError(t, b.Write(ctx, st))
	got, ok, err := b.Read(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, st, got)
}

func TestEventBusPublish(t *testing.T) {
	c, mr := newTestClient(t)
	bus := NewEventBus(c, "tradeagent:events")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := bus.Subscribe(ctx, "tradeagent:*")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "tradeagent:position_opened", []byte(`{"symbol":"BTCUSDT"}`)))

	select {
	case msg := <-sub:
		assert.JSONEq(t, `{"symbol":"BTCUSDT"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	entries, err := mr.Stream("tradeagent:events")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestClientConfigOptions(t *testing.T) {
	opts, err := ClientConfig{Addr: "localhost:6379", DB: 2, TLSEnabled: true}.options()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.NotNil(t, opts.TLSConfig)

	opts, err = ClientConfig{Addr: "redis://:pw@cache.internal:6380/4", PoolSize: 8}.options()
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 4, opts.DB)
	assert.Equal(t, 8, opts.PoolSize)

	_, err = ClientConfig{Addr: "redis://host:notaport/x"}.options()
	assert.Error(t, err)
}

func TestKeysAreNamespaced(t *testing.T) {
	assert.Equal(t, "tradeagent:state:BTCUSDT", key("state", "BTCUSDT"))
	assert.Equal(t, "tradeagent:lock:agent:BTCUSDT", lockKey("agent:BTCUSDT"))
	assert.Equal(t, "tradeagent:ratelimit:binance", rateLimitKey("binance"))
}
