package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeagent/internal/cache/redis"
	"github.com/alanyoungcy/tradeagent/internal/config"
	"github.com/alanyoungcy/tradeagent/internal/domain"
	"github.com/alanyoungcy/tradeagent/internal/ratelimit"
	"github.com/alanyoungcy/tradeagent/internal/statestore"
	"github.com/alanyoungcy/tradeagent/internal/store/file"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func testConfig(t *testing.T) *config.Config {
	cfg := config.Defaults()
	dir := t.TempDir()
	cfg.State.Path = filepath.Join(dir, "state.json")
	cfg.Recorder.Path = filepath.Join(dir, "trades.jsonl")
	require.NoError(t, cfg.Validate())
	return &cfg
}

func TestWireLocalBackends(t *testing.T) {
	cfg := testConfig(t)

	deps, cleanup, err := Wire(context.Background(), cfg, discard)
	require.NoError(t, err)
	defer cleanup()

	assert.IsType(t, &ratelimit.Limiter{}, deps.Limiter)
	assert.IsType(t, &file.TradeRecorder{}, deps.Trades)
	assert.IsType(t, &statestore.Store{}, deps.State)
	assert.Nil(t, deps.Audit)
	assert.Nil(t, deps.Archiver)
	assert.Nil(t, deps.Locks)
	assert.Empty(t, deps.Checks)

	require.NoError(t, deps.State.Save(context.Background(), domain.Position{
		Symbol: "BTCUSDT", IsOpen: true, EntryPrice: 100, EntryQuantity: 0.5, EntryNotional: 50, TrailingHigh: 100,
	}))
	pos, ok, err := deps.State.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 100.0, pos.EntryPrice)
}

func TestWireRedisBackends(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = mr.Addr()
	cfg.State.Backend = "redis"

	deps, cleanup, err := Wire(context.Background(), cfg, discard)
	require.NoError(t, err)
	defer cleanup()

	assert.IsType(t, &redis.RateLimiter{}, deps.Limiter)
	require.NotNil(t, deps.Locks)
	require.NotNil(t, deps.Bus)
	require.Contains(t, deps.Checks, "redis")
	assert.NoError(t, deps.Checks["redis"].Ping(context.Background()))

	require.NoError(t, deps.State.Save(context.Background(), domain.Flat("BTCUSDT")))
	assert.True(t, mr.Exists("tradeagent:state:BTCUSDT"))
}

func TestWireLiveWithoutCredentialsFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.Trading.DryRun = false

	_, _, err := Wire(context.Background(), cfg, discard)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestBuildSignalsRequiresCredentials(t *testing.T) {
	cfg := testConfig(t)
	a := New(cfg, discard)

	_, _, err := a.buildSignals()
	assert.ErrorIs(t, err, domain.ErrNoCredentials)

	cfg.Signal.APIKeys = []string{"k1"}
	p, model, err := a.buildSignals()
	require.NoError(t, err)
	assert.NotNil(t, p)
	assert.Equal(t, cfg.Signal.Model, model)
}
