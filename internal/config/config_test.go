package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeagent/internal/crypto"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Trading.DryRun)
	assert.Equal(t, 60*time.Second, cfg.Trading.DecisionInterval.Duration)
	assert.Equal(t, 10, cfg.Supervisor.MaxAttempts)
	assert.Equal(t, 1200, cfg.Exchange.RateLimit)
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Trading.DryRun = false
	cfg.Trading.Symbol = "BTCEUR"
	cfg.Trading.StopLossPct = 0
	cfg.State.Backend = "sqlite"
	cfg.LogLevel = "verbose"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"log_level",
		"not quoted in",
		"stop_loss_pct",
		"exchange: api_key is required",
		"state: unknown backend",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateBackendDependencies(t *testing.T) {
	cfg := Defaults()
	cfg.Recorder.Backend = "postgres"
	cfg.Postgres.Host = ""
	cfg.State.Backend = "redis"
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: host")
	assert.Contains(t, err.Error(), "redis: addr")

	cfg.Postgres.DSN = "postgres://u:p@db:5432/tradeagent"
	cfg.Redis.Addr = "redis:6379"
	assert.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level = "debug"

[trading]
symbol = "ETHUSDT"
decision_interval = "2m"

[signal]
api_keys = ["k1", "k2"]
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "ETHUSDT", cfg.Trading.Symbol)
	assert.Equal(t, 2*time.Minute, cfg.Trading.DecisionInterval.Duration)
	assert.Equal(t, 0.03, cfg.Trading.TakeProfitPct, "untouched keys keep their defaults")
	assert.Equal(t, []string{"k1", "k2"}, cfg.Signal.APIKeys)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TRADEAGENT_TRADING_SYMBOL", "SOLUSDT")
	t.Setenv("TRADEAGENT_TRADING_DRY_RUN", "false")
	t.Setenv("TRADEAGENT_TRADING_STOP_LOSS_PCT", "0.02")
	t.Setenv("TRADEAGENT_SUPERVISOR_BACKOFF_STEP", "5s")
	t.Setenv("TRADEAGENT_NOTIFY_EVENTS", "halted, error,,")
	t.Setenv("TRADEAGENT_REDIS_ENABLED", "not-a-bool")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "SOLUSDT", cfg.Trading.Symbol)
	assert.False(t, cfg.Trading.DryRun)
	assert.Equal(t, 0.02, cfg.Trading.StopLossPct)
	assert.Equal(t, 5*time.Second, cfg.Supervisor.BackoffStep.Duration)
	assert.Equal(t, []string{"halted", "error"}, cfg.Notify.Events)
	assert.False(t, cfg.Redis.Enabled, "unparsable values are ignored")
}

func TestNumberedSignalKeys(t *testing.T) {
	t.Setenv("TRADEAGENT_SIGNAL_API_KEYS", "a,b")
	t.Setenv("TRADEAGENT_SIGNAL_API_KEY", "b")
	t.Setenv("TRADEAGENT_SIGNAL_API_KEY_2", "c")
	t.Setenv("TRADEAGENT_SIGNAL_API_KEY_5", " d ")
	t.Setenv("TRADEAGENT_SIGNAL_API_KEY_11", "ignored")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, cfg.Signal.APIKeys)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Exchange.APIKey = "key"
	cfg.Exchange.APISecret = "secret"
	cfg.Signal.APIKeys = []string{"k1", "k2"}
	cfg.Notify.TelegramToken = "123:abc"
	cfg.Postgres.DSN = "postgres://u:p@h/db"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Exchange.APIKey)
	assert.Equal(t, "***", out.Exchange.APISecret)
	assert.Equal(t, []string{"***", "***"}, out.Signal.APIKeys)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Equal(t, "***", out.Postgres.DSN)
	assert.Empty(t, out.Redis.Password, "empty secrets stay empty")

	out.Notify.Events[0] = "changed"
	assert.NotEqual(t, "changed", cfg.Notify.Events[0])
	assert.Equal(t, "k1", cfg.Signal.APIKeys[0])
}

func TestEncryptedSecrets(t *testing.T) {
	dir := t.TempDir()
	blob, err := crypto.EncryptSecret("venue-secret", "pw")
	require.NoError(t, err)
	secretPath := filepath.Join(dir, "exchange.enc")
	require.NoError(t, os.WriteFile(secretPath, blob, 0o600))

	blob, err = crypto.EncryptSecret("k2", "pw")
	require.NoError(t, err)
	keyPath := filepath.Join(dir, "signal.enc")
	require.NoError(t, os.WriteFile(keyPath, blob, 0o600))

	cfg := Defaults()
	cfg.Exchange.EncryptedSecretPath = secretPath
	cfg.Exchange.SecretPassword = "pw"
	cfg.Signal.APIKeys = []string{"k1"}
	cfg.Signal.EncryptedKeyPath = keyPath
	cfg.Signal.KeyPassword = "pw"

	secret, err := cfg.ExchangeSecret()
	require.NoError(t, err)
	assert.Equal(t, "venue-secret", secret)

	keys, err := cfg.SignalKeys()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k2"}, keys)

	cfg.Exchange.SecretPassword = "wrong"
	_, err = cfg.ExchangeSecret()
	assert.Error(t, err)
}
