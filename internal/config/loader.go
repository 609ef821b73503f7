package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TRADEAGENT_"

// maxNumberedKeys bounds the TRADEAGENT_SIGNAL_API_KEY_<n> scan.
const maxNumberedKeys = 10

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRADEAGENT_* environment variable overrides, and
// returns the final Config. An empty path uses the defaults alone. The
// returned Config has NOT been validated; the caller should invoke
// Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRADEAGENT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Trading ──
	setStr(&cfg.Trading.Symbol, "TRADEAGENT_TRADING_SYMBOL")
	setStr(&cfg.Trading.QuoteAsset, "TRADEAGENT_TRADING_QUOTE_ASSET")
	setBool(&cfg.Trading.DryRun, "TRADEAGENT_TRADING_DRY_RUN")
	setFloat64(&cfg.Trading.TakeProfitPct, "TRADEAGENT_TRADING_TAKE_PROFIT_PCT")
	setFloat64(&cfg.Trading.StopLossPct, "TRADEAGENT_TRADING_STOP_LOSS_PCT")
	setFloat64(&cfg.Trading.TrailingStopPct, "TRADEAGENT_TRADING_TRAILING_STOP_PCT")
	setFloat64(&cfg.Trading.MinConfidence, "TRADEAGENT_TRADING_MIN_CONFIDENCE")
	setInt(&cfg.Trading.WarmupTicks, "TRADEAGENT_TRADING_WARMUP_TICKS")
	setInt(&cfg.Trading.HistorySize, "TRADEAGENT_TRADING_HISTORY_SIZE")
	setDuration(&cfg.Trading.DecisionInterval, "TRADEAGENT_TRADING_DECISION_INTERVAL")
	setDuration(&cfg.Trading.SummaryInterval, "TRADEAGENT_TRADING_SUMMARY_INTERVAL")

	// ── Sizing ──
	setFloat64(&cfg.Sizing.MaxRiskPct, "TRADEAGENT_SIZING_MAX_RISK_PCT")
	setFloat64(&cfg.Sizing.MaxPositionPct, "TRADEAGENT_SIZING_MAX_POSITION_PCT")

	// ── Exchange ──
	setStr(&cfg.Exchange.RESTURL, "TRADEAGENT_EXCHANGE_REST_URL")
	setStr(&cfg.Exchange.WSURL, "TRADEAGENT_EXCHANGE_WS_URL")
	setStr(&cfg.Exchange.APIKey, "TRADEAGENT_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.APISecret, "TRADEAGENT_EXCHANGE_API_SECRET")
	setStr(&cfg.Exchange.EncryptedSecretPath, "TRADEAGENT_EXCHANGE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Exchange.SecretPassword, "TRADEAGENT_EXCHANGE_SECRET_PASSWORD")
	setDuration(&cfg.Exchange.Timeout, "TRADEAGENT_EXCHANGE_TIMEOUT")
	setInt(&cfg.Exchange.RateLimit, "TRADEAGENT_EXCHANGE_RATE_LIMIT")
	setDuration(&cfg.Exchange.RateWindow, "TRADEAGENT_EXCHANGE_RATE_WINDOW")
	setInt(&cfg.Exchange.MaxRetries, "TRADEAGENT_EXCHANGE_MAX_RETRIES")
	setFloat64(&cfg.Exchange.PaperQuote, "TRADEAGENT_EXCHANGE_PAPER_QUOTE")

	// ── Signal ──
	setStr(&cfg.Signal.BaseURL, "TRADEAGENT_SIGNAL_BASE_URL")
	setStr(&cfg.Signal.Model, "TRADEAGENT_SIGNAL_MODEL")
	setStringSlice(&cfg.Signal.APIKeys, "TRADEAGENT_SIGNAL_API_KEYS")
	cfg.Signal.APIKeys = appendNumberedKeys(cfg.Signal.APIKeys, "TRADEAGENT_SIGNAL_API_KEY")
	setStr(&cfg.Signal.EncryptedKeyPath, "TRADEAGENT_SIGNAL_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Signal.KeyPassword, "TRADEAGENT_SIGNAL_KEY_PASSWORD")
	setDuration(&cfg.Signal.Timeout, "TRADEAGENT_SIGNAL_TIMEOUT")

	// ── State / recorder ──
	setStr(&cfg.State.Backend, "TRADEAGENT_STATE_BACKEND")
	setStr(&cfg.State.Path, "TRADEAGENT_STATE_PATH")
	setDuration(&cfg.State.MaxAge, "TRADEAGENT_STATE_MAX_AGE")
	setStr(&cfg.Recorder.Backend, "TRADEAGENT_RECORDER_BACKEND")
	setStr(&cfg.Recorder.Path, "TRADEAGENT_RECORDER_PATH")

	// ── Supervisor ──
	setInt(&cfg.Supervisor.MaxAttempts, "TRADEAGENT_SUPERVISOR_MAX_ATTEMPTS")
	setDuration(&cfg.Supervisor.BackoffStep, "TRADEAGENT_SUPERVISOR_BACKOFF_STEP")
	setDuration(&cfg.Supervisor.BackoffMax, "TRADEAGENT_SUPERVISOR_BACKOFF_MAX")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "TRADEAGENT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "TRADEAGENT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRADEAGENT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRADEAGENT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRADEAGENT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRADEAGENT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRADEAGENT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TRADEAGENT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TRADEAGENT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TRADEAGENT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "TRADEAGENT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "TRADEAGENT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADEAGENT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADEAGENT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADEAGENT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRADEAGENT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRADEAGENT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.LockTTL, "TRADEAGENT_REDIS_LOCK_TTL")
	setStr(&cfg.Redis.Stream, "TRADEAGENT_REDIS_STREAM")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "TRADEAGENT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "TRADEAGENT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRADEAGENT_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRADEAGENT_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "TRADEAGENT_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "TRADEAGENT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRADEAGENT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRADEAGENT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRADEAGENT_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramURL, "TRADEAGENT_NOTIFY_TELEGRAM_URL")
	setStr(&cfg.Notify.TelegramToken, "TRADEAGENT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRADEAGENT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRADEAGENT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TRADEAGENT_NOTIFY_EVENTS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRADEAGENT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TRADEAGENT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TRADEAGENT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "TRADEAGENT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "TRADEAGENT_SERVER_RATE_LIMIT")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "TRADEAGENT_LOG_LEVEL")
}

// appendNumberedKeys adds <base>, <base>_2 ... <base>_10 to keys, skipping
// blanks and duplicates. Gaps in the numbering are allowed.
func appendNumberedKeys(keys []string, base string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys)+1)
	add := func(k string) {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			return
		}
		seen[k] = true
		out = append(out, k)
	}
	for _, k := range keys {
		add(k)
	}
	add(os.Getenv(base))
	for n := 2; n <= maxNumberedKeys; n++ {
		add(os.Getenv(fmt.Sprintf("%s_%d", base, n)))
	}
	return out
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
