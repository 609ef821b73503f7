// Package config defines the top-level configuration for the trading agent
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRADEAGENT_* environment variables.
type Config struct {
	Trading    TradingConfig    `toml:"trading"`
	Sizing     SizingConfig     `toml:"sizing"`
	Exchange   ExchangeConfig   `toml:"exchange"`
	Signal     SignalConfig     `toml:"signal"`
	State      StateConfig      `toml:"state"`
	Recorder   RecorderConfig   `toml:"recorder"`
	Supervisor SupervisorConfig `toml:"supervisor"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Notify     NotifyConfig     `toml:"notify"`
	Server     ServerConfig     `toml:"server"`
	LogLevel   string           `toml:"log_level"`
}

// TradingConfig holds the coordinator's thresholds and cadence.
type TradingConfig struct {
	Symbol           string   `toml:"symbol"`
	QuoteAsset       string   `toml:"quote_asset"`
	DryRun           bool     `toml:"dry_run"`
	TakeProfitPct    float64  `toml:"take_profit_pct"`
	StopLossPct      float64  `toml:"stop_loss_pct"`
	TrailingStopPct  float64  `toml:"trailing_stop_pct"`
	MinConfidence    float64  `toml:"min_confidence"`
	WarmupTicks      int      `toml:"warmup_ticks"`
	HistorySize      int      `toml:"history_size"`
	DecisionInterval duration `toml:"decision_interval"`
	SummaryInterval  duration `toml:"summary_interval"`
}

// SizingConfig holds the position sizer limits. The stop-loss used for the
// risk bound is taken from the trading section.
type SizingConfig struct {
	MaxRiskPct     float64 `toml:"max_risk_pct"`
	MaxPositionPct float64 `toml:"max_position_pct"`
}

// ExchangeConfig holds venue endpoints, credentials and call limits.
type ExchangeConfig struct {
	RESTURL             string   `toml:"rest_url"`
	WSURL               string   `toml:"ws_url"`
	APIKey              string   `toml:"api_key"`
	APISecret           string   `toml:"api_secret"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	Timeout             duration `toml:"timeout"`
	RateLimit           int      `toml:"rate_limit"`
	RateWindow          duration `toml:"rate_window"`
	MaxRetries          int      `toml:"max_retries"`
	RetryBase           duration `toml:"retry_base"`
	PaperQuote          float64  `toml:"paper_quote"`
}

// SignalConfig holds the advisory endpoint settings and its credential pool.
type SignalConfig struct {
	BaseURL           string   `toml:"base_url"`
	Model             string   `toml:"model"`
	APIKeys           []string `toml:"api_keys"`
	EncryptedKeyPath  string   `toml:"encrypted_key_path"`
	KeyPassword       string   `toml:"key_password"`
	Timeout           duration `toml:"timeout"`
	Temperature       float64  `toml:"temperature"`
	MaxOutputTokens   int      `toml:"max_output_tokens"`
	RateLimitCooldown duration `toml:"rate_limit_cooldown"`
	InvalidCooldown   duration `toml:"invalid_cooldown"`
	AlertInterval     duration `toml:"alert_interval"`
}

// StateConfig selects where the position record lives.
type StateConfig struct {
	Backend string   `toml:"backend"` // file, postgres or redis
	Path    string   `toml:"path"`
	MaxAge  duration `toml:"max_age"`
}

// RecorderConfig selects where the trade history lives.
type RecorderConfig struct {
	Backend string `toml:"backend"` // file or postgres
	Path    string `toml:"path"`
}

// SupervisorConfig holds the reconnect policy.
type SupervisorConfig struct {
	MaxAttempts int      `toml:"max_attempts"`
	BackoffStep duration `toml:"backoff_step"`
	BackoffMax  duration `toml:"backoff_max"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When enabled, Redis carries
// the shared rate-limit budget, the single-instance lock and the event bus.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	LockTTL    duration `toml:"lock_ttl"`
	Stream     string   `toml:"stream"`
}

// S3Config holds S3-compatible object storage parameters for the trade
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramURL       string   `toml:"telegram_url"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	BusPrefix         string   `toml:"bus_prefix"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Trading: TradingConfig{
			Symbol:           "BTCUSDT",
			QuoteAsset:       "USDT",
			DryRun:           true,
			TakeProfitPct:    0.03,
			StopLossPct:      0.015,
			TrailingStopPct:  0.01,
			MinConfidence:    0.65,
			WarmupTicks:      30,
			HistorySize:      1500,
			DecisionInterval: duration{60 * time.Second},
			SummaryInterval:  duration{24 * time.Hour},
		},
		Sizing: SizingConfig{
			MaxRiskPct:     0.05,
			MaxPositionPct: 0.20,
		},
		Exchange: ExchangeConfig{
			RESTURL:    "https://api.binance.com",
			WSURL:      "wss://stream.binance.com:9443",
			Timeout:    duration{10 * time.Second},
			RateLimit:  1200,
			RateWindow: duration{time.Minute},
			MaxRetries: 3,
			RetryBase:  duration{time.Second},
			PaperQuote: 1000,
		},
		Signal: SignalConfig{
			Model:             "gemini-2.0-flash",
			Timeout:           duration{10 * time.Second},
			Temperature:       0.2,
			MaxOutputTokens:   200,
			RateLimitCooldown: duration{65 * time.Second},
			InvalidCooldown:   duration{24 * time.Hour},
			AlertInterval:     duration{15 * time.Minute},
		},
		State: StateConfig{
			Backend: "file",
			Path:    "data/state.json",
			MaxAge:  duration{24 * time.Hour},
		},
		Recorder: RecorderConfig{
			Backend: "file",
			Path:    "data/trades.jsonl",
		},
		Supervisor: SupervisorConfig{
			MaxAttempts: 10,
			BackoffStep: duration{30 * time.Second},
			BackoffMax:  duration{300 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tradeagent",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			LockTTL:    duration{30 * time.Second},
			Stream:     "tradeagent:events",
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "tradeagent-archive",
			UseSSL:         true,
			ForcePathStyle: false,
		},
		Notify: NotifyConfig{
			TelegramURL: "https://api.telegram.org",
			Events: []string{
				"bot_started", "position_opened", "position_closed", "take_profit",
				"stop_loss", "error", "reconnect", "halted", "panic", "daily_summary",
			},
			BusPrefix: "events",
		},
		Server: ServerConfig{
			Enabled:     false,
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validStateBackends = map[string]bool{"file": true, "postgres": true, "redis": true}

var validRecorderBackends = map[string]bool{"file": true, "postgres": true}

// UsesPostgres reports whether any component is backed by PostgreSQL.
func (c *Config) UsesPostgres() bool {
	return c.State.Backend == "postgres" || c.Recorder.Backend == "postgres"
}

// UsesRedis reports whether Redis must be connected.
func (c *Config) UsesRedis() bool {
	return c.Redis.Enabled || c.State.Backend == "redis"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Trading
	t := c.Trading
	if t.Symbol == "" {
		errs = append(errs, "trading: symbol must not be empty")
	}
	if t.QuoteAsset == "" {
		errs = append(errs, "trading: quote_asset must not be empty")
	} else if t.Symbol != "" && !strings.HasSuffix(strings.ToUpper(t.Symbol), strings.ToUpper(t.QuoteAsset)) {
		errs = append(errs, fmt.Sprintf("trading: symbol %q is not quoted in %q", t.Symbol, t.QuoteAsset))
	}
	for name, v := range map[string]float64{
		"take_profit_pct":   t.TakeProfitPct,
		"stop_loss_pct":     t.StopLossPct,
		"trailing_stop_pct": t.TrailingStopPct,
	} {
		if v <= 0 || v >= 1 {
			errs = append(errs, fmt.Sprintf("trading: %s must be in (0, 1), got %g", name, v))
		}
	}
	if t.MinConfidence < 0 || t.MinConfidence > 1 {
		errs = append(errs, "trading: min_confidence must be in [0, 1]")
	}
	if t.WarmupTicks < 0 {
		errs = append(errs, "trading: warmup_ticks must be >= 0")
	}
	if t.HistorySize < t.WarmupTicks || t.HistorySize < 1 {
		errs = append(errs, "trading: history_size must be >= warmup_ticks and >= 1")
	}
	if t.DecisionInterval.Duration <= 0 {
		errs = append(errs, "trading: decision_interval must be > 0")
	}
	if t.SummaryInterval.Duration <= 0 {
		errs = append(errs, "trading: summary_interval must be > 0")
	}

	// Sizing
	if c.Sizing.MaxRiskPct <= 0 || c.Sizing.MaxRiskPct > 1 {
		errs = append(errs, "sizing: max_risk_pct must be in (0, 1]")
	}
	if c.Sizing.MaxPositionPct <= 0 || c.Sizing.MaxPositionPct > 1 {
		errs = append(errs, "sizing: max_position_pct must be in (0, 1]")
	}

	// Exchange: live trading needs both halves of the venue credential.
	if c.Exchange.RESTURL == "" || c.Exchange.WSURL == "" {
		errs = append(errs, "exchange: rest_url and ws_url must not be empty")
	}
	if !t.DryRun {
		if c.Exchange.APIKey == "" {
			errs = append(errs, "exchange: api_key is required when trading.dry_run is false")
		}
		if c.Exchange.APISecret == "" && c.Exchange.EncryptedSecretPath == "" {
			errs = append(errs, "exchange: api_secret or encrypted_secret_path is required when trading.dry_run is false")
		}
	}
	if c.Exchange.EncryptedSecretPath != "" && c.Exchange.SecretPassword == "" {
		errs = append(errs, "exchange: secret_password is required when encrypted_secret_path is set")
	}
	if c.Exchange.RateLimit < 1 {
		errs = append(errs, "exchange: rate_limit must be >= 1")
	}
	if c.Exchange.MaxRetries < 0 {
		errs = append(errs, "exchange: max_retries must be >= 0")
	}

	// Signal
	if c.Signal.Model == "" {
		errs = append(errs, "signal: model must not be empty")
	}
	if c.Signal.EncryptedKeyPath != "" && c.Signal.KeyPassword == "" {
		errs = append(errs, "signal: key_password is required when encrypted_key_path is set")
	}

	// State / recorder
	if !validStateBackends[c.State.Backend] {
		errs = append(errs, fmt.Sprintf("state: unknown backend %q (valid: file, postgres, redis)", c.State.Backend))
	}
	if c.State.Backend == "file" && c.State.Path == "" {
		errs = append(errs, "state: path must not be empty for the file backend")
	}
	if c.State.MaxAge.Duration <= 0 {
		errs = append(errs, "state: max_age must be > 0")
	}
	if !validRecorderBackends[c.Recorder.Backend] {
		errs = append(errs, fmt.Sprintf("recorder: unknown backend %q (valid: file, postgres)", c.Recorder.Backend))
	}
	if c.Recorder.Backend == "file" && c.Recorder.Path == "" {
		errs = append(errs, "recorder: path must not be empty for the file backend")
	}

	// Supervisor
	if c.Supervisor.MaxAttempts < 1 {
		errs = append(errs, "supervisor: max_attempts must be >= 1")
	}
	if c.Supervisor.BackoffStep.Duration <= 0 || c.Supervisor.BackoffMax.Duration < c.Supervisor.BackoffStep.Duration {
		errs = append(errs, "supervisor: backoff_step must be > 0 and <= backoff_max")
	}

	// Postgres
	if c.UsesPostgres() {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be in [0, pool_max_conns]")
		}
	}

	// Redis
	if c.UsesRedis() {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.LockTTL.Duration < time.Second {
			errs = append(errs, "redis: lock_ttl must be >= 1s")
		}
	}

	// S3
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
