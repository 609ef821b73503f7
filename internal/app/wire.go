package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/tradeagent/internal/blob/s3"
	"github.com/alanyoungcy/tradeagent/internal/cache/redis"
	"github.com/alanyoungcy/tradeagent/internal/config"
	"github.com/alanyoungcy/tradeagent/internal/crypto"
	"github.com/alanyoungcy/tradeagent/internal/domain"
	"github.com/alanyoungcy/tradeagent/internal/metrics"
	"github.com/alanyoungcy/tradeagent/internal/notify"
	"github.com/alanyoungcy/tradeagent/internal/platform/binance"
	"github.com/alanyoungcy/tradeagent/internal/ratelimit"
	"github.com/alanyoungcy/tradeagent/internal/sizing"
	"github.com/alanyoungcy/tradeagent/internal/statestore"
	"github.com/alanyoungcy/tradeagent/internal/store/file"
	"github.com/alanyoungcy/tradeagent/internal/store/postgres"
)

// pingFunc adapts a health probe to the readiness Pinger interface.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Dependencies bundles every concrete collaborator the commands need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Exchange domain.ExchangeClient
	Sizer    *sizing.Sizer
	State    domain.PositionStateStore
	Trades   domain.TradeRecorder

	// Optional; nil when the backing service is not configured.
	Audit    domain.AuditStore
	Archiver domain.Archiver
	Locks    *redis.LockManager
	Bus      domain.EventBus

	Limiter  domain.RateLimiter
	Notifier *notify.Notifier
	Metrics  *metrics.Metrics

	// Checks are pinged by the readiness probe.
	Checks map[string]pingFunc
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Checks:  map[string]pingFunc{},
	}

	// --- PostgreSQL (only when a component is backed by it) ---
	var pg *postgres.Client
	if cfg.UsesPostgres() {
		var err error
		pg, err = postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Audit = postgres.NewAuditStore(pg.Pool())
		deps.Checks["postgres"] = pg.Ping
	}

	// --- Redis (shared limiter, lock, event bus, optional state) ---
	var rc *redis.Client
	if cfg.UsesRedis() {
		var err error
		rc, err = redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })

		deps.Limiter = redis.NewRateLimiter(rc)
		deps.Locks = redis.NewLockManager(rc, logger)
		deps.Bus = redis.NewEventBus(rc, cfg.Redis.Stream)
		deps.Checks["redis"] = rc.Ping
	} else {
		deps.Limiter = ratelimit.New()
	}

	// --- S3 trade archive ---
	if cfg.S3.Enabled {
		s3c, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3c), deps.Audit, cfg.S3.Prefix)
		deps.Checks["s3"] = s3c.Health
	}

	// --- Trade recorder ---
	switch cfg.Recorder.Backend {
	case "postgres":
		deps.Trades = postgres.NewTradeStore(pg.Pool())
	default:
		deps.Trades = file.NewTradeRecorder(cfg.Recorder.Path, logger)
	}

	// --- Position state ---
	var backend domain.StateBackend
	switch cfg.State.Backend {
	case "postgres":
		backend = postgres.NewStateBackend(pg.Pool(), cfg.Trading.Symbol)
	case "redis":
		backend = redis.NewStateBackend(rc, cfg.Trading.Symbol)
	default:
		backend = statestore.NewFileBackend(cfg.State.Path)
	}
	deps.State = statestore.New(backend, cfg.State.MaxAge.Duration, logger)

	// --- Exchange ---
	secret, err := cfg.ExchangeSecret()
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	var auth *crypto.HMACAuth
	if cfg.Exchange.APIKey != "" && secret != "" {
		auth = &crypto.HMACAuth{Key: cfg.Exchange.APIKey, Secret: secret}
	}
	ex, err := binance.New(binance.Config{
		RESTURL:    cfg.Exchange.RESTURL,
		WSURL:      cfg.Exchange.WSURL,
		QuoteAsset: cfg.Trading.QuoteAsset,
		DryRun:     cfg.Trading.DryRun,
		Timeout:    cfg.Exchange.Timeout.Duration,
		RateLimit:  cfg.Exchange.RateLimit,
		RateWindow: cfg.Exchange.RateWindow.Duration,
		RetryBase:  cfg.Exchange.RetryBase.Duration,
		MaxRetries: cfg.Exchange.MaxRetries,
		PaperQuote: cfg.Exchange.PaperQuote,
	}, auth, deps.Limiter, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: exchange: %w", err))
	}
	closers = append(closers, func() { _ = ex.Disconnect() })
	deps.Exchange = ex

	// --- Sizer ---
	deps.Sizer = sizing.New(sizing.Config{
		MaxRiskPct:     cfg.Sizing.MaxRiskPct,
		MaxPositionPct: cfg.Sizing.MaxPositionPct,
		StopLossPct:    cfg.Trading.StopLossPct,
	}, logger)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramURL,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	if deps.Audit != nil {
		deps.Notifier.Always(notify.NewAuditSender(deps.Audit))
	}
	if deps.Bus != nil {
		deps.Notifier.Always(notify.NewBusSender(deps.Bus, cfg.Notify.BusPrefix))
	}

	return deps, cleanup, nil
}
