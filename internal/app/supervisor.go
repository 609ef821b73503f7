package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/alanyoungcy/tradeagent/internal/domain"
	"github.com/alanyoungcy/tradeagent/internal/metrics"
	"github.com/alanyoungcy/tradeagent/internal/notify"
)

// SupervisorConfig holds the reconnect policy.
type SupervisorConfig struct {
	MaxAttempts int
	Step        time.Duration // delay grows by Step per consecutive failure
	Max         time.Duration // delay ceiling
}

// DefaultSupervisorConfig returns 30s steps capped at 300s, ten attempts.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		MaxAttempts: 10,
		Step:        30 * time.Second,
		Max:         300 * time.Second,
	}
}

// linearBackOff yields Step, 2*Step, ... capped at Max.
type linearBackOff struct {
	step, max time.Duration
	n         int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	d := time.Duration(b.n) * b.step
	if d > b.max {
		d = b.max
	}
	return d
}

func (b *linearBackOff) Reset() { b.n = 0 }

var _ backoff.BackOff = (*linearBackOff)(nil)

// Supervisor keeps a trading session alive across connection failures.
type Supervisor struct {
	cfg         SupervisorConfig
	connect     func(ctx context.Context) error
	session     func(ctx context.Context) error
	onConnected func(ctx context.Context)
	notifier    domain.NotificationSink
	metrics     *metrics.Metrics
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewSupervisor creates a Supervisor. connect establishes the venue
// connection; session runs until ctx is done (returning nil) or something
// fails. onConnected may be nil.
func NewSupervisor(
	cfg SupervisorConfig,
	connect, session func(ctx context.Context) error,
	onConnected func(ctx context.Context),
	notifier domain.NotificationSink,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Supervisor {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Supervisor{
		cfg:         cfg,
		connect:     connect,
		session:     session,
		onConnected: onConnected,
		notifier:    notifier,
		metrics:     m,
		logger:      logger.With(slog.String("component", "supervisor")),
		sleep:       sleepCtx,
	}
}

// Run connects and runs the session, reconnecting with a linear backoff.
// The attempt counter resets after every successful connection. After
// MaxAttempts consecutive failures it sends one halted notification and
// returns domain.ErrReconnectExhausted. Cancelling ctx returns nil.
func (s *Supervisor) Run(ctx context.Context) error {
	b := &linearBackOff{step: s.cfg.Step, max: s.cfg.Max}
	attempt := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		err := s.connect(ctx)
		if err == nil {
			attempt = 0
			b.Reset()
			if s.onConnected != nil {
				s.onConnected(ctx)
			}
			err = s.session(ctx)
			if err == nil {
				err = fmt.Errorf("session ended: %w", domain.ErrStreamClosed)
			}
		}
		if ctx.Err() != nil {
			s.logger.InfoContext(ctx, "supervisor stopped")
			return nil
		}

		attempt++
		delay := b.NextBackOff()
		s.metrics.Reconnect()
		s.logger.ErrorContext(ctx, "session failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", s.cfg.MaxAttempts),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()),
		)
		s.notifier.Notify(ctx, domain.EventError, domain.Fields{notify.FieldError: err.Error()})
		s.notifier.Notify(ctx, domain.EventReconnect, domain.Fields{notify.FieldAttempt: attempt})

		if err := s.sleep(ctx, delay); err != nil {
			return nil
		}
		if attempt >= s.cfg.MaxAttempts {
			s.logger.ErrorContext(ctx, "reconnect attempts exhausted, halting", slog.Int("attempts", attempt))
			s.notifier.Notify(ctx, domain.EventHalted, domain.Fields{notify.FieldAttempt: attempt})
			return fmt.Errorf("supervisor: %w", domain.ErrReconnectExhausted)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
