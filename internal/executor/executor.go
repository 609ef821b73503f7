// Package executor runs position work off the price-tick path. Ticks queue
// intents without blocking; a single consumer executes them one at a time.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// IntentKind selects what the consumer does with an intent.
type IntentKind int

const (
	// IntentExit closes the open position.
	IntentExit IntentKind = iota
	// IntentCheckpoint persists the current position, e.g. a new trailing
	// high.
	IntentCheckpoint
)

func (k IntentKind) String() string {
	switch k {
	case IntentExit:
		return "exit"
	case IntentCheckpoint:
		return "checkpoint"
	default:
		return fmt.Sprintf("IntentKind(%d)", int(k))
	}
}

// Intent is a unit of queued position work.
type Intent struct {
	Kind   IntentKind
	Symbol string
	Reason string
	Price  float64
	At     time.Time
}

func (i Intent) key() string {
	return i.Kind.String() + ":" + i.Symbol
}

// Handler performs the work behind each intent. It is typically the trading
// coordinator.
type Handler interface {
	ExecuteExit(ctx context.Context, in Intent) error
	Checkpoint(ctx context.Context, symbol string) error
}

// DefaultRetryCooldown is how long a failed intent is refused before the
// next tick may queue it again. Consecutive failures of the same intent
// double the wait up to MaxRetryCooldown.
const (
	DefaultRetryCooldown = 5 * time.Second
	MaxRetryCooldown     = 5 * time.Minute
)

// Executor is a bounded intent queue with at most one pending intent per
// (kind, symbol). Work runs on a context detached from the caller's
// cancellation so an exit in flight at shutdown completes.
type Executor struct {
	queue    chan Intent
	handler  Handler
	cooldown *Cooldown
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]bool

	cleanupInterval time.Duration
	drainTimeout    time.Duration
}

// New creates an Executor. capacity bounds the queue; values below 2 are
// raised so an exit and a checkpoint for one symbol both fit.
func New(handler Handler, capacity int, logger *slog.Logger) *Executor {
	if capacity < 2 {
		capacity = 2
	}
	return &Executor{
		queue:           make(chan Intent, capacity),
		handler:         handler,
		cooldown:        NewCooldown(DefaultRetryCooldown, MaxRetryCooldown),
		logger:          logger.With(slog.String("component", "executor")),
		pending:         make(map[string]bool),
		cleanupInterval: 30 * time.Second,
		drainTimeout:    5 * time.Second,
	}
}

// Submit queues in without blocking. It returns false when an intent of the
// same kind is already pending for the symbol, the key is cooling down after
// a failure, or the queue is full.
func (e *Executor) Submit(in Intent) bool {
	key := in.key()
	if e.cooldown.Active(key) {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending[key] {
		return false
	}
	select {
	case e.queue <- in:
		e.pending[key] = true
		return true
	default:
		e.logger.Warn("intent queue full, dropping",
			slog.String("kind", in.Kind.String()),
			slog.String("symbol", in.Symbol),
		)
		return false
	}
}

// ExitPending reports whether an exit for symbol is queued or running.
func (e *Executor) ExitPending(symbol string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending[Intent{Kind: IntentExit, Symbol: symbol}.key()]
}

// Run consumes intents until ctx is cancelled, then drains what is already
// queued under a short timeout.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.InfoContext(ctx, "executor started")
	defer e.logger.Info("executor stopped")

	cleanupTicker := time.NewTicker(e.cleanupInterval)
	defer cleanupTicker.Stop()

	workCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			e.drain(workCtx)
			return nil

		case in := <-e.queue:
			e.process(workCtx, in)

		case <-cleanupTicker.C:
			e.cooldown.Cleanup()
		}
	}
}

func (e *Executor) process(ctx context.Context, in Intent) {
	key := in.key()
	defer func() {
		e.mu.Lock()
		delete(e.pending, key)
		e.mu.Unlock()
	}()

	log := e.logger.With(
		slog.String("kind", in.Kind.String()),
		slog.String("symbol", in.Symbol),
	)

	var err error
	switch in.Kind {
	case IntentExit:
		err = e.handler.ExecuteExit(ctx, in)
	case IntentCheckpoint:
		err = e.handler.Checkpoint(ctx, in.Symbol)
	default:
		err = fmt.Errorf("unknown intent kind %d", int(in.Kind))
	}

	if err != nil {
		wait := e.cooldown.Mark(key)
		log.ErrorContext(ctx, "intent failed",
			slog.String("reason", in.Reason),
			slog.String("error", err.Error()),
			slog.Int("attempt", e.cooldown.Strikes(key)),
			slog.Duration("retry_in", wait),
		)
		return
	}
	e.cooldown.Clear(key)
	log.DebugContext(ctx, "intent done", slog.String("reason", in.Reason))
}

// drain runs intents already buffered at shutdown so a triggered exit is not
// silently dropped.
func (e *Executor) drain(ctx context.Context) {
	for {
		select {
		case in := <-e.queue:
			e.logger.Warn("draining intent after shutdown",
				slog.String("kind", in.Kind.String()),
				slog.String("symbol", in.Symbol),
			)
			drainCtx, cancel := context.WithTimeout(ctx, e.drainTimeout)
			e.process(drainCtx, in)
			cancel()
		default:
			return
		}
	}
}
