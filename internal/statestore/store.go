// Package statestore persists the single open position so the agent can
// resume it after a restart.
package statestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradeagent/internal/domain"
)

// Store implements domain.PositionStateStore over a raw backend, stamping
// writes and ignoring records older than the freshness limit.
type Store struct {
	backend domain.StateBackend
	maxAge  time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Store. maxAge <= 0 selects domain.StateMaxAge.
func New(backend domain.StateBackend, maxAge time.Duration, logger *slog.Logger) *Store {
	if maxAge <= 0 {
		maxAge = domain.StateMaxAge
	}
	return &Store{
		backend: backend,
		maxAge:  maxAge,
		logger:  logger.With(slog.String("component", "statestore")),
		now:     time.Now,
	}
}

// Save durably writes pos. A closed position is written zeroed. Failures
// wrap domain.ErrPersist.
func (s *Store) Save(ctx context.Context, pos domain.Position) error {
	if !pos.IsOpen {
		pos = domain.Flat(pos.Symbol)
	}
	state := domain.PersistedState{Position: pos, SavedAt: s.now().UTC()}
	if err := s.backend.Write(ctx, state); err != nil {
		return fmt.Errorf("statestore: save: %w", errors.Join(domain.ErrPersist, err))
	}
	return nil
}

// Load returns the persisted position. ok is false when nothing was saved or
// the record is stale.
func (s *Store) Load(ctx context.Context) (domain.Position, bool, error) {
	state, ok, err := s.backend.Read(ctx)
	if err != nil {
		return domain.Position{}, false, fmt.Errorf("statestore: load: %w", err)
	}
	if !ok {
		return domain.Position{}, false, nil
	}
	if !state.Fresh(s.now(), s.maxAge) {
		s.logger.WarnContext(ctx, "persisted state is stale, ignoring",
			slog.Time("saved_at", state.SavedAt),
			slog.Duration("max_age", s.maxAge),
			slog.Bool("was_open", state.Position.IsOpen),
		)
		return domain.Position{}, false, nil
	}
	return state.Position, true, nil
}

// Compile-time interface check.
var _ domain.PositionStateStore = (*Store)(nil)
