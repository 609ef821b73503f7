package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/tradeagent/internal/domain"
)

// StateBackend implements domain.StateBackend as one agent_state row per
// symbol.
type StateBackend struct {
	db     querier
	symbol string
}

// NewStateBackend creates a backend for symbol's row.
func NewStateBackend(db querier, symbol string) *StateBackend {
	return &StateBackend{db: db, symbol: symbol}
}

// Write upserts the row.
func (b *StateBackend) Write(ctx context.Context, state domain.PersistedState) error {
	const query = `
		INSERT INTO agent_state (
			symbol, is_open, entry_price, entry_quantity, entry_notional,
			trailing_high, opened_at, saved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol) DO UPDATE SET
			is_open = EXCLUDED.is_open,
			entry_price = EXCLUDED.entry_price,
			entry_quantity = EXCLUDED.entry_quantity,
			entry_notional = EXCLUDED.entry_notional,
			trailing_high = EXCLUDED.trailing_high,
			opened_at = EXCLUDED.opened_at,
			saved_at = EXCLUDED.saved_at`

	p := state.Position
	var openedAt *time.Time
	if !p.OpenedAt.IsZero() {
		openedAt = &p.OpenedAt
	}
	_, err := b.db.Exec(ctx, query,
		b.symbol, p.IsOpen, p.EntryPrice, p.EntryQuantity, p.EntryNotional,
		p.TrailingHigh, openedAt, state.SavedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: write state %s: %w", b.symbol, err)
	}
	return nil
}

// Read loads the row. A missing row is ok=false.
func (b *StateBackend) Read(ctx context.Context) (domain.PersistedState, bool, error) {
	const query = `
		SELECT is_open, entry_price, entry_quantity, entry_notional,
			trailing_high, opened_at, saved_at
		FROM agent_state WHERE symbol = $1`

	var (
		st       domain.PersistedState
		openedAt *time.Time
	)
	st.Position.Symbol = b.symbol
	err := b.db.QueryRow(ctx, query, b.symbol).Scan(
		&st.Position.IsOpen, &st.Position.EntryPrice, &st.Position.EntryQuantity,
		&st.Position.EntryNotional, &st.Position.TrailingHigh, &openedAt, &st.SavedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PersistedState{}, false, nil
	}
	if err != nil {
		return domain.PersistedState{}, false, fmt.Errorf("postgres: read state %s: %w", b.symbol, err)
	}
	if openedAt != nil {
		st.Position.OpenedAt = openedAt.UTC()
	}
	st.SavedAt = st.SavedAt.UTC()
	return st, true, nil
}

// Compile-time interface check.
var _ domain.StateBackend = (*StateBackend)(nil)
