package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/tradeagent/internal/domain"
)

// TradeStore implements domain.TradeRecorder using PostgreSQL.
type TradeStore struct {
	db querier
}

// NewTradeStore creates a TradeStore backed by the given pool.
func NewTradeStore(db querier) *TradeStore {
	return &TradeStore{db: db}
}

const tradeSelectCols = `id, action, symbol, price, quantity, notional, pnl,
	reason, order_id, dry_run, created_at`

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var out []domain.TradeRecord
	for rows.Next() {
		var r domain.TradeRecord
		var action string
		if err := rows.Scan(
			&r.ID, &action, &r.Symbol, &r.Price, &r.Quantity, &r.Notional,
			&r.PnL, &r.Reason, &r.OrderID, &r.DryRun, &r.Timestamp,
		); err != nil {
			return nil, err
		}
		r.Action = domain.TradeAction(action)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Append inserts rec. Re-inserting the same ID is a no-op.
func (s *TradeStore) Append(ctx context.Context, rec domain.TradeRecord) error {
	const query = `
		INSERT INTO trade_records (
			id, action, symbol, price, quantity, notional, pnl,
			reason, order_id, dry_run, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.db.Exec(ctx, query,
		rec.ID, string(rec.Action), rec.Symbol, rec.Price, rec.Quantity, rec.Notional, rec.PnL,
		rec.Reason, rec.OrderID, rec.DryRun, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: append trade %s: %w", rec.ID, err)
	}
	return nil
}

// LoadAll returns every record in chronological order.
func (s *TradeStore) LoadAll(ctx context.Context) ([]domain.TradeRecord, error) {
	rows, err := s.db.Query(ctx, `SELECT `+tradeSelectCols+` FROM trade_records ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load trades: %w", err)
	}
	defer rows.Close()

	out, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return out, nil
}

// List returns records newest first, filtered and paginated by opts.
func (s *TradeStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	query, args := buildListQuery(`SELECT `+tradeSelectCols+` FROM trade_records`, "created_at", opts)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	out, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return out, nil
}

// buildListQuery appends time filters, newest-first ordering and pagination
// to base.
func buildListQuery(base, timeCol string, opts domain.ListOpts) (string, []any) {
	query := base + ` WHERE 1=1`
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if opts.Since != nil {
		query += " AND " + timeCol + " >= " + next(*opts.Since)
	}
	if opts.Until != nil {
		query += " AND " + timeCol + " <= " + next(*opts.Until)
	}
	query += " ORDER BY " + timeCol + " DESC"
	if opts.Limit > 0 {
		query += " LIMIT " + next(opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET " + next(opts.Offset)
	}
	return query, args
}

// Compile-time interface check.
var _ domain.TradeRecorder = (*TradeStore)(nil)
