package domain

import (
	"context"
	"time"
)

// PositionStateStore durably holds the single position record. Load reports
// ok=false when there is no record or the record is older than StateMaxAge.
type PositionStateStore interface {
	Save(ctx context.Context, pos Position) error
	Load(ctx context.Context) (pos Position, ok bool, err error)
}

// StateBackend is the raw storage under a PositionStateStore. Read reports
// ok=false when nothing was ever written.
type StateBackend interface {
	Write(ctx context.Context, state PersistedState) error
	Read(ctx context.Context) (state PersistedState, ok bool, err error)
}

// TradeRecorder is the append-only trade history.
type TradeRecorder interface {
	Append(ctx context.Context, rec TradeRecord) error
	LoadAll(ctx context.Context) ([]TradeRecord, error)
}

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
