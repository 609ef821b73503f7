package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tradeagent/internal/domain"
)

// StateBackend implements domain.StateBackend as a JSON string key per
// symbol. Freshness is enforced by the caller, so the key has no TTL.
type StateBackend struct {
	rdb *redis.Client
	key string
}

// NewStateBackend creates a backend for symbol.
func NewStateBackend(c *Client, symbol string) *StateBackend {
	return &StateBackend{rdb: c.Underlying(), key: key("state", symbol)}
}

// Write stores the state.
func (b *StateBackend) Write(ctx context.Context, state domain.PersistedState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("redis: marshal state: %w", err)
	}
	if err := b.rdb.Set(ctx, b.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis: write state: %w", err)
	}
	return nil
}

// Read loads the state. A missing key is ok=false.
func (b *StateBackend) Read(ctx context.Context) (domain.PersistedState, bool, error) {
	data, err := b.rdb.Get(ctx, b.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.PersistedState{}, false, nil
	}
	if err != nil {
		return domain.PersistedState{}, false, fmt.Errorf("redis: read state: %w", err)
	}
	var st domain.PersistedState
	if err := json.Unmarshal(data, &st); err != nil {
		return domain.PersistedState{}, false, fmt.Errorf("redis: decode state: %w", err)
	}
	return st, true, nil
}

// Compile-time interface check.
var _ domain.StateBackend = (*StateBackend)(nil)
