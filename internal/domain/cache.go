package domain

import (
	"context"
	"time"
)

// RateLimiter admits calls against a sliding-window budget per key.
type RateLimiter interface {
	// Allow counts the call and returns true if it fits in the window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	// Wait blocks until the call fits in the window, then counts it.
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// EventBus publishes raw payloads to subscribers outside the process.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}
