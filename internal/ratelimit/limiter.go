// Package ratelimit implements an in-process sliding-window rate limiter.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/tradeagent/internal/domain"
)

// Limiter implements domain.RateLimiter with per-key timestamp windows held in
// memory. It is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an empty Limiter.
func New() *Limiter {
	return &Limiter{
		windows: make(map[string][]time.Time),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// Allow counts the call and reports whether it fits in the window.
func (l *Limiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return false, fmt.Errorf("ratelimit: allow %s: limit and window must be positive", key)
	}
	ok, _ := l.tryAcquire(key, limit, window)
	return ok, nil
}

// Wait blocks until the call fits in the window and then counts it. When the
// window is full it sleeps until the oldest call leaves the window.
func (l *Limiter) Wait(ctx context.Context, key string, limit int, window time.Duration) error {
	if limit <= 0 || window <= 0 {
		return fmt.Errorf("ratelimit: wait %s: limit and window must be positive", key)
	}
	for {
		ok, wait := l.tryAcquire(key, limit, window)
		if ok {
			return nil
		}
		if err := l.sleep(ctx, wait); err != nil {
			return fmt.Errorf("ratelimit: wait %s: %w", key, err)
		}
	}
}

// Count returns the number of calls currently inside the window for key.
func (l *Limiter) Count(key string, window time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := prune(l.windows[key], l.now().Add(-window))
	l.windows[key] = ts
	return len(ts)
}

// tryAcquire records a call if there is room. Otherwise it returns how long
// until the oldest recorded call expires.
func (l *Limiter) tryAcquire(key string, limit int, window time.Duration) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	ts := prune(l.windows[key], now.Add(-window))
	if len(ts) < limit {
		l.windows[key] = append(ts, now)
		return true, 0
	}
	l.windows[key] = ts

	wait := ts[0].Add(window).Sub(now)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return false, wait
}

// prune drops timestamps at or before cutoff. Timestamps are in insertion
// order so the expired ones are a prefix.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Compile-time interface check.
var _ domain.RateLimiter = (*Limiter)(nil)
