package executor

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Cooldown suppresses a key after it is marked. Each consecutive Mark
// without a Clear doubles the suppression, from the base TTL up to maxTTL. It
// is safe for concurrent use.
type Cooldown struct {
	seen   map[string]*cooldownEntry
	ttl    time.Duration
	maxTTL time.Duration
	now    func() time.Time
	mu     sync.Mutex
}

type cooldownEntry struct {
	until   time.Time
	strikes int
	policy  *backoff.ExponentialBackOff
}

// NewCooldown creates a Cooldown that starts at ttl and backs off to maxTTL.
// A maxTTL below ttl disables the backoff.
func NewCooldown(ttl, maxTTL time.Duration) *Cooldown {
	if maxTTL < ttl {
		maxTTL = ttl
	}
	return &Cooldown{
		seen:   make(map[string]*cooldownEntry),
		ttl:    ttl,
		maxTTL: maxTTL,
		now:    time.Now,
	}
}

// Mark starts the next cooldown for key and returns its length.
func (c *Cooldown) Mark(key string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.seen[key]
	if !ok {
		e = &cooldownEntry{policy: &backoff.ExponentialBackOff{
			InitialInterval:     c.ttl,
			RandomizationFactor: 0,
			Multiplier:          2,
			MaxInterval:         c.maxTTL,
		}}
		e.policy.Reset()
		c.seen[key] = e
	}
	d := e.policy.NextBackOff()
	e.strikes++
	e.until = c.now().Add(d)
	return d
}

// Active reports whether key is cooling down.
func (c *Cooldown) Active(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.seen[key]
	return ok && c.now().Before(e.until)
}

// Strikes reports how many times key failed since it was last cleared.
func (c *Cooldown) Strikes(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.seen[key]; ok {
		return e.strikes
	}
	return 0
}

// Clear ends the cooldown for key and resets its backoff.
func (c *Cooldown) Clear(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.seen, key)
}

// Cleanup forgets keys that have not failed for a full maxTTL since
// their last cooldown ended. Call periodically.
func (c *Cooldown) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, e := range c.seen {
		if now.Sub(e.until) >= c.maxTTL {
			delete(c.seen, key)
		}
	}
}
