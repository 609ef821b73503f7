package signal

import (
	"sync"
	"time"
)

// KeyPool rotates API credentials, benching each one independently after a
// rate limit or an authorization failure.
type KeyPool struct {
	mu      sync.Mutex
	keys    []string
	blocked map[string]time.Time
	cursor  int
}

// NewKeyPool creates a pool over keys, dropping blanks and duplicates.
func NewKeyPool(keys []string) *KeyPool {
	seen := make(map[string]struct{}, len(keys))
	uniq := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		uniq = append(uniq, k)
	}
	return &KeyPool{
		keys:    uniq,
		blocked: make(map[string]time.Time),
	}
}

// Total is the number of configured keys.
func (p *KeyPool) Total() int {
	return len(p.keys)
}

// Available counts keys that are not cooling down at now.
func (p *KeyPool) Available(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, k := range p.keys {
		if !now.Before(p.blocked[k]) {
			n++
		}
	}
	return n
}

// Next returns the first usable key at or after the cursor. ok is false when
// every key is cooling down; retryAt is then the earliest release time.
func (p *KeyPool) Next(now time.Time) (key string, retryAt time.Time, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, retryAt, ok := selectKey(p.keys, p.blocked, p.cursor, now)
	if !ok {
		return "", retryAt, false
	}
	return p.keys[idx], time.Time{}, true
}

// Bench blocks key until now+d and moves the cursor past it.
func (p *KeyPool) Bench(key string, now time.Time, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blocked[key] = now.Add(d)
	for i, k := range p.keys {
		if k == key {
			p.cursor = i + 1
			break
		}
	}
}

// selectKey scans keys from cursor, wrapping once, for one whose block has
// expired at now. It does not mutate its inputs.
func selectKey(keys []string, blocked map[string]time.Time, cursor int, now time.Time) (int, time.Time, bool) {
	n := len(keys)
	if n == 0 {
		return 0, time.Time{}, false
	}
	var earliest time.Time
	for i := 0; i < n; i++ {
		idx := (cursor + i) % n
		until := blocked[keys[idx]]
		if !now.Before(until) {
			return idx, time.Time{}, true
		}
		if earliest.IsZero() || until.Before(earliest) {
			earliest = until
		}
	}
	return 0, earliest, false
}

// maskKey shows only the tail of a key for logs.
func maskKey(k string) string {
	if len(k) <= 6 {
		return "..." + k[len(k)/2:]
	}
	return "..." + k[len(k)-6:]
}
