package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu    sync.Mutex
	t     time.Time
	slept []time.Duration
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slept = append(c.slept, d)
	c.t = c.t.Add(d)
	return nil
}

func newTestLimiter() (*Limiter, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New()
	l.now = clk.now
	l.sleep = clk.sleep
	return l, clk
}

func TestAllowRespectsBudget(t *testing.T) {
	l, clk := newTestLimiter()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, _ = l.Allow(ctx, "other", 3, time.Minute)
	assert.True(t, ok, "keys have independent windows")

	clk.t = clk.t.Add(time.Minute + time.Second)
	ok, _ = l.Allow(ctx, "k", 3, time.Minute)
	assert.True(t, ok)
}

func TestWaitSleepsUntilOldestExpires(t *testing.T) {
	l, clk := newTestLimiter()
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "k", 2, time.Minute))
	clk.t = clk.t.Add(20 * time.Second)
	require.NoError(t, l.Wait(ctx, "k", 2, time.Minute))

	require.NoError(t, l.Wait(ctx, "k", 2, time.Minute))
	require.Len(t, clk.slept, 1)
	assert.Equal(t, 40*time.Second, clk.slept[0])
	assert.Equal(t, 2, l.Count("k", time.Minute))
}

func TestWaitNeverExceedsBudget(t *testing.T) {
	l, clk := newTestLimiter()
	ctx := context.Background()

	var admitted []time.Time
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Wait(ctx, "k", 10, time.Second))
		admitted = append(admitted, clk.now())
		clk.t = clk.t.Add(7 * time.Millisecond)
	}

	for i := range admitted {
		in := 0
		for j := range admitted {
			if !admitted[j].After(admitted[i]) && admitted[i].Sub(admitted[j]) < time.Second {
				in++
			}
		}
		assert.LessOrEqual(t, in, 10)
	}
}

func TestWaitCancelled(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, l.Wait(ctx, "k", 1, time.Hour))
	cancel()
	err := l.Wait(ctx, "k", 1, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
}

func TestConcurrentAllow(t *testing.T) {
	l := New()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.Allow(ctx, "k", 1200, time.Minute)
			if err == nil && ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, allowed)

	_, err := l.Allow(ctx, "k", 0, time.Minute)
	assert.Error(t, err)
}
