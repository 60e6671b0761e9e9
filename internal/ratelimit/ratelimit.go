package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Result is the outcome of counting one use against a key.
type Result struct {
	Allowed   bool
	Count     int
	Remaining int
	ResetIn   time.Duration
}

// Counter counts uses per key within a fixed window.
type Counter interface {
	Hit(ctx context.Context, key string) (Result, error)
}

func result(count, limit int, resetIn time.Duration) Result {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= limit,
		Count:     count,
		Remaining: remaining,
		ResetIn:   resetIn,
	}
}

type bucket struct {
	count   int
	expires time.Time
}

// MemoryCounter is a per-process fixed-window counter. Counts reset on
// restart and are not shared between instances.
type MemoryCounter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	entries map[string]*bucket
	now     func() time.Time
}

// NewMemoryCounter creates a MemoryCounter allowing limit uses per window.
func NewMemoryCounter(limit int, window time.Duration) *MemoryCounter {
	return &MemoryCounter{
		limit:   limit,
		window:  window,
		entries: make(map[string]*bucket),
		now:     time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (c *MemoryCounter) WithClock(now func() time.Time) *MemoryCounter {
	c.now = now
	return c
}

// Hit counts one use of key.
func (c *MemoryCounter) Hit(_ context.Context, key string) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e, ok := c.entries[key]
	if !ok || !now.Before(e.expires) {
		c.sweep(now)
		e = &bucket{expires: now.Add(c.window)}
		c.entries[key] = e
	}
	e.count++

	return result(e.count, c.limit, e.expires.Sub(now)), nil
}

// sweep drops expired windows. Callers hold mu.
func (c *MemoryCounter) sweep(now time.Time) {
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
		}
	}
}
