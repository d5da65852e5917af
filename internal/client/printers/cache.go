package printers

import (
	"context"
	"sync"
	"time"
)

// CachedProvider serves the last snapshot of an underlying Provider for
// ttl. Errors are not cached.
type CachedProvider struct {
	next Provider
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	snap    Snapshot
	fetched time.Time
	valid   bool
}

func NewCachedProvider(next Provider, ttl time.Duration) *CachedProvider {
	return &CachedProvider{next: next, ttl: ttl, now: time.Now}
}

func (c *CachedProvider) Status(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid && c.now().Sub(c.fetched) < c.ttl {
		return c.snap, nil
	}

	snap, err := c.next.Status(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	c.snap, c.fetched, c.valid = snap, c.now(), true
	return snap, nil
}

// Invalidate forces the next Status call to query the subsystem.
func (c *CachedProvider) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}
