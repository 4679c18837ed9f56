package throttle

import (
	"context"
	"sync"
	"time"
)

// HeadFetcher returns the current chain head.
type HeadFetcher interface {
	BlockNumber(ctx context.Context) (int64, error)
}

// HeadCache caches the chain head to reduce redundant RPC calls.
// Every on-chain consumer plans its window against the head, so without the
// cache each worker would ask the node for it on every item.
type HeadCache struct {
	fetcher HeadFetcher
	ttl     time.Duration

	mu       sync.RWMutex
	cached   int64
	cachedAt time.Time
}

// NewHeadCache creates a new head cache with the given TTL.
func NewHeadCache(fetcher HeadFetcher, ttl time.Duration) *HeadCache {
	return &HeadCache{
		fetcher: fetcher,
		ttl:     ttl,
	}
}

// BlockNumber returns the cached chain head if within TTL, otherwise fetches fresh.
func (c *HeadCache) BlockNumber(ctx context.Context) (int64, error) {
	c.mu.RLock()
	if time.Since(c.cachedAt) < c.ttl && c.cached > 0 {
		cached := c.cached
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	head, err := c.fetcher.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	// A lagging node behind a load balancer may report an older head; keep the highest.
	if head < c.cached && time.Since(c.cachedAt) < 4*c.ttl {
		head = c.cached
	}
	c.cached = head
	c.cachedAt = time.Now()
	c.mu.Unlock()

	return head, nil
}

// Invalidate clears the cache, forcing the next call to fetch fresh data.
func (c *HeadCache) Invalidate() {
	c.mu.Lock()
	c.cachedAt = time.Time{}
	c.mu.Unlock()
}
