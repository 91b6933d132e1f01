package cache

import (
	"context"
	"sync"
	"time"
)

const defaultMemoryTTL = 45 * time.Second

// MemoryRangeCache is a mutex-guarded map with per-entry expiry.
type MemoryRangeCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryRangeCache creates an in-process cache.
func NewMemoryRangeCache(opts ...Option) *MemoryRangeCache {
	o := applyOptions(defaultMemoryTTL, opts)
	return &MemoryRangeCache{
		ttl:     o.ttl,
		now:     o.now,
		entries: make(map[string]Entry),
	}
}

func (c *MemoryRangeCache) Get(_ context.Context, key RangeKey) (Entry, bool, error) {
	k := key.String()
	now := c.now().UnixMilli()

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	if !ok {
		return Entry{}, false, nil
	}
	if now >= e.ExpiresAtMs {
		delete(c.entries, k)
		return Entry{}, false, nil
	}
	return e, true, nil
}

func (c *MemoryRangeCache) Put(_ context.Context, key RangeKey, payload []byte) error {
	now := c.now()
	e := Entry{
		Payload:     append([]byte(nil), payload...),
		CachedAtMs:  now.UnixMilli(),
		ExpiresAtMs: now.Add(c.ttl).UnixMilli(),
	}
	c.mu.Lock()
	c.entries[key.String()] = e
	c.mu.Unlock()
	return nil
}

// Len returns the number of entries, expired ones included.
func (c *MemoryRangeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

var _ RangeCache = (*MemoryRangeCache)(nil)
