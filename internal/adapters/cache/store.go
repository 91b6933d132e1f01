package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/okian/kpisync/internal/adapters/repository"
	"github.com/okian/kpisync/pkg/logger"
)

const defaultDurableTTL = 5 * time.Minute

// StoreRangeCache keeps entries as JSON documents with an expiry stamp.
type StoreRangeCache struct {
	docs   repository.DocStore
	ttl    time.Duration
	now    func() time.Time
	logger logger.Logger
}

// NewStoreRangeCache creates a durable cache over docs.
func NewStoreRangeCache(docs repository.DocStore, opts ...Option) *StoreRangeCache {
	o := applyOptions(defaultDurableTTL, opts)
	return &StoreRangeCache{docs: docs, ttl: o.ttl, now: o.now, logger: o.logger}
}

func (c *StoreRangeCache) Get(ctx context.Context, key RangeKey) (Entry, bool, error) {
	raw, ok, err := c.docs.Get(ctx, key.String())
	if err != nil {
		return Entry{}, false, fmt.Errorf("range cache get: %w", err)
	}
	if !ok {
		return Entry{}, false, nil
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.logger.Warn(ctx, "ignoring unreadable range entry",
			logger.String("key", key.String()),
			logger.Error(fmt.Errorf("%w: %w", ErrEntryCorrupt, err)))
		return Entry{}, false, nil
	}
	if c.now().UnixMilli() >= e.ExpiresAtMs {
		return Entry{}, false, nil
	}
	return e, true, nil
}

func (c *StoreRangeCache) Put(ctx context.Context, key RangeKey, payload []byte) error {
	now := c.now()
	raw, err := json.Marshal(Entry{
		Payload:     payload,
		CachedAtMs:  now.UnixMilli(),
		ExpiresAtMs: now.Add(c.ttl).UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("range cache encode: %w", err)
	}
	if err := c.docs.Put(ctx, key.String(), raw); err != nil {
		return fmt.Errorf("range cache put: %w", err)
	}
	return nil
}

var _ RangeCache = (*StoreRangeCache)(nil)
