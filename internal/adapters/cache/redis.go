package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/kpisync/pkg/logger"
)

// RedisRangeCache keeps entries under a key prefix with native expiry.
type RedisRangeCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
	logger logger.Logger
}

// NewRedisRangeCache creates a durable cache over client. A non-empty prefix
// is joined to keys with ':'.
func NewRedisRangeCache(client *redis.Client, prefix string, opts ...Option) *RedisRangeCache {
	o := applyOptions(defaultDurableTTL, opts)
	if prefix != "" {
		prefix += ":"
	}
	return &RedisRangeCache{client: client, prefix: prefix, ttl: o.ttl, now: o.now, logger: o.logger}
}

func (c *RedisRangeCache) key(k RangeKey) string {
	return c.prefix + k.String()
}

func (c *RedisRangeCache) Get(ctx context.Context, key RangeKey) (Entry, bool, error) {
	val, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("redis range get: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(val, &e); err != nil {
		c.logger.Warn(ctx, "ignoring unreadable range entry",
			logger.String("key", c.key(key)),
			logger.Error(fmt.Errorf("%w: %w", ErrEntryCorrupt, err)))
		return Entry{}, false, nil
	}
	return e, true, nil
}

func (c *RedisRangeCache) Put(ctx context.Context, key RangeKey, payload []byte) error {
	now := c.now()
	raw, err := json.Marshal(Entry{
		Payload:     payload,
		CachedAtMs:  now.UnixMilli(),
		ExpiresAtMs: now.Add(c.ttl).UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("range cache encode: %w", err)
	}
	if err := c.client.Set(ctx, c.key(key), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis range put: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (c *RedisRangeCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

var _ RangeCache = (*RedisRangeCache)(nil)
