package geo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/okian/kpisync/pkg/logger"
	"github.com/okian/kpisync/pkg/metrics"
)

const defaultDirectoryTTL = 15 * time.Minute

// ReferenceLoader fetches a tenant's reference dataset.
type ReferenceLoader interface {
	LoadReference(ctx context.Context, tenantID string) (Reference, error)
}

type cachedDirectory struct {
	dir     *Directory
	builtAt time.Time
}

// DirectoryCache keeps one Directory per tenant and rebuilds it lazily.
type DirectoryCache struct {
	loader ReferenceLoader
	ttl    time.Duration
	now    func() time.Time
	logger logger.Logger

	mu      sync.RWMutex
	entries map[string]cachedDirectory
	group   singleflight.Group
}

// CacheOption configures a DirectoryCache.
type CacheOption func(*DirectoryCache)

// WithTTL sets how long a built directory is reused.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *DirectoryCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) CacheOption {
	return func(c *DirectoryCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the cache logger.
func WithLogger(l logger.Logger) CacheOption {
	return func(c *DirectoryCache) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewDirectoryCache creates a cache over loader.
func NewDirectoryCache(loader ReferenceLoader, opts ...CacheOption) *DirectoryCache {
	c := &DirectoryCache{
		loader:  loader,
		ttl:     defaultDirectoryTTL,
		now:     time.Now,
		logger:  logger.Get().Named("geo"),
		entries: make(map[string]cachedDirectory),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the tenant's directory, building it when missing or expired.
// Concurrent builds for one tenant share a single load. On failure the
// error wraps ErrDirectoryUnavailable and the directory is nil.
func (c *DirectoryCache) Get(ctx context.Context, tenantID string) (*Directory, error) {
	c.mu.RLock()
	e, ok := c.entries[tenantID]
	c.mu.RUnlock()
	if ok && c.now().Sub(e.builtAt) < c.ttl {
		return e.dir, nil
	}

	v, err, _ := c.group.Do(tenantID, func() (any, error) {
		ref, err := c.loader.LoadReference(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		dir := NewDirectory(ref)
		c.mu.Lock()
		c.entries[tenantID] = cachedDirectory{dir: dir, builtAt: c.now()}
		c.mu.Unlock()
		return dir, nil
	})
	if err != nil {
		metrics.RecordGeoDirectoryBuild("failed")
		metrics.RecordErrorByComponent("geo", "directory_unavailable")
		c.logger.Warn(ctx, "geo directory build failed",
			logger.String("tenant", tenantID),
			logger.Error(err),
		)
		return nil, fmt.Errorf("%w: %w", ErrDirectoryUnavailable, err)
	}
	metrics.RecordGeoDirectoryBuild("ok")
	dir, _ := v.(*Directory)
	return dir, nil
}

// Invalidate drops the cached directory of tenantID.
func (c *DirectoryCache) Invalidate(tenantID string) {
	c.mu.Lock()
	delete(c.entries, tenantID)
	c.mu.Unlock()
}
