package service

import (
	"time"

	"github.com/okian/kpisync/internal/adapters/cache"
	"github.com/okian/kpisync/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithDirectories sets the per-tenant geo directory source.
func WithDirectories(d DirectoryProvider) Option {
	return func(s *Service) {
		s.directories = d
	}
}

// WithResolver sets the contact geography resolver.
func WithResolver(r ContactResolver) Option {
	return func(s *Service) {
		s.resolver = r
	}
}

// WithMemoryCache replaces the in-process range cache.
func WithMemoryCache(c cache.RangeCache) Option {
	return func(s *Service) {
		if c != nil {
			s.memory = c
		}
	}
}

// WithDurableCache sets the durable range cache. Without one only the
// memory layer is used.
func WithDurableCache(c cache.RangeCache) Option {
	return func(s *Service) {
		s.durable = c
	}
}

// WithSnapshotTTL sets how long a snapshot is served without refresh.
func WithSnapshotTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.snapshotTTL = d
		}
	}
}

// WithOverlapWindow sets how far before the newest row an incremental
// refresh reaches back.
func WithOverlapWindow(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.overlap = d
		}
	}
}

// WithPageSize sets the rows requested per upstream page.
func WithPageSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithPageCaps sets the page caps of full and incremental runs.
func WithPageCaps(full, incremental int) Option {
	return func(s *Service) {
		if full > 0 {
			s.fullPageCap = full
		}
		if incremental > 0 {
			s.incrementalPageCap = incremental
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
