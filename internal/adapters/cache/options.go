package cache

import (
	"time"

	"github.com/okian/kpisync/pkg/logger"
)

type options struct {
	ttl    time.Duration
	now    func() time.Time
	logger logger.Logger
}

// Option configures a range cache.
type Option func(*options)

// WithTTL sets how long an entry stays valid.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger for durable caches.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func applyOptions(ttl time.Duration, opts []Option) options {
	o := options{ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Get().Named("range-cache")
	}
	return o
}
