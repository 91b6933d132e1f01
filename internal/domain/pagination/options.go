package pagination

import (
	"time"

	"github.com/okian/kpisync/pkg/logger"
)

// Option configures a Chain.
type Option func(*Chain)

// WithAttempts replaces the default strategy order.
func WithAttempts(attempts []Attempt) Option {
	return func(c *Chain) {
		if len(attempts) > 0 {
			c.attempts = attempts
		}
	}
}

// WithPageDelay sets the pacing interval between page fetches. Zero disables pacing.
func WithPageDelay(d time.Duration) Option {
	return func(c *Chain) {
		if d >= 0 {
			c.pageDelay = d
		}
	}
}

// WithLogger sets the chain logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Chain) {
		if l != nil {
			c.logger = l
		}
	}
}
