package upstream

import (
	"context"
	"net/http"
	"time"

	"github.com/okian/kpisync/pkg/logger"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRequestTimeout bounds each individual upstream call.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxRetries sets how many times a rate-limited call is retried.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithBackoff sets the base delay and the jitter bound of retries.
func WithBackoff(base, jitter time.Duration) Option {
	return func(c *Client) {
		if base > 0 {
			c.base = base
		}
		if jitter >= 0 {
			c.jitter = jitter
		}
	}
}

// WithSleep replaces the context-aware sleep, mostly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

// WithJitter replaces the jitter source; fn receives the bound and returns [0, bound).
func WithJitter(fn func(bound time.Duration) time.Duration) Option {
	return func(c *Client) {
		if fn != nil {
			c.jitterFn = fn
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}
