// Package upstream talks to the CRM/payments API and the geo reference sheet.
package upstream

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/okian/kpisync/pkg/logger"
	"github.com/okian/kpisync/pkg/metrics"
)

// Default client configuration constants.
const (
	defaultRequestTimeout = 20 * time.Second
	defaultMaxRetries     = 5
	defaultBackoffBase    = 500 * time.Millisecond
	defaultBackoffJitter  = 450 * time.Millisecond
	backoffFactor         = 1.6
	maxErrorBody          = 512
	maxResponseBody       = 32 << 20
)

// RequestSpec describes one upstream call.
type RequestSpec struct {
	// Endpoint labels metrics, e.g. "transactions".
	Endpoint string
	Method   string
	URL      string
	Query    url.Values
	Token    string
	Headers  map[string]string
}

// Client executes upstream requests and survives rate limiting.
type Client struct {
	http       *http.Client
	timeout    time.Duration
	maxRetries int
	base       time.Duration
	jitter     time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	jitterFn   func(bound time.Duration) time.Duration
	logger     logger.Logger
}

// NewClient creates a Client with defaults.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:       &http.Client{},
		timeout:    defaultRequestTimeout,
		maxRetries: defaultMaxRetries,
		base:       defaultBackoffBase,
		jitter:     defaultBackoffJitter,
		sleep:      sleepCtx,
		jitterFn:   randomJitter,
		logger:     logger.Get().Named("upstream"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute performs the request and returns the response body of a 2xx answer.
// Rate-limited answers are retried with growing delays; any other failure
// returns at once.
func (c *Client) Execute(ctx context.Context, spec RequestSpec) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		status, body, header, err := c.do(ctx, spec)
		if err != nil {
			metrics.RecordUpstreamRequest(spec.Endpoint, "error")
			return nil, err
		}
		metrics.RecordUpstreamRequest(spec.Endpoint, statusClass(status))
		if status >= 200 && status < 300 {
			return body, nil
		}
		if !isRateLimited(status, body) {
			return nil, &StatusError{Status: status, Body: truncate(string(body), maxErrorBody)}
		}

		metrics.RecordRateLimited()
		if attempt >= c.maxRetries {
			metrics.RecordErrorByComponent("upstream", "rate_limited")
			return nil, &RateLimitError{Attempts: attempt + 1, LastStatus: status}
		}

		delay := c.backoff(attempt, header)
		metrics.RecordRetryDelay(float64(delay.Milliseconds()))
		c.logger.Debug(ctx, "rate limited, backing off",
			logger.String("endpoint", spec.Endpoint),
			logger.Int("attempt", attempt+1),
			logger.Duration("delay", delay),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (c *Client) do(ctx context.Context, spec RequestSpec) (int, []byte, http.Header, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := spec.URL
	if len(spec.Query) > 0 {
		target += "?" + spec.Query.Encode()
	}
	method := spec.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if spec.Token != "" {
		req.Header.Set("Authorization", "Bearer "+spec.Token)
	}
	for k, v := range spec.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("%s %s: %w", method, spec.Endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("read %s body: %w", spec.Endpoint, err)
	}
	return resp.StatusCode, body, resp.Header, nil
}

// backoff returns the delay before retry number attempt+1.
func (c *Client) backoff(attempt int, header http.Header) time.Duration {
	if d, ok := retryAfter(header.Get("Retry-After"), time.Now()); ok {
		return d
	}
	d := time.Duration(math.Round(float64(c.base) * math.Pow(backoffFactor, float64(attempt))))
	return d + c.jitterFn(c.jitter)
}

// retryAfter parses a Retry-After value given as seconds or an HTTP date.
func retryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

func isRateLimited(status int, body []byte) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests")
}

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func randomJitter(bound time.Duration) time.Duration {
	if bound <= 0 {
		return 0
	}
	return rand.N(bound)
}
