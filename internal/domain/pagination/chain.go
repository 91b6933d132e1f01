// Package pagination walks the upstream transaction listing through an
// ordered chain of strategies until one of them completes.
package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/kpisync/internal/domain/dedupe"
	"github.com/okian/kpisync/internal/domain/model"
	"github.com/okian/kpisync/pkg/logger"
	"github.com/okian/kpisync/pkg/metrics"
)

const defaultPageDelay = 150 * time.Millisecond

// PageFetcher fetches one page of transactions for an attempt.
type PageFetcher interface {
	FetchPage(ctx context.Context, integ model.Integration, a Attempt, req PageRequest) (model.Page, error)
}

// Options bound a single chain run.
type Options struct {
	PageCap  int
	PageSize int
	// SinceMs stops an incremental run once a page reaches rows at or
	// before it. Zero means a full run.
	SinceMs int64
}

// Result is the outcome of the first attempt that completed.
type Result struct {
	Rows       []model.TransactionRecord
	HitPageCap bool
	Attempt    Attempt
	Pages      int
	Failures   []AttemptFailure
}

// Chain runs attempts in order and returns the first that completes.
type Chain struct {
	fetcher   PageFetcher
	attempts  []Attempt
	pageDelay time.Duration
	logger    logger.Logger
}

// New creates a Chain over fetcher.
func New(fetcher PageFetcher, opts ...Option) *Chain {
	c := &Chain{
		fetcher:   fetcher,
		attempts:  DefaultAttempts(),
		pageDelay: defaultPageDelay,
		logger:    logger.Get().Named("pagination"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run tries each attempt until one completes. An empty result is a success.
// Rows from a failed attempt are discarded.
func (c *Chain) Run(ctx context.Context, integ model.Integration, opts Options) (*Result, error) {
	var failures []AttemptFailure
	for _, a := range c.attempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if reason := a.missingPrerequisite(integ); reason != "" {
			failures = append(failures, AttemptFailure{Attempt: a.Name, Reason: reason})
			metrics.RecordAttemptFailure(a.Name)
			continue
		}

		res, err := c.runAttempt(ctx, integ, a, opts)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			failures = append(failures, AttemptFailure{Attempt: a.Name, Reason: err.Error()})
			metrics.RecordAttemptFailure(a.Name)
			c.logger.Warn(ctx, "pagination attempt failed",
				logger.String("attempt", a.Name),
				logger.String("location", integ.LocationID),
				logger.Error(err),
			)
			continue
		}

		res.Failures = failures
		if res.HitPageCap {
			metrics.RecordPageCapHit()
		}
		return res, nil
	}

	metrics.RecordErrorByComponent("pagination", "exhausted")
	return nil, &ExhaustedError{Failures: failures}
}

// runAttempt is the single paging loop shared by every attempt.
func (c *Chain) runAttempt(ctx context.Context, integ model.Integration, a Attempt, opts Options) (*Result, error) {
	limit := rate.Inf
	if c.pageDelay > 0 {
		limit = rate.Every(c.pageDelay)
	}
	limiter := rate.NewLimiter(limit, 1)

	res := &Result{Attempt: a}
	seen := make(map[string]struct{})
	var cursor string
	nextPage := 0

	for i := 0; i < opts.PageCap; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req := PageRequest{
			Index:  i,
			Offset: i * opts.PageSize,
			Limit:  opts.PageSize,
			Page:   i + 1,
			Cursor: cursor,
		}
		if nextPage > 0 {
			req.Page = nextPage
		}

		page, err := c.fetcher.FetchPage(ctx, integ, a, req)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %w", ErrAttemptFailed, i+1, err)
		}
		res.Pages++
		metrics.RecordPageFetched()

		if len(page.Rows) == 0 {
			return res, nil
		}
		sig := dedupe.PageSignature(page.Rows)
		if _, dup := seen[sig]; dup {
			return res, nil
		}
		seen[sig] = struct{}{}
		res.Rows = append(res.Rows, page.Rows...)

		if page.Meta.TotalCount > 0 && len(res.Rows) >= page.Meta.TotalCount {
			return res, nil
		}
		if page.Meta.HasMoreKnown && !page.Meta.HasMore {
			return res, nil
		}
		if opts.SinceMs > 0 && reachedBound(page.Rows, opts.SinceMs) {
			return res, nil
		}
		cursor = page.Meta.NextCursor
		nextPage = page.Meta.NextPage
	}

	res.HitPageCap = true
	return res, nil
}

// reachedBound reports whether the page's oldest known row is at or before sinceMs.
func reachedBound(rows []model.TransactionRecord, sinceMs int64) bool {
	_, oldest := dedupe.Coverage(rows)
	return oldest > 0 && oldest <= sinceMs
}

// IsExhausted reports whether err means every attempt failed.
func IsExhausted(err error) bool {
	return errors.Is(err, ErrAllAttemptsExhausted)
}
