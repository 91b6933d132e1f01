// Package enrich resolves missing transaction geography through contact profiles.
package enrich

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/okian/kpisync/internal/adapters/mq/queue"
	"github.com/okian/kpisync/internal/adapters/mq/worker"
	"github.com/okian/kpisync/internal/domain/geo"
	"github.com/okian/kpisync/internal/domain/model"
	"github.com/okian/kpisync/pkg/logger"
	"github.com/okian/kpisync/pkg/metrics"
)

const defaultWorkers = 8

// ContactSource loads contact profiles.
type ContactSource interface {
	GetContact(ctx context.Context, integ model.Integration, id string) (model.ContactProfile, error)
}

// Resolution is the geography found for one contact.
type Resolution struct {
	State  string
	City   string
	County string
	// From is one of the model.StateFrom values.
	From string
}

// Resolved reports whether a state was found.
func (r Resolution) Resolved() bool { return r.State != "" }

// Stats summarizes one Resolve call.
type Stats struct {
	Lookups  int `json:"lookups"`
	Resolved int `json:"resolved"`
	Failures int `json:"failures"`
	Workers  int `json:"workers"`
}

// Resolver fans contact lookups out over a bounded worker pool.
type Resolver struct {
	source  ContactSource
	workers int
	logger  logger.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithWorkers bounds concurrent lookups.
func WithWorkers(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithLogger sets the resolver logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewResolver creates a Resolver over source.
func NewResolver(source ContactSource, opts ...Option) *Resolver {
	r := &Resolver{
		source:  source,
		workers: defaultWorkers,
		logger:  logger.Get().Named("enrich"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve looks up each distinct contact id once. dir may be nil, in which
// case free-text inference from the profile is skipped. A failed lookup
// resolves to unknown and never fails the batch. Resolve returns only after
// every lookup has finished, even when ctx is canceled.
func (r *Resolver) Resolve(ctx context.Context, integ model.Integration, dir *geo.Directory, contactIDs []string) (map[string]Resolution, Stats) {
	ids := distinct(contactIDs)
	out := make(map[string]Resolution, len(ids))
	stats := Stats{}
	if len(ids) == 0 {
		return out, stats
	}

	var mu sync.Mutex
	handler := worker.HandlerFunc(func(ctx context.Context, job queue.Job) error {
		mu.Lock()
		_, done := out[job.ContactID]
		mu.Unlock()
		if done {
			return nil
		}

		res, err := r.lookup(ctx, integ, dir, job.ContactID)

		mu.Lock()
		defer mu.Unlock()
		stats.Lookups++
		out[job.ContactID] = res
		if err != nil {
			stats.Failures++
			return err
		}
		if res.Resolved() {
			stats.Resolved++
		}
		return nil
	})

	q := queue.NewInMemoryQueue(queue.WithCapacity(len(ids)))
	for _, id := range ids {
		q.Enqueue(ctx, queue.Job{ContactID: id})
	}
	_ = q.Close()

	width := min(r.workers, len(ids))
	pool := worker.NewPool(ctx, width, q, handler)
	pool.Start(ctx)
	if err := pool.Wait(ctx); err != nil {
		r.logger.Warn(ctx, "contact resolution interrupted", logger.Error(err))
	}

	mu.Lock()
	defer mu.Unlock()
	stats.Workers = width
	resolved := make(map[string]Resolution, len(out))
	for id, res := range out {
		resolved[id] = res
	}
	return resolved, stats
}

func (r *Resolver) lookup(ctx context.Context, integ model.Integration, dir *geo.Directory, id string) (Resolution, error) {
	profile, err := r.source.GetContact(ctx, integ, id)
	if err != nil {
		metrics.RecordContactLookup("failed")
		metrics.RecordErrorByComponent("enrich", "lookup_failed")
		return Resolution{From: model.StateFromUnknown}, fmt.Errorf("%w: %s: %w", ErrLookupFailed, id, err)
	}
	res := FromProfile(profile, dir)
	if res.Resolved() {
		metrics.RecordContactLookup("resolved")
	} else {
		metrics.RecordContactLookup("unknown")
	}
	return res, nil
}

// FromProfile applies the fallback order: profile fields, then custom
// fields named after state/city/county, then the profile's free-text source.
func FromProfile(p model.ContactProfile, dir *geo.Directory) Resolution {
	if p.State != "" {
		return complete(Resolution{State: p.State, City: p.City, County: p.County, From: model.StateFromContact}, dir)
	}

	var custom Resolution
	for _, f := range p.CustomFields {
		label := strings.ToLower(f.Name + " " + f.Key)
		switch {
		case strings.Contains(label, "county"):
			if custom.County == "" {
				custom.County = f.Value
			}
		case strings.Contains(label, "state"):
			if custom.State == "" {
				custom.State = f.Value
			}
		case strings.Contains(label, "city"):
			if custom.City == "" {
				custom.City = f.Value
			}
		}
	}
	if custom.City == "" {
		custom.City = p.City
	}
	if custom.County == "" {
		custom.County = p.County
	}
	custom.From = model.StateFromContactCustom
	if custom = complete(custom, dir); custom.Resolved() {
		return custom
	}

	if dir != nil && p.Source != "" {
		state, city, county := dir.InferFromText(p.Source)
		if state != "" {
			return Resolution{State: state, City: city, County: county, From: model.StateFromContact}
		}
	}
	return Resolution{From: model.StateFromUnknown}
}

// complete fills state and county from the directory where it can.
func complete(r Resolution, dir *geo.Directory) Resolution {
	if dir == nil {
		return r
	}
	if r.State == "" && r.City != "" {
		if s, ok := dir.StateForCity(r.City); ok {
			r.State = s
		}
	}
	if r.County == "" && r.State != "" && r.City != "" {
		r.County = dir.CountyFor(r.State, r.City)
	}
	return r
}

// Apply copies resolved geography onto rows still missing a state and
// returns how many rows were filled.
func Apply(rows []model.TransactionRecord, res map[string]Resolution) int {
	filled := 0
	for i := range rows {
		r := &rows[i]
		if r.State != "" {
			continue
		}
		got, ok := res[r.ContactID]
		if !ok || !got.Resolved() {
			r.StateFrom = model.StateFromUnknown
			continue
		}
		r.State = got.State
		if r.City == "" {
			r.City = got.City
		}
		if r.County == "" {
			r.County = got.County
		}
		r.StateFrom = got.From
		filled++
	}
	return filled
}

// MissingContacts returns the distinct contact ids of rows without a state.
func MissingContacts(rows []model.TransactionRecord) []string {
	ids := make([]string, 0)
	for _, r := range rows {
		if r.State == "" && r.ContactID != "" {
			ids = append(ids, r.ContactID)
		}
	}
	return distinct(ids)
}

func distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
