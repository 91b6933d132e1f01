package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/okian/kpisync/internal/adapters/cache"
	"github.com/okian/kpisync/internal/domain/enrich"
	"github.com/okian/kpisync/internal/domain/geo"
	"github.com/okian/kpisync/internal/domain/kpi"
	"github.com/okian/kpisync/internal/domain/model"
	"github.com/okian/kpisync/internal/domain/pagination"
	"github.com/okian/kpisync/pkg/logger"
	"github.com/okian/kpisync/pkg/metrics"
)

// Cache sources reported in CacheMeta.
const (
	SourceDurable  = cache.LayerDurable
	SourceMemory   = cache.LayerMemory
	SourceComputed = "computed"
)

// QueryOptions tune a KPI query.
type QueryOptions struct {
	// Bust skips both cache reads and forces at least an incremental refresh.
	Bust bool
	// Hard skips cache reads and forces a full backfill.
	Hard bool
	// Debug keeps diagnostics in the response.
	Debug   bool
	Preset  string
	Compare string
}

// CacheMeta tells the caller where a response came from.
type CacheMeta struct {
	Source              string `json:"source"`
	CachedAtMs          int64  `json:"cachedAtMs"`
	RefreshReason       string `json:"refreshReason"`
	HitPageCap          bool   `json:"hitPageCap"`
	SnapshotUpdatedAtMs int64  `json:"snapshotUpdatedAtMs"`
	SnapshotComplete    bool   `json:"snapshotComplete"`
	SnapshotRows        int    `json:"snapshotRows"`
	Attempt             string `json:"attempt,omitempty"`
}

// Diagnostics is the debug view of the computation behind a response.
type Diagnostics struct {
	RunID              string                      `json:"runId,omitempty"`
	Attempt            string                      `json:"attempt,omitempty"`
	Failures           []pagination.AttemptFailure `json:"failures,omitempty"`
	Pages              int                         `json:"pages"`
	FetchedRows        int                         `json:"fetchedRows"`
	MergedRows         int                         `json:"mergedRows"`
	RangeRows          int                         `json:"rangeRows"`
	ContactLookups     int                         `json:"contactLookups"`
	ContactsResolved   int                         `json:"contactsResolved"`
	ContactFailures    int                         `json:"contactFailures"`
	EnrichWorkers      int                         `json:"enrichWorkers"`
	DirectoryAvailable bool                        `json:"directoryAvailable"`
	DurationMs         int64                       `json:"durationMs"`
}

// KpiResponse is the computed view of one range.
type KpiResponse struct {
	Kpis       kpi.Summary               `json:"kpis"`
	Breakdowns kpi.Breakdowns            `json:"breakdowns"`
	Rows       []model.TransactionRecord `json:"rows"`
	CacheMeta  CacheMeta                 `json:"cacheMeta"`
	Debug      *Diagnostics              `json:"debug,omitempty"`
}

// GetTransactionsKpis serves the KPIs of [start, end] for one integration.
// Durable cache, then memory cache, then a computed response that is written
// back to both layers.
func (s *Service) GetTransactionsKpis(ctx context.Context, tenantID, integrationKey string, start, end time.Time, q QueryOptions) (*KpiResponse, error) {
	began := s.now()
	defer func() {
		metrics.RecordKpiRequestDuration(float64(s.now().Sub(began).Milliseconds()))
	}()

	if start.IsZero() || end.IsZero() || end.Before(start) {
		return nil, fmt.Errorf("%w: start %s end %s", ErrInvalidRange, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	integ, err := s.tenants.Integration(tenantID, integrationKey)
	if err != nil {
		return nil, err
	}

	key := cache.RangeKey{
		TenantID:    tenantID,
		Integration: integrationKey,
		StartMs:     start.UnixMilli(),
		EndMs:       end.UnixMilli(),
		Preset:      q.Preset,
		Compare:     q.Compare,
	}

	if !q.Bust && !q.Hard {
		if resp := s.lookup(ctx, s.durable, SourceDurable, key); resp != nil {
			return present(resp, q.Debug), nil
		}
		if resp := s.lookup(ctx, s.memory, SourceMemory, key); resp != nil {
			return present(resp, q.Debug), nil
		}
	}

	resp, err := s.compute(ctx, integ, key, q)
	if err != nil {
		return nil, err
	}
	s.countServed(SourceComputed)
	s.store(ctx, key, resp)
	return present(resp, q.Debug), nil
}

func (s *Service) compute(ctx context.Context, integ model.Integration, key cache.RangeKey, q QueryOptions) (*KpiResponse, error) {
	started := s.now()
	ing, err := s.Ingest(ctx, integ, key.StartMs, q.Bust, q.Hard)
	if err != nil {
		return nil, err
	}
	snap := ing.Snapshot

	rows := kpi.FilterRange(snap.Rows, key.StartMs, key.EndMs)
	diag := &Diagnostics{
		RunID:       ing.RunID,
		Attempt:     ing.Attempt,
		Failures:    ing.Failures,
		Pages:       ing.Pages,
		FetchedRows: ing.Fetched,
		MergedRows:  ing.Merged,
		RangeRows:   len(rows),
	}

	var dir *geo.Directory
	if s.directories != nil {
		dir, err = s.directories.Get(ctx, integ.TenantID)
		if err != nil {
			s.logger.Warn(ctx, "geo directory unavailable, skipping inference",
				logger.String("tenant", integ.TenantID),
				logger.Error(err),
			)
			dir = nil
		}
	}
	diag.DirectoryAvailable = dir != nil
	if dir != nil {
		for i := range rows {
			dir.Enrich(&rows[i])
		}
	}

	var resolved map[string]enrich.Resolution
	if missing := enrich.MissingContacts(rows); s.resolver != nil && len(missing) > 0 {
		var stats enrich.Stats
		resolved, stats = s.resolver.Resolve(ctx, integ, dir, missing)
		diag.ContactLookups = stats.Lookups
		diag.ContactsResolved = stats.Resolved
		diag.ContactFailures = stats.Failures
		diag.EnrichWorkers = stats.Workers
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	enrich.Apply(rows, resolved)

	summary := kpi.Aggregate(rows, kpi.Lifetimes(snap.Rows))
	now := s.now()
	diag.DurationMs = now.Sub(started).Milliseconds()

	return &KpiResponse{
		Kpis:       summary,
		Breakdowns: kpi.Breakdown(rows),
		Rows:       rows,
		CacheMeta: CacheMeta{
			Source:              SourceComputed,
			CachedAtMs:          now.UnixMilli(),
			RefreshReason:       ing.Reason,
			HitPageCap:          ing.HitPageCap,
			SnapshotUpdatedAtMs: snap.UpdatedAtMs,
			SnapshotComplete:    snap.Complete,
			SnapshotRows:        len(snap.Rows),
			Attempt:             ing.Attempt,
		},
		Debug: diag,
	}, nil
}

// lookup reads one cache layer. Read and decode failures are misses.
func (s *Service) lookup(ctx context.Context, c cache.RangeCache, layer string, key cache.RangeKey) *KpiResponse {
	if c == nil {
		return nil
	}
	entry, ok, err := c.Get(ctx, key)
	if err != nil {
		s.logger.Warn(ctx, "range cache read failed",
			logger.String("layer", layer),
			logger.String("key", key.String()),
			logger.Error(err),
		)
		metrics.RecordRangeCacheLookup(layer, "error")
		return nil
	}
	if !ok {
		metrics.RecordRangeCacheLookup(layer, "miss")
		return nil
	}
	var resp KpiResponse
	if err := json.Unmarshal(entry.Payload, &resp); err != nil {
		s.logger.Warn(ctx, "range cache entry unreadable",
			logger.String("layer", layer),
			logger.Error(err),
		)
		metrics.RecordRangeCacheLookup(layer, "corrupt")
		return nil
	}
	metrics.RecordRangeCacheLookup(layer, "hit")
	s.countServed(layer)
	resp.CacheMeta.Source = layer
	resp.CacheMeta.CachedAtMs = entry.CachedAtMs
	return &resp
}

// store writes both layers. A failed write is logged and the response is
// still served.
func (s *Service) store(ctx context.Context, key cache.RangeKey, resp *KpiResponse) {
	payload, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error(ctx, "encoding range response failed", logger.Error(err))
		return
	}
	for layer, c := range map[string]cache.RangeCache{SourceDurable: s.durable, SourceMemory: s.memory} {
		if c == nil {
			continue
		}
		if err := c.Put(ctx, key, payload); err != nil {
			s.logger.Warn(ctx, "range cache write failed",
				logger.String("layer", layer),
				logger.String("key", key.String()),
				logger.Error(err),
			)
			metrics.RecordErrorByComponent("range_cache", "write_failed")
		}
	}
}

func present(resp *KpiResponse, debug bool) *KpiResponse {
	if !debug {
		resp.Debug = nil
	}
	return resp
}
