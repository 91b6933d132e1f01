// Package service implements the transaction KPI pipeline behind the HTTP API:
// snapshot ingestion, enrichment, aggregation and range caching.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/kpisync/internal/adapters/cache"
	"github.com/okian/kpisync/internal/domain/dedupe"
	"github.com/okian/kpisync/internal/domain/enrich"
	"github.com/okian/kpisync/internal/domain/geo"
	"github.com/okian/kpisync/internal/domain/kpi"
	"github.com/okian/kpisync/internal/domain/model"
	"github.com/okian/kpisync/internal/domain/pagination"
	"github.com/okian/kpisync/pkg/logger"
	"github.com/okian/kpisync/pkg/metrics"
)

// Refresh reasons reported in cache metadata.
const (
	ReasonSnapshotFresh          = "snapshot_fresh"
	ReasonIncremental            = "incremental_refresh"
	ReasonBackfillNoSnapshot     = "full_backfill_no_snapshot"
	ReasonBackfillBeforeCoverage = "full_backfill_range_before_coverage"
	ReasonBackfillHard           = "full_backfill_hard"
	ReasonBackfillGap            = "full_backfill_incremental_gap"
)

const (
	defaultSnapshotTTL        = 15 * time.Minute
	defaultOverlap            = 15 * time.Minute
	defaultPageSize           = 100
	defaultFullPageCap        = 800
	defaultIncrementalPageCap = 12
)

// ChainRunner runs the pagination attempt chain.
type ChainRunner interface {
	Run(ctx context.Context, integ model.Integration, opts pagination.Options) (*pagination.Result, error)
}

// SnapshotRepository persists snapshots.
type SnapshotRepository interface {
	Load(ctx context.Context, tenantID, locationID string) (*model.Snapshot, error)
	Save(ctx context.Context, snap *model.Snapshot) error
	Keys(ctx context.Context) ([]string, error)
}

// DirectoryProvider returns the geo directory of a tenant.
type DirectoryProvider interface {
	Get(ctx context.Context, tenantID string) (*geo.Directory, error)
}

// ContactResolver fills geography from contact profiles.
type ContactResolver interface {
	Resolve(ctx context.Context, integ model.Integration, dir *geo.Directory, contactIDs []string) (map[string]enrich.Resolution, enrich.Stats)
}

// Service implements the KPI query and the ingestion it depends on.
type Service struct {
	chain       ChainRunner
	snapshots   SnapshotRepository
	tenants     IntegrationResolver
	directories DirectoryProvider
	resolver    ContactResolver
	memory      cache.RangeCache
	durable     cache.RangeCache

	snapshotTTL        time.Duration
	overlap            time.Duration
	pageSize           int
	fullPageCap        int
	incrementalPageCap int
	now                func() time.Time

	locks *keyedMutex

	statsMu   sync.Mutex
	refreshes map[string]int64
	served    map[string]int64

	logger logger.Logger
}

// New constructs a Service. chain, snapshots and tenants are required.
func New(chain ChainRunner, snapshots SnapshotRepository, tenants IntegrationResolver, opts ...Option) *Service {
	s := &Service{
		chain:              chain,
		snapshots:          snapshots,
		tenants:            tenants,
		snapshotTTL:        defaultSnapshotTTL,
		overlap:            defaultOverlap,
		pageSize:           defaultPageSize,
		fullPageCap:        defaultFullPageCap,
		incrementalPageCap: defaultIncrementalPageCap,
		now:                time.Now,
		locks:              newKeyedMutex(),
		refreshes:          make(map[string]int64),
		served:             make(map[string]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.memory == nil {
		s.memory = cache.NewMemoryRangeCache(cache.WithClock(s.now))
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	return s
}

// IngestResult describes one pass of the orchestrator.
type IngestResult struct {
	Snapshot   *model.Snapshot
	Reason     string
	RunID      string
	Attempt    string
	HitPageCap bool
	Pages      int
	Failures   []pagination.AttemptFailure
	Fetched    int
	Merged     int
}

// snapshotLocation is the location part of the snapshot key. Integrations
// without a location id fall back to their key.
func snapshotLocation(integ model.Integration) string {
	if integ.LocationID != "" {
		return integ.LocationID
	}
	return "integration-" + integ.Key
}

// needsHistory reports whether a range starting at startMs reaches before
// what the snapshot covers.
func needsHistory(snap *model.Snapshot, startMs int64) bool {
	return startMs < snap.OldestCreatedMs && !snap.FullHistory
}

func (s *Service) stale(snap *model.Snapshot) bool {
	return s.now().UnixMilli()-snap.UpdatedAtMs >= s.snapshotTTL.Milliseconds()
}

// decide picks the refresh strategy. A snapshot with a gap left by a capped
// incremental run is served until it goes stale, then backfilled in full.
func (s *Service) decide(snap *model.Snapshot, startMs int64, bust, hard bool) string {
	switch {
	case hard:
		return ReasonBackfillHard
	case snap == nil:
		return ReasonBackfillNoSnapshot
	case needsHistory(snap, startMs):
		return ReasonBackfillBeforeCoverage
	case snap.Gap && (bust || s.stale(snap)):
		return ReasonBackfillGap
	case bust:
		return ReasonIncremental
	case !s.stale(snap):
		return ReasonSnapshotFresh
	default:
		return ReasonIncremental
	}
}

func isFullBackfill(reason string) bool {
	switch reason {
	case ReasonBackfillNoSnapshot, ReasonBackfillBeforeCoverage, ReasonBackfillHard, ReasonBackfillGap:
		return true
	}
	return false
}

// landedWhileWaiting reports whether another request rewrote the snapshot
// between before and after, with a refresh that satisfies this one.
func landedWhileWaiting(before, after *model.Snapshot, startMs int64, hard bool) bool {
	if after == nil || (before != nil && before.UpdatedAtMs == after.UpdatedAtMs) {
		return false
	}
	if needsHistory(after, startMs) {
		return false
	}
	return !hard || isFullBackfill(after.RefreshReason)
}

// Ingest brings the (tenant, location) snapshot up to date for a range
// starting at startMs. A fresh snapshot is returned with no upstream calls.
// Refreshes are serialized per snapshot. A request that waited on the lock
// reuses a refresh that landed meanwhile, bust and hard included, and
// otherwise decides its strategy again.
func (s *Service) Ingest(ctx context.Context, integ model.Integration, startMs int64, bust, hard bool) (*IngestResult, error) {
	loc := snapshotLocation(integ)

	before, err := s.snapshots.Load(ctx, integ.TenantID, loc)
	if err != nil {
		return nil, err
	}
	if reason := s.decide(before, startMs, bust, hard); reason == ReasonSnapshotFresh {
		s.countRefresh(reason)
		return freshResult(before), nil
	}

	unlock := s.locks.Lock(integ.TenantID + "|" + loc)
	defer unlock()

	snap, err := s.snapshots.Load(ctx, integ.TenantID, loc)
	if err != nil {
		return nil, err
	}
	if landedWhileWaiting(before, snap, startMs, hard) {
		s.countRefresh(ReasonSnapshotFresh)
		return freshResult(snap), nil
	}
	reason := s.decide(snap, startMs, bust, hard)
	if reason == ReasonSnapshotFresh {
		s.countRefresh(reason)
		return freshResult(snap), nil
	}
	return s.refresh(ctx, integ, loc, snap, reason)
}

func freshResult(snap *model.Snapshot) *IngestResult {
	return &IngestResult{
		Snapshot:   snap,
		Reason:     ReasonSnapshotFresh,
		HitPageCap: !snap.Complete,
	}
}

func (s *Service) refresh(ctx context.Context, integ model.Integration, loc string, prior *model.Snapshot, reason string) (*IngestResult, error) {
	runID := uuid.NewString()
	full := isFullBackfill(reason)
	opts := pagination.Options{PageCap: s.fullPageCap, PageSize: s.pageSize}
	if !full {
		opts.PageCap = s.incrementalPageCap
		opts.SinceMs = max(prior.NewestCreatedMs-s.overlap.Milliseconds(), 0)
	}

	log := s.logger
	log.Info(ctx, "refreshing snapshot",
		logger.String("runId", runID),
		logger.String("tenant", integ.TenantID),
		logger.String("location", loc),
		logger.String("reason", reason),
		logger.Int64("sinceMs", opts.SinceMs),
	)

	started := s.now()
	res, err := s.chain.Run(ctx, integ, opts)
	if err != nil {
		log.Error(ctx, "snapshot refresh failed",
			logger.String("runId", runID),
			logger.String("tenant", integ.TenantID),
			logger.String("reason", reason),
			logger.Error(err),
		)
		metrics.RecordErrorByComponent("ingest", "refresh_failed")
		return nil, fmt.Errorf("refresh %s/%s: %w", integ.TenantID, loc, err)
	}

	var priorRows []model.TransactionRecord
	fullHistory, gap := false, false
	if prior != nil {
		priorRows = prior.Rows
		fullHistory = prior.FullHistory
		gap = prior.Gap
	}
	if full {
		fullHistory = !res.HitPageCap
		gap = false
	} else if res.HitPageCap {
		gap = true
	}

	merged := dedupe.Merge(priorRows, res.Rows)
	kpi.ApplyLifetime(merged)
	newest, oldest := dedupe.Coverage(merged)

	next := &model.Snapshot{
		TenantID:        integ.TenantID,
		LocationID:      loc,
		Rows:            merged,
		NewestCreatedMs: newest,
		OldestCreatedMs: oldest,
		Complete:        !res.HitPageCap,
		FullHistory:     fullHistory,
		Gap:             gap,
		RefreshReason:   reason,
	}
	if err := s.snapshots.Save(ctx, next); err != nil {
		return nil, err
	}

	s.countRefresh(reason)
	metrics.RecordSnapshotRowsMerged(len(merged))
	metrics.UpdateSnapshotRows(len(merged))
	log.Info(ctx, "snapshot refreshed",
		logger.String("runId", runID),
		logger.String("tenant", integ.TenantID),
		logger.String("attempt", res.Attempt.Name),
		logger.Int("pages", res.Pages),
		logger.Int("fetched", len(res.Rows)),
		logger.Int("rows", len(merged)),
		logger.Bool("hitPageCap", res.HitPageCap),
		logger.Duration("took", s.now().Sub(started)),
	)

	return &IngestResult{
		Snapshot:   next,
		Reason:     reason,
		RunID:      runID,
		Attempt:    res.Attempt.Name,
		HitPageCap: res.HitPageCap,
		Pages:      res.Pages,
		Failures:   res.Failures,
		Fetched:    len(res.Rows),
		Merged:     len(merged),
	}, nil
}

func (s *Service) countRefresh(reason string) {
	metrics.RecordSnapshotRefresh(reason)
	s.statsMu.Lock()
	s.refreshes[reason]++
	s.statsMu.Unlock()
}

func (s *Service) countServed(source string) {
	s.statsMu.Lock()
	s.served[source]++
	s.statsMu.Unlock()
}

// GetStats returns service counters for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.statsMu.Lock()
	refreshes := make(map[string]int64, len(s.refreshes))
	for k, v := range s.refreshes {
		refreshes[k] = v
	}
	served := make(map[string]int64, len(s.served))
	for k, v := range s.served {
		served[k] = v
	}
	s.statsMu.Unlock()

	stats := map[string]any{
		"refreshes":      refreshes,
		"served":         served,
		"snapshotTtlMs":  s.snapshotTTL.Milliseconds(),
		"durableCacheOn": s.durable != nil,
		"fullPageCap":    s.fullPageCap,
		"incrementalCap": s.incrementalPageCap,
	}
	keys, err := s.snapshots.Keys(ctx)
	if err != nil {
		s.logger.Warn(ctx, "listing snapshots failed", logger.Error(err))
		keys = []string{}
	}
	stats["snapshots"] = keys
	return stats
}
