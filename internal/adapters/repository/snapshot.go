package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/okian/kpisync/internal/domain/model"
	"github.com/okian/kpisync/pkg/logger"
)

// SnapshotKeyPrefix prefixes every snapshot document key.
const SnapshotKeyPrefix = "snapshot:"

// SnapshotKey returns the document key of a (tenant, location) snapshot.
func SnapshotKey(tenantID, locationID string) string {
	return SnapshotKeyPrefix + tenantID + ":" + locationID
}

// SnapshotStore reads and writes snapshots as JSON documents.
type SnapshotStore struct {
	docs   DocStore
	now    func() time.Time
	logger logger.Logger
}

// NewSnapshotStore creates a snapshot store over docs.
func NewSnapshotStore(docs DocStore, opts ...SnapshotOption) *SnapshotStore {
	s := &SnapshotStore{
		docs:   docs,
		now:    time.Now,
		logger: logger.Get().Named("snapshot-store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the stored snapshot or nil when there is none.
// A payload that does not decode is logged and treated as absent.
func (s *SnapshotStore) Load(ctx context.Context, tenantID, locationID string) (*model.Snapshot, error) {
	key := SnapshotKey(tenantID, locationID)
	payload, ok, err := s.docs.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var snap model.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		s.logger.Warn(ctx, "discarding unreadable snapshot",
			logger.String("key", key),
			logger.Error(fmt.Errorf("%w: %w", ErrSnapshotCorrupt, err)))
		return nil, nil
	}
	return &snap, nil
}

// Save stamps UpdatedAtMs and writes the snapshot.
func (s *SnapshotStore) Save(ctx context.Context, snap *model.Snapshot) error {
	if snap == nil {
		return nil
	}
	snap.UpdatedAtMs = s.now().UnixMilli()
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.docs.Put(ctx, SnapshotKey(snap.TenantID, snap.LocationID), payload); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Keys lists the stored snapshot keys without their prefix.
func (s *SnapshotStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.docs.Keys(ctx, SnapshotKeyPrefix)
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, SnapshotKeyPrefix)
	}
	return keys, nil
}
