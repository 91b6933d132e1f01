package repository

import (
	"time"

	"github.com/okian/kpisync/pkg/logger"
)

// SnapshotOption applies a configuration option to a SnapshotStore.
type SnapshotOption func(*SnapshotStore)

// WithLogger sets the logger used to report corrupt snapshots.
func WithLogger(l logger.Logger) SnapshotOption {
	return func(s *SnapshotStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces time.Now for UpdatedAtMs stamping.
func WithClock(now func() time.Time) SnapshotOption {
	return func(s *SnapshotStore) {
		if now != nil {
			s.now = now
		}
	}
}
