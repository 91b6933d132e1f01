// Package cache holds the range response caches: an in-process layer and
// durable layers over the document store or redis.
package cache

import (
	"context"
	"strconv"
	"strings"
)

// Layer names reported in cache metadata and metrics.
const (
	LayerMemory  = "memory"
	LayerDurable = "durable"
)

// RangeKeyPrefix prefixes every durable range entry.
const RangeKeyPrefix = "range:"

// RangeKey identifies one computed range response.
type RangeKey struct {
	TenantID    string
	Integration string
	StartMs     int64
	EndMs       int64
	Preset      string
	Compare     string
}

// String renders range:{tenant}:{integration}:{start}:{end}:{preset}:{compare}.
func (k RangeKey) String() string {
	var b strings.Builder
	b.WriteString(RangeKeyPrefix)
	b.WriteString(k.TenantID)
	b.WriteByte(':')
	b.WriteString(k.Integration)
	b.WriteByte(':')
	b.WriteString(strconv.FormatInt(k.StartMs, 10))
	b.WriteByte(':')
	b.WriteString(strconv.FormatInt(k.EndMs, 10))
	b.WriteByte(':')
	b.WriteString(k.Preset)
	b.WriteByte(':')
	b.WriteString(k.Compare)
	return b.String()
}

// Entry is a cached payload and the time it was written.
type Entry struct {
	Payload     []byte `json:"payload"`
	CachedAtMs  int64  `json:"cachedAtMs"`
	ExpiresAtMs int64  `json:"expiresAtMs"`
}

// RangeCache stores encoded range responses with a TTL.
type RangeCache interface {
	// Get returns the live entry for key, or ok=false on a miss.
	Get(ctx context.Context, key RangeKey) (entry Entry, ok bool, err error)
	Put(ctx context.Context, key RangeKey, payload []byte) error
}
