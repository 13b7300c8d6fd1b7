// Package cache provides the content-addressed artifact cache.
//
// Keys are request fingerprints (see internal/synth): identical normalized
// requests map to identical keys, so one synthesized artifact serves every
// caller that asks for the same thing. Two backends exist — an in-process
// LRU with TTL (mandatory) and a Redis-backed store for multi-instance
// deployments. Both deduplicate concurrent computes for the same key via
// singleflight, and both treat backend failure as a miss: caching is an
// optimization, never a correctness dependency.
package cache

import (
	"context"

	"github.com/ttskit/ttskit/pkg/types"
)

// Cache is the port consumed by the orchestrator and the admin surfaces.
type Cache interface {
	// Get returns the artifact stored under fp, if present and fresh.
	Get(ctx context.Context, fp string) (types.AudioArtifact, bool)

	// Put stores art under fp, subject to the backend's TTL and size
	// budget. Failures are logged, not returned.
	Put(ctx context.Context, fp string, art types.AudioArtifact)

	// GetOrCompute returns the cached artifact for fp, or runs compute
	// exactly once while concurrent callers for the same fp wait and
	// share the result (or the error). It does not move the hit/miss
	// counters; only Get does.
	GetOrCompute(ctx context.Context, fp string, compute func(ctx context.Context) (types.AudioArtifact, error)) (types.AudioArtifact, error)

	// Clear drops every entry owned by this cache.
	Clear(ctx context.Context) error

	// Stats reports counters since process start.
	Stats() Stats
}

// Stats are the cache counters exposed to the metrics collector and the
// admin commands.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Entries   int    `json:"entries"`
	SizeBytes int64  `json:"size_bytes"`
	Evictions uint64 `json:"evictions"`

	// HitRate is Hits / (Hits + Misses), 0 when no lookups happened.
	HitRate float64 `json:"hit_rate"`
}

func hitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
