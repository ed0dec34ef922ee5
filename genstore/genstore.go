// Package genstore holds the per-key generation tokens qcache uses to discard
// the results of superseded fetches.
//
// A generation is bumped every time a fetch is issued, a value is written or
// an entry is removed. A fetch may only commit while the generation it was
// issued under is still current. Generations outlive cache entries, so a slow
// fetch for an evicted entry can never land in a re-created one.
package genstore

import (
	"context"
	"time"
)

// GenStore abstracts where generations live.
// Implementations must be safe for concurrent use and fast: qcache calls them
// while holding its own lock.
type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, key string) (uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, key string) (uint64, error)
	// Cleanup prunes generations not bumped within retention.
	Cleanup(retention time.Duration)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
