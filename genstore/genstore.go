// Package genstore keeps a generation counter per cache key. The client bumps
// a key's generation whenever its group is evicted; fetch and mutator results
// are tagged with the generation they started under and dropped on mismatch,
// so work started for an evicted group never lands in a recreated one.
package genstore

import (
	"context"
	"time"
)

// GenStore abstracts where generations live.
type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, key string) (uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, key string) (uint64, error)
	// Cleanup prunes generations not bumped within retention.
	Cleanup(retention time.Duration)
	// Close releases resources. Safe to call more than once.
	Close(context.Context) error
}
