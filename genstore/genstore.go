// Package genstore tracks per-entry generations. Evicting an entry bumps its
// generation; a cached value written under an older generation is stale and
// ignored by readers, which closes the window where a slow loader repopulates
// an entry that was evicted after it started reading.
package genstore

import (
	"context"
	"time"
)

// Generations is where generations live: Local for a single process, Redis
// when several replicas share a cache provider.
type Generations interface {
	// Current returns the generation of key; missing => 0.
	Current(ctx context.Context, key string) (uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, key string) (uint64, error)
	// Prune drops generations untouched for longer than retention (no-op for Redis).
	Prune(retention time.Duration)
	Close(context.Context) error
}
