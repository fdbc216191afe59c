package entrycache

import (
	"context"

	"github.com/unkn0wn-root/entrysync"
)

// Resolver reads entries through a cache region, loading misses from
// Source. Producers use it so a retry after eviction sees the stored entry
// instead of the cached one that caused the conflict.
type Resolver struct {
	Cache  *Cache[entrysync.Record]
	Source entrysync.Resolver
}

var _ entrysync.Resolver = Resolver{}

// Resolve returns Source's error as is; absent entries are not cached.
func (r Resolver) Resolve(ctx context.Context, p entrysync.Path) (entrysync.Record, error) {
	return r.Cache.GetOrLoad(ctx, p.String(), func(ctx context.Context) (entrysync.Record, error) {
		return r.Source.Resolve(ctx, p)
	})
}
