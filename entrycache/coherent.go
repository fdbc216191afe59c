package entrycache

import (
	"context"
	"sync"

	"github.com/unkn0wn-root/entrysync"
)

// Deleter removes the stored entry of a path.
type Deleter interface {
	Delete(ctx context.Context, p entrysync.Path) error
}

// Coherent deletes entries outside of any episode and drops their cached
// copies once the unit of work commits. Episodes never go through it: their
// cache is only evicted after a conflict.
type Coherent struct {
	Deleter Deleter
	Sink    entrysync.TxSink
	Cache   *Cache[entrysync.Record]
}

var _ entrysync.TxSink = Coherent{}

type pendingKey struct{}

type pending struct {
	mu   sync.Mutex
	keys []string
}

func (c Coherent) RunAtomic(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(pendingKey{}).(*pending); ok {
		return c.Sink.RunAtomic(ctx, fn)
	}
	pd := &pending{}
	err := c.Sink.RunAtomic(context.WithValue(ctx, pendingKey{}, pd), fn)
	if err != nil {
		return err
	}
	for _, k := range pd.keys {
		c.invalidate(ctx, k)
	}
	return nil
}

// Delete removes the entry of p. Inside RunAtomic the cached copy is dropped
// after commit, otherwise right away.
func (c Coherent) Delete(ctx context.Context, p entrysync.Path) error {
	if err := c.Deleter.Delete(ctx, p); err != nil {
		return err
	}
	k := p.String()
	if pd, ok := ctx.Value(pendingKey{}).(*pending); ok {
		pd.mu.Lock()
		pd.keys = append(pd.keys, k)
		pd.mu.Unlock()
		return nil
	}
	c.invalidate(ctx, k)
	return nil
}

func (c Coherent) invalidate(ctx context.Context, key string) {
	if err := c.Cache.Invalidate(context.WithoutCancel(ctx), key); err != nil {
		c.Cache.m.log.Warn("invalidate after delete failed", entrysync.Fields{"key": key, "err": err})
	}
}
