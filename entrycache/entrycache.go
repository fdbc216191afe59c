// Package entrycache is the secondary cache of catalog entries. Values are
// grouped in named regions and stored through a provider.Provider, framed
// with the generation they were written under. Invalidate bumps the
// generation before deleting, so a loader that read the database before an
// eviction cannot write its stale value back (SetWithGen compares the
// generation it observed first).
package entrycache

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/entrysync"
	"github.com/unkn0wn-root/entrysync/codec"
	"github.com/unkn0wn-root/entrysync/genstore"
	"github.com/unkn0wn-root/entrysync/internal/util"
	"github.com/unkn0wn-root/entrysync/internal/wire"
	"github.com/unkn0wn-root/entrysync/provider"
)

var ErrNilProvider = errors.New("entrycache: provider is required")

type Options[V any] struct {
	Provider provider.Provider // required
	Codec    codec.Codec[V]    // nil => codec.JSON
	Gens     genstore.Generations
	TTL      time.Duration // per entry; 0 => no expiry
	Logger   entrysync.Logger

	// ComputeCost returns the provider cost of a framed value.
	// nil => len(frame).
	ComputeCost func(key string, frame []byte) int64
}

// Manager owns the provider and hands out regions sharing it. It satisfies
// entrysync.Evictor.
type Manager[V any] struct {
	p     provider.Provider
	codec codec.Codec[V]
	gens  genstore.Generations
	ttl   time.Duration
	log   entrysync.Logger
	cost  func(string, []byte) int64

	mu      sync.Mutex
	regions map[string]*Cache[V]
	sf      singleflight.Group
}

var _ entrysync.Evictor = (*Manager[entrysync.Record])(nil)

func New[V any](opts Options[V]) (*Manager[V], error) {
	if opts.Provider == nil {
		return nil, ErrNilProvider
	}
	m := &Manager[V]{
		p:       opts.Provider,
		codec:   opts.Codec,
		gens:    opts.Gens,
		ttl:     opts.TTL,
		log:     opts.Logger,
		cost:    opts.ComputeCost,
		regions: make(map[string]*Cache[V]),
	}
	if m.codec == nil {
		m.codec = codec.JSON[V]{}
	}
	if m.gens == nil {
		m.gens = genstore.NewLocal(0, 0)
	}
	if m.log == nil {
		m.log = entrysync.NopLogger{}
	}
	if m.cost == nil {
		m.cost = func(_ string, b []byte) int64 { return int64(len(b)) }
	}
	return m, nil
}

// Region returns the cache of region name, creating it on first use.
func (m *Manager[V]) Region(name string) *Cache[V] {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.regions[name]
	if !ok {
		c = &Cache[V]{m: m, region: name}
		m.regions[name] = c
	}
	return c
}

// Evict invalidates key in region. Evicting an absent key succeeds.
func (m *Manager[V]) Evict(ctx context.Context, region, key string) error {
	return m.Region(region).Invalidate(ctx, key)
}

func (m *Manager[V]) Close(ctx context.Context) error {
	return errors.Join(m.gens.Close(ctx), m.p.Close(ctx))
}

// Cache is one region of a Manager.
type Cache[V any] struct {
	m      *Manager[V]
	region string
}

func (c *Cache[V]) Name() string { return c.region }

func (c *Cache[V]) key(k string) string { return util.EntryKey(c.region, k) }

// Get returns the cached value. Corrupt, undecodable and stale frames are
// deleted and reported as a miss.
func (c *Cache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	k := c.key(key)
	raw, ok, err := c.m.p.Get(ctx, k)
	if err != nil || !ok {
		return zero, false, err
	}
	gen, payload, err := wire.Decode(raw)
	if err != nil {
		c.drop(ctx, k, "corrupt")
		return zero, false, nil
	}
	cur, err := c.m.gens.Current(ctx, k)
	if err != nil {
		return zero, false, err
	}
	if gen != cur {
		c.drop(ctx, k, "stale")
		return zero, false, nil
	}
	v, err := c.m.codec.Decode(payload)
	if err != nil {
		c.drop(ctx, k, "undecodable")
		return zero, false, nil
	}
	return v, true, nil
}

func (c *Cache[V]) drop(ctx context.Context, k, why string) {
	if err := c.m.p.Del(ctx, k); err != nil {
		c.m.log.Warn("entry cleanup failed", entrysync.Fields{"key": k, "reason": why, "err": err})
		return
	}
	c.m.log.Debug("dropped entry", entrysync.Fields{"key": k, "reason": why})
}

// SnapshotGen returns the generation a subsequent SetWithGen must observe.
// Take it before reading the source of truth.
func (c *Cache[V]) SnapshotGen(ctx context.Context, key string) (uint64, error) {
	return c.m.gens.Current(ctx, c.key(key))
}

// SetWithGen writes v unless key was invalidated after observedGen was
// taken; such writes are skipped silently.
func (c *Cache[V]) SetWithGen(ctx context.Context, key string, v V, observedGen uint64) error {
	k := c.key(key)
	cur, err := c.m.gens.Current(ctx, k)
	if err != nil {
		return err
	}
	if cur != observedGen {
		c.m.log.Debug("stale write skipped", entrysync.Fields{"key": k, "observed": observedGen, "current": cur})
		return nil
	}
	payload, err := c.m.codec.Encode(v)
	if err != nil {
		return err
	}
	frame := wire.Encode(observedGen, payload)
	ok, err := c.m.p.Set(ctx, k, frame, c.m.cost(k, frame), c.m.ttl)
	if err != nil {
		return err
	}
	if !ok {
		c.m.log.Debug("write rejected by provider", entrysync.Fields{"key": k})
	}
	return nil
}

// Invalidate bumps the generation of key and deletes its value.
func (c *Cache[V]) Invalidate(ctx context.Context, key string) error {
	k := c.key(key)
	gen, err := c.m.gens.Bump(ctx, k)
	if err != nil {
		return err
	}
	if err := c.m.p.Del(ctx, k); err != nil {
		return err
	}
	c.m.log.Debug("invalidated entry", entrysync.Fields{"key": k, "gen": gen})
	return nil
}

// GetOrLoad returns the cached value or loads, caches and returns it.
// Concurrent loads of one key are collapsed. A cache write failure is
// logged; the loaded value is still returned.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key string, load func(ctx context.Context) (V, error)) (V, error) {
	if v, ok, err := c.Get(ctx, key); err != nil {
		c.m.log.Warn("cache read failed", entrysync.Fields{"key": c.key(key), "err": err})
	} else if ok {
		return v, nil
	}

	res, err, _ := c.m.sf.Do(c.key(key), func() (any, error) {
		gen, err := c.SnapshotGen(ctx, key)
		if err != nil {
			return nil, err
		}
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.SetWithGen(ctx, key, v, gen); err != nil {
			c.m.log.Warn("cache fill failed", entrysync.Fields{"key": c.key(key), "err": err})
		}
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}
