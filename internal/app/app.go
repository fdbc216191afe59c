// Package app assembles an entrysync process from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	stdslog "log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/entrysync"
	"github.com/unkn0wn-root/entrysync/codec"
	"github.com/unkn0wn-root/entrysync/entrycache"
	"github.com/unkn0wn-root/entrysync/genstore"
	asynchook "github.com/unkn0wn-root/entrysync/hooks/async"
	promhooks "github.com/unkn0wn-root/entrysync/hooks/prom"
	"github.com/unkn0wn-root/entrysync/internal/config"
	"github.com/unkn0wn-root/entrysync/isolate"
	locallock "github.com/unkn0wn-root/entrysync/lock/local"
	redislock "github.com/unkn0wn-root/entrysync/lock/redis"
	logrusadapter "github.com/unkn0wn-root/entrysync/log/logrus"
	slogadapter "github.com/unkn0wn-root/entrysync/log/slog"
	zapadapter "github.com/unkn0wn-root/entrysync/log/zap"
	"github.com/unkn0wn-root/entrysync/producer"
	"github.com/unkn0wn-root/entrysync/provider"
	bigcacheprovider "github.com/unkn0wn-root/entrysync/provider/bigcache"
	redisprovider "github.com/unkn0wn-root/entrysync/provider/redis"
	ristrettoprovider "github.com/unkn0wn-root/entrysync/provider/ristretto"
	"github.com/unkn0wn-root/entrysync/sloghooks"
	"github.com/unkn0wn-root/entrysync/store/natskv"
	"github.com/unkn0wn-root/entrysync/store/sqlite"
)

// EntryStore is what the handlers need from the metadata store.
type EntryStore interface {
	entrysync.Store
	entrysync.Resolver
	entrysync.TxSink
	Delete(ctx context.Context, p entrysync.Path) error
}

type App struct {
	Config     config.Config
	Log        entrysync.Logger
	Dispatcher *entrysync.Dispatcher
	Handlers   []*entrysync.Handler
	Cache      *entrycache.Manager[entrysync.Record]
	Entries    entrycache.Resolver
	Store      EntryStore
	Registry   *prometheus.Registry

	forget entrycache.Coherent

	rdb goredis.UniversalClient

	ncOnce sync.Once
	nc     *nats.Conn
	ncErr  error

	closers []func(context.Context) error
}

// Build wires every component named by cfg. On error, whatever was already
// opened is closed again.
func Build(ctx context.Context, cfg config.Config) (_ *App, err error) {
	a := &App{Config: cfg, Registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	if a.Log, err = newLogger(cfg.Log); err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	hooks, err := a.newHooks()
	if err != nil {
		return nil, fmt.Errorf("hooks: %w", err)
	}
	locker, err := a.newLocker()
	if err != nil {
		return nil, fmt.Errorf("lock: %w", err)
	}
	if a.Cache, err = a.newCache(ctx); err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	if a.Store, err = a.newStore(ctx); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	region := a.Cache.Region(entrysync.DefaultRegion)
	a.Entries = entrycache.Resolver{Cache: region, Source: a.Store}
	a.forget = entrycache.Coherent{Deleter: a.Store, Sink: a.Store, Cache: region}

	exec := a.newExecutor()
	layout := producer.Layout(cfg.Storages)
	a.Dispatcher = entrysync.NewDispatcher(a.Log)
	for _, k := range cfg.Handlers {
		kind := entrysync.EventKind(k)
		p := producer.ByKind(kind, layout, a.Entries, nil)
		if p == nil {
			return nil, fmt.Errorf("no producer for %q", k)
		}
		h, err := entrysync.NewHandler(strings.TrimPrefix(k, "artifact."), kind, p, entrysync.Options{
			Locker:      locker,
			Sink:        a.Store,
			Store:       a.Store,
			Evictor:     a.Cache,
			Resolver:    a.Store,
			Region:      entrysync.DefaultRegion,
			MaxAttempts: cfg.Episodes.MaxAttempts,
			RetryDelay:  cfg.Episodes.RetryDelay,
			Executor:    exec,
			Logger:      a.Log,
			Hooks:       hooks,
		})
		if err != nil {
			return nil, fmt.Errorf("handler %s: %w", k, err)
		}
		a.Handlers = append(a.Handlers, h)
		a.Dispatcher.Register(h)
	}
	return a, nil
}

func (a *App) onClose(f func(context.Context) error) { a.closers = append(a.closers, f) }

// Close releases components in reverse order of construction.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Lookup reads the entry of p through the entry cache.
func (a *App) Lookup(ctx context.Context, p entrysync.Path) (entrysync.Record, error) {
	return a.Entries.Resolve(ctx, p.Clean())
}

// Forget deletes the entry of p; its cached copy is dropped once the delete
// commits. A cached copy of an already missing entry is evicted as well.
func (a *App) Forget(ctx context.Context, p entrysync.Path) error {
	p = p.Clean()
	err := a.forget.RunAtomic(ctx, func(ctx context.Context) error {
		return a.forget.Delete(ctx, p)
	})
	if errors.Is(err, entrysync.ErrNotFound) {
		return a.Cache.Evict(ctx, entrysync.DefaultRegion, p.String())
	}
	return err
}

// NATS returns the shared connection, dialling it on first use.
func (a *App) NATS() (*nats.Conn, error) {
	a.ncOnce.Do(func() {
		a.nc, a.ncErr = nats.Connect(a.Config.NATS.URL, nats.Name("entrysync"))
		if a.ncErr == nil {
			a.onClose(func(context.Context) error { return a.nc.Drain() })
		}
	})
	return a.nc, a.ncErr
}

func newLogger(c config.Log) (entrysync.Logger, error) {
	switch c.Backend {
	case "zap":
		return zapadapter.New(c.Level)
	case "logrus":
		return logrusadapter.New(c.Level)
	case "slog":
		return slogadapter.New(c.Level)
	case "none", "":
		return entrysync.NopLogger{}, nil
	}
	return nil, fmt.Errorf("unknown backend %q", c.Backend)
}

// newHooks feeds metrics and, optionally, slog through one async queue so
// episodes never wait on them.
func (a *App) newHooks() (entrysync.Hooks, error) {
	ph, err := promhooks.New(a.Registry, a.Config.Metrics.Namespace)
	if err != nil {
		return nil, err
	}
	hs := entrysync.MultiHooks{ph}
	if a.Config.Log.Hooks {
		l := stdslog.New(stdslog.NewJSONHandler(os.Stderr, nil))
		hs = append(hs, sloghooks.New(l, sloghooks.Options{ConflictEvery: 1, IgnoredEvery: 100}))
	}
	ah := asynchook.New(hs, 1, 1024)
	a.onClose(func(context.Context) error {
		ah.Close()
		return nil
	})
	return ah, nil
}

func (a *App) redis() goredis.UniversalClient {
	if a.rdb == nil {
		c := a.Config.Redis
		a.rdb = goredis.NewClient(&goredis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB})
		a.onClose(func(context.Context) error { return a.rdb.Close() })
	}
	return a.rdb
}

func (a *App) newLocker() (entrysync.Locker, error) {
	c := a.Config.Lock
	if c.Kind == "redis" {
		return redislock.New(redislock.Config{Client: a.redis(), TTL: c.TTL, Poll: c.Poll})
	}
	return locallock.New(), nil
}

func (a *App) newCache(ctx context.Context) (*entrycache.Manager[entrysync.Record], error) {
	c := a.Config.Cache

	var (
		p   provider.Provider
		err error
	)
	switch c.Provider {
	case "redis":
		p, err = redisprovider.New(redisprovider.Config{Client: a.redis(), Namespace: "entrysync"})
	case "bigcache":
		life := c.TTL
		if life <= 0 {
			life = 10 * time.Minute
		}
		p, err = bigcacheprovider.New(ctx, bigcacheprovider.Config{LifeWindow: life, HardMaxCacheSizeMB: c.SizeMB})
	default:
		p, err = ristrettoprovider.New(ristrettoprovider.Config{
			NumCounters: 1e6,
			MaxCost:     c.MaxCost,
			BufferItems: 64,
			Sync:        true,
		})
	}
	if err != nil {
		return nil, err
	}

	var gens genstore.Generations
	if c.Generations == "redis" {
		gens = genstore.NewRedis(a.redis(), "entrysync", 24*time.Hour)
	} else {
		gens = genstore.NewLocal(time.Hour, 24*time.Hour)
	}

	cd, err := codec.ByName[entrysync.Record](c.Codec, c.MaxDecode)
	if err != nil {
		_ = p.Close(ctx)
		_ = gens.Close(ctx)
		return nil, err
	}
	m, err := entrycache.New(entrycache.Options[entrysync.Record]{
		Provider: p,
		Codec:    cd,
		Gens:     gens,
		TTL:      c.TTL,
		Logger:   a.Log,
	})
	if err != nil {
		return nil, err
	}
	a.onClose(m.Close)
	return m, nil
}

func (a *App) newStore(ctx context.Context) (EntryStore, error) {
	c := a.Config.Store
	if c.Kind == "natskv" {
		nc, err := a.NATS()
		if err != nil {
			return nil, err
		}
		js, err := jetstream.New(nc)
		if err != nil {
			return nil, err
		}
		cd, err := codec.ByName[entrysync.Record](a.Config.Cache.Codec, 0)
		if err != nil {
			return nil, err
		}
		return natskv.Open(ctx, js, natskv.Options{Bucket: c.Bucket, Codec: cd})
	}
	s, err := sqlite.Open(c.Path)
	if err != nil {
		return nil, err
	}
	a.onClose(func(context.Context) error { return s.Close() })
	return s, nil
}

func (a *App) newExecutor() entrysync.Executor {
	e := a.Config.Episodes
	if e.Workers <= 0 {
		return isolate.Spawn{}
	}
	p := isolate.NewPool(e.Workers, e.Queue)
	a.onClose(func(context.Context) error {
		p.Close()
		return nil
	})
	return p
}
