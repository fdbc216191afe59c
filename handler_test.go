package entrysync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jarPath = Path{Storage: "s1", Repository: "r1", Name: "group/artifact-1.0.jar"}

const jarKey = "s1/r1/group/artifact-1.0.jar"

type fixture struct {
	locker  *memLocker
	sink    *memSink
	store   *memStore
	evictor *memEvictor
	hooks   *recHooks
	log     *recLogger
}

func newFixture(conflicts int) *fixture {
	return &fixture{
		locker:  newMemLocker(),
		sink:    &memSink{},
		store:   &memStore{conflicts: conflicts},
		evictor: &memEvictor{},
		hooks:   &recHooks{},
		log:     &recLogger{},
	}
}

func (f *fixture) options() Options {
	return Options{
		Locker:     f.locker,
		Sink:       f.sink,
		Store:      f.store,
		Evictor:    f.evictor,
		RetryDelay: time.Millisecond,
		Logger:     f.log,
		Hooks:      f.hooks,
	}
}

func storedProducer() Producer {
	return ProducerFunc(func(_ context.Context, p Path) (Record, error) {
		return Record{StorageID: p.Storage, RepositoryID: p.Repository, ArtifactPath: p.Name, Size: 42}, nil
	})
}

func newTestHandler(t *testing.T, f *fixture, p Producer, mutate func(*Options)) *Handler {
	t.Helper()
	opts := f.options()
	if mutate != nil {
		mutate(&opts)
	}
	h, err := NewHandler("stored", ArtifactStored, p, opts)
	require.NoError(t, err)
	return h
}

func stored(p Path) Event { return Event{Kind: ArtifactStored, Path: p} }

func TestHandleFirstAttemptSuccess(t *testing.T) {
	f := newFixture(0)
	h := newTestHandler(t, f, storedProducer(), nil)

	require.NoError(t, h.Handle(context.Background(), stored(jarPath)))

	assert.Equal(t, 1, f.store.savedCount())
	assert.Empty(t, f.evictor.evictions())
	assert.EqualValues(t, 1, f.sink.commits.Load())
	assert.Equal(t, []int{1}, f.hooks.succeeded)
	assert.Zero(t, f.locker.held())
}

func TestHandleConflictsThenSuccess(t *testing.T) {
	f := newFixture(3)
	h := newTestHandler(t, f, storedProducer(), nil)

	require.NoError(t, h.Handle(context.Background(), stored(jarPath)))

	want := []eviction{
		{DefaultRegion, jarKey},
		{DefaultRegion, jarKey},
		{DefaultRegion, jarKey},
	}
	assert.Equal(t, want, f.evictor.evictions())
	assert.Equal(t, 1, f.store.savedCount())
	assert.EqualValues(t, 3, f.sink.rollbacks.Load())
	assert.Equal(t, []int{1, 2, 3}, f.hooks.conflicts)
	assert.Equal(t, []int{4}, f.hooks.succeeded)
	assert.Empty(t, f.hooks.failures())
}

func TestHandleIgnoresOtherKinds(t *testing.T) {
	f := newFixture(0)
	h := newTestHandler(t, f, storedProducer(), nil)

	require.NoError(t, h.Handle(context.Background(), Event{Kind: ArtifactDownloaded, Path: jarPath}))

	assert.Zero(t, f.locker.acquired.Load())
	assert.Zero(t, f.sink.runs.Load())
	assert.Empty(t, f.evictor.evictions())
	assert.Equal(t, 1, f.hooks.ignored)
}

func TestHandleIgnoresNonArtifactPaths(t *testing.T) {
	f := newFixture(0)
	h := newTestHandler(t, f, storedProducer(), nil)

	for _, name := range []string{"group/artifact-1.0.jar.sha1", "group/maven-metadata.xml", "group/", ".trash/a.jar"} {
		p := jarPath
		p.Name = name
		require.NoError(t, h.Handle(context.Background(), stored(p)))
	}

	assert.Zero(t, f.locker.acquired.Load())
	assert.Zero(t, f.sink.runs.Load())
	assert.Empty(t, f.evictor.evictions())
}

func TestRetryEvictionCoupling(t *testing.T) {
	for k := 0; k < DefaultMaxAttempts; k++ {
		t.Run(fmt.Sprintf("conflicts=%d", k), func(t *testing.T) {
			f := newFixture(k)
			h := newTestHandler(t, f, storedProducer(), nil)

			require.NoError(t, h.Handle(context.Background(), stored(jarPath)))

			assert.Len(t, f.evictor.evictions(), k)
			assert.Equal(t, 1, f.store.savedCount())
			assert.Equal(t, k+1, f.store.callCount())
		})
	}
}

func TestHandleExhaustion(t *testing.T) {
	f := newFixture(-1)
	h := newTestHandler(t, f, storedProducer(), nil)

	// the failure stays inside the handler
	require.NoError(t, h.Handle(context.Background(), stored(jarPath)))

	assert.Len(t, f.evictor.evictions(), DefaultMaxAttempts-1)
	assert.Equal(t, DefaultMaxAttempts, f.store.callCount())
	assert.Zero(t, f.store.savedCount())
	assert.Zero(t, f.locker.held())

	fails := f.hooks.failures()
	require.Len(t, fails, 1)
	assert.Equal(t, KindConflict, fails[0].kind)
	assert.Equal(t, DefaultMaxAttempts, fails[0].attempts)
	var ex *ExhaustedError
	require.ErrorAs(t, fails[0].err, &ex)
	assert.Equal(t, DefaultMaxAttempts, ex.Attempts)
	assert.ErrorIs(t, fails[0].err, ErrConflict)
	assert.Equal(t, 1, f.log.errorCount())
}

func TestHandleProducerFailureShortCircuits(t *testing.T) {
	f := newFixture(0)
	ioErr := errors.New("read group/artifact-1.0.jar: no such file")
	p := ProducerFunc(func(context.Context, Path) (Record, error) { return Record{}, ioErr })
	h := newTestHandler(t, f, p, nil)

	require.NoError(t, h.Handle(context.Background(), stored(jarPath)))

	assert.EqualValues(t, 1, f.sink.runs.Load())
	assert.EqualValues(t, 1, f.sink.rollbacks.Load())
	assert.Zero(t, f.store.callCount())
	assert.Empty(t, f.evictor.evictions())
	assert.Zero(t, f.locker.held())

	fails := f.hooks.failures()
	require.Len(t, fails, 1)
	assert.Equal(t, KindIO, fails[0].kind)
	assert.Equal(t, 1, fails[0].attempts)
	assert.ErrorIs(t, fails[0].err, ioErr)
}

func TestHandleUnexpectedErrorIsNotRetried(t *testing.T) {
	f := newFixture(0)
	boom := errors.New("boom")
	h := newTestHandler(t, f, storedProducer(), func(o *Options) {
		o.Store = storeFunc(func(context.Context, Record) (Record, error) { return Record{}, boom })
	})

	require.NoError(t, h.Handle(context.Background(), stored(jarPath)))

	assert.EqualValues(t, 1, f.sink.runs.Load())
	assert.Empty(t, f.evictor.evictions())
	fails := f.hooks.failures()
	require.Len(t, fails, 1)
	assert.Equal(t, KindOther, fails[0].kind)
}

func TestHandlePanicIsSwallowed(t *testing.T) {
	f := newFixture(0)
	p := ProducerFunc(func(context.Context, Path) (Record, error) { panic("producer bug") })
	h := newTestHandler(t, f, p, nil)

	require.NoError(t, h.Handle(context.Background(), stored(jarPath)))

	assert.Zero(t, f.locker.held())
	fails := f.hooks.failures()
	require.Len(t, fails, 1)
	assert.Equal(t, KindOther, fails[0].kind)
}

func TestHandleInterruptedDuringDelay(t *testing.T) {
	f := newFixture(-1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.hooks.onConflict = func(int) { cancel() }

	h := newTestHandler(t, f, storedProducer(), func(o *Options) { o.RetryDelay = time.Hour })

	err := h.Handle(ctx, stored(jarPath))
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 1, f.store.callCount())
	assert.Zero(t, f.locker.held())
	fails := f.hooks.failures()
	require.Len(t, fails, 1)
	assert.Equal(t, KindInterrupted, fails[0].kind)
}

func TestHandleInterruptedWhileWaitingForLock(t *testing.T) {
	f := newFixture(0)
	h := newTestHandler(t, f, storedProducer(), nil)

	lease, err := f.locker.Acquire(context.Background(), ResourceKey(jarPath, DefaultLockTag), ModeWrite)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = h.Handle(ctx, stored(jarPath))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, f.sink.runs.Load())

	require.NoError(t, lease.Release(context.Background()))
	assert.Zero(t, f.locker.held())
}

func TestHandleReleasesLockOnEveryPath(t *testing.T) {
	cases := map[string]struct {
		conflicts int
		producer  Producer
	}{
		"success":    {0, storedProducer()},
		"exhaustion": {-1, storedProducer()},
		"io": {0, ProducerFunc(func(context.Context, Path) (Record, error) {
			return Record{}, errors.New("gone")
		})},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(tc.conflicts)
			h := newTestHandler(t, f, tc.producer, nil)
			require.NoError(t, h.Handle(context.Background(), stored(jarPath)))
			assert.EqualValues(t, 1, f.locker.acquired.Load())
			assert.Zero(t, f.locker.held())
		})
	}
}

func TestHandleMutualExclusion(t *testing.T) {
	f := newFixture(0)
	p := ProducerFunc(func(_ context.Context, p Path) (Record, error) {
		time.Sleep(2 * time.Millisecond)
		return Record{StorageID: p.Storage, RepositoryID: p.Repository, ArtifactPath: p.Name}, nil
	})
	h := newTestHandler(t, f, p, nil)

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			assert.NoError(t, h.Handle(context.Background(), stored(jarPath)))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.locker.maxInside())
	assert.Equal(t, n, f.store.savedCount())
	assert.Zero(t, f.locker.held())
}

type ctxKey struct{}

func TestEpisodeDoesNotInheritCallerValues(t *testing.T) {
	f := newFixture(0)
	var seen any = "unset"
	p := ProducerFunc(func(ctx context.Context, p Path) (Record, error) {
		seen = ctx.Value(ctxKey{})
		return Record{StorageID: p.Storage, RepositoryID: p.Repository, ArtifactPath: p.Name}, nil
	})
	h := newTestHandler(t, f, p, nil)

	ctx := context.WithValue(context.Background(), ctxKey{}, "outer-tx")
	require.NoError(t, h.Handle(ctx, stored(jarPath)))
	assert.Nil(t, seen)
}

func TestEvictionUsesResolvedRecord(t *testing.T) {
	f := newFixture(1)
	h := newTestHandler(t, f, storedProducer(), func(o *Options) {
		o.Resolver = resolverFunc(func(_ context.Context, p Path) (Record, error) {
			return Record{StorageID: "s1", RepositoryID: "r1", ArtifactPath: "group/Artifact-1.0.jar"}, nil
		})
	})

	require.NoError(t, h.Handle(context.Background(), stored(jarPath)))
	assert.Equal(t, []eviction{{DefaultRegion, "s1/r1/group/Artifact-1.0.jar"}}, f.evictor.evictions())
}

func TestEvictionFallsBackToPathWhenUnresolved(t *testing.T) {
	for name, rerr := range map[string]error{"not found": ErrNotFound, "lookup failed": errors.New("db down")} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(1)
			h := newTestHandler(t, f, storedProducer(), func(o *Options) {
				o.Resolver = resolverFunc(func(context.Context, Path) (Record, error) { return Record{}, rerr })
			})
			require.NoError(t, h.Handle(context.Background(), stored(jarPath)))
			assert.Equal(t, []eviction{{DefaultRegion, jarKey}}, f.evictor.evictions())
		})
	}
}

func TestEvictionFailureDoesNotAbortRetry(t *testing.T) {
	f := newFixture(2)
	f.evictor.fail = errors.New("cache unavailable")
	h := newTestHandler(t, f, storedProducer(), nil)

	require.NoError(t, h.Handle(context.Background(), stored(jarPath)))
	assert.Len(t, f.evictor.evictions(), 2)
	assert.Equal(t, 1, f.store.savedCount())
}

func TestNewHandlerDefaults(t *testing.T) {
	f := newFixture(0)
	h, err := NewHandler("", ArtifactStored, storedProducer(), Options{
		Locker: f.locker, Sink: f.sink, Store: f.store, Evictor: f.evictor,
	})
	require.NoError(t, err)

	assert.Equal(t, "artifact.stored", h.Name())
	assert.Equal(t, ArtifactStored, h.Kind())
	assert.Equal(t, 10, h.maxAttempts)
	assert.Equal(t, 10*time.Millisecond, h.retryDelay)
	assert.Equal(t, "ARTIFACT_ENTRIES", h.region)
	assert.Equal(t, "ArtifactEntry", h.lockTag)
}

func TestNewHandlerValidation(t *testing.T) {
	f := newFixture(0)
	full := f.options()

	cases := map[string]func(o *Options){
		"no locker":        func(o *Options) { o.Locker = nil },
		"no sink":          func(o *Options) { o.Sink = nil },
		"no store":         func(o *Options) { o.Store = nil },
		"no evictor":       func(o *Options) { o.Evictor = nil },
		"negative retries": func(o *Options) { o.MaxAttempts = -1 },
		"negative delay":   func(o *Options) { o.RetryDelay = -time.Second },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			o := full
			mutate(&o)
			_, err := NewHandler("x", ArtifactStored, storedProducer(), o)
			assert.Error(t, err)
		})
	}

	_, err := NewHandler("x", ArtifactStored, nil, full)
	assert.ErrorIs(t, err, ErrNilProducer)
	_, err = NewHandler("x", EventKind("artifact.copied"), storedProducer(), full)
	assert.Error(t, err)
}

type storeFunc func(ctx context.Context, r Record) (Record, error)

func (f storeFunc) Save(ctx context.Context, r Record) (Record, error) { return f(ctx, r) }
