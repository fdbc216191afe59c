package entrysync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/entrysync/internal/util"
	"github.com/unkn0wn-root/entrysync/isolate"
)

var _ EventHandler = (*Handler)(nil)

// Handler keeps the catalog entry of an artifact consistent with the entry
// cache when an event of its kind arrives. Each admitted event is handled in
// an episode: an isolated unit of work holding the write lock of the
// artifact for its whole duration while the entry is produced and saved,
// retrying on concurrent modification.
type Handler struct {
	name     string
	gate     Gate
	producer Producer

	locker   Locker
	sink     TxSink
	store    Store
	evictor  Evictor
	resolver Resolver
	exec     Executor

	region      string
	lockTag     string
	maxAttempts int
	retryDelay  time.Duration

	log   Logger
	hooks Hooks
	newID func() string
}

// NewHandler builds a handler for events of kind. name labels logs and
// hooks; empty means the kind itself.
func NewHandler(name string, kind EventKind, p Producer, opts Options) (*Handler, error) {
	if p == nil {
		return nil, ErrNilProducer
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("entrysync: unknown event kind %q", kind)
	}
	if opts.Locker == nil {
		return nil, fmt.Errorf("entrysync: locker is required")
	}
	if opts.Sink == nil {
		return nil, fmt.Errorf("entrysync: transaction sink is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("entrysync: store is required")
	}
	if opts.Evictor == nil {
		return nil, fmt.Errorf("entrysync: evictor is required")
	}
	if opts.MaxAttempts < 0 {
		return nil, fmt.Errorf("entrysync: MaxAttempts cannot be negative")
	}
	if opts.RetryDelay < 0 {
		return nil, fmt.Errorf("entrysync: RetryDelay cannot be negative")
	}

	h := &Handler{
		name:     coalesce(name, string(kind)),
		gate:     Gate{Kind: kind, IsArtifact: opts.IsArtifact},
		producer: p,
		locker:   opts.Locker,
		sink:     opts.Sink,
		store:    opts.Store,
		evictor:  opts.Evictor,
		resolver: opts.Resolver,
		newID:    opts.NewID,
	}

	// defaults
	h.exec = coalesce[Executor](opts.Executor, isolate.Spawn{})
	h.log = coalesce[Logger](opts.Logger, NopLogger{})
	h.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	h.region = coalesce(opts.Region, DefaultRegion)
	h.lockTag = coalesce(opts.LockTag, DefaultLockTag)
	h.maxAttempts = coalesce(opts.MaxAttempts, DefaultMaxAttempts)
	h.retryDelay = coalesce(opts.RetryDelay, DefaultRetryDelay)
	if h.newID == nil {
		h.newID = uuid.NewString
	}

	return h, nil
}

func (h *Handler) Name() string    { return h.name }
func (h *Handler) Kind() EventKind { return h.gate.Kind }

// Handle runs one episode for ev and returns once it has finished.
//
// The episode does not inherit ctx values, so no transaction or lock scope
// of the caller is visible to it; cancellation of ctx does reach it.
// Failures of the episode are logged and reported to Hooks, never returned.
// The only error Handle returns is ctx's, when the caller was interrupted.
func (h *Handler) Handle(ctx context.Context, ev Event) error {
	if !h.gate.Admit(ev) {
		h.hooks.EventIgnored(ev.Kind, ev.Path.String())
		return nil
	}
	p := ev.Path

	epCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	id := h.newID()
	key := ResourceKey(p, h.lockTag)
	start := time.Now()

	var attempts int
	err := h.exec.Do(epCtx, func(ctx context.Context) error {
		var err error
		attempts, err = h.handleLocked(ctx, p, key)
		return err
	})
	if err == nil {
		h.hooks.EpisodeSucceeded(h.name, key, attempts, time.Since(start))
		h.log.Debug("event handled", Fields{
			"handler": h.name, "path": p.String(), "attempts": attempts, "episode": id,
		})
		return nil
	}

	kind := Classify(err)
	h.hooks.EpisodeFailed(h.name, key, attempts, kind, err)

	if ctxErr := ctx.Err(); ctxErr != nil {
		h.log.Warn(fmt.Sprintf("async event [%s] interrupted", h.name), Fields{
			"path": p.String(), "attempts": attempts, "episode": id, "err": err,
		})
		return ctxErr
	}
	h.log.Error(fmt.Sprintf("failed to handle async event [%s]", h.name), Fields{
		"path": p.String(), "attempts": attempts, "kind": kind.String(), "episode": id, "err": err,
	})
	return nil
}

func (h *Handler) handleLocked(ctx context.Context, p Path, key string) (int, error) {
	lease, err := h.locker.Acquire(ctx, key, ModeWrite)
	if err != nil {
		return 0, fmt.Errorf("lock %s: %w", key, err)
	}
	defer func() {
		// release even when ctx is already cancelled
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			h.log.Warn("lock release failed", Fields{"key": key, "err": err})
		}
	}()

	return h.runWithRetry(ctx, p, key)
}

// saveAtomic produces the entry for p and saves it in one unit of work.
func (h *Handler) saveAtomic(ctx context.Context, p Path) error {
	return h.sink.RunAtomic(ctx, func(ctx context.Context) error {
		r, err := h.producer.Produce(ctx, p)
		if err != nil {
			if Classify(err) == KindOther {
				err = &IOError{Path: p, Err: err}
			}
			return err
		}
		_, err = h.store.Save(ctx, r)
		return err
	})
}

// cacheKey resolves the entry currently stored for p. When there is none,
// the key is derived from p itself.
func (h *Handler) cacheKey(ctx context.Context, p Path) string {
	if h.resolver != nil {
		r, err := h.resolver.Resolve(ctx, p)
		if err == nil {
			return CacheKey(r)
		}
		if !errors.Is(err, ErrNotFound) {
			h.log.Warn("resolve entry for eviction failed", Fields{"path": p.String(), "err": err})
		}
	}
	return util.CacheKey(p.Storage, p.Repository, p.Name)
}
