// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/unkn0wn-root/entrysync"
//	"github.com/unkn0wn-root/entrysync/hooks/async"
//	"github.com/unkn0wn-root/entrysync/sloghooks"
//
// )
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    ConflictEvery: 10, // sample logs: ~every 10th conflict
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	h, _ := entrysync.NewHandler("stored", entrysync.ArtifactStored, producer, entrysync.Options{
//	    ...
//	    Hooks: hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/entrysync"
)

// Hooks forwards calls to inner on background workers so slow sinks never
// run under an episode's lock. Calls are dropped when their queue is full or
// once Close has been called. EpisodeFailed has a queue and worker of its
// own: a burst of ignored events cannot crowd out a failure report.
type Hooks struct {
	inner   entrysync.Hooks
	q       chan func()
	failq   chan func()
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	once    sync.Once
	dropped atomic.Uint64
}

var _ entrysync.Hooks = (*Hooks)(nil)

// New starts workers over a queue of qlen calls, plus one failure worker.
// inner must be safe for concurrent use.
func New(inner entrysync.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen), failq: make(chan func(), qlen)}
	h.wg.Add(workers + 1)
	for i := 0; i < workers; i++ {
		go h.work(h.q)
	}
	go h.work(h.failq)
	return h
}

func (h *Hooks) work(q <-chan func()) {
	defer h.wg.Done()
	for f := range q {
		f()
	}
}

// Close runs the calls already queued and waits for them. Later calls are
// dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		close(h.failq)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped reports how many calls were discarded.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(q chan<- func(), f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) EventIgnored(k entrysync.EventKind, p string) {
	h.try(h.q, func() { h.inner.EventIgnored(k, p) })
}
func (h *Hooks) AttemptConflict(name, key string, n int) {
	h.try(h.q, func() { h.inner.AttemptConflict(name, key, n) })
}
func (h *Hooks) CacheEvicted(key string, err error) {
	h.try(h.q, func() { h.inner.CacheEvicted(key, err) })
}
func (h *Hooks) EpisodeSucceeded(name, key string, n int, d time.Duration) {
	h.try(h.q, func() { h.inner.EpisodeSucceeded(name, key, n, d) })
}
func (h *Hooks) EpisodeFailed(name, key string, n int, kind entrysync.ErrorKind, err error) {
	h.try(h.failq, func() { h.inner.EpisodeFailed(name, key, n, kind, err) })
}
