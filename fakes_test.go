package entrysync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// memLocker is an exclusive keyed lock that tracks how many holders are
// inside each key at once.
type memLocker struct {
	mu       sync.Mutex
	slots    map[string]chan struct{}
	inside   map[string]int
	maxIn    int
	acquired atomic.Int64
	released atomic.Int64
}

func newMemLocker() *memLocker {
	return &memLocker{slots: make(map[string]chan struct{}), inside: make(map[string]int)}
}

func (l *memLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[key] = s
	}
	return s
}

func (l *memLocker) Acquire(ctx context.Context, key string, _ Mode) (Lease, error) {
	s := l.slot(key)
	select {
	case s <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	l.acquired.Add(1)
	l.mu.Lock()
	l.inside[key]++
	if l.inside[key] > l.maxIn {
		l.maxIn = l.inside[key]
	}
	l.mu.Unlock()
	return &memLease{l: l, key: key, slot: s}, nil
}

func (l *memLocker) held() int64 { return l.acquired.Load() - l.released.Load() }

func (l *memLocker) maxInside() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maxIn
}

type memLease struct {
	l    *memLocker
	key  string
	slot chan struct{}
}

func (ls *memLease) Release(context.Context) error {
	ls.l.mu.Lock()
	ls.l.inside[ls.key]--
	ls.l.mu.Unlock()
	ls.l.released.Add(1)
	<-ls.slot
	return nil
}

// memSink runs the unit of work and counts runs, commits and rollbacks.
type memSink struct {
	runs      atomic.Int64
	commits   atomic.Int64
	rollbacks atomic.Int64
}

func (s *memSink) RunAtomic(ctx context.Context, fn func(context.Context) error) error {
	s.runs.Add(1)
	if err := fn(ctx); err != nil {
		s.rollbacks.Add(1)
		return err
	}
	s.commits.Add(1)
	return nil
}

// memStore fails the first conflicts saves with ErrConflict (-1 => always).
type memStore struct {
	mu        sync.Mutex
	conflicts int
	calls     int
	saved     []Record
	onSave    func(call int)
}

func (s *memStore) Save(_ context.Context, r Record) (Record, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	fail := s.conflicts < 0 || call <= s.conflicts
	if !fail {
		r.Version++
		s.saved = append(s.saved, r)
	}
	hook := s.onSave
	s.mu.Unlock()
	if hook != nil {
		hook(call)
	}
	if fail {
		return Record{}, ErrConflict
	}
	return r, nil
}

func (s *memStore) savedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func (s *memStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type eviction struct{ region, key string }

type memEvictor struct {
	mu   sync.Mutex
	got  []eviction
	fail error
}

func (e *memEvictor) Evict(_ context.Context, region, key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.got = append(e.got, eviction{region, key})
	return e.fail
}

func (e *memEvictor) evictions() []eviction {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]eviction(nil), e.got...)
}

type resolverFunc func(ctx context.Context, p Path) (Record, error)

func (f resolverFunc) Resolve(ctx context.Context, p Path) (Record, error) { return f(ctx, p) }

type failure struct {
	handler  string
	attempts int
	kind     ErrorKind
	err      error
}

type recHooks struct {
	NopHooks
	mu         sync.Mutex
	ignored    int
	conflicts  []int
	succeeded  []int
	failed     []failure
	onConflict func(attempt int)
}

func (h *recHooks) EventIgnored(EventKind, string) {
	h.mu.Lock()
	h.ignored++
	h.mu.Unlock()
}

func (h *recHooks) AttemptConflict(_, _ string, attempt int) {
	h.mu.Lock()
	h.conflicts = append(h.conflicts, attempt)
	cb := h.onConflict
	h.mu.Unlock()
	if cb != nil {
		cb(attempt)
	}
}

func (h *recHooks) EpisodeSucceeded(_, _ string, attempts int, _ time.Duration) {
	h.mu.Lock()
	h.succeeded = append(h.succeeded, attempts)
	h.mu.Unlock()
}

func (h *recHooks) EpisodeFailed(handler, _ string, attempts int, kind ErrorKind, err error) {
	h.mu.Lock()
	h.failed = append(h.failed, failure{handler, attempts, kind, err})
	h.mu.Unlock()
}

func (h *recHooks) failures() []failure {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]failure(nil), h.failed...)
}

// recLogger keeps error-level messages.
type recLogger struct {
	NopLogger
	mu     sync.Mutex
	errors []string
}

func (l *recLogger) Error(msg string, _ Fields) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *recLogger) errorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}
