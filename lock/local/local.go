// Package local provides an in-process read/write Locker keyed by string.
// Use it when a single process writes to the catalog; use lock/redis when
// several replicas can race on the same artifact.
package local

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/unkn0wn-root/entrysync"
)

// maxReaders bounds concurrent read leases per key. A write lease takes the
// whole weight.
const maxReaders = 1 << 20

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// Locker hands out per-key leases. Waiters are served in arrival order, so a
// waiting writer is not starved by a stream of readers. Not reentrant.
type Locker struct {
	mu   sync.Mutex
	keys map[string]*entry
}

var _ entrysync.Locker = (*Locker)(nil)

func New() *Locker {
	return &Locker{keys: make(map[string]*entry)}
}

func weight(m entrysync.Mode) int64 {
	if m == entrysync.ModeWrite {
		return maxReaders
	}
	return 1
}

func (l *Locker) Acquire(ctx context.Context, key string, mode entrysync.Mode) (entrysync.Lease, error) {
	l.mu.Lock()
	e, ok := l.keys[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(maxReaders)}
		l.keys[key] = e
	}
	e.refs++
	l.mu.Unlock()

	w := weight(mode)
	if err := e.sem.Acquire(ctx, w); err != nil {
		l.unref(key, e)
		return nil, err
	}
	return &lease{l: l, key: key, e: e, w: w}, nil
}

// unref drops the table entry once nobody holds or waits for it.
func (l *Locker) unref(key string, e *entry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.keys, key)
	}
	l.mu.Unlock()
}

// Len reports how many keys are currently held or awaited.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

type lease struct {
	l    *Locker
	key  string
	e    *entry
	w    int64
	once sync.Once
}

func (ls *lease) Release(context.Context) error {
	ls.once.Do(func() {
		ls.e.sem.Release(ls.w)
		ls.l.unref(ls.key, ls.e)
	})
	return nil
}
