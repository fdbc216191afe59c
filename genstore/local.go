package genstore

import (
	"context"
	"sync"
	"time"
)

type localGen struct {
	gen     uint64
	touched time.Time
}

// Local keeps generations in-process with an optional prune loop.
type Local struct {
	mu   sync.RWMutex
	gens map[string]localGen

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
	now  func() time.Time
}

var _ Generations = (*Local)(nil)

// NewLocal starts a prune loop when both interval and retention are > 0.
func NewLocal(interval, retention time.Duration) *Local {
	s := &Local{gens: make(map[string]localGen), now: time.Now}
	if interval > 0 && retention > 0 {
		s.stop = make(chan struct{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			t := time.NewTicker(interval)
			defer t.Stop()
			for {
				select {
				case <-t.C:
					s.Prune(retention)
				case <-s.stop:
					return
				}
			}
		}()
	}
	return s
}

func (s *Local) Current(_ context.Context, key string) (uint64, error) {
	s.mu.RLock()
	g := s.gens[key].gen
	s.mu.RUnlock()
	return g, nil
}

func (s *Local) Bump(_ context.Context, key string) (uint64, error) {
	now := s.now()
	s.mu.Lock()
	e := s.gens[key]
	e.gen++
	e.touched = now
	s.gens[key] = e
	s.mu.Unlock()
	return e.gen, nil
}

// Prune forgets old generations. A forgotten key reads as 0 again, so any
// entry still cached under a higher generation becomes unreadable and is
// refilled on next load.
func (s *Local) Prune(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := s.now().Add(-retention)
	s.mu.Lock()
	for k, e := range s.gens {
		if e.touched.Before(cutoff) {
			delete(s.gens, k)
		}
	}
	s.mu.Unlock()
}

func (s *Local) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.gens)
}

func (s *Local) Close(context.Context) error {
	s.once.Do(func() {
		if s.stop != nil {
			close(s.stop)
			s.wg.Wait()
		}
	})
	return nil
}
