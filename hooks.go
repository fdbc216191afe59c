package entrysync

import "time"

// Hooks are lightweight callbacks for high-signal episode events.
// Implementations MUST be cheap and non-blocking; they run inside episodes
// while the resource lock is held.
type Hooks interface {
	// An event did not pass the gate of a handler.
	EventIgnored(kind EventKind, path string)

	// Attempt n of an episode conflicted.
	AttemptConflict(handler, key string, attempt int)

	// A cache entry was evicted after a conflict. err is the eviction
	// failure, if any; the episode continues either way.
	CacheEvicted(key string, err error)

	EpisodeSucceeded(handler, key string, attempts int, d time.Duration)

	// The episode ended in failure. The caller never sees it; this hook
	// and the error log are the only signal.
	EpisodeFailed(handler, key string, attempts int, kind ErrorKind, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) EventIgnored(EventKind, string)                      {}
func (NopHooks) AttemptConflict(string, string, int)                 {}
func (NopHooks) CacheEvicted(string, error)                          {}
func (NopHooks) EpisodeSucceeded(string, string, int, time.Duration) {}
func (NopHooks) EpisodeFailed(string, string, int, ErrorKind, error) {}

// MultiHooks fans every callback out to each of its members in order.
type MultiHooks []Hooks

func (m MultiHooks) EventIgnored(kind EventKind, path string) {
	for _, h := range m {
		h.EventIgnored(kind, path)
	}
}

func (m MultiHooks) AttemptConflict(handler, key string, attempt int) {
	for _, h := range m {
		h.AttemptConflict(handler, key, attempt)
	}
}

func (m MultiHooks) CacheEvicted(key string, err error) {
	for _, h := range m {
		h.CacheEvicted(key, err)
	}
}

func (m MultiHooks) EpisodeSucceeded(handler, key string, attempts int, d time.Duration) {
	for _, h := range m {
		h.EpisodeSucceeded(handler, key, attempts, d)
	}
}

func (m MultiHooks) EpisodeFailed(handler, key string, attempts int, kind ErrorKind, err error) {
	for _, h := range m {
		h.EpisodeFailed(handler, key, attempts, kind, err)
	}
}
