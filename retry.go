package entrysync

import (
	"context"
	"fmt"
	"time"
)

// runWithRetry saves the entry for p, retrying up to maxAttempts times on
// concurrent modification. Between attempts the cached entry is evicted so
// the next attempt reads current state, then retryDelay elapses. The last
// conflict is returned as is: no eviction, no delay. Any other error ends
// the loop at once. It returns the number of attempts made.
func (h *Handler) runWithRetry(ctx context.Context, p Path, key string) (int, error) {
	for i := 1; ; i++ {
		err := h.saveAtomic(ctx, p)
		if err == nil {
			return i, nil
		}
		if Classify(err) != KindConflict {
			return i, err
		}

		h.log.Debug(fmt.Sprintf("retry event [%s] for path [%s]", h.name, p), Fields{"attempt": i})
		h.hooks.AttemptConflict(h.name, key, i)
		if i >= h.maxAttempts {
			return i, &ExhaustedError{Attempts: i, Err: err}
		}

		h.evict(ctx, p)
		if err := sleep(ctx, h.retryDelay); err != nil {
			return i, err
		}
	}
}

func (h *Handler) evict(ctx context.Context, p Path) {
	key := h.cacheKey(ctx, p)
	err := h.evictor.Evict(ctx, h.region, key)
	if err != nil {
		h.log.Warn("cache eviction failed", Fields{"region": h.region, "key": key, "err": err})
	}
	h.hooks.CacheEvicted(key, err)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
