package sloghooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/entrysync"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	ConflictEvery uint64
	IgnoredEvery  uint64
	// Optional key redactor. Defaults to identity; set RedactSHA to hash keys.
	Redact    func(string) string
	RedactSHA bool
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	conflictCtr atomic.Uint64
	ignoredCtr  atomic.Uint64
}

var _ entrysync.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	if !h.opts.RedactSHA {
		return k
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) EventIgnored(kind entrysync.EventKind, path string) {
	if h.l == nil || !sample(h.opts.IgnoredEvery, &h.ignoredCtr) {
		return
	}
	h.l.Debug("entrysync.event_ignored",
		"kind", string(kind),
		"path", h.redact(path))
}

func (h *Hooks) AttemptConflict(handler, key string, attempt int) {
	if h.l == nil || !sample(h.opts.ConflictEvery, &h.conflictCtr) {
		return
	}
	h.l.Debug("entrysync.attempt_conflict",
		"handler", handler,
		"key", h.redact(key),
		"attempt", attempt)
}

func (h *Hooks) CacheEvicted(key string, err error) {
	if h.l == nil {
		return
	}
	if err != nil {
		h.l.Warn("entrysync.evict_failed",
			"key", h.redact(key),
			"err", err)
		return
	}
	h.l.Debug("entrysync.evicted", "key", h.redact(key))
}

func (h *Hooks) EpisodeSucceeded(handler, key string, attempts int, d time.Duration) {
	if h.l == nil || attempts <= 1 {
		return
	}
	h.l.Info("entrysync.converged_after_retry",
		"handler", handler,
		"key", h.redact(key),
		"attempts", attempts,
		"took", d)
}

func (h *Hooks) EpisodeFailed(handler, key string, attempts int, kind entrysync.ErrorKind, err error) {
	if h.l == nil {
		return
	}
	level := slog.LevelError
	if kind == entrysync.KindInterrupted {
		level = slog.LevelWarn
	}
	h.l.Log(context.Background(), level, "entrysync.episode_failed",
		"handler", handler,
		"key", h.redact(key),
		"attempts", attempts,
		"kind", kind.String(),
		"err", err)
}
