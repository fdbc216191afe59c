package sloghooks

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/unkn0wn-root/entrysync"
)

func newBuf() (*bytes.Buffer, *slog.Logger) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return &buf, l
}

func TestEpisodeFailedLogsKind(t *testing.T) {
	buf, l := newBuf()
	h := New(l, Options{})

	h.EpisodeFailed("stored", "ArtifactEntry:s1/r1/a.jar", 10, entrysync.KindConflict,
		&entrysync.ExhaustedError{Attempts: 10, Err: entrysync.ErrConflict})

	out := buf.String()
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "kind=conflict")
	assert.Contains(t, out, "attempts=10")
}

func TestInterruptedIsWarn(t *testing.T) {
	buf, l := newBuf()
	New(l, Options{}).EpisodeFailed("stored", "k", 1, entrysync.KindInterrupted, context.Canceled)
	assert.Contains(t, buf.String(), "level=WARN")
}

func TestConflictSampling(t *testing.T) {
	buf, l := newBuf()
	h := New(l, Options{ConflictEvery: 3})
	for i := 1; i <= 9; i++ {
		h.AttemptConflict("stored", "k", i)
	}
	assert.Equal(t, 3, strings.Count(buf.String(), "entrysync.attempt_conflict"))
}

func TestRedactSHA(t *testing.T) {
	buf, l := newBuf()
	h := New(l, Options{RedactSHA: true})
	h.CacheEvicted("s1/r1/secret.jar", errors.New("down"))
	assert.NotContains(t, buf.String(), "secret.jar")
	assert.Contains(t, buf.String(), "entrysync.evict_failed")
}

func TestFirstAttemptSuccessIsQuiet(t *testing.T) {
	buf, l := newBuf()
	New(l, Options{}).EpisodeSucceeded("stored", "k", 1, 0)
	assert.Empty(t, buf.String())
}
