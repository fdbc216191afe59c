package prom

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/entrysync"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	h, err := New(reg, "")
	require.NoError(t, err)

	h.EventIgnored(entrysync.ArtifactDeleted, "s1/r1/a.jar")
	h.AttemptConflict("stored", "k", 1)
	h.AttemptConflict("stored", "k", 2)
	h.CacheEvicted("s1/r1/a.jar", nil)
	h.CacheEvicted("s1/r1/a.jar", errors.New("down"))
	h.EpisodeSucceeded("stored", "k", 3, 5*time.Millisecond)
	h.EpisodeFailed("stored", "k", 10, entrysync.KindConflict, entrysync.ErrConflict)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.ignored.WithLabelValues("artifact.deleted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.conflicts.WithLabelValues("stored")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.evictions.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.evictions.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.episodes.WithLabelValues("stored", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.episodes.WithLabelValues("stored", "conflict")))
	assert.Equal(t, 1, testutil.CollectAndCount(h.duration))
}

func TestDoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg, "entrysync")
	require.NoError(t, err)
	_, err = New(reg, "entrysync")
	assert.Error(t, err)
}
