// Package prom exposes episode hooks as Prometheus metrics. Exhausted
// retries never reach the event's caller, so entrysync_episodes_total with
// outcome="conflict" is the signal to alert on.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/entrysync"
)

type Hooks struct {
	ignored   *prometheus.CounterVec
	conflicts *prometheus.CounterVec
	evictions *prometheus.CounterVec
	episodes  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

var _ entrysync.Hooks = (*Hooks)(nil)

// New creates the collectors and registers them with reg. namespace
// defaults to "entrysync".
func New(reg prometheus.Registerer, namespace string) (*Hooks, error) {
	if namespace == "" {
		namespace = "entrysync"
	}
	h := &Hooks{
		ignored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ignored_total",
			Help:      "Events rejected by a handler gate.",
		}, []string{"kind"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_total",
			Help:      "Save attempts that hit a concurrent modification.",
		}, []string{"handler"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Entry cache evictions after a conflict.",
		}, []string{"result"}),
		episodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "episodes_total",
			Help:      "Finished episodes by outcome (success or error kind).",
		}, []string{"handler", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "episode_duration_seconds",
			Help:      "Duration of successful episodes, lock wait included.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"handler"}),
	}
	for _, c := range []prometheus.Collector{h.ignored, h.conflicts, h.evictions, h.episodes, h.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (h *Hooks) EventIgnored(kind entrysync.EventKind, _ string) {
	h.ignored.WithLabelValues(string(kind)).Inc()
}

func (h *Hooks) AttemptConflict(handler, _ string, _ int) {
	h.conflicts.WithLabelValues(handler).Inc()
}

func (h *Hooks) CacheEvicted(_ string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	h.evictions.WithLabelValues(result).Inc()
}

func (h *Hooks) EpisodeSucceeded(handler, _ string, _ int, d time.Duration) {
	h.episodes.WithLabelValues(handler, "success").Inc()
	h.duration.WithLabelValues(handler).Observe(d.Seconds())
}

func (h *Hooks) EpisodeFailed(handler, _ string, _ int, kind entrysync.ErrorKind, _ error) {
	h.episodes.WithLabelValues(handler, kind.String()).Inc()
}
