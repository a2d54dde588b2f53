// Package metrics defines the Prometheus instrument set for the session
// backend. Divergence between the cache and the durable store is silent on
// the request path by design, so these counters are how it stays observable.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Set bundles the instruments shared by the session manager and reconciler.
type Set struct {
	FlushTotal      *prometheus.CounterVec
	DeadLetterTotal prometheus.Counter
	QueueDepth      prometheus.Gauge
	CacheSize       prometheus.Gauge
	Evictions       prometheus.Counter
	DeleteFailures  prometheus.Counter
}

// New creates the instrument set and registers it on reg.
// Tests should pass a fresh prometheus.NewRegistry() to avoid duplicate
// registration panics.
func New(reg prometheus.Registerer) *Set {
	s := &Set{
		FlushTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentor_session_flush_total",
			Help: "Durable flush attempts by result (ok, error, retry).",
		}, []string{"result"}),
		DeadLetterTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mentor_session_flush_dead_letter_total",
			Help: "Flushes abandoned after exhausting retries or overflowing the queue.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mentor_session_flush_queue_depth",
			Help: "Number of flush jobs waiting for a reconciler worker.",
		}),
		CacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mentor_session_cache_size",
			Help: "Number of sessions resident in the in-process cache.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mentor_session_evictions_total",
			Help: "Idle sessions flushed and evicted by the sweeper.",
		}),
		DeleteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mentor_session_delete_failures_total",
			Help: "Durable deletes that failed and were dropped after logging.",
		}),
	}

	reg.MustRegister(
		s.FlushTotal,
		s.DeadLetterTotal,
		s.QueueDepth,
		s.CacheSize,
		s.Evictions,
		s.DeleteFailures,
	)
	return s
}

// NewNop returns an unregistered instrument set, safe to update and discard.
func NewNop() *Set {
	return New(prometheus.NewRegistry())
}
