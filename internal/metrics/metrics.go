// Package metrics holds the Prometheus instrumentation for a minimization
// run: replay counts, per-kind match/timeout counters, and MCS iteration
// size, grounded on the teacher's internal/escrow/metrics.go (promauto
// constructors, one struct of Vec metrics plus Record* helper methods).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the engine publishes.
type Metrics struct {
	ReplaysTotal        prometheus.Counter
	InputsReplayedTotal prometheus.Counter

	EventsMatched  *prometheus.CounterVec
	EventsTimedOut *prometheus.CounterVec

	IterationSize prometheus.Gauge

	ViolationsFound prometheus.Counter

	ReplayDuration prometheus.Histogram
	PruneDuration  prometheus.Histogram
}

// New creates and registers the engine's metrics against the default
// registry. Call once per process.
func New() *Metrics {
	return &Metrics{
		ReplaysTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sts_replay_replays_total",
			Help: "Total number of end-to-end replays performed.",
		}),
		InputsReplayedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sts_replay_inputs_replayed_total",
			Help: "Total number of input events injected across all replays.",
		}),
		EventsMatched: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sts_replay_events_matched_total",
			Help: "Events whose proceed() succeeded, by event class.",
		}, []string{"kind"}),
		EventsTimedOut: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sts_replay_events_timed_out_total",
			Help: "Events whose deadline passed before proceed() succeeded, by event class.",
		}, []string{"kind"}),
		IterationSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sts_replay_mcs_iteration_size",
			Help: "Number of input events remaining in the best-so-far MCS candidate.",
		}),
		ViolationsFound: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sts_replay_violations_found_total",
			Help: "Number of replays (verification or ddmin candidates) that reproduced the violation.",
		}),
		ReplayDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "sts_replay_replay_duration_seconds",
			Help:    "Wall-clock duration of the reproducibility-verification phase.",
			Buckets: prometheus.DefBuckets,
		}),
		PruneDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "sts_replay_prune_duration_seconds",
			Help:    "Wall-clock duration of the ddmin pruning phase.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
}

// RecordReplay increments the replay counter and records per-kind
// match/timeout deltas observed in one iteration.
func (m *Metrics) RecordReplay(matched, timedOut map[string]int) {
	m.ReplaysTotal.Inc()
	for kind, n := range matched {
		m.EventsMatched.WithLabelValues(kind).Add(float64(n))
	}
	for kind, n := range timedOut {
		m.EventsTimedOut.WithLabelValues(kind).Add(float64(n))
	}
}

// RecordViolation records that a replay reproduced the invariant violation.
func (m *Metrics) RecordViolation() { m.ViolationsFound.Inc() }

// SetIterationSize publishes the current best-so-far candidate size.
func (m *Metrics) SetIterationSize(n int) { m.IterationSize.Set(float64(n)) }

// ObserveReplayDuration records the reproducibility-verification phase length.
func (m *Metrics) ObserveReplayDuration(seconds float64) { m.ReplayDuration.Observe(seconds) }

// ObservePruneDuration records the ddmin pruning phase length.
func (m *Metrics) ObservePruneDuration(seconds float64) { m.PruneDuration.Observe(seconds) }
