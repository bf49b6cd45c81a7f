// Package metrics exports Prometheus collectors for the dispatch layer.
// All methods are safe on a nil *Metrics, so instrumentation stays optional.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "boardsim"

// Run outcomes as recorded by the dispatcher.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeReleased  = "released"
	OutcomeClaimLost = "claim_lost"
)

// Metrics holds the dispatcher's collectors.
type Metrics struct {
	// Claim path
	RunsClaimed prometheus.Counter
	ClaimMisses prometheus.Counter
	Requeued    prometheus.Counter

	// Execution
	RunsFinished *prometheus.CounterVec
	RunDuration  prometheus.Histogram
	InFlight     prometheus.Gauge

	// Lifecycle
	LeasesReclaimed  prometheus.Counter
	BatchesCompleted prometheus.Counter

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{gatherer: reg}

	m.RunsClaimed = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_claimed_total",
		Help:      "Runs this worker moved from pending to running",
	})
	m.ClaimMisses = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "claim_misses_total",
		Help:      "Dequeued run ids that were no longer pending at claim time",
	})
	m.Requeued = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_requeued_total",
		Help:      "Run ids handed back to the queue for another partition",
	})

	m.RunsFinished = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_finished_total",
		Help:      "Runs that left this worker, by outcome",
	}, []string{"outcome"})
	m.RunDuration = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time spent simulating a single run",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
	m.InFlight = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "runs_in_flight",
		Help:      "Runs currently holding a capacity token",
	})

	m.LeasesReclaimed = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "leases_reclaimed_total",
		Help:      "Running runs returned to pending after their lease expired",
	})
	m.BatchesCompleted = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batches_completed_total",
		Help:      "Batches this worker finalized",
	})
	return m
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Claimed records a claim of want ids that won got runs.
func (m *Metrics) Claimed(want, got int) {
	if m == nil {
		return
	}
	m.RunsClaimed.Add(float64(got))
	m.ClaimMisses.Add(float64(want - got))
}

// RequeuedIDs records ids passed on to another partition.
func (m *Metrics) RequeuedIDs(n int) {
	if m == nil {
		return
	}
	m.Requeued.Add(float64(n))
}

// Started marks a run as holding a capacity token.
func (m *Metrics) Started() {
	if m == nil {
		return
	}
	m.InFlight.Inc()
}

// Finished records a run leaving the worker.
func (m *Metrics) Finished(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.InFlight.Dec()
	m.RunsFinished.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(elapsed.Seconds())
}

// Reclaimed records expired leases returned to pending.
func (m *Metrics) Reclaimed(n int) {
	if m == nil {
		return
	}
	m.LeasesReclaimed.Add(float64(n))
}

// BatchCompleted records a batch finalized by this worker.
func (m *Metrics) BatchCompleted() {
	if m == nil {
		return
	}
	m.BatchesCompleted.Inc()
}
