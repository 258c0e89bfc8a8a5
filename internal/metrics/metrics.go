package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "studygraph"

// Metrics counts what the clustering engine and the reconciler did. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// Iterations is the number of iterations appended, by phase
	// ("cluster" or "reconcile").
	Iterations *prometheus.CounterVec
	// Regenerations is the number of empty clusters that got a new centroid.
	Regenerations *prometheus.CounterVec
	// IterationCapHits is the number of reconcile passes that stopped at the
	// iteration cap without converging.
	IterationCapHits prometheus.Counter
	// Runs is the number of runs handled per reconcile pass, by outcome
	// ("converged", "unchanged", "capped", "failed").
	Runs *prometheus.CounterVec
	// EventsSkipped counts events that matched no visible module.
	EventsSkipped prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Iterations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kmeans",
			Name:      "iterations_total",
			Help:      "Total number of clustering iterations recorded.",
		}, []string{"phase"}),
		Regenerations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kmeans",
			Name:      "regenerations_total",
			Help:      "Total number of empty clusters that received a regenerated centroid.",
		}, []string{"phase"}),
		IterationCapHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "iteration_cap_total",
			Help:      "Total number of reconcile passes stopped by the iteration cap.",
		}),
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "runs_total",
			Help:      "Total number of clustering runs handled by reconcile passes.",
		}, []string{"outcome"}),
		EventsSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregate",
			Name:      "events_skipped_total",
			Help:      "Total number of events that matched no visible module of a configuration.",
		}),
	}
}

func (m *Metrics) AddIterations(phase string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Iterations.WithLabelValues(phase).Add(float64(n))
}

func (m *Metrics) AddRegenerations(phase string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Regenerations.WithLabelValues(phase).Add(float64(n))
}

func (m *Metrics) CapHit() {
	if m == nil {
		return
	}
	m.IterationCapHits.Inc()
}

func (m *Metrics) Run(outcome string) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Skipped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.EventsSkipped.Add(float64(n))
}
