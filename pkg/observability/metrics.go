package observability

import (
	"context"

	"github.com/aretw0/arbor/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors shared by every instance on a registry.
type Metrics struct {
	transitions  *prometheus.CounterVec
	pending      *prometheus.CounterVec
	stateEntries *prometheus.CounterVec
	updates      *prometheus.HistogramVec
	taken        *prometheus.HistogramVec
}

// NewMetrics registers the collectors on reg. Use prometheus.DefaultRegisterer to
// expose them through promhttp.Handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "arbor_transitions_total",
			Help: "Total number of committed transition chains",
		}, []string{"graph"}),
		pending: f.NewCounterVec(prometheus.CounterOpts{
			Name: "arbor_transitions_pending_total",
			Help: "Transition chains found by peers without take authority",
		}, []string{"graph"}),
		stateEntries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "arbor_state_entries_total",
			Help: "Total number of state activations",
		}, []string{"graph", "state"}),
		updates: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arbor_update_duration_seconds",
			Help:    "Wall time spent in one Update call",
			Buckets: prometheus.ExponentialBuckets(0.00005, 4, 8),
		}, []string{"graph"}),
		taken: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arbor_update_transitions",
			Help:    "Transitions taken per Update call",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32},
		}, []string{"graph"}),
	}
}

// Hooks returns lifecycle hooks that record metrics labeled with graph.
func (m *Metrics) Hooks(graph string) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStateStarted: func(_ context.Context, e *domain.StateEvent) {
			m.stateEntries.WithLabelValues(graph, e.Name).Inc()
		},
		OnTransitionTaken: func(context.Context, *domain.TransitionTakenEvent) {
			m.transitions.WithLabelValues(graph).Inc()
		},
		OnTransitionPending: func(context.Context, *domain.TransitionChain) {
			m.pending.WithLabelValues(graph).Inc()
		},
		OnUpdated: func(_ context.Context, e *domain.UpdateEvent) {
			m.updates.WithLabelValues(graph).Observe(e.Finished.Sub(e.Started).Seconds())
			m.taken.WithLabelValues(graph).Observe(float64(e.TransitionsTaken))
		},
	}
}
