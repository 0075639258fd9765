package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for identity resolution.
type Metrics struct {
	// Resolutions by decision (fast_path, unique_match, ambiguous, ...)
	Resolutions *prometheus.CounterVec

	IdentitiesCreated prometheus.Counter

	ResolveLatency prometheus.Histogram

	// Scorer calls by operation and outcome (verified, error, degraded)
	VerificationLatency *prometheus.HistogramVec

	CircuitState *prometheus.GaugeVec
}

// New creates a Metrics instance registered with the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers against reg.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "visitorid_resolutions_total",
			Help: "Identity resolutions by decision",
		}, []string{"decision"}),

		IdentitiesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "visitorid_identities_created_total",
			Help: "Identities created on first sighting of a fingerprint",
		}),

		ResolveLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "visitorid_resolve_duration_seconds",
			Help:    "Duration of a full resolution including scorer calls",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		VerificationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "visitorid_scorer_call_duration_seconds",
			Help:    "Duration of scorer calls by operation and outcome",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"operation", "outcome"}),

		CircuitState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "visitorid_circuit_open",
			Help: "1 while the named circuit breaker is open",
		}, []string{"name"}),
	}
}

func (m *Metrics) IncrementResolution(decision string) {
	if m != nil {
		m.Resolutions.WithLabelValues(decision).Inc()
	}
}

func (m *Metrics) IncrementIdentitiesCreated() {
	if m != nil {
		m.IdentitiesCreated.Inc()
	}
}

func (m *Metrics) ObserveResolveLatency(d time.Duration) {
	if m != nil {
		m.ResolveLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveVerification(operation, outcome string, d time.Duration) {
	if m != nil {
		m.VerificationLatency.WithLabelValues(operation, outcome).Observe(d.Seconds())
	}
}

func (m *Metrics) SetCircuitOpen(name string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.CircuitState.WithLabelValues(name).Set(v)
}
