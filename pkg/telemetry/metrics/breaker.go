package metrics

import "github.com/prometheus/client_golang/prometheus"

// BreakerMetrics tracks circuit breakers.
//
// Metrics:
//   - netpilot_breaker_state: 0 closed, 1 half-open, 2 open
//   - netpilot_breaker_transitions_total: state changes by name, from and to
type BreakerMetrics struct {
	state       *prometheus.GaugeVec
	transitions *prometheus.CounterVec
}

// NewBreakerMetrics creates and registers breaker metrics.
func NewBreakerMetrics(namespace string, registry *prometheus.Registry) *BreakerMetrics {
	bm := &BreakerMetrics{
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "breaker",
				Name:      "state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "breaker",
				Name:      "transitions_total",
				Help:      "Total number of circuit breaker state transitions",
			},
			[]string{"name", "from", "to"},
		),
	}

	registry.MustRegister(bm.state, bm.transitions)
	return bm
}

// RecordTransition records a state change and updates the state gauge.
func (bm *BreakerMetrics) RecordTransition(name, from, to string) {
	bm.transitions.WithLabelValues(name, from, to).Inc()
	bm.state.WithLabelValues(name).Set(stateValue(to))
}

func stateValue(state string) float64 {
	switch state {
	case "open":
		return 2
	case "half-open":
		return 1
	default:
		return 0
	}
}
