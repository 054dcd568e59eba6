package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// UpstreamMetrics tracks upstream health probes.
//
// Metrics:
//   - netpilot_upstream_health: 1 healthy, 0 unhealthy
//   - netpilot_upstream_response_seconds: last probe response time
type UpstreamMetrics struct {
	health       *prometheus.GaugeVec
	responseTime *prometheus.GaugeVec
}

// NewUpstreamMetrics creates and registers upstream metrics.
func NewUpstreamMetrics(namespace string, registry *prometheus.Registry) *UpstreamMetrics {
	um := &UpstreamMetrics{
		health: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "health",
				Help:      "Upstream health status (1=healthy, 0=unhealthy)",
			},
			[]string{"upstream"},
		),
		responseTime: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "response_seconds",
				Help:      "Response time of the last health probe in seconds",
			},
			[]string{"upstream"},
		),
	}

	registry.MustRegister(um.health, um.responseTime)
	return um
}

// Update records a probe result.
func (um *UpstreamMetrics) Update(upstream string, healthy bool, responseTime time.Duration) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	um.health.WithLabelValues(upstream).Set(value)
	um.responseTime.WithLabelValues(upstream).Set(responseTime.Seconds())
}
