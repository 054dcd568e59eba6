package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CertificateMetrics tracks the certificate lifecycle.
//
// Metrics:
//   - netpilot_certificates_issuance_total: issuance attempts by kind and result
//   - netpilot_certificates_issuance_duration_seconds: issuance duration
//   - netpilot_certificates: certificates by status
//   - netpilot_certificates_expiry_seconds: seconds until expiry per domain
type CertificateMetrics struct {
	issuanceTotal    *prometheus.CounterVec
	issuanceDuration *prometheus.HistogramVec
	byStatus         *prometheus.GaugeVec
	expirySeconds    *prometheus.GaugeVec
}

// NewCertificateMetrics creates and registers certificate metrics.
func NewCertificateMetrics(namespace string, buckets []float64, registry *prometheus.Registry) *CertificateMetrics {
	cm := &CertificateMetrics{
		issuanceTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "certificates",
				Name:      "issuance_total",
				Help:      "Total number of certificate issuance attempts",
			},
			[]string{"kind", "result"},
		),

		issuanceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "certificates",
				Name:      "issuance_duration_seconds",
				Help:      "Duration of certificate issuance in seconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),

		byStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "certificates",
				Help:      "Number of certificates by status",
			},
			[]string{"status"},
		),

		expirySeconds: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "certificates",
				Name:      "expiry_seconds",
				Help:      "Seconds until the certificate expires",
			},
			[]string{"domain"},
		),
	}

	registry.MustRegister(
		cm.issuanceTotal,
		cm.issuanceDuration,
		cm.byStatus,
		cm.expirySeconds,
	)

	return cm
}

// RecordIssuance records one issuance attempt.
func (cm *CertificateMetrics) RecordIssuance(kind, result string, duration time.Duration) {
	cm.issuanceTotal.WithLabelValues(kind, result).Inc()
	cm.issuanceDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// UpdateStatuses replaces the status gauge with counts.
func (cm *CertificateMetrics) UpdateStatuses(counts map[string]int) {
	cm.byStatus.Reset()
	for status, n := range counts {
		cm.byStatus.WithLabelValues(status).Set(float64(n))
	}
}

// RecordExpiry sets the remaining lifetime of a domain's certificate.
func (cm *CertificateMetrics) RecordExpiry(domain string, remaining time.Duration) {
	cm.expirySeconds.WithLabelValues(domain).Set(remaining.Seconds())
}
