package metrics

import "github.com/prometheus/client_golang/prometheus"

// LedgerMetrics tracks finalized operation ledger entries.
//
// Metrics:
//   - netpilot_ledger_entries_total: finalized entries by kind and status
type LedgerMetrics struct {
	entriesTotal *prometheus.CounterVec
}

// NewLedgerMetrics creates and registers ledger metrics.
func NewLedgerMetrics(namespace string, registry *prometheus.Registry) *LedgerMetrics {
	lm := &LedgerMetrics{
		entriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "entries_total",
				Help:      "Total number of finalized ledger entries",
			},
			[]string{"kind", "status"},
		),
	}

	registry.MustRegister(lm.entriesTotal)
	return lm
}

// RecordEntry counts a finalized entry.
func (lm *LedgerMetrics) RecordEntry(kind, status string) {
	lm.entriesTotal.WithLabelValues(kind, status).Inc()
}
