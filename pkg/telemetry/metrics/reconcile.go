package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReconcileMetrics tracks the reconciliation engine.
//
// Metrics:
//   - netpilot_reconcile_runs_total: per-domain reconciles by result
//   - netpilot_reconcile_duration_seconds: per-domain reconcile duration
//   - netpilot_reconcile_rules_excluded_total: rules left out, by reason
//   - netpilot_reconcile_writes_total: document publications by outcome
//   - netpilot_reconcile_reloads_total: proxy reloads by reloader and result
type ReconcileMetrics struct {
	runsTotal     *prometheus.CounterVec
	duration      prometheus.Histogram
	excludedTotal *prometheus.CounterVec
	writesTotal   *prometheus.CounterVec
	reloadsTotal  *prometheus.CounterVec
}

// NewReconcileMetrics creates and registers reconcile metrics.
func NewReconcileMetrics(namespace string, buckets []float64, registry *prometheus.Registry) *ReconcileMetrics {
	rm := &ReconcileMetrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reconcile",
				Name:      "runs_total",
				Help:      "Total number of per-domain reconciles",
			},
			[]string{"result"},
		),

		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "reconcile",
				Name:      "duration_seconds",
				Help:      "Duration of per-domain reconciles in seconds",
				Buckets:   buckets,
			},
		),

		excludedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reconcile",
				Name:      "rules_excluded_total",
				Help:      "Total number of rules excluded from published configuration",
			},
			[]string{"reason"},
		),

		writesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reconcile",
				Name:      "writes_total",
				Help:      "Total number of configuration documents processed by outcome",
			},
			[]string{"outcome"},
		),

		reloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reconcile",
				Name:      "reloads_total",
				Help:      "Total number of proxy reloads",
			},
			[]string{"reloader", "result"},
		),
	}

	registry.MustRegister(
		rm.runsTotal,
		rm.duration,
		rm.excludedTotal,
		rm.writesTotal,
		rm.reloadsTotal,
	)

	return rm
}

// RecordRun records one per-domain reconcile.
func (rm *ReconcileMetrics) RecordRun(result string, duration time.Duration) {
	rm.runsTotal.WithLabelValues(result).Inc()
	rm.duration.Observe(duration.Seconds())
}

// RecordExcluded records an excluded rule.
func (rm *ReconcileMetrics) RecordExcluded(reason string) {
	rm.excludedTotal.WithLabelValues(reason).Inc()
}

// RecordWrite records a document publication outcome.
func (rm *ReconcileMetrics) RecordWrite(outcome string) {
	rm.writesTotal.WithLabelValues(outcome).Inc()
}

// RecordReload records a reload attempt.
func (rm *ReconcileMetrics) RecordReload(reloader, result string) {
	rm.reloadsTotal.WithLabelValues(reloader, result).Inc()
}
