package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerMetrics tracks background job runs.
//
// Metrics:
//   - netpilot_scheduler_job_runs_total: job runs by job and result
//   - netpilot_scheduler_job_duration_seconds: job run duration
//   - netpilot_scheduler_job_last_success_timestamp_seconds: unix time of the last successful run
type SchedulerMetrics struct {
	runsTotal   *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
}

// NewSchedulerMetrics creates and registers scheduler metrics.
func NewSchedulerMetrics(namespace string, buckets []float64, registry *prometheus.Registry) *SchedulerMetrics {
	sm := &SchedulerMetrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "job_runs_total",
				Help:      "Total number of scheduled job runs",
			},
			[]string{"job", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "job_duration_seconds",
				Help:      "Duration of scheduled job runs",
				Buckets:   buckets,
			},
			[]string{"job"},
		),
		lastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "job_last_success_timestamp_seconds",
				Help:      "Unix time of the last successful job run",
			},
			[]string{"job"},
		),
	}

	registry.MustRegister(sm.runsTotal, sm.duration, sm.lastSuccess)
	return sm
}

// RecordRun records one job run.
func (sm *SchedulerMetrics) RecordRun(job, result string, duration time.Duration) {
	sm.runsTotal.WithLabelValues(job, result).Inc()
	sm.duration.WithLabelValues(job).Observe(duration.Seconds())
	if result == "success" {
		sm.lastSuccess.WithLabelValues(job).SetToCurrentTime()
	}
}
