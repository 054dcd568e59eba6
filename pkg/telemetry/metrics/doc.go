// Package metrics provides Prometheus metrics for netpilot.
//
// A single Collector is built at startup around an explicit
// prometheus.Registry (never the global default registry) and handed to
// the components that report:
//
//   - Reconcile: per-domain runs, excluded rules, writes, reloads
//   - Certificates: issuance attempts, status counts, time to expiry
//   - Upstreams: health and response time of the last probe
//   - Breakers: state and transitions
//   - Ledger: finalized entries by kind and status
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	router.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
//
//	collector.RecordReconcile("success", time.Since(start))
//
// A nil *Collector records nothing.
package metrics
