// Package health serves liveness and readiness probes for the netpilot
// process itself. Readiness aggregates named checks registered at startup
// (store, ledger, dynamic directory). Upstream health probing lives in
// pkg/healthcheck.
package health
