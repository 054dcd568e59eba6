// Package server provides netpilot's admin HTTP API.
//
// The server exposes liveness, readiness and Prometheus metrics, the
// operation ledger, circuit breaker state, upstream health, job status,
// and the on-change triggers: reconcile, render (dry run), certificate
// issue and reset.
//
// Routes:
//
//	GET  /health                              liveness
//	GET  /ready                               readiness checks
//	GET  /version                             build information
//	GET  /metrics                             Prometheus exposition
//	POST /api/v1/reconcile                    reconcile all, or ?domain_id=N; ?async=true queues a full pass
//	GET  /api/v1/domains/{id}/render          rendered document without publishing
//	GET  /api/v1/ledger                       ledger entries (?kind, status, subject, limit, offset)
//	GET  /api/v1/ledger/{id}                  one ledger entry
//	GET  /api/v1/breakers                     breaker stats
//	POST /api/v1/breakers/{name}/reset        close a breaker
//	GET  /api/v1/upstreams/health             latest probe results (?domain_id)
//	GET  /api/v1/certificates                 certificates (?domain_id, status)
//	POST /api/v1/certificates/{id}/issue      issue or renew now
//	POST /api/v1/certificates/{id}/reset      clear retry state
//	GET  /api/v1/jobs                         scheduled jobs
//	POST /api/v1/jobs/{name}/run              run a job now
//
// The tenant of a request is taken from the "tenant" query parameter;
// requests without one use the default scope.
package server
