// Package telemetry groups netpilot's observability packages:
//
//   - logging: slog construction, operation context fields, secret redaction
//   - metrics: Prometheus collector on an explicit registry
//   - tracing: OpenTelemetry spans for reconcile and issuance
//   - health: liveness and readiness probes of the process
//
// Each is built once in cmd/netpilot and injected into the components.
package telemetry
