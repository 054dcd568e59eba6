// Package healthcheck probes upstream targets.
//
// Checker.CheckUpstream issues one GET against the upstream's health URL
// through the upstream's circuit breaker ("upstream:<id>") and never
// returns an error: every outcome is folded into a Result. An upstream is
// healthy when it answers with a status in [200, 400).
//
// Monitor polls the active upstreams of every active domain, keeps the
// latest Result per upstream and reports them to metrics and subscribers.
// The reconciliation engine attaches the snapshot of a domain's upstreams
// to its ledger entries.
package healthcheck
