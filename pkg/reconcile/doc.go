// Package reconcile publishes the desired routing state as dynamic
// configuration for the reverse proxy.
//
// A pass over one domain (Engine.ReconcileDomain) or all domains of a
// scope (Engine.ReconcileAll) runs these steps:
//
//  1. Load the domain's rules and the upstreams of the scope.
//  2. Validate each active rule. A rule that references a missing, foreign
//     or inactive upstream, or carries an unusable pattern, is excluded
//     with a *RuleError and recorded as skipped in the ledger.
//  3. Sort rules by priority descending, then creation time, then id.
//  4. Render the domain's document, one file per domain named
//     routes-<domain>.yml, and publish it by temp file and rename. The same
//     input always renders the same bytes and unchanged files are not
//     rewritten.
//  5. Ask the proxy to reload through the "proxy-reload" circuit breaker.
//
// Write failures abort the pass with a *WriteError. A reload failure
// leaves the published files in place, fails the ledger entry with a
// *ReloadError and can be retried alone with Engine.RetryReload; the next
// pass also retries it.
package reconcile
