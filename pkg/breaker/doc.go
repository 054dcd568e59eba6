// Package breaker implements the circuit breaker that guards every
// external call made by the reconciler and the certificate lifecycle
// manager.
//
// A Breaker is closed initially. Consecutive failures up to the
// configured threshold open it; an open breaker rejects calls with
// ErrCircuitOpen until the reset timeout elapses, after which a single
// probe call is admitted in the half-open state. The probe's outcome
// closes or reopens the breaker.
//
// Breakers are shared per operation name through a Registry that is
// constructed once at startup and passed to every component:
//
//	reg := breaker.NewRegistry(breaker.DefaultConfig(), breaker.WithObserver(metrics.BreakerObserver()))
//	err := reg.Execute(ctx, "acme", func(ctx context.Context) error {
//		return client.Obtain(ctx, req)
//	})
//
// The breaker never retries and never adds its own timeout; callers own
// both.
package breaker
