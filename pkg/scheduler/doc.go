// Package scheduler runs netpilot's background jobs.
//
// A Scheduler wraps a robfig/cron instance. Every job is named, takes the
// scheduler's context and returns an error; runs are logged, counted in
// the metrics collector and never overlap with themselves, whether they
// were started by the schedule or by RunNow.
//
// The jobs wired by the daemon:
//
//	reconcile        periodic full reconcile            @every 60s
//	renewal-sweep    certificate renewal sweep          0 2 * * *
//	expiry-check     certificate expiry classification  0 * * * *
//	health-check     upstream health poll               @every 5m
//	ledger-retention ledger pruning                     0 3 * * 0
//
// Trigger coalesces on-change reconcile requests (admin endpoint, drift
// watcher) into debounced runs that never overlap.
package scheduler
