package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"netpilot-hq/netpilot/pkg/certs"
	"netpilot-hq/netpilot/pkg/config"
	"netpilot-hq/netpilot/pkg/healthcheck"
	"netpilot-hq/netpilot/pkg/model"
	"netpilot-hq/netpilot/pkg/reconcile"
)

// Job names.
const (
	JobReconcile       = "reconcile"
	JobRenewalSweep    = "renewal-sweep"
	JobExpiryCheck     = "expiry-check"
	JobHealthCheck     = "health-check"
	JobLedgerRetention = "ledger-retention"
)

// Reconciler publishes the desired state of a scope.
type Reconciler interface {
	ReconcileAll(ctx context.Context, scope model.Scope) (*reconcile.Report, error)
}

// Renewer runs the certificate lifecycle jobs.
type Renewer interface {
	RenewalSweep(ctx context.Context, scope model.Scope) (*certs.SweepResult, error)
	EvaluateExpiry(ctx context.Context, scope model.Scope) (*certs.EvaluateResult, error)
}

// HealthPoller probes the upstreams of a scope.
type HealthPoller interface {
	Poll(ctx context.Context, scope model.Scope) ([]healthcheck.Result, error)
}

// Pruner enforces ledger retention.
type Pruner interface {
	Prune(ctx context.Context) (int64, error)
}

// Jobs holds the components behind the standard jobs. Nil components
// leave their jobs out.
type Jobs struct {
	// Scopes are visited in order by every per-scope job. Empty means
	// model.DefaultScope.
	Scopes []model.Scope

	Reconciler   Reconciler
	Certificates Renewer
	Health       HealthPoller
	Retention    Pruner

	Logger *slog.Logger
}

// Register adds the standard jobs to s with the schedules of cfg.
func (j Jobs) Register(s *Scheduler, cfg *config.SchedulerConfig) error {
	if j.Logger == nil {
		j.Logger = slog.Default().With("component", "scheduler")
	}

	var jobs []Job
	if j.Reconciler != nil {
		jobs = append(jobs, Job{Name: JobReconcile, Spec: cfg.Reconcile, Run: j.Reconcile})
	}
	if j.Certificates != nil {
		jobs = append(jobs,
			Job{Name: JobRenewalSweep, Spec: cfg.RenewalSweep, Run: j.RenewalSweep},
			Job{Name: JobExpiryCheck, Spec: cfg.ExpiryCheck, Run: j.ExpiryCheck},
		)
	}
	if j.Health != nil {
		jobs = append(jobs, Job{Name: JobHealthCheck, Spec: cfg.HealthCheck, Run: j.HealthCheck})
	}
	if j.Retention != nil {
		jobs = append(jobs, Job{Name: JobLedgerRetention, Spec: cfg.LedgerRetention, Run: j.LedgerRetention})
	}

	for _, job := range jobs {
		if err := s.Add(job); err != nil {
			return err
		}
	}
	return nil
}

func (j Jobs) scopes() []model.Scope {
	if len(j.Scopes) == 0 {
		return []model.Scope{model.DefaultScope}
	}
	return j.Scopes
}

// eachScope runs fn for every scope and joins the failures. A cancelled
// ctx stops the loop.
func (j Jobs) eachScope(ctx context.Context, fn func(context.Context, model.Scope) error) error {
	var errs []error
	for _, scope := range j.scopes() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := fn(ctx, scope); err != nil {
			errs = append(errs, fmt.Errorf("scope %s: %w", scope, err))
		}
	}
	return errors.Join(errs...)
}

// Reconcile runs a full reconcile of every scope. A pending reload is
// retried by the pass itself.
func (j Jobs) Reconcile(ctx context.Context) error {
	return j.eachScope(ctx, func(ctx context.Context, scope model.Scope) error {
		report, err := j.Reconciler.ReconcileAll(ctx, scope)
		if err != nil {
			return err
		}
		if report.Changed() {
			j.Logger.Info("scheduled reconcile published changes",
				"tenant", scope.String(),
				"operation_id", report.OperationID,
				"domains", len(report.Domains),
				"removed", len(report.Removed),
				"reload", report.Reload,
			)
		}
		return nil
	})
}

// RenewalSweep renews due certificates. A sweep still running from an
// earlier trigger is not a failure.
func (j Jobs) RenewalSweep(ctx context.Context) error {
	return j.eachScope(ctx, func(ctx context.Context, scope model.Scope) error {
		res, err := j.Certificates.RenewalSweep(ctx, scope)
		if errors.Is(err, certs.ErrSweepInProgress) {
			j.Logger.Info("renewal sweep already running, skipped", "tenant", scope.String())
			return nil
		}
		if err != nil {
			return err
		}
		if len(res.Failed) > 0 {
			return fmt.Errorf("%d of %d certificate renewal(s) failed", len(res.Failed), len(res.Failed)+len(res.Renewed))
		}
		return nil
	})
}

// ExpiryCheck reclassifies certificates by their expiry.
func (j Jobs) ExpiryCheck(ctx context.Context) error {
	return j.eachScope(ctx, func(ctx context.Context, scope model.Scope) error {
		_, err := j.Certificates.EvaluateExpiry(ctx, scope)
		return err
	})
}

// HealthCheck polls upstream health. Unhealthy upstreams are results,
// not job failures.
func (j Jobs) HealthCheck(ctx context.Context) error {
	return j.eachScope(ctx, func(ctx context.Context, scope model.Scope) error {
		results, err := j.Health.Poll(ctx, scope)
		if err != nil {
			return err
		}
		unhealthy := 0
		for _, r := range results {
			if !r.Healthy {
				unhealthy++
			}
		}
		if unhealthy > 0 {
			j.Logger.Warn("unhealthy upstreams", "tenant", scope.String(), "unhealthy", unhealthy, "checked", len(results))
		}
		return nil
	})
}

// LedgerRetention prunes the ledger.
func (j Jobs) LedgerRetention(ctx context.Context) error {
	_, err := j.Retention.Prune(ctx)
	return err
}
