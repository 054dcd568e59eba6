package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"netpilot-hq/netpilot/pkg/certs"
	"netpilot-hq/netpilot/pkg/config"
	"netpilot-hq/netpilot/pkg/healthcheck"
	"netpilot-hq/netpilot/pkg/model"
	"netpilot-hq/netpilot/pkg/reconcile"
)

type fakeComponents struct {
	mu       sync.Mutex
	calls    []string
	sweepErr error
	sweep    *certs.SweepResult
	failFor  string
}

func (f *fakeComponents) record(call string, scope model.Scope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call+":"+scope.String())
	if f.failFor != "" && scope.TenantID == f.failFor {
		return errors.New("store unavailable")
	}
	return nil
}

func (f *fakeComponents) ReconcileAll(_ context.Context, scope model.Scope) (*reconcile.Report, error) {
	if err := f.record("reconcile", scope); err != nil {
		return nil, err
	}
	return &reconcile.Report{Reload: "skipped"}, nil
}

func (f *fakeComponents) RenewalSweep(_ context.Context, scope model.Scope) (*certs.SweepResult, error) {
	_ = f.record("sweep", scope)
	if f.sweepErr != nil {
		return nil, f.sweepErr
	}
	if f.sweep != nil {
		return f.sweep, nil
	}
	return &certs.SweepResult{}, nil
}

func (f *fakeComponents) EvaluateExpiry(_ context.Context, scope model.Scope) (*certs.EvaluateResult, error) {
	return &certs.EvaluateResult{}, f.record("expiry", scope)
}

func (f *fakeComponents) Poll(_ context.Context, scope model.Scope) ([]healthcheck.Result, error) {
	_ = f.record("health", scope)
	return []healthcheck.Result{{UpstreamID: 1, Healthy: true}, {UpstreamID: 2, Healthy: false}}, nil
}

func (f *fakeComponents) Prune(context.Context) (int64, error) {
	_ = f.record("prune", model.DefaultScope)
	return 3, nil
}

func defaultSchedules() *config.SchedulerConfig {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return &cfg.Scheduler
}

func TestJobs_Register(t *testing.T) {
	f := &fakeComponents{}
	s := New()
	jobs := Jobs{Reconciler: f, Certificates: f, Health: f, Retention: f}
	if err := jobs.Register(s, defaultSchedules()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	var names []string
	for _, st := range s.Status() {
		names = append(names, st.Name)
	}
	want := "expiry-check,health-check,ledger-retention,reconcile,renewal-sweep"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("jobs = %s, want %s", got, want)
	}

	for _, name := range names {
		if err := s.RunNow(context.Background(), name); err != nil {
			t.Errorf("RunNow(%s): %v", name, err)
		}
	}
	if len(f.calls) != 5 {
		t.Errorf("calls = %v", f.calls)
	}
}

func TestJobs_PartialComponents(t *testing.T) {
	f := &fakeComponents{}
	s := New()
	if err := (Jobs{Reconciler: f}).Register(s, defaultSchedules()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if st := s.Status(); len(st) != 1 || st[0].Name != JobReconcile {
		t.Errorf("status = %+v", st)
	}

	bad := defaultSchedules()
	bad.Reconcile = "not a schedule"
	if err := (Jobs{Reconciler: f}).Register(New(), bad); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestJobs_EveryScope(t *testing.T) {
	f := &fakeComponents{failFor: "b"}
	jobs := Jobs{
		Scopes:     []model.Scope{{TenantID: "a"}, {TenantID: "b"}, {TenantID: "c"}},
		Reconciler: f,
	}

	err := jobs.Reconcile(context.Background())
	if err == nil || !strings.Contains(err.Error(), "store unavailable") {
		t.Errorf("err = %v, want the failing scope reported", err)
	}
	if len(f.calls) != 3 {
		t.Errorf("a failing scope must not stop the others: %v", f.calls)
	}
}

func TestJobs_RenewalSweep(t *testing.T) {
	f := &fakeComponents{sweepErr: certs.ErrSweepInProgress}
	jobs := Jobs{Certificates: f}
	if err := jobs.RenewalSweep(context.Background()); err != nil {
		t.Errorf("sweep in progress should not fail the job: %v", err)
	}

	f.sweepErr = nil
	f.sweep = &certs.SweepResult{Renewed: []int64{1}, Failed: []certs.SweepFailure{{}}}
	if err := jobs.RenewalSweep(context.Background()); err == nil {
		t.Error("expected error for failed renewals")
	}
}

func TestJobs_Cancelled(t *testing.T) {
	f := &fakeComponents{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := (Jobs{Reconciler: f}).Reconcile(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(f.calls) != 0 {
		t.Errorf("no scope should run after cancel: %v", f.calls)
	}
}
