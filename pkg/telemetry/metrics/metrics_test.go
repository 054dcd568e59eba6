package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"netpilot-hq/netpilot/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testConfig() *config.MetricsConfig {
	return &config.MetricsConfig{
		Namespace:       "test",
		DurationBuckets: []float64{0.1, 1, 10},
	}
}

func TestCollector_Reconcile(t *testing.T) {
	c := NewCollector(testConfig(), prometheus.NewRegistry())

	c.RecordReconcile("success", 50*time.Millisecond)
	c.RecordReconcile("success", 70*time.Millisecond)
	c.RecordReconcile("failed", time.Second)
	c.RecordRuleExcluded("invalid_route")
	c.RecordFileWrite("unchanged")
	c.RecordReload("watch", "success")

	if got := testutil.ToFloat64(c.reconcileMetrics.runsTotal.WithLabelValues("success")); got != 2 {
		t.Errorf("expected 2 successful runs, got %v", got)
	}
	if got := testutil.ToFloat64(c.reconcileMetrics.excludedTotal.WithLabelValues("invalid_route")); got != 1 {
		t.Errorf("expected 1 excluded rule, got %v", got)
	}
	if got := testutil.ToFloat64(c.reconcileMetrics.writesTotal.WithLabelValues("unchanged")); got != 1 {
		t.Errorf("expected 1 unchanged write, got %v", got)
	}
	if got := testutil.CollectAndCount(c.reconcileMetrics.duration); got != 1 {
		t.Errorf("expected 1 histogram, got %d", got)
	}
}

func TestCollector_Certificates(t *testing.T) {
	c := NewCollector(testConfig(), prometheus.NewRegistry())

	c.RecordIssuance("cert-issue", "success", 30*time.Second)
	c.UpdateCertificateStatuses(map[string]int{"valid": 3, "failed": 1})
	c.UpdateCertificateStatuses(map[string]int{"valid": 4})
	c.RecordCertificateExpiry("example.com", 48*time.Hour)

	if got := testutil.ToFloat64(c.certMetrics.issuanceTotal.WithLabelValues("cert-issue", "success")); got != 1 {
		t.Errorf("expected 1 issuance, got %v", got)
	}
	if got := testutil.CollectAndCount(c.certMetrics.byStatus); got != 1 {
		t.Errorf("expected status gauge reset to 1 series, got %d", got)
	}
	if got := testutil.ToFloat64(c.certMetrics.expirySeconds.WithLabelValues("example.com")); got != (48 * time.Hour).Seconds() {
		t.Errorf("unexpected expiry seconds %v", got)
	}
}

func TestCollector_UpstreamAndBreaker(t *testing.T) {
	c := NewCollector(testConfig(), prometheus.NewRegistry())

	c.UpdateUpstreamHealth("7", true, 20*time.Millisecond)
	c.UpdateUpstreamHealth("8", false, 0)
	c.RecordBreakerTransition("acme", "closed", "open")

	if got := testutil.ToFloat64(c.upstreamMetrics.health.WithLabelValues("7")); got != 1 {
		t.Errorf("expected healthy gauge 1, got %v", got)
	}
	if got := testutil.ToFloat64(c.upstreamMetrics.health.WithLabelValues("8")); got != 0 {
		t.Errorf("expected unhealthy gauge 0, got %v", got)
	}
	if got := testutil.ToFloat64(c.breakerMetrics.state.WithLabelValues("acme")); got != 2 {
		t.Errorf("expected open state 2, got %v", got)
	}
}

func TestCollector_Scheduler(t *testing.T) {
	c := NewCollector(testConfig(), prometheus.NewRegistry())

	c.RecordJobRun("renewal-sweep", "success", 2*time.Second)
	c.RecordJobRun("renewal-sweep", "failed", time.Second)
	c.RecordJobRun("reconcile", "skipped", 0)

	if got := testutil.ToFloat64(c.schedulerMetrics.runsTotal.WithLabelValues("renewal-sweep", "failed")); got != 1 {
		t.Errorf("expected 1 failed sweep, got %v", got)
	}
	if got := testutil.ToFloat64(c.schedulerMetrics.lastSuccess.WithLabelValues("renewal-sweep")); got == 0 {
		t.Error("expected last success timestamp to be set")
	}
	if got := testutil.CollectAndCount(c.schedulerMetrics.lastSuccess); got != 1 {
		t.Errorf("expected 1 last-success series, got %d", got)
	}
}

func TestCollector_Disabled(t *testing.T) {
	disabled := false
	cfg := testConfig()
	cfg.Enabled = &disabled
	c := NewCollector(cfg, prometheus.NewRegistry())

	c.RecordLedgerEntry("reconcile", "success")
	if got := testutil.ToFloat64(c.ledgerMetrics.entriesTotal.WithLabelValues("reconcile", "success")); got != 0 {
		t.Errorf("disabled collector recorded %v", got)
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.RecordReconcile("success", time.Second)
	c.UpdateUpstreamHealth("1", true, time.Millisecond)
	c.RecordBreakerTransition("acme", "open", "half-open")
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector(testConfig(), prometheus.NewRegistry())
	c.RecordLedgerEntry("cert-issue", "failed")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "test_ledger_entries_total") {
		t.Errorf("metrics output missing ledger counter:\n%s", body)
	}
}

func TestCardinalityLimiter(t *testing.T) {
	cl := NewCardinalityLimiter(2)

	if !cl.Allow("a") || !cl.Allow("b") {
		t.Fatal("expected first two label sets to be allowed")
	}
	if cl.Allow("c") {
		t.Error("expected third label set to be rejected")
	}
	if !cl.Allow("a") {
		t.Error("expected known label set to be allowed")
	}
	if cl.Count() != 2 {
		t.Errorf("expected count 2, got %d", cl.Count())
	}
}
