package metrics

import (
	"fmt"
	"sync"
	"time"

	"netpilot-hq/netpilot/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Collector owns every netpilot metric and the registry they live in.
// A nil *Collector is valid and records nothing, so components can take
// one as an optional dependency.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry
	enabled  bool

	reconcileMetrics *ReconcileMetrics
	certMetrics      *CertificateMetrics
	upstreamMetrics  *UpstreamMetrics
	breakerMetrics   *BreakerMetrics
	ledgerMetrics    *LedgerMetrics
	schedulerMetrics *SchedulerMetrics

	// Cardinality limiter for per-upstream labels
	cardinalityLimiter *CardinalityLimiter
}

// NewCollector creates a collector and registers all metrics with registry.
// A nil registry gets a fresh one with the Go and process collectors.
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	c := &Collector{
		config:             cfg,
		registry:           registry,
		enabled:            config.IsEnabled(cfg.Enabled, true),
		cardinalityLimiter: NewCardinalityLimiter(1000),
	}

	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = config.DefaultDurationBuckets
	}

	c.reconcileMetrics = NewReconcileMetrics(cfg.Namespace, buckets, registry)
	c.certMetrics = NewCertificateMetrics(cfg.Namespace, buckets, registry)
	c.upstreamMetrics = NewUpstreamMetrics(cfg.Namespace, registry)
	c.breakerMetrics = NewBreakerMetrics(cfg.Namespace, registry)
	c.ledgerMetrics = NewLedgerMetrics(cfg.Namespace, registry)
	c.schedulerMetrics = NewSchedulerMetrics(cfg.Namespace, buckets, registry)

	return c
}

func (c *Collector) active() bool {
	return c != nil && c.enabled
}

// RecordReconcile records a finished reconcile of one domain.
// result is "success" or "failed".
func (c *Collector) RecordReconcile(result string, duration time.Duration) {
	if !c.active() {
		return
	}
	c.reconcileMetrics.RecordRun(result, duration)
}

// RecordRuleExcluded records a rule left out of the published document.
// reason is the error kind (e.g. "invalid_route").
func (c *Collector) RecordRuleExcluded(reason string) {
	if !c.active() {
		return
	}
	c.reconcileMetrics.RecordExcluded(reason)
}

// RecordFileWrite records the outcome of publishing one document:
// "written", "unchanged", "removed" or "failed".
func (c *Collector) RecordFileWrite(outcome string) {
	if !c.active() {
		return
	}
	c.reconcileMetrics.RecordWrite(outcome)
}

// RecordReload records a proxy reload attempt.
func (c *Collector) RecordReload(reloader, result string) {
	if !c.active() {
		return
	}
	c.reconcileMetrics.RecordReload(reloader, result)
}

// RecordIssuance records a finished issuance attempt.
//
// Parameters:
//   - kind: "cert-issue" or "cert-renew"
//   - result: "success" or the failure kind (e.g. "acme_client_failed")
//   - duration: time spent across all phases
func (c *Collector) RecordIssuance(kind, result string, duration time.Duration) {
	if !c.active() {
		return
	}
	c.certMetrics.RecordIssuance(kind, result, duration)
}

// UpdateCertificateStatuses replaces the per-status certificate gauge.
func (c *Collector) UpdateCertificateStatuses(counts map[string]int) {
	if !c.active() {
		return
	}
	c.certMetrics.UpdateStatuses(counts)
}

// RecordCertificateExpiry records the time left before a certificate expires.
func (c *Collector) RecordCertificateExpiry(domain string, remaining time.Duration) {
	if !c.active() {
		return
	}
	if !c.cardinalityLimiter.Allow("cert:" + domain) {
		return
	}
	c.certMetrics.RecordExpiry(domain, remaining)
}

// UpdateUpstreamHealth records a health probe result. The gauge is 1 for
// healthy and 0 for unhealthy.
func (c *Collector) UpdateUpstreamHealth(upstream string, healthy bool, responseTime time.Duration) {
	if !c.active() {
		return
	}

	labelSet := fmt.Sprintf("upstream:%s", upstream)
	if !c.cardinalityLimiter.Allow(labelSet) {
		upstream = "other"
	}

	c.upstreamMetrics.Update(upstream, healthy, responseTime)
}

// RecordBreakerTransition records a circuit breaker state change.
func (c *Collector) RecordBreakerTransition(name, from, to string) {
	if !c.active() {
		return
	}
	if !c.cardinalityLimiter.Allow("breaker:" + name) {
		name = "other"
	}
	c.breakerMetrics.RecordTransition(name, from, to)
}

// RecordLedgerEntry records a finalized ledger entry.
func (c *Collector) RecordLedgerEntry(kind, status string) {
	if !c.active() {
		return
	}
	c.ledgerMetrics.RecordEntry(kind, status)
}

// RecordJobRun records a scheduled job run. result is "success",
// "failed" or "skipped".
func (c *Collector) RecordJobRun(job, result string, duration time.Duration) {
	if !c.active() {
		return
	}
	c.schedulerMetrics.RecordRun(job, result, duration)
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter prevents metric cardinality explosion by limiting
// the number of unique label combinations.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a new cardinality limiter with the specified
// maximum cardinality.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether labelSet is already tracked or still fits under
// the limit.
func (cl *CardinalityLimiter) Allow(labelSet string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[labelSet]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[labelSet]; exists {
		return true
	}

	if len(cl.current) >= cl.maxCardinality {
		return false
	}

	cl.current[labelSet] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
