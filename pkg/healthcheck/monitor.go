package healthcheck

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"netpilot-hq/netpilot/pkg/model"
	"netpilot-hq/netpilot/pkg/store"
	"netpilot-hq/netpilot/pkg/telemetry/metrics"
)

// Monitor polls upstreams and keeps the latest result of each.
type Monitor struct {
	reader      store.Reader
	checker     *Checker
	metrics     *metrics.Collector
	concurrency int
	logger      *slog.Logger

	mu          sync.RWMutex
	results     map[int64]Result
	subscribers []func(Result)
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithMetrics reports every result to collector.
func WithMetrics(collector *metrics.Collector) MonitorOption {
	return func(m *Monitor) {
		m.metrics = collector
	}
}

// WithConcurrency limits parallel probes. Default: 8
func WithConcurrency(n int) MonitorOption {
	return func(m *Monitor) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// NewMonitor creates a monitor reading upstreams from reader.
func NewMonitor(reader store.Reader, checker *Checker, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		reader:      reader,
		checker:     checker,
		concurrency: 8,
		logger:      slog.Default().With("component", "healthcheck.monitor"),
		results:     make(map[int64]Result),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe registers fn to receive every new result.
func (m *Monitor) Subscribe(fn func(Result)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// Poll probes the active upstreams of every active domain in scope and
// returns the results ordered by upstream id. Results of upstreams that
// are no longer probed are forgotten.
func (m *Monitor) Poll(ctx context.Context, scope model.Scope) ([]Result, error) {
	domains, err := m.reader.ListDomains(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to list domains: %w", err)
	}
	active := make(map[int64]bool, len(domains))
	for _, d := range domains {
		active[d.ID] = d.IsActive
	}

	upstreams, err := m.reader.ListUpstreams(ctx, scope, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list upstreams: %w", err)
	}

	var targets []model.Upstream
	for _, u := range upstreams {
		if u.IsActive && active[u.DomainID] {
			targets = append(targets, u)
		}
	}

	results := make([]Result, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, u := range targets {
		g.Go(func() error {
			results[i] = m.checker.CheckUpstream(gctx, u)
			return nil
		})
	}
	_ = g.Wait()

	m.mu.Lock()
	probed := make(map[int64]bool, len(results))
	for _, r := range results {
		probed[r.UpstreamID] = true
		m.results[r.UpstreamID] = r
	}
	for id, r := range m.results {
		if !probed[id] && inDomains(r.DomainID, active) {
			delete(m.results, id)
		}
	}
	subscribers := append([]func(Result){}, m.subscribers...)
	m.mu.Unlock()

	healthy := 0
	for _, r := range results {
		if r.Healthy {
			healthy++
		}
		m.metrics.UpdateUpstreamHealth(strconv.FormatInt(r.UpstreamID, 10), r.Healthy, r.ResponseTime)
		for _, fn := range subscribers {
			fn(r)
		}
	}

	m.logger.InfoContext(ctx, "upstream health poll completed",
		"tenant", scope.String(),
		"probed", len(results),
		"healthy", healthy,
	)
	return results, nil
}

// inDomains reports whether domainID belongs to the polled scope.
func inDomains(domainID int64, domains map[int64]bool) bool {
	_, ok := domains[domainID]
	return ok
}

// Result returns the latest result of one upstream.
func (m *Monitor) Result(upstreamID int64) (Result, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[upstreamID]
	return r, ok
}

// Snapshot returns every known result ordered by upstream id.
func (m *Monitor) Snapshot() []Result {
	return m.filter(func(Result) bool { return true })
}

// DomainSnapshot returns the known results of one domain's upstreams.
func (m *Monitor) DomainSnapshot(domainID int64) []Result {
	return m.filter(func(r Result) bool { return r.DomainID == domainID })
}

func (m *Monitor) filter(keep func(Result) bool) []Result {
	m.mu.RLock()
	out := make([]Result, 0, len(m.results))
	for _, r := range m.results {
		if keep(r) {
			out = append(out, r)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpstreamID < out[j].UpstreamID })
	return out
}
