package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"netpilot-hq/netpilot/pkg/breaker"
	"netpilot-hq/netpilot/pkg/events"
	"netpilot-hq/netpilot/pkg/healthcheck"
	"netpilot-hq/netpilot/pkg/ledger"
	"netpilot-hq/netpilot/pkg/model"
	"netpilot-hq/netpilot/pkg/store"
	"netpilot-hq/netpilot/pkg/telemetry/logging"
	"netpilot-hq/netpilot/pkg/telemetry/metrics"
	"netpilot-hq/netpilot/pkg/telemetry/tracing"
)

// CertificateSource returns the certificate a domain's document references.
type CertificateSource interface {
	CurrentCertificate(ctx context.Context, scope model.Scope, domainID int64) (*model.Certificate, error)
}

// HealthSource returns the latest probe results of a domain's upstreams.
type HealthSource interface {
	DomainSnapshot(domainID int64) []healthcheck.Result
}

// DomainResult is the outcome of publishing one domain.
type DomainResult struct {
	DomainID int64        `json:"domain_id"`
	Domain   string       `json:"domain"`
	File     string       `json:"file"`
	Outcome  WriteOutcome `json:"outcome"`
	Checksum string       `json:"checksum,omitempty"`
	Routers  int          `json:"routers"`
	Skipped  []Skipped    `json:"skipped,omitempty"`

	// Unhealthy lists upstreams last seen unhealthy. It is informational
	// and never changes the document.
	Unhealthy []int64 `json:"unhealthy_upstreams,omitempty"`
}

// Report is the outcome of a reconciliation pass.
type Report struct {
	OperationID string         `json:"operation_id"`
	Domains     []DomainResult `json:"domains"`
	Removed     []string       `json:"removed,omitempty"`

	// Reload is "ok", "skipped" or "failed".
	Reload string `json:"reload"`
}

// SkippedCount returns the number of excluded rules across all domains.
func (r *Report) SkippedCount() int {
	n := 0
	for _, d := range r.Domains {
		n += len(d.Skipped)
	}
	return n
}

// Changed reports whether any file was written or removed.
func (r *Report) Changed() bool {
	if len(r.Removed) > 0 {
		return true
	}
	for _, d := range r.Domains {
		if d.Outcome.Changed() {
			return true
		}
	}
	return false
}

// Engine publishes the desired state as proxy configuration. It is the
// only writer of the dynamic directory.
type Engine struct {
	reader   store.Reader
	writer   *Writer
	reloader Reloader
	ledger   *ledger.Ledger

	certs        CertificateSource
	health       HealthSource
	breakers     *breaker.Registry
	progress     events.ProgressSink
	metrics      *metrics.Collector
	tracer       *tracing.Tracer
	logger       *slog.Logger
	render       RenderOptions
	parallelism  int
	pruneOrphans bool

	// reloadPending is set while a reload failed and no later one succeeded.
	reloadPending atomic.Bool

	// published maps a domain to the document last written for it, so a
	// deleted domain's document can be found without its name.
	publishedMu sync.Mutex
	published   map[domainKey]string
}

type domainKey struct {
	tenant string
	id     int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithCertificates sets the source of TLS references.
func WithCertificates(src CertificateSource) Option {
	return func(e *Engine) {
		e.certs = src
	}
}

// WithHealth attaches upstream health to ledger entries.
func WithHealth(src HealthSource) Option {
	return func(e *Engine) {
		e.health = src
	}
}

// WithBreakers guards reloads with the "proxy-reload" breaker.
func WithBreakers(r *breaker.Registry) Option {
	return func(e *Engine) {
		e.breakers = r
	}
}

// WithProgress sets the sink of progress messages.
func WithProgress(sink events.ProgressSink) Option {
	return func(e *Engine) {
		if sink != nil {
			e.progress = sink
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) {
		e.metrics = c
	}
}

// WithTracer sets the tracer.
func WithTracer(t *tracing.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRenderOptions sets the entry point names.
func WithRenderOptions(o RenderOptions) Option {
	return func(e *Engine) {
		e.render = o
	}
}

// WithParallelism limits concurrent domains in a full pass. Default: 4
func WithParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

// WithOrphanPruning controls whether a full pass removes documents of
// domains that no longer exist. Disable it when several scopes share one
// directory. Default: true
func WithOrphanPruning(enabled bool) Option {
	return func(e *Engine) {
		e.pruneOrphans = enabled
	}
}

// NewEngine creates an engine.
func NewEngine(reader store.Reader, writer *Writer, reloader Reloader, l *ledger.Ledger, opts ...Option) *Engine {
	e := &Engine{
		reader:       reader,
		writer:       writer,
		reloader:     reloader,
		ledger:       l,
		progress:     events.Discard,
		logger:       slog.Default().With("component", "reconcile"),
		parallelism:  4,
		pruneOrphans: true,
		published:    make(map[domainKey]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.render = e.render.withDefaults()
	return e
}

// ReloadPending reports whether the last reload failed.
func (e *Engine) ReloadPending() bool {
	return e.reloadPending.Load()
}

// plan is a rendered, not yet published document.
type plan struct {
	domain   model.Domain
	file     string
	data     []byte
	routers  int
	excluded []*RuleError
	remove   bool
}

// ReconcileDomain publishes one domain. An inactive domain has its document
// removed, and so has a deleted one this engine published before. Rule
// problems exclude the rule; write and reload failures fail the pass and
// are returned.
func (e *Engine) ReconcileDomain(ctx context.Context, scope model.Scope, domainID int64) (*Report, error) {
	subject := "#" + strconv.FormatInt(domainID, 10)
	d, err := e.reader.GetDomain(ctx, scope, domainID)
	if err == nil {
		subject = d.Name
	}

	ctx, span := e.tracer.Start(ctx, "reconcile.domain", tracing.Domain(scope.String(), domainID, subject)...)
	op, opErr := e.ledger.Begin(ctx, scope, ledger.KindReconcile, "publish", subject)
	if opErr != nil {
		tracing.End(span, opErr)
		return nil, fmt.Errorf("failed to open ledger entry: %w", opErr)
	}
	ctx = logging.WithOperationID(logging.WithTenant(ctx, scope.TenantID), op.ID())
	span.SetAttributes(tracing.AttrOperationID.String(op.ID()))

	report := &Report{OperationID: op.ID(), Reload: "skipped"}
	start := time.Now()
	err = e.reconcileDomain(ctx, scope, op, report, domainID, d, err)
	e.finish(ctx, op, report, start, err)
	tracing.End(span, err)
	return report, err
}

func (e *Engine) reconcileDomain(ctx context.Context, scope model.Scope, op *ledger.Operation, report *Report, domainID int64, d *model.Domain, loadErr error) error {
	e.step(ctx, op, "load", 10, "loading desired state")
	if loadErr != nil {
		file, ok := e.publishedFile(scope, domainID)
		if !ok || !errors.Is(loadErr, store.ErrNotFound) {
			return fmt.Errorf("failed to load domain: %w", loadErr)
		}
		e.step(ctx, op, "write", 70, "removing "+file+" of deleted domain")
		res, err := e.publish(ctx, &plan{
			domain: model.Domain{ID: domainID, TenantID: scope.TenantID},
			file:   file,
			remove: true,
		})
		if err != nil {
			return err
		}
		e.recordDomain(op, report, res)
		return e.maybeReload(ctx, op, report)
	}
	upstreams, err := e.upstreams(ctx, scope)
	if err != nil {
		return err
	}

	e.step(ctx, op, "render", 40, "rendering "+d.Name)
	p, err := e.plan(ctx, scope, *d, upstreams)
	if err != nil {
		return err
	}

	e.step(ctx, op, "write", 70, "publishing "+p.file)
	res, err := e.publish(ctx, p)
	if err != nil {
		return err
	}
	e.recordDomain(op, report, res)

	return e.maybeReload(ctx, op, report)
}

// ReconcileAll publishes every domain of scope. Domains are rendered and
// written concurrently; each has its own file.
func (e *Engine) ReconcileAll(ctx context.Context, scope model.Scope) (*Report, error) {
	ctx, span := e.tracer.Start(ctx, "reconcile.all", tracing.AttrTenant.String(scope.String()))
	op, err := e.ledger.Begin(ctx, scope, ledger.KindReconcile, "publish", "*")
	if err != nil {
		tracing.End(span, err)
		return nil, fmt.Errorf("failed to open ledger entry: %w", err)
	}
	ctx = logging.WithOperationID(logging.WithTenant(ctx, scope.TenantID), op.ID())
	span.SetAttributes(tracing.AttrOperationID.String(op.ID()))

	report := &Report{OperationID: op.ID(), Reload: "skipped"}
	start := time.Now()
	err = e.reconcileAll(ctx, scope, op, report)
	e.finish(ctx, op, report, start, err)
	tracing.End(span, err)
	return report, err
}

func (e *Engine) reconcileAll(ctx context.Context, scope model.Scope, op *ledger.Operation, report *Report) error {
	e.step(ctx, op, "load", 10, "loading desired state")
	domains, err := e.reader.ListDomains(ctx, scope)
	if err != nil {
		return fmt.Errorf("failed to list domains: %w", err)
	}
	upstreams, err := e.upstreams(ctx, scope)
	if err != nil {
		return err
	}

	e.step(ctx, op, "write", 30, fmt.Sprintf("publishing %d domain(s)", len(domains)))
	var (
		mu      sync.Mutex
		results = make([]DomainResult, len(domains))
		done    int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for i, d := range domains {
		g.Go(func() error {
			p, err := e.plan(gctx, scope, d, upstreams)
			if err != nil {
				return err
			}
			res, err := e.publish(gctx, p)
			if err != nil {
				return err
			}
			results[i] = res

			mu.Lock()
			done++
			n := done
			mu.Unlock()
			e.step(gctx, op, "write", 30+50*n/len(domains), fmt.Sprintf("%s %s", res.Outcome, res.File))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, res := range results {
		e.recordDomain(op, report, res)
	}

	if e.pruneOrphans {
		if err := e.removeOrphans(ctx, op, report, domains); err != nil {
			return err
		}
	}

	return e.maybeReload(ctx, op, report)
}

// Render returns the document of a domain without publishing it.
func (e *Engine) Render(ctx context.Context, scope model.Scope, domainID int64) ([]byte, []Skipped, error) {
	d, err := e.reader.GetDomain(ctx, scope, domainID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load domain: %w", err)
	}
	upstreams, err := e.upstreams(ctx, scope)
	if err != nil {
		return nil, nil, err
	}
	p, err := e.plan(ctx, scope, *d, upstreams)
	if err != nil {
		return nil, nil, err
	}
	skipped := make([]Skipped, 0, len(p.excluded))
	for _, x := range p.excluded {
		skipped = append(skipped, x.Skipped())
	}
	return p.data, skipped, nil
}

// RetryReload repeats only the reload step of an earlier pass.
func (e *Engine) RetryReload(ctx context.Context, scope model.Scope) error {
	ctx, span := e.tracer.Start(ctx, "reconcile.reload", tracing.AttrTenant.String(scope.String()))
	op, err := e.ledger.Begin(ctx, scope, ledger.KindReconcile, "reload", "*")
	if err != nil {
		tracing.End(span, err)
		return fmt.Errorf("failed to open ledger entry: %w", err)
	}
	ctx = logging.WithOperationID(ctx, op.ID())

	err = e.reload(ctx)
	if err != nil {
		op.Set("reload", "failed")
	} else {
		op.Set("reload", "ok")
	}
	_ = op.Finish(ctx, err)
	tracing.End(span, err)
	return err
}

// Verify parses every document in the dynamic directory.
func (e *Engine) Verify(ctx context.Context) (*VerifyReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Verify(e.writer.Dir())
}

func (e *Engine) upstreams(ctx context.Context, scope model.Scope) (map[int64]model.Upstream, error) {
	list, err := e.reader.ListUpstreams(ctx, scope, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list upstreams: %w", err)
	}
	out := make(map[int64]model.Upstream, len(list))
	for _, u := range list {
		out[u.ID] = u
	}
	return out, nil
}

func (e *Engine) plan(ctx context.Context, scope model.Scope, d model.Domain, upstreams map[int64]model.Upstream) (*plan, error) {
	p := &plan{domain: d, file: FileName(d.Name)}
	if !d.IsActive {
		p.remove = true
		return p, nil
	}

	routes, err := e.reader.ListRouteRules(ctx, scope, d.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list route rules of %s: %w", d.Name, err)
	}
	redirects, err := e.reader.ListRedirectRules(ctx, scope, d.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list redirect rules of %s: %w", d.Name, err)
	}

	okRoutes, okRedirects, excluded := partition(d, routes, redirects, upstreams)
	p.excluded = excluded
	p.routers = len(okRoutes) + len(okRedirects)

	var cert *model.Certificate
	if e.certs != nil && d.AutoTLS {
		cert, err = e.certs.CurrentCertificate(ctx, scope, d.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("failed to load certificate of %s: %w", d.Name, err)
		}
	}

	p.data, err = Render(Input{
		Domain:      d,
		Routes:      okRoutes,
		Redirects:   okRedirects,
		Upstreams:   upstreams,
		Certificate: cert,
	}, e.render)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (e *Engine) publish(ctx context.Context, p *plan) (DomainResult, error) {
	res := DomainResult{
		DomainID: p.domain.ID,
		Domain:   p.domain.Name,
		File:     p.file,
		Routers:  p.routers,
	}
	for _, x := range p.excluded {
		res.Skipped = append(res.Skipped, x.Skipped())
		e.metrics.RecordRuleExcluded(string(x.Kind))
		e.logger.WarnContext(ctx, "rule excluded",
			"domain", p.domain.Name,
			"rule_type", x.RuleType,
			"rule_id", x.RuleID,
			"kind", x.Kind,
			"reason", x.Reason,
		)
	}

	var err error
	if p.remove {
		res.Outcome, err = e.writer.Remove(ctx, p.file)
	} else {
		res.Outcome, err = e.writer.Write(ctx, p.file, p.data)
		res.Checksum = Checksum(p.data)
	}
	if err != nil {
		e.metrics.RecordFileWrite("error")
		return res, err
	}
	e.metrics.RecordFileWrite(string(res.Outcome))
	e.track(p)

	if e.health != nil {
		for _, h := range e.health.DomainSnapshot(p.domain.ID) {
			if !h.Healthy {
				res.Unhealthy = append(res.Unhealthy, h.UpstreamID)
			}
		}
	}

	e.logger.DebugContext(ctx, "domain published",
		"domain", p.domain.Name,
		"file", p.file,
		"outcome", res.Outcome,
		"routers", res.Routers,
		"skipped", len(res.Skipped),
	)
	return res, nil
}

// track records which domain owns the document of p.
func (e *Engine) track(p *plan) {
	e.publishedMu.Lock()
	defer e.publishedMu.Unlock()
	e.forgetLocked(p.file)
	if !p.remove {
		e.published[domainKey{tenant: p.domain.TenantID, id: p.domain.ID}] = p.file
	}
}

func (e *Engine) forget(file string) {
	e.publishedMu.Lock()
	defer e.publishedMu.Unlock()
	e.forgetLocked(file)
}

func (e *Engine) forgetLocked(file string) {
	for k, f := range e.published {
		if f == file {
			delete(e.published, k)
		}
	}
}

func (e *Engine) publishedFile(scope model.Scope, domainID int64) (string, bool) {
	e.publishedMu.Lock()
	defer e.publishedMu.Unlock()
	file, ok := e.published[domainKey{tenant: scope.TenantID, id: domainID}]
	return file, ok
}

func (e *Engine) removeOrphans(ctx context.Context, op *ledger.Operation, report *Report, domains []model.Domain) error {
	known := make(map[string]bool, len(domains))
	for _, d := range domains {
		known[FileName(d.Name)] = true
	}
	files, err := e.writer.List()
	if err != nil {
		return NewWriteError(e.writer.Dir(), "list", err)
	}
	for _, name := range files {
		if known[name] {
			continue
		}
		outcome, err := e.writer.Remove(ctx, name)
		if err != nil {
			e.metrics.RecordFileWrite("error")
			return err
		}
		e.forget(name)
		if outcome == OutcomeRemoved {
			e.metrics.RecordFileWrite(string(outcome))
			report.Removed = append(report.Removed, name)
			op.Append("removed", name)
			e.logger.InfoContext(ctx, "orphaned document removed", "file", name)
		}
	}
	return nil
}

func (e *Engine) recordDomain(op *ledger.Operation, report *Report, res DomainResult) {
	report.Domains = append(report.Domains, res)
	op.Append("domains", res)
	for _, s := range res.Skipped {
		op.Append("skipped", s)
	}
}

// maybeReload reloads when a file changed or an earlier reload failed.
func (e *Engine) maybeReload(ctx context.Context, op *ledger.Operation, report *Report) error {
	if !report.Changed() && !e.reloadPending.Load() {
		e.step(ctx, op, "reload", 90, "no changes, reload skipped")
		return nil
	}
	e.step(ctx, op, "reload", 90, "reloading proxy via "+e.reloader.Name())
	if err := e.reload(ctx); err != nil {
		report.Reload = "failed"
		return err
	}
	report.Reload = "ok"
	return nil
}

func (e *Engine) reload(ctx context.Context) error {
	var err error
	if e.breakers != nil {
		err = e.breakers.Execute(ctx, breaker.NameProxyReload, e.reloader.Reload)
	} else {
		err = e.reloader.Reload(ctx)
	}
	if err != nil {
		e.reloadPending.Store(true)
		e.metrics.RecordReload(e.reloader.Name(), "failed")
		return NewReloadError(e.reloader.Name(), err)
	}
	e.reloadPending.Store(false)
	e.metrics.RecordReload(e.reloader.Name(), "ok")
	return nil
}

func (e *Engine) finish(ctx context.Context, op *ledger.Operation, report *Report, start time.Time, err error) {
	op.Set("reload", report.Reload)
	op.Set("skipped_count", report.SkippedCount())

	result := "success"
	switch {
	case errors.Is(err, ErrReloadFailed):
		result = "reload_failed"
		op.Set("cause", "ReloadFailed")
	case errors.Is(err, ErrConfigWriteFailed):
		result = "write_failed"
		op.Set("cause", "ConfigWriteFailed")
	case err != nil:
		result = "failed"
	}
	e.metrics.RecordReconcile(result, time.Since(start))

	if err != nil {
		e.step(ctx, op, "failed", 100, err.Error())
	} else {
		e.step(ctx, op, "done", 100, fmt.Sprintf("%d domain(s) reconciled, %d rule(s) skipped", len(report.Domains), report.SkippedCount()))
	}
	_ = op.Finish(ctx, err)
}

func (e *Engine) step(ctx context.Context, op *ledger.Operation, step string, percent int, message string) {
	e.progress.Progress(ctx, events.Progress{
		OperationID: op.ID(),
		Subject:     op.Entry().Subject,
		Step:        step,
		Percent:     percent,
		Message:     message,
	})
}
