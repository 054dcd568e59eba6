package certs

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"netpilot-hq/netpilot/pkg/breaker"
	"netpilot-hq/netpilot/pkg/config"
	"netpilot-hq/netpilot/pkg/events"
	"netpilot-hq/netpilot/pkg/ledger"
	"netpilot-hq/netpilot/pkg/model"
	"netpilot-hq/netpilot/pkg/store"
	"netpilot-hq/netpilot/pkg/telemetry/logging"
	"netpilot-hq/netpilot/pkg/telemetry/metrics"
	"netpilot-hq/netpilot/pkg/telemetry/tracing"
)

// DomainSource loads the domain a certificate belongs to.
type DomainSource interface {
	GetDomain(ctx context.Context, scope model.Scope, id int64) (*model.Domain, error)
}

// Config holds the lifecycle settings of a Manager.
type Config struct {
	// RenewBeforeDays applies to certificates without a window of their own.
	RenewBeforeDays int

	Retry RetryPolicy

	// Challenge is ChallengeHTTP01 or ChallengeDNS01.
	Challenge string

	// CheckHost and CheckPorts are dialed before an http-01 order.
	CheckHost  string
	CheckPorts []int

	// SkipPreflight disables DNS resolution and the port check.
	SkipPreflight bool

	// IssueTimeout bounds the certificate authority call. Zero means no
	// limit beyond the caller's context.
	IssueTimeout time.Duration
}

// ConfigFrom builds a Config from the certificates and acme sections.
func ConfigFrom(certs *config.CertificatesConfig, acme *config.ACMEConfig) Config {
	return Config{
		RenewBeforeDays: certs.RenewBeforeDays,
		Retry:           RetryPolicyFrom(certs),
		Challenge:       acme.Challenge,
		CheckHost:       certs.CheckHost,
		CheckPorts:      append([]int(nil), certs.CheckPorts...),
		SkipPreflight:   certs.SkipPreflight,
		IssueTimeout:    acme.Timeout,
	}
}

func (c Config) withDefaults() Config {
	if c.RenewBeforeDays <= 0 {
		c.RenewBeforeDays = config.DefaultRenewBeforeDays
	}
	if c.Challenge == "" {
		c.Challenge = ChallengeHTTP01
	}
	if c.CheckHost == "" {
		c.CheckHost = config.DefaultCheckHost
	}
	if len(c.CheckPorts) == 0 {
		c.CheckPorts = []int{80, 443}
	}
	return c
}

// staleAfter is how long a certificate may stay in processing before a
// sweep assumes its issuer died.
func (c Config) staleAfter() time.Duration {
	if c.IssueTimeout > 0 {
		return 2 * c.IssueTimeout
	}
	return time.Hour
}

// Manager drives certificates through their lifecycle. It is the only
// writer of certificate records once they left the pending state.
type Manager struct {
	cfg       Config
	certs     store.CertificateStore
	domains   DomainSource
	issuer    Issuer
	materials *MaterialStore
	ledger    *ledger.Ledger

	locker    Locker
	breakers  *breaker.Registry
	notifier  events.Notifier
	publisher Publisher
	resolver  Resolver
	dialer    Dialer
	metrics   *metrics.Collector
	tracer    *tracing.Tracer
	logger    *slog.Logger
	now       func() time.Time

	sweeping atomic.Bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLocker sets the issuance lock. Default: an in-process KeyedLocker
func WithLocker(l Locker) Option {
	return func(m *Manager) {
		if l != nil {
			m.locker = l
		}
	}
}

// WithBreakers guards certificate authority calls with the "acme" breaker.
func WithBreakers(r *breaker.Registry) Option {
	return func(m *Manager) {
		m.breakers = r
	}
}

// WithNotifier sets the receiver of certificate updates.
func WithNotifier(n events.Notifier) Option {
	return func(m *Manager) {
		if n != nil {
			m.notifier = n
		}
	}
}

// WithPublisher sets what re-publishes a domain after issuance.
func WithPublisher(p Publisher) Option {
	return func(m *Manager) {
		m.publisher = p
	}
}

// WithResolver replaces the DNS resolver of the domain validation phase.
func WithResolver(r Resolver) Option {
	return func(m *Manager) {
		if r != nil {
			m.resolver = r
		}
	}
}

// WithDialer replaces the dialer of the port check phase.
func WithDialer(d Dialer) Option {
	return func(m *Manager) {
		if d != nil {
			m.dialer = d
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) {
		m.metrics = c
	}
}

// WithTracer sets the tracer.
func WithTracer(t *tracing.Tracer) Option {
	return func(m *Manager) {
		m.tracer = t
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a manager.
func NewManager(cfg Config, certs store.CertificateStore, domains DomainSource, issuer Issuer, materials *MaterialStore, l *ledger.Ledger, opts ...Option) *Manager {
	m := &Manager{
		cfg:       cfg.withDefaults(),
		certs:     certs,
		domains:   domains,
		issuer:    issuer,
		materials: materials,
		ledger:    l,
		locker:    NewKeyedLocker(),
		notifier:  events.Discard,
		resolver:  net.DefaultResolver,
		dialer:    &net.Dialer{},
		logger:    slog.Default().With("component", "certs"),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Issue obtains and installs a certificate. Only one issuance per domain
// runs at a time; a concurrent call returns ErrIssuanceInProgress at once.
// The returned certificate reflects the stored state, also on failure.
func (m *Manager) Issue(ctx context.Context, scope model.Scope, certID int64) (*model.Certificate, error) {
	cert, err := m.certs.GetCertificate(ctx, scope, certID)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate %d: %w", certID, err)
	}

	unlock, err := m.acquire(ctx, scope, cert)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// The previous holder may have changed the record.
	cert, err = m.certs.GetCertificate(ctx, scope, certID)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate %d: %w", certID, err)
	}
	return m.issue(ctx, scope, cert)
}

func (m *Manager) acquire(ctx context.Context, scope model.Scope, cert *model.Certificate) (func(), error) {
	unlock, ok, err := m.locker.TryLock(ctx, LockKey(scope, cert.DomainID))
	if err != nil {
		return nil, fmt.Errorf("failed to acquire issuance lock: %w", err)
	}
	if !ok {
		m.logger.InfoContext(ctx, "issuance already in progress",
			"certificate_id", cert.ID,
			"domain", cert.DomainName,
		)
		return nil, ErrIssuanceInProgress
	}
	return unlock, nil
}

func (m *Manager) issue(ctx context.Context, scope model.Scope, cert *model.Certificate) (*model.Certificate, error) {
	kind := ledger.KindCertIssue
	switch cert.Status {
	case model.CertValid, model.CertExpiring, model.CertExpired:
		kind = ledger.KindCertRenew
	}

	ctx, span := m.tracer.Start(ctx, "certs.issue",
		tracing.AttrTenant.String(scope.String()),
		tracing.AttrCertificate.Int64(cert.ID),
		tracing.AttrDomain.String(cert.DomainName),
	)
	op, err := m.ledger.Begin(ctx, scope, kind, "issue", cert.DomainName)
	if err != nil {
		tracing.End(span, err)
		return nil, fmt.Errorf("failed to open ledger entry: %w", err)
	}
	ctx = logging.WithTenant(ctx, scope.TenantID)
	ctx = logging.WithDomain(ctx, cert.DomainName)
	ctx = logging.WithOperationID(ctx, op.ID())
	span.SetAttributes(tracing.AttrOperationID.String(op.ID()))

	op.Set("certificate_id", cert.ID)
	op.Set("names", cert.Names())
	op.Set("previous_status", string(cert.Status))

	start := m.now()
	cert.Status = model.CertProcessing
	cert.UpdatedAt = start
	if err := m.certs.UpdateCertificate(ctx, scope, cert); err != nil {
		err = fmt.Errorf("failed to mark certificate processing: %w", err)
		_ = op.Fail(ctx, err)
		tracing.End(span, err)
		return nil, err
	}
	m.notify(ctx, scope, cert)

	m.logger.InfoContext(ctx, "certificate issuance started",
		"certificate_id", cert.ID,
		"kind", kind,
		"names", cert.Names(),
	)

	paths, leaf, err := m.runPhases(ctx, scope, op, cert)

	// The outcome is recorded even when the caller gave up.
	persistCtx := context.WithoutCancel(ctx)
	if err != nil {
		m.recordFailure(persistCtx, scope, op, cert, kind, start, err)
		tracing.End(span, err)
		return cert, err
	}
	if err := m.recordSuccess(persistCtx, scope, op, cert, kind, start, paths, leaf); err != nil {
		tracing.End(span, err)
		return cert, err
	}
	tracing.End(span, nil)
	return cert, nil
}

func (m *Manager) runPhases(ctx context.Context, scope model.Scope, op *ledger.Operation, cert *model.Certificate) (Paths, *x509.Certificate, error) {
	name := cert.DomainName
	names := cert.Names()

	err := m.phase(ctx, op, PhaseDomainValidation, func(ctx context.Context) error {
		d, err := m.domains.GetDomain(ctx, scope, cert.DomainID)
		if err != nil {
			return NewError(KindInvalidDomain, name, PhaseDomainValidation, err)
		}
		if !d.IsActive {
			return NewError(KindInvalidDomain, name, PhaseDomainValidation, ErrDomainInactive)
		}
		if err := validateNames(ctx, m.resolver, names, m.cfg.Challenge, !m.cfg.SkipPreflight); err != nil {
			return NewError(KindInvalidDomain, name, PhaseDomainValidation, err)
		}
		return nil
	})
	if err != nil {
		return Paths{}, nil, err
	}

	if m.cfg.Challenge == ChallengeHTTP01 && !m.cfg.SkipPreflight {
		err = m.phase(ctx, op, PhasePortCheck, func(ctx context.Context) error {
			if err := checkPorts(ctx, m.dialer, m.cfg.CheckHost, m.cfg.CheckPorts); err != nil {
				return NewError(KindPortsUnavailable, name, PhasePortCheck, err)
			}
			return nil
		})
		if err != nil {
			return Paths{}, nil, err
		}
	} else {
		m.skipPhase(op, PhasePortCheck)
	}

	err = m.phase(ctx, op, PhaseEnvironmentPrep, func(ctx context.Context) error {
		if err := m.materials.Prepare(name); err != nil {
			return NewError(KindWritePermissionDenied, name, PhaseEnvironmentPrep, err)
		}
		return nil
	})
	if err != nil {
		return Paths{}, nil, err
	}

	var material *Material
	err = m.phase(ctx, op, PhaseCertificateIssuance, func(ctx context.Context) error {
		var err error
		material, err = m.obtain(ctx, names)
		if err != nil {
			return NewError(KindAcmeClientFailed, name, PhaseCertificateIssuance, err)
		}
		return nil
	})
	if err != nil {
		return Paths{}, nil, err
	}

	var paths Paths
	err = m.phase(ctx, op, PhaseCertificateApplication, func(ctx context.Context) error {
		var err error
		paths, err = m.materials.Write(name, material)
		if err != nil {
			return NewError(KindWritePermissionDenied, name, PhaseCertificateApplication, err)
		}
		return nil
	})
	if err != nil {
		return Paths{}, nil, err
	}

	var leaf *x509.Certificate
	err = m.phase(ctx, op, PhaseFinalVerification, func(ctx context.Context) error {
		installed, err := readMaterial(paths)
		if err == nil {
			leaf, err = verifyMaterial(installed, names, m.now())
		}
		if err != nil {
			return NewError(KindVerificationFailed, name, PhaseFinalVerification, err)
		}
		return nil
	})
	if err != nil {
		return Paths{}, nil, err
	}
	return paths, leaf, nil
}

func (m *Manager) obtain(ctx context.Context, names []string) (*Material, error) {
	if m.cfg.IssueTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.IssueTimeout)
		defer cancel()
	}

	call := func(ctx context.Context) (*Material, error) {
		return m.issuer.Obtain(ctx, Request{Names: names})
	}
	if m.breakers == nil {
		return call(ctx)
	}
	return breaker.Call(ctx, m.breakers.Get(breaker.NameACME), call)
}

// phase runs one issuance phase and records it on the ledger entry.
func (m *Manager) phase(ctx context.Context, op *ledger.Operation, name string, fn func(context.Context) error) error {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(tracing.AttrPhase.String(name)))
	m.logger.DebugContext(ctx, "issuance phase started", "phase", name)

	start := m.now()
	err := fn(ctx)
	record := map[string]any{
		"phase":       name,
		"status":      "success",
		"duration_ms": m.now().Sub(start).Milliseconds(),
	}
	if err != nil {
		record["status"] = "failed"
		record["error"] = err.Error()
		m.logger.WarnContext(ctx, "issuance phase failed", "phase", name, "error", err)
	}
	op.Append("phases", record)
	return err
}

func (m *Manager) skipPhase(op *ledger.Operation, name string) {
	op.Append("phases", map[string]any{"phase": name, "status": "skipped"})
}

func readMaterial(paths Paths) (*Material, error) {
	certPEM, err := os.ReadFile(paths.Certificate)
	if err != nil {
		return nil, err
	}
	keyPEM, err := os.ReadFile(paths.PrivateKey)
	if err != nil {
		return nil, err
	}
	return &Material{Certificate: certPEM, PrivateKey: keyPEM}, nil
}

func (m *Manager) recordSuccess(ctx context.Context, scope model.Scope, op *ledger.Operation, cert *model.Certificate, kind ledger.Kind, start time.Time, paths Paths, leaf *x509.Certificate) error {
	now := m.now()
	expires := leaf.NotAfter.UTC()
	cert.Status = model.CertValid
	cert.IssuedAt = &now
	cert.ExpiresAt = &expires
	cert.CertificatePath = paths.Certificate
	cert.PrivateKeyPath = paths.PrivateKey
	cert.ChainPath = paths.Chain
	cert.LastError = ""
	cert.FailureCount = 0
	cert.NextAttemptAt = nil
	cert.UpdatedAt = now
	if issuer := issuerName(leaf); issuer != "" {
		cert.Issuer = issuer
	}

	if err := m.certs.UpdateCertificate(ctx, scope, cert); err != nil {
		err = fmt.Errorf("failed to store issued certificate: %w", err)
		_ = op.Fail(ctx, err)
		m.metrics.RecordIssuance(string(kind), "failed", now.Sub(start))
		return err
	}

	op.Set("expires_at", expires)
	op.Set("paths", paths)
	m.notify(ctx, scope, cert)
	m.publish(ctx, scope, op, cert)
	_ = op.Succeed(ctx)

	m.metrics.RecordIssuance(string(kind), "success", now.Sub(start))
	m.metrics.RecordCertificateExpiry(cert.DomainName, expires.Sub(now))
	m.logger.InfoContext(ctx, "certificate issued",
		"certificate_id", cert.ID,
		"expires_at", expires,
		"duration", now.Sub(start),
	)
	return nil
}

func (m *Manager) recordFailure(ctx context.Context, scope model.Scope, op *ledger.Operation, cert *model.Certificate, kind ledger.Kind, start time.Time, cause error) {
	now := m.now()
	cert.Status = model.CertFailed
	cert.LastError = cause.Error()
	cert.FailureCount++
	next := now.Add(m.cfg.Retry.Delay(cert.FailureCount))
	cert.NextAttemptAt = &next
	cert.UpdatedAt = now

	if err := m.certs.UpdateCertificate(ctx, scope, cert); err != nil {
		m.logger.ErrorContext(ctx, "failed to store certificate failure",
			"certificate_id", cert.ID,
			"error", err,
		)
	}

	result := string(KindOf(cause))
	if result == "" {
		result = "failed"
	}
	op.Set("cause", result)
	op.Set("failure_count", cert.FailureCount)
	op.Set("next_attempt_at", next)
	if m.cfg.Retry.Exhausted(cert.FailureCount) {
		op.Set("retries_exhausted", true)
	}
	_ = op.Fail(ctx, cause)
	m.notify(ctx, scope, cert)

	m.metrics.RecordIssuance(string(kind), result, now.Sub(start))
	m.logger.ErrorContext(ctx, "certificate issuance failed",
		"certificate_id", cert.ID,
		"kind", result,
		"failure_count", cert.FailureCount,
		"next_attempt_at", next,
		"error", cause,
	)
}

// publish asks the engine to pick up the new material. A failed publish
// does not undo the issuance; the engine records its own failure and the
// next pass publishes the certificate.
func (m *Manager) publish(ctx context.Context, scope model.Scope, op *ledger.Operation, cert *model.Certificate) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.PublishDomain(ctx, scope, cert.DomainID); err != nil {
		op.Set("publish_error", err.Error())
		m.logger.WarnContext(ctx, "failed to publish certificate",
			"certificate_id", cert.ID,
			"error", err,
		)
		return
	}
	op.Set("published", true)
}

func (m *Manager) notify(ctx context.Context, scope model.Scope, cert *model.Certificate) {
	m.notifier.CertificateUpdated(ctx, events.CertificateUpdated{
		TenantID:      scope.TenantID,
		DomainID:      cert.DomainID,
		DomainName:    cert.DomainName,
		CertificateID: cert.ID,
		Status:        string(cert.Status),
		LastError:     cert.LastError,
		IssuedAt:      cert.IssuedAt,
		ExpiresAt:     cert.ExpiresAt,
	})
}

func issuerName(leaf *x509.Certificate) string {
	if len(leaf.Issuer.Organization) > 0 {
		return leaf.Issuer.Organization[0]
	}
	return leaf.Issuer.CommonName
}

// SweepFailure describes a certificate a sweep could not renew.
type SweepFailure struct {
	CertificateID int64  `json:"certificate_id"`
	Domain        string `json:"domain"`
	Kind          Kind   `json:"kind,omitempty"`
	Error         string `json:"error"`
}

// SweepResult summarizes a renewal sweep.
type SweepResult struct {
	Checked int            `json:"checked"`
	Renewed []int64        `json:"renewed,omitempty"`
	Failed  []SweepFailure `json:"failed,omitempty"`

	// Busy lists certificates whose issuance lock was held elsewhere.
	Busy []int64 `json:"busy,omitempty"`

	// Deferred lists failed certificates still waiting out their retry delay.
	Deferred []int64 `json:"deferred,omitempty"`

	// Exhausted lists failed certificates that ran out of automatic retries.
	Exhausted []int64 `json:"exhausted,omitempty"`
}

// RenewalSweep reissues every auto-renewing certificate that is due:
// valid ones inside their renewal window, expiring and expired ones,
// pending ones and failed ones whose retry delay has elapsed. Sweeps
// never overlap; a second call returns ErrSweepInProgress.
func (m *Manager) RenewalSweep(ctx context.Context, scope model.Scope) (*SweepResult, error) {
	if !m.sweeping.CompareAndSwap(false, true) {
		m.logger.InfoContext(ctx, "renewal sweep already running, skipping", "tenant", scope.String())
		return nil, ErrSweepInProgress
	}
	defer m.sweeping.Store(false)

	ctx, span := m.tracer.Start(ctx, "certs.sweep", tracing.AttrTenant.String(scope.String()))
	result, err := m.sweep(ctx, scope)
	tracing.End(span, err)
	return result, err
}

func (m *Manager) sweep(ctx context.Context, scope model.Scope) (*SweepResult, error) {
	list, err := m.certs.ListCertificates(ctx, scope, store.CertificateFilter{AutoRenewOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list certificates: %w", err)
	}

	result := &SweepResult{}
	now := m.now()
	for _, c := range list {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Checked++

		stale := c.Status == model.CertProcessing && now.Sub(c.UpdatedAt) > m.cfg.staleAfter()
		switch {
		case c.Status == model.CertFailed && m.cfg.Retry.Exhausted(c.FailureCount):
			result.Exhausted = append(result.Exhausted, c.ID)
			continue
		case !stale && !RenewalDue(c, now, m.cfg.RenewBeforeDays):
			if c.Status == model.CertFailed {
				result.Deferred = append(result.Deferred, c.ID)
			}
			continue
		}

		_, err := m.Issue(ctx, scope, c.ID)
		switch {
		case err == nil:
			result.Renewed = append(result.Renewed, c.ID)
		case errors.Is(err, ErrIssuanceInProgress):
			result.Busy = append(result.Busy, c.ID)
		default:
			result.Failed = append(result.Failed, SweepFailure{
				CertificateID: c.ID,
				Domain:        c.DomainName,
				Kind:          KindOf(err),
				Error:         err.Error(),
			})
		}
	}

	m.refreshStatusMetrics(ctx, scope)
	m.logger.InfoContext(ctx, "renewal sweep finished",
		"tenant", scope.String(),
		"checked", result.Checked,
		"renewed", len(result.Renewed),
		"failed", len(result.Failed),
		"busy", len(result.Busy),
		"deferred", len(result.Deferred),
		"exhausted", len(result.Exhausted),
	)
	return result, nil
}

// Transition is a status change made by EvaluateExpiry.
type Transition struct {
	CertificateID int64                   `json:"certificate_id"`
	Domain        string                  `json:"domain"`
	From          model.CertificateStatus `json:"from"`
	To            model.CertificateStatus `json:"to"`
}

// EvaluateResult summarizes an expiry evaluation.
type EvaluateResult struct {
	Checked     int          `json:"checked"`
	Transitions []Transition `json:"transitions,omitempty"`

	// Busy lists certificates skipped because they were being issued.
	Busy []int64 `json:"busy,omitempty"`
}

// EvaluateExpiry reclassifies certificates by their expiry without
// issuing anything. Certificates crossing into expiring or expired raise
// an alert that is logged and recorded in the ledger.
func (m *Manager) EvaluateExpiry(ctx context.Context, scope model.Scope) (*EvaluateResult, error) {
	list, err := m.certs.ListCertificates(ctx, scope, store.CertificateFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list certificates: %w", err)
	}

	result := &EvaluateResult{}
	now := m.now()
	for _, c := range list {
		result.Checked++
		if c.ExpiresAt != nil {
			m.metrics.RecordCertificateExpiry(c.DomainName, Remaining(c, now))
		}
		if Classify(c, now, m.cfg.RenewBeforeDays) == c.Status {
			continue
		}

		t, busy, err := m.reclassify(ctx, scope, c, now)
		if err != nil {
			return result, err
		}
		if busy {
			result.Busy = append(result.Busy, c.ID)
			continue
		}
		if t != nil {
			result.Transitions = append(result.Transitions, *t)
		}
	}

	m.refreshStatusMetrics(ctx, scope)
	return result, nil
}

// reclassify updates one certificate under its issuance lock so it never
// overwrites the result of a concurrent issuance.
func (m *Manager) reclassify(ctx context.Context, scope model.Scope, c *model.Certificate, now time.Time) (*Transition, bool, error) {
	unlock, ok, err := m.locker.TryLock(ctx, LockKey(scope, c.DomainID))
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire issuance lock: %w", err)
	}
	if !ok {
		return nil, true, nil
	}
	defer unlock()

	fresh, err := m.certs.GetCertificate(ctx, scope, c.ID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load certificate %d: %w", c.ID, err)
	}
	next := Classify(fresh, now, m.cfg.RenewBeforeDays)
	if next == fresh.Status {
		return nil, false, nil
	}

	t := &Transition{CertificateID: fresh.ID, Domain: fresh.DomainName, From: fresh.Status, To: next}
	fresh.Status = next
	fresh.UpdatedAt = now
	if err := m.certs.UpdateCertificate(ctx, scope, fresh); err != nil {
		return nil, false, fmt.Errorf("failed to update certificate %d: %w", fresh.ID, err)
	}
	m.notify(ctx, scope, fresh)
	m.alert(ctx, scope, fresh, t, now)
	return t, false, nil
}

func (m *Manager) alert(ctx context.Context, scope model.Scope, cert *model.Certificate, t *Transition, now time.Time) {
	remaining := Remaining(cert, now)
	msg := "certificate entering renewal window"
	if t.To == model.CertExpired {
		msg = "certificate expired"
	}
	m.logger.WarnContext(ctx, msg,
		"certificate_id", cert.ID,
		"domain", cert.DomainName,
		"from", t.From,
		"expires_at", cert.ExpiresAt,
		"remaining", remaining.Round(time.Minute),
		"auto_renew", cert.AutoRenew,
	)

	op, err := m.ledger.Begin(ctx, scope, ledger.KindCertRenew, "expiry-alert", cert.DomainName)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to record expiry alert", "error", err)
		return
	}
	op.Set("certificate_id", cert.ID)
	op.Set("from", string(t.From))
	op.Set("to", string(t.To))
	op.Set("expires_at", cert.ExpiresAt)
	op.Set("remaining_days", int(remaining/day))
	_ = op.Succeed(ctx)
}

// Reset returns a certificate to pending and clears its retry state so the
// next sweep or an explicit Issue starts over.
func (m *Manager) Reset(ctx context.Context, scope model.Scope, certID int64) (*model.Certificate, error) {
	cert, err := m.certs.GetCertificate(ctx, scope, certID)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate %d: %w", certID, err)
	}
	unlock, err := m.acquire(ctx, scope, cert)
	if err != nil {
		return nil, err
	}
	defer unlock()

	cert, err = m.certs.GetCertificate(ctx, scope, certID)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate %d: %w", certID, err)
	}
	previous := cert.Status
	cert.Status = model.CertPending
	cert.FailureCount = 0
	cert.NextAttemptAt = nil
	cert.LastError = ""
	cert.UpdatedAt = m.now()
	if err := m.certs.UpdateCertificate(ctx, scope, cert); err != nil {
		return nil, fmt.Errorf("failed to reset certificate %d: %w", certID, err)
	}
	m.notify(ctx, scope, cert)
	m.logger.InfoContext(ctx, "certificate reset",
		"certificate_id", cert.ID,
		"domain", cert.DomainName,
		"previous_status", previous,
	)
	return cert, nil
}

func (m *Manager) refreshStatusMetrics(ctx context.Context, scope model.Scope) {
	if m.metrics == nil {
		return
	}
	list, err := m.certs.ListCertificates(ctx, scope, store.CertificateFilter{})
	if err != nil {
		return
	}
	counts := map[string]int{
		string(model.CertPending):    0,
		string(model.CertProcessing): 0,
		string(model.CertValid):      0,
		string(model.CertExpiring):   0,
		string(model.CertExpired):    0,
		string(model.CertFailed):     0,
	}
	for _, c := range list {
		counts[string(c.Status)]++
	}
	m.metrics.UpdateCertificateStatuses(counts)
}
