package certs

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"netpilot-hq/netpilot/pkg/breaker"
	"netpilot-hq/netpilot/pkg/events"
	"netpilot-hq/netpilot/pkg/ledger"
	"netpilot-hq/netpilot/pkg/ledger/storage"
	"netpilot-hq/netpilot/pkg/model"
	"netpilot-hq/netpilot/pkg/store/memory"
)

func testMaterial(t *testing.T, names []string, notAfter time.Time) *Material {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: names[0], Organization: []string{"Test CA"}},
		DNSNames:     names,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	return &Material{
		Certificate: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		PrivateKey:  pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
	}
}

// fakeIssuer signs certificates locally. When gate is set, Obtain signals
// started and waits for gate to close.
type fakeIssuer struct {
	t        *testing.T
	calls    atomic.Int32
	started  chan struct{}
	gate     chan struct{}
	err      error
	names    []string
	lifetime time.Duration
}

func (f *fakeIssuer) Obtain(ctx context.Context, req Request) (*Material, error) {
	f.calls.Add(1)
	if f.gate != nil {
		f.started <- struct{}{}
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	names := req.Names
	if f.names != nil {
		names = f.names
	}
	lifetime := f.lifetime
	if lifetime == 0 {
		lifetime = 90 * day
	}
	return testMaterial(f.t, names, time.Now().Add(lifetime)), nil
}

type notifications struct {
	mu     sync.Mutex
	events []events.CertificateUpdated
}

func (n *notifications) CertificateUpdated(_ context.Context, ev events.CertificateUpdated) {
	n.mu.Lock()
	n.events = append(n.events, ev)
	n.mu.Unlock()
}

func (n *notifications) statuses() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Status)
	}
	return out
}

type fixture struct {
	store     *memory.Store
	ledger    *storage.MemoryStorage
	issuer    *fakeIssuer
	notes     *notifications
	published atomic.Int32
	materials *MaterialStore
	manager   *Manager
	domainID  int64
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store:     memory.New(),
		ledger:    storage.NewMemoryStorage(),
		issuer:    &fakeIssuer{t: t},
		notes:     &notifications{},
		materials: NewMaterialStore(t.TempDir()),
	}
	f.domainID = f.store.PutDomain(model.Domain{Name: "example.com", IsActive: true})

	cfg := Config{
		SkipPreflight: true,
		Retry:         RetryPolicy{MaxRetries: 3, BaseDelay: time.Hour, MaxDelay: 8 * time.Hour},
	}
	publisher := PublisherFunc(func(context.Context, model.Scope, int64) error {
		f.published.Add(1)
		return nil
	})
	opts = append([]Option{WithNotifier(f.notes), WithPublisher(publisher)}, opts...)
	f.manager = NewManager(cfg, f.store, f.store, f.issuer, f.materials, ledger.New(f.ledger), opts...)
	return f
}

func (f *fixture) putCert(c model.Certificate) int64 {
	if c.DomainID == 0 {
		c.DomainID = f.domainID
	}
	if c.DomainName == "" {
		c.DomainName = "example.com"
	}
	if c.Status == "" {
		c.Status = model.CertPending
	}
	return f.store.PutCertificate(&c)
}

func (f *fixture) cert(t *testing.T, id int64) *model.Certificate {
	t.Helper()
	c, err := f.store.GetCertificate(context.Background(), model.DefaultScope, id)
	if err != nil {
		t.Fatalf("GetCertificate(%d): %v", id, err)
	}
	return c
}

func (f *fixture) entries(t *testing.T, q *ledger.Query) []*ledger.Entry {
	t.Helper()
	list, err := f.ledger.Query(context.Background(), q)
	if err != nil {
		t.Fatalf("ledger query: %v", err)
	}
	return list
}

func TestManager_IssueSuccess(t *testing.T) {
	f := newFixture(t)
	id := f.putCert(model.Certificate{SANs: []string{"www.example.com"}, AutoRenew: true})

	cert, err := f.manager.Issue(context.Background(), model.DefaultScope, id)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	stored := f.cert(t, id)
	if stored.Status != model.CertValid {
		t.Errorf("status = %s, want valid", stored.Status)
	}
	if stored.ExpiresAt == nil || stored.IssuedAt == nil {
		t.Fatal("IssuedAt and ExpiresAt must be set")
	}
	if d := time.Until(*stored.ExpiresAt); d < 89*day || d > 91*day {
		t.Errorf("expires in %v, want about 90 days", d)
	}
	if stored.Issuer != "Test CA" {
		t.Errorf("issuer = %q", stored.Issuer)
	}
	if stored.LastError != "" || stored.FailureCount != 0 {
		t.Errorf("failure state not cleared: %+v", stored)
	}
	if cert.CertificatePath != f.materials.Paths("example.com").Certificate {
		t.Errorf("certificate path = %s", cert.CertificatePath)
	}
	if _, err := os.Stat(stored.PrivateKeyPath); err != nil {
		t.Errorf("private key missing: %v", err)
	}

	if got := f.published.Load(); got != 1 {
		t.Errorf("published %d times, want 1", got)
	}
	statuses := f.notes.statuses()
	if len(statuses) != 2 || statuses[0] != "processing" || statuses[1] != "valid" {
		t.Errorf("notifications = %v, want [processing valid]", statuses)
	}

	list := f.entries(t, &ledger.Query{Kind: ledger.KindCertIssue})
	if len(list) != 1 || list[0].Status != ledger.StatusSuccess {
		t.Fatalf("ledger entries = %+v", list)
	}
	phases, _ := list[0].Payload["phases"].([]any)
	if len(phases) != 6 {
		t.Errorf("phases = %v, want 6 records", phases)
	}
}

func TestManager_RenewalUsesRenewKind(t *testing.T) {
	f := newFixture(t)
	expires := time.Now().Add(5 * day)
	id := f.putCert(model.Certificate{Status: model.CertExpiring, ExpiresAt: &expires, AutoRenew: true})

	if _, err := f.manager.Issue(context.Background(), model.DefaultScope, id); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if list := f.entries(t, &ledger.Query{Kind: ledger.KindCertRenew}); len(list) != 1 {
		t.Errorf("cert-renew entries = %d, want 1", len(list))
	}
}

func TestManager_SingleInFlightIssuance(t *testing.T) {
	f := newFixture(t)
	f.issuer.started = make(chan struct{}, 1)
	f.issuer.gate = make(chan struct{})
	id := f.putCert(model.Certificate{})
	other := f.putCert(model.Certificate{SANs: []string{"www.example.com"}})

	ctx := context.Background()
	done := make(chan error, 1)
	go func() {
		_, err := f.manager.Issue(ctx, model.DefaultScope, id)
		done <- err
	}()
	<-f.issuer.started

	// Same domain, different certificate: still one issuance per domain.
	for _, certID := range []int64{id, other} {
		if _, err := f.manager.Issue(ctx, model.DefaultScope, certID); !errors.Is(err, ErrIssuanceInProgress) {
			t.Errorf("concurrent Issue(%d) = %v, want ErrIssuanceInProgress", certID, err)
		}
	}
	if _, err := f.manager.Reset(ctx, model.DefaultScope, id); !errors.Is(err, ErrIssuanceInProgress) {
		t.Errorf("concurrent Reset = %v, want ErrIssuanceInProgress", err)
	}

	close(f.issuer.gate)
	if err := <-done; err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if got := f.issuer.calls.Load(); got != 1 {
		t.Errorf("issuer called %d times, want 1", got)
	}
}

func TestManager_IssueFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
		kind  Kind
		calls int32
	}{
		{
			name:  "authority error",
			setup: func(f *fixture) { f.issuer.err = errors.New("rate limited") },
			kind:  KindAcmeClientFailed,
			calls: 1,
		},
		{
			name:  "missing SAN",
			setup: func(f *fixture) { f.issuer.names = []string{"example.com"} },
			kind:  KindVerificationFailed,
			calls: 1,
		},
		{
			name: "inactive domain",
			setup: func(f *fixture) {
				f.store.PutDomain(model.Domain{ID: f.domainID, Name: "example.com", IsActive: false})
			},
			kind:  KindInvalidDomain,
			calls: 0,
		},
		{
			name: "unwritable directory",
			setup: func(f *fixture) {
				f.materials = NewMaterialStore("/dev/null/certs")
				f.manager.materials = f.materials
			},
			kind:  KindWritePermissionDenied,
			calls: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			id := f.putCert(model.Certificate{SANs: []string{"www.example.com"}})
			tt.setup(f)

			before := time.Now()
			_, err := f.manager.Issue(context.Background(), model.DefaultScope, id)
			if KindOf(err) != tt.kind {
				t.Fatalf("err = %v, want kind %s", err, tt.kind)
			}
			if got := f.issuer.calls.Load(); got != tt.calls {
				t.Errorf("issuer calls = %d, want %d", got, tt.calls)
			}

			stored := f.cert(t, id)
			if stored.Status != model.CertFailed {
				t.Errorf("status = %s, want failed", stored.Status)
			}
			if stored.LastError != err.Error() {
				t.Errorf("last error = %q, want %q", stored.LastError, err.Error())
			}
			if stored.FailureCount != 1 {
				t.Errorf("failure count = %d, want 1", stored.FailureCount)
			}
			if stored.NextAttemptAt == nil || stored.NextAttemptAt.Before(before.Add(59*time.Minute)) {
				t.Errorf("next attempt = %v, want about an hour out", stored.NextAttemptAt)
			}
			if f.published.Load() != 0 {
				t.Error("failed issuance must not publish")
			}

			list := f.entries(t, &ledger.Query{Status: ledger.StatusFailed})
			if len(list) != 1 || list[0].Payload["cause"] != string(tt.kind) {
				t.Errorf("failed ledger entries = %+v", list)
			}
		})
	}
}

func TestManager_BreakerRejectsWithoutCallingAuthority(t *testing.T) {
	breakers := breaker.NewRegistry(breaker.Config{FailureThreshold: 1, ResetTimeout: time.Hour})
	f := newFixture(t, WithBreakers(breakers))
	f.issuer.err = errors.New("connection refused")
	id := f.putCert(model.Certificate{})
	ctx := context.Background()

	if _, err := f.manager.Issue(ctx, model.DefaultScope, id); KindOf(err) != KindAcmeClientFailed {
		t.Fatalf("first Issue = %v", err)
	}
	_, err := f.manager.Issue(ctx, model.DefaultScope, id)
	if KindOf(err) != KindAcmeClientFailed || !breaker.IsOpen(err) {
		t.Fatalf("second Issue = %v, want acme failure wrapping an open circuit", err)
	}
	if got := f.issuer.calls.Load(); got != 1 {
		t.Errorf("issuer calls = %d, want 1", got)
	}
	if c := f.cert(t, id); c.FailureCount != 2 {
		t.Errorf("failure count = %d, want 2", c.FailureCount)
	}
}

func TestManager_RenewalSweep(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	tenDays := now.Add(10 * day)
	later := now.Add(time.Hour)

	due := f.putCert(model.Certificate{Status: model.CertValid, ExpiresAt: &tenDays, RenewBeforeDays: 30, AutoRenew: true})
	notDue := f.putCert(model.Certificate{Status: model.CertValid, ExpiresAt: &tenDays, RenewBeforeDays: 5, AutoRenew: true})
	deferred := f.putCert(model.Certificate{Status: model.CertFailed, FailureCount: 1, NextAttemptAt: &later, AutoRenew: true})
	exhausted := f.putCert(model.Certificate{Status: model.CertFailed, FailureCount: 3, AutoRenew: true})
	manual := f.putCert(model.Certificate{Status: model.CertExpiring, ExpiresAt: &tenDays})

	result, err := f.manager.RenewalSweep(context.Background(), model.DefaultScope)
	if err != nil {
		t.Fatalf("RenewalSweep failed: %v", err)
	}

	if result.Checked != 4 {
		t.Errorf("checked = %d, want 4", result.Checked)
	}
	if len(result.Renewed) != 1 || result.Renewed[0] != due {
		t.Errorf("renewed = %v, want [%d]", result.Renewed, due)
	}
	if len(result.Deferred) != 1 || result.Deferred[0] != deferred {
		t.Errorf("deferred = %v, want [%d]", result.Deferred, deferred)
	}
	if len(result.Exhausted) != 1 || result.Exhausted[0] != exhausted {
		t.Errorf("exhausted = %v, want [%d]", result.Exhausted, exhausted)
	}
	if got := f.issuer.calls.Load(); got != 1 {
		t.Errorf("issuer calls = %d, want 1", got)
	}
	if c := f.cert(t, notDue); c.Status != model.CertValid || !c.ExpiresAt.Equal(tenDays) {
		t.Errorf("certificate outside its window changed: %+v", c)
	}
	if c := f.cert(t, manual); c.Status != model.CertExpiring {
		t.Errorf("certificate without auto-renew changed: %s", c.Status)
	}
}

func TestManager_SweepsDoNotOverlap(t *testing.T) {
	f := newFixture(t)
	f.issuer.started = make(chan struct{}, 1)
	f.issuer.gate = make(chan struct{})
	f.putCert(model.Certificate{AutoRenew: true})

	ctx := context.Background()
	done := make(chan error, 1)
	go func() {
		_, err := f.manager.RenewalSweep(ctx, model.DefaultScope)
		done <- err
	}()
	<-f.issuer.started

	if _, err := f.manager.RenewalSweep(ctx, model.DefaultScope); !errors.Is(err, ErrSweepInProgress) {
		t.Errorf("second sweep = %v, want ErrSweepInProgress", err)
	}

	close(f.issuer.gate)
	if err := <-done; err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if _, err := f.manager.RenewalSweep(ctx, model.DefaultScope); err != nil {
		t.Errorf("sweep after completion = %v", err)
	}
}

func TestManager_EvaluateExpiry(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	soon := now.Add(10 * day)
	far := now.Add(80 * day)
	past := now.Add(-day)

	expiring := f.putCert(model.Certificate{Status: model.CertValid, ExpiresAt: &soon, RenewBeforeDays: 30})
	fine := f.putCert(model.Certificate{Status: model.CertValid, ExpiresAt: &far, RenewBeforeDays: 30})
	expired := f.putCert(model.Certificate{Status: model.CertExpiring, ExpiresAt: &past})
	failed := f.putCert(model.Certificate{Status: model.CertFailed, ExpiresAt: &past})

	result, err := f.manager.EvaluateExpiry(context.Background(), model.DefaultScope)
	if err != nil {
		t.Fatalf("EvaluateExpiry failed: %v", err)
	}
	if result.Checked != 4 || len(result.Transitions) != 2 {
		t.Fatalf("result = %+v", result)
	}

	want := map[int64]model.CertificateStatus{
		expiring: model.CertExpiring,
		fine:     model.CertValid,
		expired:  model.CertExpired,
		failed:   model.CertFailed,
	}
	for id, status := range want {
		if got := f.cert(t, id).Status; got != status {
			t.Errorf("certificate %d status = %s, want %s", id, got, status)
		}
	}

	alerts := f.entries(t, &ledger.Query{Kind: ledger.KindCertRenew})
	if len(alerts) != 2 {
		t.Errorf("expiry alerts = %d, want 2", len(alerts))
	}
	if f.issuer.calls.Load() != 0 {
		t.Error("EvaluateExpiry must not issue")
	}
}

func TestManager_Reset(t *testing.T) {
	f := newFixture(t)
	next := time.Now().Add(time.Hour)
	id := f.putCert(model.Certificate{Status: model.CertFailed, FailureCount: 3, NextAttemptAt: &next, LastError: "boom"})

	cert, err := f.manager.Reset(context.Background(), model.DefaultScope, id)
	if err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if cert.Status != model.CertPending || cert.FailureCount != 0 || cert.NextAttemptAt != nil || cert.LastError != "" {
		t.Errorf("reset certificate = %+v", cert)
	}
	if stored := f.cert(t, id); stored.Status != model.CertPending {
		t.Errorf("stored status = %s", stored.Status)
	}
}

func TestKeyedLocker(t *testing.T) {
	l := NewKeyedLocker()
	ctx := context.Background()

	unlock, ok, err := l.TryLock(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("TryLock = %v, %v", ok, err)
	}
	if _, ok, _ := l.TryLock(ctx, "a"); ok {
		t.Error("second TryLock on a held key succeeded")
	}
	if _, ok, _ := l.TryLock(ctx, "b"); !ok {
		t.Error("independent key should lock")
	}

	unlock()
	unlock()
	if l.Held("a") {
		t.Error("key still held after unlock")
	}
	if _, ok, _ := l.TryLock(ctx, "a"); !ok {
		t.Error("TryLock after unlock failed")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, _, err := l.TryLock(cancelled, "c"); err == nil {
		t.Error("expected error for cancelled context")
	}
}
