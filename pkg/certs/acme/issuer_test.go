package acme

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"

	"netpilot-hq/netpilot/pkg/certs"
)

type stubClient struct {
	mu             sync.Mutex
	httpProvider   bool
	dnsProvider    bool
	registered     int
	resolved       int
	resolveErr     error
	obtainErr      error
	block          chan struct{}
	lastRequest    certificate.ObtainRequest
	directoryURL   string
	certificateKey string
}

func (s *stubClient) Register(registration.RegisterOptions) (*registration.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registered++
	return &registration.Resource{URI: "https://ca.test/acct/1"}, nil
}

func (s *stubClient) ResolveAccountByKey() (*registration.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolved++
	if s.resolveErr != nil {
		return nil, s.resolveErr
	}
	return &registration.Resource{URI: "https://ca.test/acct/1"}, nil
}

func (s *stubClient) SetHTTP01Provider(challenge.Provider) error {
	s.httpProvider = true
	return nil
}

func (s *stubClient) SetDNS01Provider(challenge.Provider) error {
	s.dnsProvider = true
	return nil
}

func (s *stubClient) Obtain(req certificate.ObtainRequest) (*certificate.Resource, error) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRequest = req
	if s.obtainErr != nil {
		return nil, s.obtainErr
	}
	return &certificate.Resource{
		Domain:            req.Domains[0],
		CertURL:           "https://ca.test/cert/1",
		Certificate:       []byte("cert-data"),
		PrivateKey:        []byte("key-data"),
		IssuerCertificate: []byte("issuer-data"),
	}, nil
}

func newTestIssuer(t *testing.T, stub *stubClient, keyPath string) *Issuer {
	t.Helper()
	cfg := Config{Email: "ops@example.com", DirectoryURL: "https://ca.test/directory", AccountKeyPath: keyPath}
	i, err := NewIssuer(cfg, &HTTP01Solver{Port: "5002"}, WithClientFactory(func(c *lego.Config) (Client, error) {
		stub.directoryURL = c.CADirURL
		stub.certificateKey = string(c.Certificate.KeyType)
		return stub, nil
	}))
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	return i
}

func TestNewIssuerValidation(t *testing.T) {
	if _, err := NewIssuer(Config{}, &HTTP01Solver{}); err == nil {
		t.Fatal("expected error when email missing")
	}
	if _, err := NewIssuer(Config{Email: "ops@example.com"}, nil); err == nil {
		t.Fatal("expected error when solver missing")
	}
	i, err := NewIssuer(Config{Email: " ops@example.com "}, &HTTP01Solver{})
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	if i.cfg.DirectoryURL != lego.LEDirectoryProduction {
		t.Errorf("directory = %s, want Let's Encrypt production", i.cfg.DirectoryURL)
	}
}

func TestObtain(t *testing.T) {
	stub := &stubClient{}
	keyPath := filepath.Join(t.TempDir(), "acme", "account.key")
	i := newTestIssuer(t, stub, keyPath)

	m, err := i.Obtain(context.Background(), certs.Request{Names: []string{"example.com", "www.example.com"}})
	if err != nil {
		t.Fatalf("Obtain: %v", err)
	}
	if string(m.Certificate) != "cert-data" || string(m.PrivateKey) != "key-data" || string(m.IssuerCertificate) != "issuer-data" {
		t.Errorf("material = %+v", m)
	}
	if m.CertURL != "https://ca.test/cert/1" {
		t.Errorf("cert url = %s", m.CertURL)
	}
	if !stub.httpProvider || stub.dnsProvider {
		t.Error("expected only the http-01 provider to be configured")
	}
	if stub.registered != 1 || stub.resolved != 0 {
		t.Errorf("registered=%d resolved=%d, want a fresh registration", stub.registered, stub.resolved)
	}
	if !stub.lastRequest.Bundle || len(stub.lastRequest.Domains) != 2 {
		t.Errorf("request = %+v", stub.lastRequest)
	}
	if stub.directoryURL != "https://ca.test/directory" || stub.certificateKey != "P256" {
		t.Errorf("lego config directory=%s key=%s", stub.directoryURL, stub.certificateKey)
	}

	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("account key not stored: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("account key mode = %v, want 0600", info.Mode().Perm())
	}

	// The client is reused for later orders.
	if _, err := i.Obtain(context.Background(), certs.Request{Names: []string{"example.com"}}); err != nil {
		t.Fatalf("second Obtain: %v", err)
	}
	if stub.registered != 1 {
		t.Errorf("registered %d times, want 1", stub.registered)
	}
}

func TestObtain_ReusesStoredAccount(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "account.key")
	first := &stubClient{}
	if _, err := newTestIssuer(t, first, keyPath).Obtain(context.Background(), certs.Request{Names: []string{"example.com"}}); err != nil {
		t.Fatalf("Obtain: %v", err)
	}

	second := &stubClient{}
	if _, err := newTestIssuer(t, second, keyPath).Obtain(context.Background(), certs.Request{Names: []string{"example.com"}}); err != nil {
		t.Fatalf("Obtain: %v", err)
	}
	if second.resolved != 1 || second.registered != 0 {
		t.Errorf("resolved=%d registered=%d, want the stored account resolved", second.resolved, second.registered)
	}

	third := &stubClient{resolveErr: errors.New("account does not exist")}
	if _, err := newTestIssuer(t, third, keyPath).Obtain(context.Background(), certs.Request{Names: []string{"example.com"}}); err != nil {
		t.Fatalf("Obtain: %v", err)
	}
	if third.registered != 1 {
		t.Errorf("registered=%d, want a new registration after a failed lookup", third.registered)
	}
}

func TestObtain_Errors(t *testing.T) {
	stub := &stubClient{obtainErr: errors.New("urn:ietf:params:acme:error:rateLimited")}
	i := newTestIssuer(t, stub, "")

	if _, err := i.Obtain(context.Background(), certs.Request{}); err == nil {
		t.Error("expected error without names")
	}
	_, err := i.Obtain(context.Background(), certs.Request{Names: []string{"example.com"}})
	if err == nil || !errors.Is(err, stub.obtainErr) {
		t.Errorf("err = %v, want wrapped authority error", err)
	}
}

func TestObtain_ContextEnds(t *testing.T) {
	stub := &stubClient{block: make(chan struct{})}
	defer close(stub.block)
	i := newTestIssuer(t, stub, "")

	ctx, cancel := context.WithCancel(context.Background())
	go cancel()
	_, err := i.Obtain(ctx, certs.Request{Names: []string{"example.com"}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestNewSolver(t *testing.T) {
	s, err := NewSolver(Config{HTTPPort: "80"})
	if err != nil || s.Type() != certs.ChallengeHTTP01 {
		t.Errorf("default solver = %v, %v", s, err)
	}
	if _, err := NewSolver(Config{Challenge: "dns-01"}); err == nil {
		t.Error("expected error for dns-01 without provider")
	}
	if _, err := NewSolver(Config{Challenge: "dns-01", DNSProvider: "no-such-provider"}); err == nil {
		t.Error("expected error for unknown dns provider")
	}
	if _, err := NewSolver(Config{Challenge: "tls-alpn-01"}); err == nil {
		t.Error("expected error for unsupported challenge")
	}
}
