// Package acme obtains certificates from an ACME certificate authority
// such as Let's Encrypt. It implements certs.Issuer on top of lego.
package acme

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"

	"netpilot-hq/netpilot/pkg/certs"
	"netpilot-hq/netpilot/pkg/config"
)

// Config holds the account and authority settings.
type Config struct {
	Email        string
	DirectoryURL string
	Challenge    string
	HTTPPort     string
	DNSProvider  string

	// AccountKeyPath keeps the account key between runs. Empty generates
	// a fresh account on every start.
	AccountKeyPath string

	// KeyType of issued certificates. Default: EC256
	KeyType certcrypto.KeyType
}

// ConfigFrom builds a Config from the acme section.
func ConfigFrom(cfg *config.ACMEConfig) Config {
	return Config{
		Email:          cfg.Email,
		DirectoryURL:   cfg.DirectoryURL,
		Challenge:      cfg.Challenge,
		HTTPPort:       cfg.HTTPPort,
		DNSProvider:    cfg.DNSProvider,
		AccountKeyPath: cfg.AccountKeyPath,
	}
}

// Client is the part of a lego client the issuer uses.
type Client interface {
	Register(options registration.RegisterOptions) (*registration.Resource, error)
	ResolveAccountByKey() (*registration.Resource, error)
	SetHTTP01Provider(provider challenge.Provider) error
	SetDNS01Provider(provider challenge.Provider) error
	Obtain(request certificate.ObtainRequest) (*certificate.Resource, error)
}

// ClientFactory creates a Client from a lego configuration.
type ClientFactory func(cfg *lego.Config) (Client, error)

// Option configures an Issuer.
type Option func(*Issuer)

// WithClientFactory replaces the lego client constructor.
func WithClientFactory(f ClientFactory) Option {
	return func(i *Issuer) {
		if f != nil {
			i.newClient = f
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Issuer) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// Issuer implements certs.Issuer. The account is registered on first use
// and orders are placed one at a time.
type Issuer struct {
	cfg       Config
	solver    ChallengeSolver
	newClient ClientFactory
	logger    *slog.Logger

	mu     sync.Mutex
	client Client

	// order serializes orders; the http-01 server binds one port.
	order sync.Mutex
}

// NewIssuer creates an issuer.
func NewIssuer(cfg Config, solver ChallengeSolver, opts ...Option) (*Issuer, error) {
	cfg.Email = strings.TrimSpace(cfg.Email)
	if cfg.Email == "" {
		return nil, errors.New("acme account email is required")
	}
	if solver == nil {
		return nil, errors.New("challenge solver is required")
	}
	if cfg.DirectoryURL == "" {
		cfg.DirectoryURL = lego.LEDirectoryProduction
	}
	if cfg.KeyType == "" {
		cfg.KeyType = certcrypto.EC256
	}

	i := &Issuer{
		cfg:       cfg,
		solver:    solver,
		newClient: defaultClientFactory,
		logger:    slog.Default().With("component", "acme"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Obtain implements certs.Issuer. lego calls are not cancellable; when ctx
// ends first, Obtain returns and the order finishes in the background.
func (i *Issuer) Obtain(ctx context.Context, req certs.Request) (*certs.Material, error) {
	if len(req.Names) == 0 {
		return nil, errors.New("at least one name is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client, err := i.ensureClient()
	if err != nil {
		return nil, err
	}

	type result struct {
		res *certificate.Resource
		err error
	}
	done := make(chan result, 1)
	go func() {
		i.order.Lock()
		defer i.order.Unlock()
		res, err := client.Obtain(certificate.ObtainRequest{
			Domains: req.Names,
			Bundle:  true,
		})
		done <- result{res: res, err: err}
	}()

	select {
	case <-ctx.Done():
		i.logger.WarnContext(ctx, "certificate order abandoned", "names", req.Names, "error", ctx.Err())
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("obtain certificate: %w", r.err)
		}
		return toMaterial(r.res)
	}
}

func toMaterial(res *certificate.Resource) (*certs.Material, error) {
	if res == nil {
		return nil, errors.New("certificate resource is nil")
	}
	if len(res.Certificate) == 0 {
		return nil, errors.New("empty certificate payload received from ACME server")
	}
	if len(res.PrivateKey) == 0 {
		return nil, errors.New("empty private key received from ACME server")
	}
	return &certs.Material{
		Certificate:       res.Certificate,
		PrivateKey:        res.PrivateKey,
		IssuerCertificate: res.IssuerCertificate,
		CertURL:           res.CertURL,
	}, nil
}

// ensureClient creates and registers the client once.
func (i *Issuer) ensureClient() (Client, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.client != nil {
		return i.client, nil
	}

	key, existing, err := i.accountKey()
	if err != nil {
		return nil, err
	}
	u := &user{email: i.cfg.Email, key: key}

	legoCfg := lego.NewConfig(u)
	legoCfg.CADirURL = i.cfg.DirectoryURL
	legoCfg.Certificate.KeyType = i.cfg.KeyType

	client, err := i.newClient(legoCfg)
	if err != nil {
		return nil, fmt.Errorf("create acme client: %w", err)
	}
	if err := i.solver.Install(client); err != nil {
		return nil, err
	}

	var reg *registration.Resource
	if existing {
		reg, err = client.ResolveAccountByKey()
		if err != nil {
			i.logger.Info("stored acme account not found, registering", "error", err)
		}
	}
	if reg == nil {
		reg, err = client.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
		if err != nil {
			return nil, fmt.Errorf("register account: %w", err)
		}
	}
	u.registration = reg

	i.logger.Info("acme account ready",
		"email", i.cfg.Email,
		"directory", i.cfg.DirectoryURL,
		"challenge", i.solver.Type(),
	)
	i.client = client
	return client, nil
}

// accountKey loads the stored account key or creates one. existing is true
// when the key was loaded.
func (i *Issuer) accountKey() (crypto.PrivateKey, bool, error) {
	path := i.cfg.AccountKeyPath
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			key, err := certcrypto.ParsePEMPrivateKey(data)
			if err != nil {
				return nil, false, fmt.Errorf("parse account key %s: %w", path, err)
			}
			return key, true, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, false, fmt.Errorf("read account key: %w", err)
		}
	}

	key, err := certcrypto.GeneratePrivateKey(certcrypto.EC256)
	if err != nil {
		return nil, false, fmt.Errorf("generate account key: %w", err)
	}
	if path == "" {
		return key, false, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, false, fmt.Errorf("create account key dir: %w", err)
	}
	if err := os.WriteFile(path, certcrypto.PEMEncode(key), 0o600); err != nil {
		return nil, false, fmt.Errorf("write account key: %w", err)
	}
	return key, false, nil
}

func defaultClientFactory(cfg *lego.Config) (Client, error) {
	client, err := lego.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &legoClient{client: client}, nil
}

type legoClient struct {
	client *lego.Client
}

func (l *legoClient) Register(options registration.RegisterOptions) (*registration.Resource, error) {
	return l.client.Registration.Register(options)
}

func (l *legoClient) ResolveAccountByKey() (*registration.Resource, error) {
	return l.client.Registration.ResolveAccountByKey()
}

func (l *legoClient) SetHTTP01Provider(provider challenge.Provider) error {
	return l.client.Challenge.SetHTTP01Provider(provider)
}

func (l *legoClient) SetDNS01Provider(provider challenge.Provider) error {
	return l.client.Challenge.SetDNS01Provider(provider)
}

func (l *legoClient) Obtain(request certificate.ObtainRequest) (*certificate.Resource, error) {
	return l.client.Certificate.Obtain(request)
}

// user is the ACME account.
type user struct {
	email        string
	registration *registration.Resource
	key          crypto.PrivateKey
}

func (u *user) GetEmail() string {
	return u.email
}

func (u *user) GetRegistration() *registration.Resource {
	return u.registration
}

func (u *user) GetPrivateKey() crypto.PrivateKey {
	return u.key
}
