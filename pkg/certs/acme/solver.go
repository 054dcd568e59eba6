package acme

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/challenge/http01"
	"github.com/go-acme/lego/v4/providers/dns"

	"netpilot-hq/netpilot/pkg/certs"
)

// ChallengeSolver proves control of the requested names. One solver is
// selected at startup and installed on every client.
type ChallengeSolver interface {
	// Type returns certs.ChallengeHTTP01 or certs.ChallengeDNS01.
	Type() string

	// Install registers the solver's provider on c.
	Install(c Client) error
}

// HTTP01Solver answers http-01 challenges from a built-in server.
type HTTP01Solver struct {
	// Host is the interface to bind; empty binds all interfaces.
	Host string
	Port string

	// ProxyHeader is inspected for the host when the server sits behind
	// the proxy, e.g. "X-Forwarded-Host".
	ProxyHeader string
}

// Type implements ChallengeSolver.
func (s *HTTP01Solver) Type() string {
	return certs.ChallengeHTTP01
}

// Install implements ChallengeSolver.
func (s *HTTP01Solver) Install(c Client) error {
	provider := http01.NewProviderServer(s.Host, s.Port)
	if s.ProxyHeader != "" {
		provider.SetProxyHeader(http.CanonicalHeaderKey(s.ProxyHeader))
	}
	if err := c.SetHTTP01Provider(provider); err != nil {
		return fmt.Errorf("configure http-01 provider: %w", err)
	}
	return nil
}

// DNS01Solver answers dns-01 challenges through a lego DNS provider.
// Provider credentials come from the provider's environment variables.
type DNS01Solver struct {
	name     string
	provider challenge.Provider
}

// NewDNS01Solver creates the solver of a named lego DNS provider, e.g.
// "cloudflare" or "route53".
func NewDNS01Solver(name string) (*DNS01Solver, error) {
	provider, err := dns.NewDNSChallengeProviderByName(name)
	if err != nil {
		return nil, fmt.Errorf("create dns provider %q: %w", name, err)
	}
	return &DNS01Solver{name: name, provider: provider}, nil
}

// Type implements ChallengeSolver.
func (s *DNS01Solver) Type() string {
	return certs.ChallengeDNS01
}

// Provider returns the lego provider name.
func (s *DNS01Solver) Provider() string {
	return s.name
}

// Install implements ChallengeSolver.
func (s *DNS01Solver) Install(c Client) error {
	if err := c.SetDNS01Provider(s.provider); err != nil {
		return fmt.Errorf("configure dns-01 provider: %w", err)
	}
	return nil
}

// NewSolver selects the solver named by cfg.Challenge.
func NewSolver(cfg Config) (ChallengeSolver, error) {
	switch strings.ToLower(cfg.Challenge) {
	case "", certs.ChallengeHTTP01:
		return &HTTP01Solver{Port: cfg.HTTPPort}, nil
	case certs.ChallengeDNS01:
		if cfg.DNSProvider == "" {
			return nil, fmt.Errorf("dns-01 challenge requires a dns provider")
		}
		return NewDNS01Solver(cfg.DNSProvider)
	default:
		return nil, fmt.Errorf("unknown challenge %q", cfg.Challenge)
	}
}
