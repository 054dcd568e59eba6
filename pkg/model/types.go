package model

import (
	"strings"
	"time"
)

// Scope identifies the tenant a data-access call is made for.
// It is passed explicitly to every store call; the zero value is the
// default tenant.
type Scope struct {
	TenantID string
}

// DefaultScope is the scope used by single-tenant deployments.
var DefaultScope = Scope{}

// DefaultHealthCheckInterval applies to upstreams without an interval.
const DefaultHealthCheckInterval = 30 * time.Second

// String returns the tenant id, or "default" for the zero scope.
func (s Scope) String() string {
	if s.TenantID == "" {
		return "default"
	}
	return s.TenantID
}

// Domain is a hostname served by the proxy.
type Domain struct {
	ID       int64
	TenantID string

	// Name is the hostname, e.g. "example.com" or "*.example.com".
	Name string

	IsActive bool

	// IsLocked prevents reconciliation-affecting mutation while set.
	IsLocked bool

	// AutoTLS enables TLS on the domain's routers.
	AutoTLS bool

	// ForceHTTPS redirects plain HTTP requests to HTTPS.
	ForceHTTPS bool

	// BindAddress overrides the default entry points when set.
	BindAddress string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Upstream is a backend target owned by a domain.
type Upstream struct {
	ID       int64
	DomainID int64
	Name     string

	// TargetURL is the base URL traffic is forwarded to.
	TargetURL string

	// Weight is the relative load-balancing weight. Default: 1
	Weight int

	IsActive bool

	HealthCheckPath string

	// HealthCheckInterval is the proxy-side health check interval. Default: 30s
	HealthCheckInterval time.Duration

	// Timeout bounds a single health probe. Zero means the checker default.
	Timeout time.Duration

	CreatedAt time.Time
}

// RouteRule forwards matching requests of a domain to an upstream.
type RouteRule struct {
	ID         int64
	DomainID   int64
	UpstreamID int64

	// PathPattern is a path prefix. Default: "/"
	PathPattern string

	// HTTPMethod restricts the rule to one method; "*" matches any.
	HTTPMethod string

	// Priority orders rules; higher wins, ties broken by CreatedAt.
	Priority int

	IsActive     bool
	IsLocked     bool
	StripPrefix  bool
	PreserveHost bool
	Timeout      time.Duration

	CreatedAt time.Time
}

// RedirectType is the HTTP status used by a redirect rule.
type RedirectType int

const (
	RedirectPermanent         RedirectType = 301
	RedirectTemporary         RedirectType = 302
	RedirectTemporaryKeepVerb RedirectType = 307
	RedirectPermanentKeepVerb RedirectType = 308
)

// Permanent reports whether the redirect is of the permanent class.
func (t RedirectType) Permanent() bool {
	return t == RedirectPermanent || t == RedirectPermanentKeepVerb
}

// Valid reports whether t is one of the supported redirect codes.
func (t RedirectType) Valid() bool {
	switch t {
	case RedirectPermanent, RedirectTemporary, RedirectTemporaryKeepVerb, RedirectPermanentKeepVerb:
		return true
	}
	return false
}

// RedirectRule redirects matching requests of a domain to another URL.
type RedirectRule struct {
	ID       int64
	DomainID int64

	// SourcePattern is a path prefix, or a regular expression when IsRegex is set.
	SourcePattern string
	IsRegex       bool

	TargetURL     string
	Type          RedirectType
	Priority      int
	IsActive      bool
	PreserveQuery bool

	CreatedAt time.Time
}

// CertificateStatus is the lifecycle state of a certificate.
type CertificateStatus string

const (
	CertPending    CertificateStatus = "pending"
	CertProcessing CertificateStatus = "processing"
	CertValid      CertificateStatus = "valid"
	CertExpiring   CertificateStatus = "expiring"
	CertExpired    CertificateStatus = "expired"
	CertFailed     CertificateStatus = "failed"
)

// Certificate is the TLS certificate record of a domain.
type Certificate struct {
	ID       int64
	TenantID string
	DomainID int64

	// DomainName is the primary name on the certificate.
	DomainName string

	// SANs lists additional subject alternative names.
	SANs []string

	Status CertificateStatus

	// Issuer names the certificate authority. Default: "Let's Encrypt"
	Issuer string

	CertificatePath string
	PrivateKeyPath  string
	ChainPath       string

	IssuedAt  *time.Time
	ExpiresAt *time.Time

	AutoRenew bool

	// RenewBeforeDays is the renewal window before expiry. Default: 30
	RenewBeforeDays int

	LastError string

	// FailureCount counts consecutive failed issuance attempts.
	FailureCount int

	// NextAttemptAt delays automatic retries of a failed certificate.
	NextAttemptAt *time.Time

	UpdatedAt time.Time
}

// Names returns the primary name followed by the distinct SANs.
func (c *Certificate) Names() []string {
	names := []string{c.DomainName}
	seen := map[string]bool{strings.ToLower(c.DomainName): true}
	for _, san := range c.SANs {
		key := strings.ToLower(strings.TrimSpace(san))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		names = append(names, strings.TrimSpace(san))
	}
	return names
}

// Usable reports whether the certificate material may be served at now.
// Installed material stays usable while a renewal is processing or after
// it failed, until the material itself expires.
func (c *Certificate) Usable(now time.Time) bool {
	if c.CertificatePath == "" || c.PrivateKeyPath == "" || c.ExpiresAt == nil {
		return false
	}
	return now.Before(*c.ExpiresAt)
}

// Clone returns a deep copy of the certificate.
func (c *Certificate) Clone() *Certificate {
	cp := *c
	cp.SANs = append([]string(nil), c.SANs...)
	if c.IssuedAt != nil {
		t := *c.IssuedAt
		cp.IssuedAt = &t
	}
	if c.ExpiresAt != nil {
		t := *c.ExpiresAt
		cp.ExpiresAt = &t
	}
	if c.NextAttemptAt != nil {
		t := *c.NextAttemptAt
		cp.NextAttemptAt = &t
	}
	return &cp
}
