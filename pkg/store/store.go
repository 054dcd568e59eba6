package store

import (
	"context"
	"errors"
	"fmt"

	"netpilot-hq/netpilot/pkg/model"
)

// ErrNotFound is returned when a requested record does not exist in scope.
var ErrNotFound = errors.New("record not found")

// Error wraps a backend failure.
type Error struct {
	Backend string
	Op      string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("store error [backend=%s, operation=%s]: %v", e.Backend, e.Op, e.Err)
}

// Unwrap returns the underlying cause error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error.
func NewError(backend, op string, err error) *Error {
	return &Error{Backend: backend, Op: op, Err: err}
}

// Reader gives read-only access to the routing desired state.
type Reader interface {
	// ListDomains returns every domain of the scope ordered by id.
	ListDomains(ctx context.Context, scope model.Scope) ([]model.Domain, error)

	// GetDomain returns one domain or ErrNotFound.
	GetDomain(ctx context.Context, scope model.Scope, id int64) (*model.Domain, error)

	// ListUpstreams returns the upstreams of a domain. A domainID of 0
	// returns the upstreams of every domain in scope.
	ListUpstreams(ctx context.Context, scope model.Scope, domainID int64) ([]model.Upstream, error)

	// ListRouteRules returns every route rule of a domain, active or not.
	ListRouteRules(ctx context.Context, scope model.Scope, domainID int64) ([]model.RouteRule, error)

	// ListRedirectRules returns every redirect rule of a domain, active or not.
	ListRedirectRules(ctx context.Context, scope model.Scope, domainID int64) ([]model.RedirectRule, error)
}

// CertificateFilter selects certificates. Zero-valued fields are ignored.
type CertificateFilter struct {
	DomainID      int64
	Statuses      []model.CertificateStatus
	AutoRenewOnly bool
}

// Matches reports whether c passes the filter.
func (f CertificateFilter) Matches(c *model.Certificate) bool {
	if f.DomainID != 0 && c.DomainID != f.DomainID {
		return false
	}
	if f.AutoRenewOnly && !c.AutoRenew {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if c.Status == s {
			return true
		}
	}
	return false
}

// CertificateStore gives the lifecycle manager access to certificates.
type CertificateStore interface {
	GetCertificate(ctx context.Context, scope model.Scope, id int64) (*model.Certificate, error)

	// ListCertificates returns matching certificates ordered by id.
	ListCertificates(ctx context.Context, scope model.Scope, filter CertificateFilter) ([]*model.Certificate, error)

	// CurrentCertificate returns the installed, unexpired certificate of a
	// domain with the latest expiry, whatever its lifecycle status, or
	// ErrNotFound.
	CurrentCertificate(ctx context.Context, scope model.Scope, domainID int64) (*model.Certificate, error)

	// UpdateCertificate persists the lifecycle fields of c.
	UpdateCertificate(ctx context.Context, scope model.Scope, c *model.Certificate) error
}

// Store is the full desired-state store.
type Store interface {
	Reader
	CertificateStore

	Ping(ctx context.Context) error
	Close() error
}
