package certs

import (
	"context"

	"netpilot-hq/netpilot/pkg/model"
)

// Challenge types.
const (
	ChallengeHTTP01 = "http-01"
	ChallengeDNS01  = "dns-01"
)

// Request is one certificate order.
type Request struct {
	// Names lists the primary name first, then the SANs.
	Names []string
}

// Issuer obtains certificates from a certificate authority.
type Issuer interface {
	Obtain(ctx context.Context, req Request) (*Material, error)
}

// IssuerFunc adapts a function to Issuer.
type IssuerFunc func(ctx context.Context, req Request) (*Material, error)

// Obtain implements Issuer.
func (f IssuerFunc) Obtain(ctx context.Context, req Request) (*Material, error) {
	return f(ctx, req)
}

// Publisher re-publishes the proxy configuration of a domain once its
// certificate changed.
type Publisher interface {
	PublishDomain(ctx context.Context, scope model.Scope, domainID int64) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, scope model.Scope, domainID int64) error

// PublishDomain implements Publisher.
func (f PublisherFunc) PublishDomain(ctx context.Context, scope model.Scope, domainID int64) error {
	return f(ctx, scope, domainID)
}
