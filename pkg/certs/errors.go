package certs

import (
	"errors"
	"fmt"
)

// Kind classifies an issuance failure. The kind is stored with the
// certificate's last error and in the ledger so the cause is actionable.
type Kind string

const (
	KindInvalidDomain         Kind = "invalid_domain"
	KindPortsUnavailable      Kind = "ports_unavailable"
	KindAcmeClientFailed      Kind = "acme_client_failed"
	KindVerificationFailed    Kind = "verification_failed"
	KindWritePermissionDenied Kind = "write_permission_denied"
)

// Issuance phases, in execution order.
const (
	PhaseDomainValidation       = "domain_validation"
	PhasePortCheck              = "port_check"
	PhaseEnvironmentPrep        = "environment_prep"
	PhaseCertificateIssuance    = "certificate_issuance"
	PhaseCertificateApplication = "certificate_application"
	PhaseFinalVerification      = "final_verification"
)

// Sentinel errors for errors.Is checks.
var (
	ErrInvalidDomain         = errors.New("invalid domain")
	ErrPortsUnavailable      = errors.New("challenge ports unavailable")
	ErrAcmeClientFailed      = errors.New("acme client failed")
	ErrVerificationFailed    = errors.New("certificate verification failed")
	ErrWritePermissionDenied = errors.New("certificate write permission denied")

	// ErrIssuanceInProgress rejects an issuance while another one holds
	// the domain's lock.
	ErrIssuanceInProgress = errors.New("issuance already in progress")

	// ErrSweepInProgress is returned by a sweep started while another runs.
	ErrSweepInProgress = errors.New("renewal sweep already in progress")

	// ErrDomainInactive is the cause of an invalid domain error for a
	// domain that is switched off.
	ErrDomainInactive = errors.New("domain is not active")
)

// Error is a typed issuance failure.
type Error struct {
	Kind   Kind
	Domain string
	Phase  string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s [domain=%s, phase=%s]: %v", e.Kind, e.Domain, e.Phase, e.Err)
}

// Unwrap returns the underlying cause error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error kind.
func (e *Error) Is(target error) bool {
	return target == e.sentinel()
}

func (e *Error) sentinel() error {
	switch e.Kind {
	case KindInvalidDomain:
		return ErrInvalidDomain
	case KindPortsUnavailable:
		return ErrPortsUnavailable
	case KindAcmeClientFailed:
		return ErrAcmeClientFailed
	case KindVerificationFailed:
		return ErrVerificationFailed
	case KindWritePermissionDenied:
		return ErrWritePermissionDenied
	}
	return nil
}

// NewError creates a new Error.
func NewError(kind Kind, domain, phase string, err error) *Error {
	return &Error{Kind: kind, Domain: domain, Phase: phase, Err: err}
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}
