package reconcile

import (
	"errors"
	"fmt"
)

// RuleKind classifies why a rule was excluded from the published document.
type RuleKind string

const (
	KindInvalidRoute           RuleKind = "invalid_route"
	KindInvalidRedirectPattern RuleKind = "invalid_redirect_pattern"
	KindInactiveUpstream       RuleKind = "inactive_upstream"
)

// Sentinel errors for errors.Is checks.
var (
	ErrInvalidRoute           = errors.New("invalid route")
	ErrInvalidRedirectPattern = errors.New("invalid redirect pattern")
	ErrInactiveUpstream       = errors.New("inactive upstream")
	ErrConfigWriteFailed      = errors.New("config write failed")
	ErrReloadFailed           = errors.New("reload failed")
)

// RuleError reports a structural problem with a single rule. It never aborts
// a reconciliation pass; the rule is excluded and recorded as skipped.
type RuleError struct {
	Kind RuleKind

	// RuleType is "route" or "redirect".
	RuleType string
	RuleID   int64
	Reason   string
}

// Error implements the error interface.
func (e *RuleError) Error() string {
	return fmt.Sprintf("%s %d excluded (%s): %s", e.RuleType, e.RuleID, e.Kind, e.Reason)
}

// Unwrap returns the sentinel matching the error kind.
func (e *RuleError) Unwrap() error {
	switch e.Kind {
	case KindInvalidRedirectPattern:
		return ErrInvalidRedirectPattern
	case KindInactiveUpstream:
		return ErrInactiveUpstream
	default:
		return ErrInvalidRoute
	}
}

// Skipped converts the error into its ledger representation.
func (e *RuleError) Skipped() Skipped {
	return Skipped{Type: e.RuleType, ID: e.RuleID, Kind: e.Kind, Reason: e.Reason}
}

func newRouteError(kind RuleKind, id int64, format string, args ...any) *RuleError {
	return &RuleError{Kind: kind, RuleType: "route", RuleID: id, Reason: fmt.Sprintf(format, args...)}
}

func newRedirectError(kind RuleKind, id int64, format string, args ...any) *RuleError {
	return &RuleError{Kind: kind, RuleType: "redirect", RuleID: id, Reason: fmt.Sprintf(format, args...)}
}

// WriteError is returned when a configuration document cannot be published.
type WriteError struct {
	Path string
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *WriteError) Error() string {
	return fmt.Sprintf("config write failed [path=%s, operation=%s]: %v", e.Path, e.Op, e.Err)
}

// Unwrap returns the underlying cause error.
func (e *WriteError) Unwrap() error {
	return e.Err
}

// Is matches ErrConfigWriteFailed.
func (e *WriteError) Is(target error) bool {
	return target == ErrConfigWriteFailed
}

// NewWriteError creates a new WriteError.
func NewWriteError(path, op string, err error) *WriteError {
	return &WriteError{Path: path, Op: op, Err: err}
}

// ReloadError is returned when the proxy could not be told to reload. The
// published documents are still in place when it occurs.
type ReloadError struct {
	Reloader string
	Err      error
}

// Error implements the error interface.
func (e *ReloadError) Error() string {
	return fmt.Sprintf("proxy reload failed [reloader=%s]: %v", e.Reloader, e.Err)
}

// Unwrap returns the underlying cause error.
func (e *ReloadError) Unwrap() error {
	return e.Err
}

// Is matches ErrReloadFailed.
func (e *ReloadError) Is(target error) bool {
	return target == ErrReloadFailed
}

// NewReloadError creates a new ReloadError.
func NewReloadError(reloader string, err error) *ReloadError {
	return &ReloadError{Reloader: reloader, Err: err}
}
