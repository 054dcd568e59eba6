package certs

import (
	"time"

	"netpilot-hq/netpilot/pkg/config"
)

// RetryPolicy spaces out automatic retries of a failing certificate.
type RetryPolicy struct {
	// MaxRetries stops automatic retries after this many consecutive
	// failures. Zero retries forever.
	MaxRetries int

	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// RetryPolicyFrom builds the policy from configuration.
func RetryPolicyFrom(cfg *config.CertificatesConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryBaseDelay,
		MaxDelay:   cfg.RetryMaxDelay,
	}
}

// DefaultMaxRetryDelay caps the backoff when the policy sets no MaxDelay.
const DefaultMaxRetryDelay = 30 * 24 * time.Hour

// Delay returns the wait after the given number of consecutive failures.
// It doubles with every failure and is capped at MaxDelay, or at
// DefaultMaxRetryDelay when MaxDelay is not set.
func (p RetryPolicy) Delay(failures int) time.Duration {
	if failures <= 0 || p.BaseDelay <= 0 {
		return 0
	}
	ceiling := p.MaxDelay
	if ceiling <= 0 {
		ceiling = DefaultMaxRetryDelay
	}

	delay := p.BaseDelay
	for i := 1; i < failures && delay < ceiling; i++ {
		delay *= 2
	}
	return min(delay, ceiling)
}

// Exhausted reports whether automatic retries have given up.
func (p RetryPolicy) Exhausted(failures int) bool {
	return p.MaxRetries > 0 && failures >= p.MaxRetries
}
