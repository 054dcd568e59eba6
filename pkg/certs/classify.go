package certs

import (
	"time"

	"netpilot-hq/netpilot/pkg/model"
)

const day = 24 * time.Hour

// RenewWindow returns the renewal window of c, falling back to
// defaultDays when the certificate has none.
func RenewWindow(c *model.Certificate, defaultDays int) time.Duration {
	days := c.RenewBeforeDays
	if days <= 0 {
		days = defaultDays
	}
	return time.Duration(days) * day
}

// Classify returns the status c should have at now. It only moves a
// certificate forward along its expiry: valid becomes expiring inside the
// renewal window, and anything with served material becomes expired once
// ExpiresAt has passed. Failed certificates keep their status, and so do
// certificates being issued.
func Classify(c *model.Certificate, now time.Time, defaultDays int) model.CertificateStatus {
	if c.ExpiresAt == nil {
		return c.Status
	}
	switch c.Status {
	case model.CertFailed, model.CertProcessing, model.CertPending:
		return c.Status
	}

	if !c.ExpiresAt.After(now) {
		return model.CertExpired
	}
	if c.Status == model.CertValid && c.ExpiresAt.Sub(now) <= RenewWindow(c, defaultDays) {
		return model.CertExpiring
	}
	return c.Status
}

// RenewalDue reports whether a renewal sweep should reissue c. A failed
// certificate is due once its retry delay has elapsed; pending ones are
// due for their first issuance.
func RenewalDue(c *model.Certificate, now time.Time, defaultDays int) bool {
	switch c.Status {
	case model.CertExpiring, model.CertExpired, model.CertPending:
		return true
	case model.CertValid:
		return c.ExpiresAt != nil && c.ExpiresAt.Sub(now) <= RenewWindow(c, defaultDays)
	case model.CertFailed:
		return c.NextAttemptAt == nil || !c.NextAttemptAt.After(now)
	}
	return false
}

// Remaining returns the time left until c expires, or 0 without an expiry.
func Remaining(c *model.Certificate, now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	return c.ExpiresAt.Sub(now)
}
