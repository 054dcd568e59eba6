// Package certs manages the lifecycle of TLS certificates.
//
// A certificate moves pending → processing → valid or failed. Valid
// certificates become expiring inside their renewal window and expired
// once past ExpiresAt; a renewal runs through processing again. Failed
// certificates are retried by the renewal sweep after an exponential
// delay until the retry budget is spent; Manager.Reset starts them over.
//
// Manager.Issue runs six phases and stops at the first failure:
//
//	domain_validation        name syntax, domain active, DNS resolution
//	port_check               http-01 only: challenge ports reachable
//	environment_prep         certificate directory writable
//	certificate_issuance     certificate authority order via the "acme" breaker
//	certificate_application  material written to <dir>/<domain>/*.pem
//	final_verification       installed leaf pairs with its key and covers every name
//
// Each failure is an *Error whose Kind names the cause. Only one issuance
// per domain runs at a time: the Locker is tried, never waited on, and a
// concurrent call gets ErrIssuanceInProgress.
//
// Every issuance writes a cert-issue or cert-renew ledger entry listing
// its phases. A successful one notifies subscribers and asks the
// Publisher to re-publish the domain's proxy configuration.
package certs
