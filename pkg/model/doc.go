// Package model defines the desired-state records read by the reconciler
// and the certificate lifecycle manager: domains, upstreams, route and
// redirect rules, and TLS certificates.
//
// The administrative layer owns these records. The core only reads them,
// except for Certificate, which the lifecycle manager updates once the
// administrative layer has created it in the pending state.
package model
