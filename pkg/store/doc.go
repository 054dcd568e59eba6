// Package store defines access to the desired state: domains, upstreams,
// route and redirect rules, and TLS certificates.
//
// The reconciler only reads through Reader. The certificate lifecycle
// manager additionally updates certificates through CertificateStore.
// Every call takes the tenant scope explicitly; implementations never
// infer it.
//
// Implementations live in the sqlstore (SQLite or Postgres) and memory
// subpackages.
package store
