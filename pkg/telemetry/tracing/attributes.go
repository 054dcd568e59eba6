package tracing

import "go.opentelemetry.io/otel/attribute"

// Attribute keys used on netpilot spans.
const (
	AttrTenant      = attribute.Key("netpilot.tenant")
	AttrDomain      = attribute.Key("netpilot.domain")
	AttrDomainID    = attribute.Key("netpilot.domain_id")
	AttrCertificate = attribute.Key("netpilot.certificate_id")
	AttrPhase       = attribute.Key("netpilot.phase")
	AttrOperationID = attribute.Key("netpilot.operation_id")
	AttrBreaker     = attribute.Key("netpilot.breaker")
)

// Domain returns the attributes identifying a domain.
func Domain(tenant string, id int64, name string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTenant.String(tenant),
		AttrDomainID.Int64(id),
		AttrDomain.String(name),
	}
}
