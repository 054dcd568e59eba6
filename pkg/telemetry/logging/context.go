package logging

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	// TenantKey is the context key for the tenant id.
	TenantKey contextKey = "tenant_id"

	// OperationIDKey is the context key for the ledger operation id.
	OperationIDKey contextKey = "operation_id"

	// DomainKey is the context key for the domain name being processed.
	DomainKey contextKey = "domain"
)

var contextKeys = []contextKey{TenantKey, OperationIDKey, DomainKey}

// WithTenant adds a tenant id to the context.
func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, TenantKey, tenant)
}

// WithOperationID adds a ledger operation id to the context.
func WithOperationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, OperationIDKey, id)
}

// WithDomain adds a domain name to the context.
func WithDomain(ctx context.Context, domain string) context.Context {
	return context.WithValue(ctx, DomainKey, domain)
}

// OperationID returns the operation id stored in ctx, if any.
func OperationID(ctx context.Context) string {
	id, _ := ctx.Value(OperationIDKey).(string)
	return id
}

func contextAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	for _, key := range contextKeys {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			attrs = append(attrs, slog.String(string(key), v))
		}
	}
	return attrs
}
