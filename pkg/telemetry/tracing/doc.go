// Package tracing provides OpenTelemetry spans for reconcile passes,
// certificate issuance phases and admin requests.
//
// A *Tracer is created once from telemetry.tracing and passed to the
// components; when tracing is disabled it produces noop spans. Spans are
// exported over OTLP gRPC.
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, version)
//	defer tracer.Shutdown(context.Background())
//
//	ctx, span := tracer.Start(ctx, "reconcile.domain", tracing.Domain(scope.TenantID, d.ID, d.Name)...)
//	defer func() { tracing.End(span, err) }()
package tracing
