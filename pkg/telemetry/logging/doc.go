// Package logging builds the process logger on log/slog.
//
// New returns a *slog.Logger whose handler adds operation context
// (tenant, operation id, domain) stored with the With* helpers, and
// redacts secrets such as DNS provider tokens, passwords embedded in
// DSNs and bearer tokens before they reach the output.
//
//	logger, err := logging.New(logging.Config{Level: "info", Format: "json"})
//	slog.SetDefault(logger)
//
//	ctx = logging.WithOperationID(ctx, op.ID())
//	logger.InfoContext(ctx, "publishing configuration", "domain", d.Name)
package logging
