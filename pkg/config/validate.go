package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "proxy.dynamic_dir").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any rule fails. All field errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateStore(&cfg.Store)...)
	errs = append(errs, validateProxy(&cfg.Proxy)...)
	errs = append(errs, validateReconcile(&cfg.Reconcile)...)
	errs = append(errs, validateCertificates(&cfg.Certificates)...)
	errs = append(errs, validateACME(&cfg.ACME)...)
	errs = append(errs, validateBreaker(&cfg.Breaker)...)
	errs = append(errs, validateLedger(&cfg.Ledger)...)
	errs = append(errs, validateLocking(&cfg.Locking)...)
	errs = append(errs, validateScheduler(&cfg.Scheduler)...)
	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateStore(cfg *StoreConfig) []FieldError {
	var errs []FieldError

	switch cfg.Driver {
	case "sqlite", "pgx":
	default:
		errs = append(errs, FieldError{
			Field:   "store.driver",
			Message: fmt.Sprintf("unsupported driver %q (must be 'sqlite' or 'pgx')", cfg.Driver),
		})
	}
	if cfg.DSN == "" {
		errs = append(errs, FieldError{Field: "store.dsn", Message: "dsn is required"})
	}
	if cfg.MaxOpenConns < 0 {
		errs = append(errs, FieldError{Field: "store.max_open_conns", Message: "must be non-negative"})
	}
	return errs
}

func validateProxy(cfg *ProxyConfig) []FieldError {
	var errs []FieldError

	if cfg.DynamicDir == "" {
		errs = append(errs, FieldError{Field: "proxy.dynamic_dir", Message: "dynamic directory is required"})
	}

	switch cfg.Reloader {
	case "watch":
	case "http":
		if cfg.ReloadURL == "" {
			errs = append(errs, FieldError{
				Field:   "proxy.reload_url",
				Message: "reload URL is required when reloader is 'http'",
			})
		} else if u, err := url.Parse(cfg.ReloadURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, FieldError{
				Field:   "proxy.reload_url",
				Message: fmt.Sprintf("invalid URL %q", cfg.ReloadURL),
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "proxy.reloader",
			Message: fmt.Sprintf("unsupported reloader %q (must be 'watch' or 'http')", cfg.Reloader),
		})
	}

	if cfg.ReloadTimeout < 0 {
		errs = append(errs, FieldError{Field: "proxy.reload_timeout", Message: "reload timeout must be positive"})
	}
	return errs
}

func validateReconcile(cfg *ReconcileConfig) []FieldError {
	var errs []FieldError

	if cfg.Parallelism < 1 {
		errs = append(errs, FieldError{Field: "reconcile.parallelism", Message: "must be at least 1"})
	}
	if cfg.WatchEnabled && len(cfg.WatchPaths) == 0 {
		errs = append(errs, FieldError{
			Field:   "reconcile.watch_paths",
			Message: "at least one path is required when the watcher is enabled",
		})
	}
	return errs
}

func validateCertificates(cfg *CertificatesConfig) []FieldError {
	var errs []FieldError

	if cfg.Dir == "" {
		errs = append(errs, FieldError{Field: "certificates.dir", Message: "certificate directory is required"})
	}
	if cfg.RenewBeforeDays < 1 {
		errs = append(errs, FieldError{Field: "certificates.renew_before_days", Message: "must be at least 1"})
	}
	if cfg.MaxRetries < 0 {
		errs = append(errs, FieldError{Field: "certificates.max_retries", Message: "must be non-negative"})
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		errs = append(errs, FieldError{
			Field:   "certificates.retry_max_delay",
			Message: "must not be smaller than retry_base_delay",
		})
	}
	for _, p := range cfg.CheckPorts {
		if p < 1 || p > 65535 {
			errs = append(errs, FieldError{
				Field:   "certificates.check_ports",
				Message: fmt.Sprintf("invalid port %d", p),
			})
		}
	}
	return errs
}

func validateACME(cfg *ACMEConfig) []FieldError {
	var errs []FieldError

	if u, err := url.Parse(cfg.DirectoryURL); err != nil || u.Scheme == "" {
		errs = append(errs, FieldError{
			Field:   "acme.directory_url",
			Message: fmt.Sprintf("invalid URL %q", cfg.DirectoryURL),
		})
	}

	switch cfg.Challenge {
	case "http-01":
	case "dns-01":
		if cfg.DNSProvider == "" {
			errs = append(errs, FieldError{
				Field:   "acme.dns_provider",
				Message: "dns provider is required for the dns-01 challenge",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "acme.challenge",
			Message: fmt.Sprintf("unsupported challenge %q (must be 'http-01' or 'dns-01')", cfg.Challenge),
		})
	}

	if cfg.Email != "" && !strings.Contains(cfg.Email, "@") {
		errs = append(errs, FieldError{Field: "acme.email", Message: "invalid email address"})
	}
	return errs
}

func validateBreaker(cfg *BreakerConfig) []FieldError {
	var errs []FieldError

	if cfg.FailureThreshold < 1 {
		errs = append(errs, FieldError{Field: "breaker.failure_threshold", Message: "must be at least 1"})
	}
	if cfg.ResetTimeout <= 0 {
		errs = append(errs, FieldError{Field: "breaker.reset_timeout", Message: "must be positive"})
	}
	for name, o := range cfg.Overrides {
		if o.FailureThreshold < 1 {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("breaker.overrides.%s.failure_threshold", name),
				Message: "must be at least 1",
			})
		}
		if o.ResetTimeout <= 0 {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("breaker.overrides.%s.reset_timeout", name),
				Message: "must be positive",
			})
		}
	}
	return errs
}

func validateLedger(cfg *LedgerConfig) []FieldError {
	var errs []FieldError

	if cfg.Path == "" {
		errs = append(errs, FieldError{Field: "ledger.path", Message: "ledger path is required"})
	}
	if cfg.RetentionDays < 0 {
		errs = append(errs, FieldError{Field: "ledger.retention_days", Message: "must be non-negative"})
	}
	if cfg.MaxEntries < 0 {
		errs = append(errs, FieldError{Field: "ledger.max_entries", Message: "must be non-negative"})
	}
	if cfg.ArchiveBeforeDelete && cfg.ArchivePath == "" {
		errs = append(errs, FieldError{Field: "ledger.archive_path", Message: "archive path is required when archiving"})
	}
	return errs
}

func validateLocking(cfg *LockingConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory":
	case "redis":
		if cfg.RedisAddr == "" {
			errs = append(errs, FieldError{Field: "locking.redis_addr", Message: "redis address is required"})
		} else if _, _, err := net.SplitHostPort(cfg.RedisAddr); err != nil {
			errs = append(errs, FieldError{
				Field:   "locking.redis_addr",
				Message: fmt.Sprintf("invalid address %q: %v", cfg.RedisAddr, err),
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "locking.backend",
			Message: fmt.Sprintf("unsupported backend %q (must be 'memory' or 'redis')", cfg.Backend),
		})
	}
	if cfg.TTL <= 0 {
		errs = append(errs, FieldError{Field: "locking.ttl", Message: "must be positive"})
	}
	return errs
}

func validateScheduler(cfg *SchedulerConfig) []FieldError {
	var errs []FieldError

	schedules := []struct {
		field string
		spec  string
	}{
		{"scheduler.reconcile", cfg.Reconcile},
		{"scheduler.renewal_sweep", cfg.RenewalSweep},
		{"scheduler.expiry_check", cfg.ExpiryCheck},
		{"scheduler.health_check", cfg.HealthCheck},
		{"scheduler.ledger_retention", cfg.LedgerRetention},
	}
	for _, s := range schedules {
		if _, err := cron.ParseStandard(s.spec); err != nil {
			errs = append(errs, FieldError{
				Field:   s.field,
				Message: fmt.Sprintf("invalid cron expression %q: %v", s.spec, err),
			})
		}
	}
	return errs
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if !IsEnabled(cfg.Enabled, true) {
		return nil
	}
	if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("invalid address %q: %v", cfg.ListenAddress, err),
		})
	}
	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid level %q", cfg.Logging.Level),
		})
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text", "console":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid format %q", cfg.Logging.Format),
		})
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "path must start with '/'"})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: "must be between 0.0 and 1.0",
		})
	}
	return errs
}
