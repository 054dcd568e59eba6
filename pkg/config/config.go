package config

import "time"

// Config is the root configuration structure for netpilot.
// It holds the desired-state store, the proxy output, the certificate
// lifecycle, the resilience settings and telemetry.
type Config struct {
	// Store selects the desired-state database.
	Store StoreConfig `yaml:"store" envPrefix:"STORE_"`

	// Proxy describes where and how the reverse proxy configuration is published.
	Proxy ProxyConfig `yaml:"proxy" envPrefix:"PROXY_"`

	// Reconcile tunes the reconciliation engine.
	Reconcile ReconcileConfig `yaml:"reconcile" envPrefix:"RECONCILE_"`

	// Certificates contains certificate lifecycle settings.
	Certificates CertificatesConfig `yaml:"certificates" envPrefix:"CERTIFICATES_"`

	// ACME contains the certificate authority client settings.
	ACME ACMEConfig `yaml:"acme" envPrefix:"ACME_"`

	// Breaker contains circuit breaker defaults and per-name overrides.
	Breaker BreakerConfig `yaml:"breaker" envPrefix:"BREAKER_"`

	// Health contains upstream health probing settings.
	Health HealthConfig `yaml:"health" envPrefix:"HEALTH_"`

	// Ledger contains operation ledger storage and retention settings.
	Ledger LedgerConfig `yaml:"ledger" envPrefix:"LEDGER_"`

	// Locking selects the issuance lock backend.
	Locking LockingConfig `yaml:"locking" envPrefix:"LOCKING_"`

	// Scheduler contains the cron schedules of the background jobs.
	Scheduler SchedulerConfig `yaml:"scheduler" envPrefix:"SCHEDULER_"`

	// Server contains the admin HTTP server settings.
	Server ServerConfig `yaml:"server" envPrefix:"SERVER_"`

	// Telemetry contains logging, metrics and tracing settings.
	Telemetry TelemetryConfig `yaml:"telemetry" envPrefix:"TELEMETRY_"`
}

// StoreConfig selects and tunes the desired-state database.
type StoreConfig struct {
	// Driver is "sqlite" (modernc) or "pgx" (PostgreSQL).
	// Default: "sqlite"
	Driver string `yaml:"driver" env:"DRIVER"`

	// DSN is the data source name. For sqlite this is a file path.
	// Default: "data/netpilot.db"
	DSN string `yaml:"dsn" env:"DSN"`

	// MaxOpenConns limits open connections (forced to 1 for sqlite).
	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`

	// BusyTimeout is the sqlite busy timeout.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout" env:"BUSY_TIMEOUT"`

	// AutoMigrate applies pending migrations on open.
	// Default: true
	AutoMigrate *bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// ProxyConfig describes the reverse proxy that consumes the published files.
type ProxyConfig struct {
	// DynamicDir is the directory watched by the proxy file provider.
	// Default: "/etc/traefik/dynamic"
	DynamicDir string `yaml:"dynamic_dir" env:"DYNAMIC_DIR"`

	// HTTPEntryPoint is the plain HTTP entry point name.
	// Default: "web"
	HTTPEntryPoint string `yaml:"http_entry_point" env:"HTTP_ENTRY_POINT"`

	// HTTPSEntryPoint is the TLS entry point name.
	// Default: "websecure"
	HTTPSEntryPoint string `yaml:"https_entry_point" env:"HTTPS_ENTRY_POINT"`

	// Reloader is "watch" (the proxy watches the directory) or "http".
	// Default: "watch"
	Reloader string `yaml:"reloader" env:"RELOADER"`

	// ReloadURL is called by the http reloader.
	ReloadURL string `yaml:"reload_url" env:"RELOAD_URL"`

	// ReloadMethod is the HTTP method used by the http reloader.
	// Default: "POST"
	ReloadMethod string `yaml:"reload_method" env:"RELOAD_METHOD"`

	// ReloadTimeout bounds a single reload call.
	// Default: 10s
	ReloadTimeout time.Duration `yaml:"reload_timeout" env:"RELOAD_TIMEOUT"`
}

// ReconcileConfig tunes the reconciliation engine.
type ReconcileConfig struct {
	// Parallelism limits concurrent per-domain reconciles in a full pass.
	// Default: 4
	Parallelism int `yaml:"parallelism" env:"PARALLELISM"`

	// WatchEnabled turns on the desired-state drift watcher.
	// Default: false
	WatchEnabled bool `yaml:"watch_enabled" env:"WATCH_ENABLED"`

	// WatchPaths lists files or directories whose changes trigger a reconcile.
	WatchPaths []string `yaml:"watch_paths" env:"WATCH_PATHS"`

	// WatchDebounce coalesces bursts of change events.
	// Default: 2s
	WatchDebounce time.Duration `yaml:"watch_debounce" env:"WATCH_DEBOUNCE"`
}

// CertificatesConfig contains certificate lifecycle settings.
type CertificatesConfig struct {
	// Dir is the root directory for certificate material.
	// Default: "/etc/traefik/certs"
	Dir string `yaml:"dir" env:"DIR"`

	// RenewBeforeDays is used when a certificate has no renew window of its own.
	// Default: 30
	RenewBeforeDays int `yaml:"renew_before_days" env:"RENEW_BEFORE_DAYS"`

	// MaxRetries caps automatic retries of failed certificates.
	// Default: 5
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`

	// RetryBaseDelay is the first retry delay after a failure.
	// Default: 1h
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" env:"RETRY_BASE_DELAY"`

	// RetryMaxDelay caps the retry delay.
	// Default: 24h
	RetryMaxDelay time.Duration `yaml:"retry_max_delay" env:"RETRY_MAX_DELAY"`

	// CheckHost is dialed for the challenge port check.
	// Default: "127.0.0.1"
	CheckHost string `yaml:"check_host" env:"CHECK_HOST"`

	// CheckPorts are the ports that must accept connections for http-01.
	// Default: [80, 443]
	CheckPorts []int `yaml:"check_ports" env:"CHECK_PORTS"`

	// SkipPreflight disables DNS and port checks (testing and air-gapped setups).
	SkipPreflight bool `yaml:"skip_preflight" env:"SKIP_PREFLIGHT"`
}

// ACMEConfig contains certificate authority client settings.
type ACMEConfig struct {
	// Email is the ACME account contact.
	Email string `yaml:"email" env:"EMAIL"`

	// DirectoryURL is the ACME directory.
	// Default: Let's Encrypt production
	DirectoryURL string `yaml:"directory_url" env:"DIRECTORY_URL"`

	// Challenge is "http-01" or "dns-01".
	// Default: "http-01"
	Challenge string `yaml:"challenge" env:"CHALLENGE"`

	// HTTPPort is the port the http-01 solver listens on.
	// Default: "80"
	HTTPPort string `yaml:"http_port" env:"HTTP_PORT"`

	// DNSProvider is the lego DNS provider name for dns-01 (e.g. "cloudflare").
	// Provider credentials are read by lego from its own environment variables.
	DNSProvider string `yaml:"dns_provider" env:"DNS_PROVIDER"`

	// AccountKeyPath stores the account private key between runs.
	// Default: "<certificates.dir>/account.key"
	AccountKeyPath string `yaml:"account_key_path" env:"ACCOUNT_KEY_PATH"`

	// Timeout bounds a single issuance.
	// Default: 5m
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// BreakerConfig contains breaker defaults and overrides.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens a breaker.
	// Default: 5
	FailureThreshold int `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`

	// ResetTimeout is how long a breaker stays open before probing.
	// Default: 60s
	ResetTimeout time.Duration `yaml:"reset_timeout" env:"RESET_TIMEOUT"`

	// Overrides maps a breaker name (or a prefix ending in ':') to settings.
	Overrides map[string]BreakerOverride `yaml:"overrides"`
}

// BreakerOverride overrides breaker settings for one name or prefix.
type BreakerOverride struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// HealthConfig contains upstream health probing settings.
type HealthConfig struct {
	// Enabled turns on periodic upstream probing.
	// Default: true
	Enabled *bool `yaml:"enabled" env:"ENABLED"`

	// Timeout is used for upstreams without a timeout of their own.
	// Default: 5s
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`

	// Concurrency limits parallel probes.
	// Default: 8
	Concurrency int `yaml:"concurrency" env:"CONCURRENCY"`
}

// LedgerConfig contains operation ledger settings.
type LedgerConfig struct {
	// Path is the sqlite database file for the ledger. Use ":memory:" for
	// a non-persistent ledger.
	// Default: "data/ledger.db"
	Path string `yaml:"path" env:"PATH"`

	// RetentionDays removes finalized entries older than this (0 keeps forever).
	// Default: 30
	RetentionDays int `yaml:"retention_days" env:"RETENTION_DAYS"`

	// MaxEntries keeps at most this many entries (0 is unlimited).
	MaxEntries int64 `yaml:"max_entries" env:"MAX_ENTRIES"`

	// ArchiveBeforeDelete writes pruned entries to JSONL files first.
	ArchiveBeforeDelete bool `yaml:"archive_before_delete" env:"ARCHIVE_BEFORE_DELETE"`

	// ArchivePath is the archive directory.
	// Default: "data/archives"
	ArchivePath string `yaml:"archive_path" env:"ARCHIVE_PATH"`
}

// LockingConfig selects the issuance lock backend.
type LockingConfig struct {
	// Backend is "memory" or "redis".
	// Default: "memory"
	Backend string `yaml:"backend" env:"BACKEND"`

	// RedisAddr is the redis address (host:port).
	RedisAddr string `yaml:"redis_addr" env:"REDIS_ADDR"`

	// RedisPassword is the redis password.
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`

	// RedisDB is the redis database number.
	RedisDB int `yaml:"redis_db" env:"REDIS_DB"`

	// TTL bounds how long a lock survives a crashed holder.
	// Default: 15m
	TTL time.Duration `yaml:"ttl" env:"TTL"`

	// KeyPrefix namespaces lock keys.
	// Default: "netpilot:lock:"
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// SchedulerConfig contains cron expressions for background jobs.
// Standard five-field expressions and descriptors such as "@every 60s" are accepted.
type SchedulerConfig struct {
	// Reconcile is the periodic full reconcile.
	// Default: "@every 60s"
	Reconcile string `yaml:"reconcile" env:"RECONCILE"`

	// RenewalSweep is the certificate renewal sweep.
	// Default: "0 2 * * *"
	RenewalSweep string `yaml:"renewal_sweep" env:"RENEWAL_SWEEP"`

	// ExpiryCheck reclassifies certificates by expiry.
	// Default: "0 * * * *"
	ExpiryCheck string `yaml:"expiry_check" env:"EXPIRY_CHECK"`

	// HealthCheck polls upstream health.
	// Default: "@every 5m"
	HealthCheck string `yaml:"health_check" env:"HEALTH_CHECK"`

	// LedgerRetention prunes the ledger.
	// Default: "0 3 * * 0"
	LedgerRetention string `yaml:"ledger_retention" env:"LEDGER_RETENTION"`

	// TriggerDebounce coalesces on-change reconcile triggers.
	// Default: 1s
	TriggerDebounce time.Duration `yaml:"trigger_debounce" env:"TRIGGER_DEBOUNCE"`

	// Tenants lists the tenant scopes the jobs run for. Empty runs the
	// default scope only.
	Tenants []string `yaml:"tenants" env:"TENANTS"`
}

// ServerConfig contains the admin HTTP server settings.
type ServerConfig struct {
	// Enabled starts the admin server in run mode.
	// Default: true
	Enabled *bool `yaml:"enabled" env:"ENABLED"`

	// ListenAddress is the admin listen address.
	// Default: "127.0.0.1:9180"
	ListenAddress string `yaml:"listen_address" env:"LISTEN_ADDRESS"`

	// ReadTimeout is the maximum duration for reading a request.
	// Default: 15s
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`

	// WriteTimeout is the maximum duration for writing a response.
	// Default: 60s
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// TelemetryConfig contains observability settings.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging" envPrefix:"LOGGING_"`
	Metrics MetricsConfig `yaml:"metrics" envPrefix:"METRICS_"`
	Tracing TracingConfig `yaml:"tracing" envPrefix:"TRACING_"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	// Default: "info"
	Level string `yaml:"level" env:"LEVEL"`

	// Format is "json" or "text".
	// Default: "json"
	Format string `yaml:"format" env:"FORMAT"`

	// AddSource includes file and line in log records.
	AddSource bool `yaml:"add_source" env:"ADD_SOURCE"`

	// Redact masks secrets in log output.
	// Default: true
	Redact *bool `yaml:"redact" env:"REDACT"`
}

// MetricsConfig contains Prometheus settings.
type MetricsConfig struct {
	// Enabled turns on metric collection.
	// Default: true
	Enabled *bool `yaml:"enabled" env:"ENABLED"`

	// Path is the scrape path on the admin server.
	// Default: "/metrics"
	Path string `yaml:"path" env:"PATH"`

	// Namespace prefixes every metric name.
	// Default: "netpilot"
	Namespace string `yaml:"namespace" env:"NAMESPACE"`

	// DurationBuckets are histogram buckets in seconds for operation durations.
	DurationBuckets []float64 `yaml:"duration_buckets" env:"DURATION_BUCKETS"`
}

// TracingConfig contains OpenTelemetry settings.
type TracingConfig struct {
	// Enabled turns on span export.
	Enabled bool `yaml:"enabled" env:"ENABLED"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint" env:"ENDPOINT"`

	// Insecure disables TLS to the collector.
	Insecure bool `yaml:"insecure" env:"INSECURE"`

	// ServiceName is reported as service.name.
	// Default: "netpilot"
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`

	// SampleRatio is the fraction of traces sampled (0.0 to 1.0).
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio" env:"SAMPLE_RATIO"`
}

// IsEnabled reports the value of an optional boolean, falling back to def.
func IsEnabled(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
