package config

import (
	"path/filepath"
	"time"
)

// Default values for configuration fields.
const (
	// Store defaults
	DefaultStoreDriver       = "sqlite"
	DefaultStoreDSN          = "data/netpilot.db"
	DefaultStoreMaxOpenConns = 10
	DefaultStoreBusyTimeout  = 5 * time.Second

	// Proxy defaults
	DefaultDynamicDir      = "/etc/traefik/dynamic"
	DefaultHTTPEntryPoint  = "web"
	DefaultHTTPSEntryPoint = "websecure"
	DefaultReloader        = "watch"
	DefaultReloadMethod    = "POST"
	DefaultReloadTimeout   = 10 * time.Second

	// Reconcile defaults
	DefaultReconcileParallelism = 4
	DefaultWatchDebounce        = 2 * time.Second

	// Certificate defaults
	DefaultCertificateDir  = "/etc/traefik/certs"
	DefaultRenewBeforeDays = 30
	DefaultMaxRetries      = 5
	DefaultRetryBaseDelay  = time.Hour
	DefaultRetryMaxDelay   = 24 * time.Hour
	DefaultCheckHost       = "127.0.0.1"

	// ACME defaults
	DefaultACMEDirectoryURL = "https://acme-v02.api.letsencrypt.org/directory"
	DefaultACMEChallenge    = "http-01"
	DefaultACMEHTTPPort     = "80"
	DefaultACMETimeout      = 5 * time.Minute

	// Breaker defaults
	DefaultBreakerFailureThreshold = 5
	DefaultBreakerResetTimeout     = 60 * time.Second

	// Health defaults
	DefaultHealthTimeout     = 5 * time.Second
	DefaultHealthConcurrency = 8

	// Ledger defaults
	DefaultLedgerPath          = "data/ledger.db"
	DefaultLedgerRetentionDays = 30
	DefaultLedgerArchivePath   = "data/archives"

	// Locking defaults
	DefaultLockingBackend = "memory"
	DefaultLockTTL        = 15 * time.Minute
	DefaultLockKeyPrefix  = "netpilot:lock:"

	// Scheduler defaults
	DefaultReconcileSchedule       = "@every 60s"
	DefaultRenewalSweepSchedule    = "0 2 * * *"
	DefaultExpiryCheckSchedule     = "0 * * * *"
	DefaultHealthCheckSchedule     = "@every 5m"
	DefaultLedgerRetentionSchedule = "0 3 * * 0"
	DefaultTriggerDebounce         = time.Second

	// Server defaults
	DefaultServerListenAddress   = "127.0.0.1:9180"
	DefaultServerReadTimeout     = 15 * time.Second
	DefaultServerWriteTimeout    = 60 * time.Second
	DefaultServerShutdownTimeout = 30 * time.Second

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultMetricsPath        = "/metrics"
	DefaultMetricsNamespace   = "netpilot"
	DefaultTracingEndpoint    = "localhost:4317"
	DefaultTracingServiceName = "netpilot"
	DefaultTracingSampleRatio = 1.0
)

// DefaultCheckPorts are the ports probed before an http-01 issuance.
var DefaultCheckPorts = []int{80, 443}

// DefaultDurationBuckets suit operations from milliseconds (renders) to
// minutes (ACME issuance).
var DefaultDurationBuckets = []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 10, 30, 60, 180}

// ApplyDefaults fills zero-valued fields with their defaults.
// Fields that already hold a value are preserved.
func ApplyDefaults(cfg *Config) {
	applyStoreDefaults(&cfg.Store)
	applyProxyDefaults(&cfg.Proxy)
	applyReconcileDefaults(&cfg.Reconcile)
	applyCertificateDefaults(&cfg.Certificates)
	applyACMEDefaults(&cfg.ACME, &cfg.Certificates)
	applyBreakerDefaults(&cfg.Breaker)
	applyHealthDefaults(&cfg.Health)
	applyLedgerDefaults(&cfg.Ledger)
	applyLockingDefaults(&cfg.Locking)
	applySchedulerDefaults(&cfg.Scheduler)
	applyServerDefaults(&cfg.Server)
	applyTelemetryDefaults(&cfg.Telemetry)
}

func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Driver == "" {
		cfg.Driver = DefaultStoreDriver
	}
	if cfg.DSN == "" && cfg.Driver == DefaultStoreDriver {
		cfg.DSN = DefaultStoreDSN
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = DefaultStoreMaxOpenConns
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = DefaultStoreBusyTimeout
	}
	if cfg.AutoMigrate == nil {
		cfg.AutoMigrate = boolPtr(true)
	}
}

func applyProxyDefaults(cfg *ProxyConfig) {
	if cfg.DynamicDir == "" {
		cfg.DynamicDir = DefaultDynamicDir
	}
	if cfg.HTTPEntryPoint == "" {
		cfg.HTTPEntryPoint = DefaultHTTPEntryPoint
	}
	if cfg.HTTPSEntryPoint == "" {
		cfg.HTTPSEntryPoint = DefaultHTTPSEntryPoint
	}
	if cfg.Reloader == "" {
		cfg.Reloader = DefaultReloader
	}
	if cfg.ReloadMethod == "" {
		cfg.ReloadMethod = DefaultReloadMethod
	}
	if cfg.ReloadTimeout == 0 {
		cfg.ReloadTimeout = DefaultReloadTimeout
	}
}

func applyReconcileDefaults(cfg *ReconcileConfig) {
	if cfg.Parallelism == 0 {
		cfg.Parallelism = DefaultReconcileParallelism
	}
	if cfg.WatchDebounce == 0 {
		cfg.WatchDebounce = DefaultWatchDebounce
	}
}

func applyCertificateDefaults(cfg *CertificatesConfig) {
	if cfg.Dir == "" {
		cfg.Dir = DefaultCertificateDir
	}
	if cfg.RenewBeforeDays == 0 {
		cfg.RenewBeforeDays = DefaultRenewBeforeDays
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if cfg.RetryMaxDelay == 0 {
		cfg.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if cfg.CheckHost == "" {
		cfg.CheckHost = DefaultCheckHost
	}
	if len(cfg.CheckPorts) == 0 {
		cfg.CheckPorts = append([]int(nil), DefaultCheckPorts...)
	}
}

func applyACMEDefaults(cfg *ACMEConfig, certs *CertificatesConfig) {
	if cfg.DirectoryURL == "" {
		cfg.DirectoryURL = DefaultACMEDirectoryURL
	}
	if cfg.Challenge == "" {
		cfg.Challenge = DefaultACMEChallenge
	}
	if cfg.HTTPPort == "" {
		cfg.HTTPPort = DefaultACMEHTTPPort
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultACMETimeout
	}
	if cfg.AccountKeyPath == "" {
		cfg.AccountKeyPath = filepath.Join(certs.Dir, "account.key")
	}
}

func applyBreakerDefaults(cfg *BreakerConfig) {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultBreakerFailureThreshold
	}
	if cfg.ResetTimeout == 0 {
		cfg.ResetTimeout = DefaultBreakerResetTimeout
	}
	for name, o := range cfg.Overrides {
		if o.FailureThreshold == 0 {
			o.FailureThreshold = cfg.FailureThreshold
		}
		if o.ResetTimeout == 0 {
			o.ResetTimeout = cfg.ResetTimeout
		}
		cfg.Overrides[name] = o
	}
}

func applyHealthDefaults(cfg *HealthConfig) {
	if cfg.Enabled == nil {
		cfg.Enabled = boolPtr(true)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultHealthTimeout
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = DefaultHealthConcurrency
	}
}

func applyLedgerDefaults(cfg *LedgerConfig) {
	if cfg.Path == "" {
		cfg.Path = DefaultLedgerPath
	}
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = DefaultLedgerRetentionDays
	}
	if cfg.ArchivePath == "" {
		cfg.ArchivePath = DefaultLedgerArchivePath
	}
}

func applyLockingDefaults(cfg *LockingConfig) {
	if cfg.Backend == "" {
		cfg.Backend = DefaultLockingBackend
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultLockTTL
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultLockKeyPrefix
	}
}

func applySchedulerDefaults(cfg *SchedulerConfig) {
	if cfg.Reconcile == "" {
		cfg.Reconcile = DefaultReconcileSchedule
	}
	if cfg.RenewalSweep == "" {
		cfg.RenewalSweep = DefaultRenewalSweepSchedule
	}
	if cfg.ExpiryCheck == "" {
		cfg.ExpiryCheck = DefaultExpiryCheckSchedule
	}
	if cfg.HealthCheck == "" {
		cfg.HealthCheck = DefaultHealthCheckSchedule
	}
	if cfg.LedgerRetention == "" {
		cfg.LedgerRetention = DefaultLedgerRetentionSchedule
	}
	if cfg.TriggerDebounce == 0 {
		cfg.TriggerDebounce = DefaultTriggerDebounce
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Enabled == nil {
		cfg.Enabled = boolPtr(true)
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultServerListenAddress
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultServerReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultServerWriteTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultServerShutdownTimeout
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Logging.Redact == nil {
		cfg.Logging.Redact = boolPtr(true)
	}
	if cfg.Metrics.Enabled == nil {
		cfg.Metrics.Enabled = boolPtr(true)
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if len(cfg.Metrics.DurationBuckets) == 0 {
		cfg.Metrics.DurationBuckets = append([]float64(nil), DefaultDurationBuckets...)
	}
	if cfg.Tracing.Endpoint == "" {
		cfg.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
}

func boolPtr(b bool) *bool {
	return &b
}
