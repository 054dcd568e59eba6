package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "netpilot.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	ApplyDefaults(&cfg)

	if cfg.Store.Driver != DefaultStoreDriver {
		t.Errorf("expected driver %q, got %q", DefaultStoreDriver, cfg.Store.Driver)
	}
	if cfg.Store.DSN != DefaultStoreDSN {
		t.Errorf("expected dsn %q, got %q", DefaultStoreDSN, cfg.Store.DSN)
	}
	if cfg.Proxy.Reloader != DefaultReloader {
		t.Errorf("expected reloader %q, got %q", DefaultReloader, cfg.Proxy.Reloader)
	}
	if cfg.Breaker.FailureThreshold != 5 || cfg.Breaker.ResetTimeout != 60*time.Second {
		t.Errorf("unexpected breaker defaults: %+v", cfg.Breaker)
	}
	if len(cfg.Certificates.CheckPorts) != 2 || cfg.Certificates.CheckPorts[0] != 80 {
		t.Errorf("unexpected check ports: %v", cfg.Certificates.CheckPorts)
	}
	if cfg.ACME.AccountKeyPath != filepath.Join(DefaultCertificateDir, "account.key") {
		t.Errorf("unexpected account key path: %q", cfg.ACME.AccountKeyPath)
	}
	if cfg.Scheduler.RenewalSweep != "0 2 * * *" {
		t.Errorf("unexpected sweep schedule: %q", cfg.Scheduler.RenewalSweep)
	}
	if !IsEnabled(cfg.Health.Enabled, false) || !IsEnabled(cfg.Telemetry.Metrics.Enabled, false) {
		t.Error("expected health and metrics enabled by default")
	}
	if err := Validate(&cfg); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestApplyDefaults_PreservesValues(t *testing.T) {
	disabled := false
	cfg := Config{
		Store:  StoreConfig{Driver: "pgx", DSN: "postgres://localhost/netpilot"},
		Health: HealthConfig{Enabled: &disabled},
		Breaker: BreakerConfig{
			Overrides: map[string]BreakerOverride{"acme": {FailureThreshold: 2}},
		},
	}
	ApplyDefaults(&cfg)

	if cfg.Store.Driver != "pgx" || cfg.Store.DSN != "postgres://localhost/netpilot" {
		t.Errorf("store overwritten: %+v", cfg.Store)
	}
	if IsEnabled(cfg.Health.Enabled, true) {
		t.Error("explicit false was overwritten")
	}
	o := cfg.Breaker.Overrides["acme"]
	if o.FailureThreshold != 2 || o.ResetTimeout != DefaultBreakerResetTimeout {
		t.Errorf("unexpected override: %+v", o)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
store:
  driver: sqlite
  dsn: /var/lib/netpilot/state.db
proxy:
  dynamic_dir: /srv/traefik/dynamic
  reloader: http
  reload_url: http://127.0.0.1:8080/api/reload
acme:
  email: ops@example.com
  challenge: dns-01
  dns_provider: cloudflare
breaker:
  reset_timeout: 30s
  overrides:
    "upstream:":
      failure_threshold: 3
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Proxy.DynamicDir != "/srv/traefik/dynamic" {
		t.Errorf("unexpected dynamic dir %q", cfg.Proxy.DynamicDir)
	}
	if cfg.ACME.DNSProvider != "cloudflare" {
		t.Errorf("unexpected dns provider %q", cfg.ACME.DNSProvider)
	}
	if cfg.Breaker.ResetTimeout != 30*time.Second {
		t.Errorf("expected reset timeout 30s, got %v", cfg.Breaker.ResetTimeout)
	}
	if o := cfg.Breaker.Overrides["upstream:"]; o.FailureThreshold != 3 || o.ResetTimeout != 30*time.Second {
		t.Errorf("unexpected override %+v", o)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
store:
  dsn: from-file.db
`)
	t.Setenv("NETPILOT_STORE_DSN", "from-env.db")
	t.Setenv("NETPILOT_BREAKER_RESET_TIMEOUT", "2m")
	t.Setenv("NETPILOT_CERTIFICATES_CHECK_PORTS", "8080,8443")
	t.Setenv("NETPILOT_TELEMETRY_LOGGING_LEVEL", "debug")
	t.Setenv("NETPILOT_HEALTH_ENABLED", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Store.DSN != "from-env.db" {
		t.Errorf("expected env dsn, got %q", cfg.Store.DSN)
	}
	if cfg.Breaker.ResetTimeout != 2*time.Minute {
		t.Errorf("expected 2m, got %v", cfg.Breaker.ResetTimeout)
	}
	if len(cfg.Certificates.CheckPorts) != 2 || cfg.Certificates.CheckPorts[1] != 8443 {
		t.Errorf("unexpected ports %v", cfg.Certificates.CheckPorts)
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("expected debug, got %q", cfg.Telemetry.Logging.Level)
	}
	if IsEnabled(cfg.Health.Enabled, true) {
		t.Error("expected health disabled by env")
	}
}

func TestLoad_Dotenv(t *testing.T) {
	dotenv := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(dotenv, []byte("NETPILOT_ACME_EMAIL=certs@example.org\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("NETPILOT_ACME_EMAIL") })

	cfg, err := Load("", dotenv)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ACME.Email != "certs@example.org" {
		t.Errorf("expected email from .env, got %q", cfg.ACME.Email)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad driver", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver"},
		{"http reloader without url", func(c *Config) { c.Proxy.Reloader = "http" }, "proxy.reload_url"},
		{"unknown reloader", func(c *Config) { c.Proxy.Reloader = "signal" }, "proxy.reloader"},
		{"dns without provider", func(c *Config) { c.ACME.Challenge = "dns-01" }, "acme.dns_provider"},
		{"bad challenge", func(c *Config) { c.ACME.Challenge = "tls-alpn-01" }, "acme.challenge"},
		{"bad cron", func(c *Config) { c.Scheduler.RenewalSweep = "every day" }, "scheduler.renewal_sweep"},
		{"redis without addr", func(c *Config) { c.Locking.Backend = "redis" }, "locking.redis_addr"},
		{"bad port", func(c *Config) { c.Certificates.CheckPorts = []int{0} }, "certificates.check_ports"},
		{"bad ratio", func(c *Config) { c.Telemetry.Tracing.SampleRatio = 2 }, "telemetry.tracing.sample_ratio"},
		{"watcher without paths", func(c *Config) { c.Reconcile.WatchEnabled = true }, "reconcile.watch_paths"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			ApplyDefaults(&cfg)
			tt.mutate(&cfg)

			err := Validate(&cfg)
			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			found := false
			for _, fe := range verr.Errors {
				if fe.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on %s, got %v", tt.field, err)
			}
		})
	}
}

func TestValidationError_Message(t *testing.T) {
	err := ValidationError{Errors: []FieldError{
		{Field: "a", Message: "x"},
		{Field: "b", Message: "y"},
	}}
	if !strings.Contains(err.Error(), "2 errors") {
		t.Errorf("unexpected message %q", err.Error())
	}
}
