package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strings"

	"netpilot-hq/netpilot/pkg/breaker"
	"netpilot-hq/netpilot/pkg/certs"
	"netpilot-hq/netpilot/pkg/certs/acme"
	"netpilot-hq/netpilot/pkg/certs/redislock"
	"netpilot-hq/netpilot/pkg/cli"
	"netpilot-hq/netpilot/pkg/config"
	"netpilot-hq/netpilot/pkg/events"
	"netpilot-hq/netpilot/pkg/healthcheck"
	"netpilot-hq/netpilot/pkg/ledger"
	"netpilot-hq/netpilot/pkg/ledger/retention"
	"netpilot-hq/netpilot/pkg/ledger/storage"
	"netpilot-hq/netpilot/pkg/model"
	"netpilot-hq/netpilot/pkg/reconcile"
	"netpilot-hq/netpilot/pkg/scheduler"
	"netpilot-hq/netpilot/pkg/store/sqlstore"
	"netpilot-hq/netpilot/pkg/telemetry/health"
	"netpilot-hq/netpilot/pkg/telemetry/logging"
	"netpilot-hq/netpilot/pkg/telemetry/metrics"
	"netpilot-hq/netpilot/pkg/telemetry/tracing"
)

// ledgerInMemory selects the non-persistent ledger backend.
const ledgerInMemory = ":memory:"

// appOptions tune how the components are assembled for a command.
type appOptions struct {
	// progress receives reconcile progress in addition to the event hub.
	progress events.ProgressSink

	// skipMigrations opens the store without applying migrations.
	skipMigrations bool
}

// app holds every component built from the configuration.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	metrics *metrics.Collector
	tracer  *tracing.Tracer

	store    *sqlstore.Store
	ledger   *ledger.Ledger
	pruner   *retention.Pruner
	hub      *events.Hub
	breakers *breaker.Registry
	monitor  *healthcheck.Monitor
	engine   *reconcile.Engine
	certs    *certs.Manager
	health   *health.Checker

	closers []func() error
}

// loadConfig loads the configuration named by the global flags and
// applies the flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile, envFiles...)
	if err != nil {
		var verr config.ValidationError
		if errors.As(err, &verr) && len(verr.Errors) > 0 {
			return nil, cli.NewConfigError(verr.Errors[0].Field, err.Error())
		}
		return nil, cli.NewConfigError("", err.Error())
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	return cfg, nil
}

// newLogger builds the process logger and installs it as the default.
func newLogger(cfg *config.Config) (*slog.Logger, error) {
	logger, err := logging.New(logging.Config{
		Level:     cfg.Telemetry.Logging.Level,
		Format:    cfg.Telemetry.Logging.Format,
		AddSource: cfg.Telemetry.Logging.AddSource,
		Redact:    config.IsEnabled(cfg.Telemetry.Logging.Redact, true),
	})
	if err != nil {
		return nil, cli.NewConfigError("telemetry.logging", err.Error())
	}
	slog.SetDefault(logger)
	return logger, nil
}

// newApp assembles the components. On error everything already opened is
// closed.
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (a *app, err error) {
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	a.metrics = metrics.NewCollector(&cfg.Telemetry.Metrics, nil)

	a.tracer, err = tracing.New(&cfg.Telemetry.Tracing, Version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.onClose(func() error { return a.tracer.Shutdown(context.Background()) })

	if err := a.openStore(ctx, opts.skipMigrations); err != nil {
		return nil, err
	}
	if err := a.openLedger(); err != nil {
		return nil, err
	}

	a.hub = events.NewHub(logger)
	a.onClose(func() error { a.hub.Close(); return nil })

	a.breakers = breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
	}, breaker.WithObserver(func(name string, from, to breaker.State) {
		a.metrics.RecordBreakerTransition(name, from.String(), to.String())
	}))
	for name, o := range cfg.Breaker.Overrides {
		a.breakers.Configure(name, breaker.Config{
			FailureThreshold: o.FailureThreshold,
			ResetTimeout:     o.ResetTimeout,
		})
	}

	if config.IsEnabled(cfg.Health.Enabled, true) {
		checker := healthcheck.NewChecker(a.breakers,
			healthcheck.WithDefaultTimeout(cfg.Health.Timeout),
			healthcheck.WithLogger(logger.With("component", "healthcheck")),
		)
		a.monitor = healthcheck.NewMonitor(a.store, checker,
			healthcheck.WithMetrics(a.metrics),
			healthcheck.WithConcurrency(cfg.Health.Concurrency),
		)
	}

	if err := a.buildEngine(opts.progress); err != nil {
		return nil, err
	}
	if err := a.buildCertificates(ctx); err != nil {
		return nil, err
	}

	a.health = health.New(cfg.Health.Timeout)
	a.health.Register("store", a.store.Ping)
	a.health.Register("ledger", func(ctx context.Context) error {
		_, err := a.ledger.Storage().Count(ctx, &ledger.Query{})
		return err
	})
	a.health.Register("dynamic_dir", func(context.Context) error {
		info, err := os.Stat(cfg.Proxy.DynamicDir)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", cfg.Proxy.DynamicDir)
		}
		return nil
	})

	return a, nil
}

func (a *app) openStore(ctx context.Context, skipMigrations bool) error {
	driver := a.cfg.Store.Driver
	if driver == "pgx" {
		driver = "postgres"
	}
	s, err := sqlstore.Open(ctx, sqlstore.Config{
		Driver:       driver,
		DSN:          a.cfg.Store.DSN,
		MaxOpenConns: a.cfg.Store.MaxOpenConns,
		BusyTimeout:  a.cfg.Store.BusyTimeout,
		AutoMigrate:  !skipMigrations && config.IsEnabled(a.cfg.Store.AutoMigrate, true),
	})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	a.store = s
	a.onClose(s.Close)
	return nil
}

func (a *app) openLedger() error {
	var st ledger.Storage
	if a.cfg.Ledger.Path == ledgerInMemory {
		st = storage.NewMemoryStorage()
	} else {
		sqliteCfg := storage.DefaultSQLiteConfig()
		sqliteCfg.Path = a.cfg.Ledger.Path
		s, err := storage.NewSQLiteStorage(sqliteCfg)
		if err != nil {
			return fmt.Errorf("failed to open ledger: %w", err)
		}
		st = s
	}
	a.onClose(st.Close)

	a.ledger = ledger.New(st,
		ledger.WithLogger(a.logger.With("component", "ledger")),
		ledger.WithObserver(func(e *ledger.Entry) {
			a.metrics.RecordLedgerEntry(string(e.Kind), string(e.Status))
		}),
	)
	a.pruner = retention.NewPruner(st, &retention.Config{
		RetentionDays:       a.cfg.Ledger.RetentionDays,
		MaxEntries:          a.cfg.Ledger.MaxEntries,
		ArchiveBeforeDelete: a.cfg.Ledger.ArchiveBeforeDelete,
		ArchivePath:         a.cfg.Ledger.ArchivePath,
	})
	return nil
}

func (a *app) buildEngine(progress events.ProgressSink) error {
	cfg := a.cfg
	reloader, err := reconcile.NewReloader(&cfg.Proxy, &http.Client{Timeout: cfg.Proxy.ReloadTimeout})
	if err != nil {
		return cli.NewConfigError("proxy.reloader", err.Error())
	}

	var sink events.ProgressSink = a.hub
	if progress != nil {
		sink = progressFanout{a.hub, progress}
	}

	opts := []reconcile.Option{
		reconcile.WithCertificates(a.store),
		reconcile.WithBreakers(a.breakers),
		reconcile.WithProgress(sink),
		reconcile.WithMetrics(a.metrics),
		reconcile.WithTracer(a.tracer),
		reconcile.WithLogger(a.logger.With("component", "reconcile")),
		reconcile.WithRenderOptions(reconcile.RenderOptions{
			HTTPEntryPoint:  cfg.Proxy.HTTPEntryPoint,
			HTTPSEntryPoint: cfg.Proxy.HTTPSEntryPoint,
		}),
		reconcile.WithParallelism(cfg.Reconcile.Parallelism),
		// Scopes share one directory; a pass over one must not remove the others.
		reconcile.WithOrphanPruning(len(cfg.Scheduler.Tenants) <= 1),
	}
	if a.monitor != nil {
		opts = append(opts, reconcile.WithHealth(a.monitor))
	}

	a.engine = reconcile.NewEngine(a.store, reconcile.NewWriter(cfg.Proxy.DynamicDir), reloader, a.ledger, opts...)
	return nil
}

func (a *app) buildCertificates(ctx context.Context) error {
	cfg := a.cfg
	issuer, err := a.newIssuer()
	if err != nil {
		return err
	}

	var locker certs.Locker = certs.NewKeyedLocker()
	if cfg.Locking.Backend == "redis" {
		l, err := redislock.New(ctx, &cfg.Locking)
		if err != nil {
			return fmt.Errorf("failed to connect issuance lock: %w", err)
		}
		a.onClose(l.Close)
		locker = l
	}

	a.certs = certs.NewManager(
		certs.ConfigFrom(&cfg.Certificates, &cfg.ACME),
		a.store,
		a.store,
		issuer,
		certs.NewMaterialStore(cfg.Certificates.Dir),
		a.ledger,
		certs.WithLocker(locker),
		certs.WithBreakers(a.breakers),
		certs.WithNotifier(a.hub),
		certs.WithPublisher(certs.PublisherFunc(func(ctx context.Context, scope model.Scope, domainID int64) error {
			_, err := a.engine.ReconcileDomain(ctx, scope, domainID)
			return err
		})),
		certs.WithMetrics(a.metrics),
		certs.WithTracer(a.tracer),
		certs.WithLogger(a.logger.With("component", "certs")),
	)
	return nil
}

// newIssuer builds the ACME issuer. Without an account email every order
// fails with a configuration error; the rest of the system still runs.
func (a *app) newIssuer() (certs.Issuer, error) {
	acmeCfg := acme.ConfigFrom(&a.cfg.ACME)
	if strings.TrimSpace(acmeCfg.Email) == "" {
		a.logger.Warn("acme.email is not set, certificate issuance is disabled")
		return certs.IssuerFunc(func(context.Context, certs.Request) (*certs.Material, error) {
			return nil, cli.NewConfigError("acme.email", "an account email is required to issue certificates")
		}), nil
	}

	solver, err := acme.NewSolver(acmeCfg)
	if err != nil {
		return nil, cli.NewConfigError("acme.challenge", err.Error())
	}
	issuer, err := acme.NewIssuer(acmeCfg, solver, acme.WithLogger(a.logger.With("component", "acme")))
	if err != nil {
		return nil, cli.NewConfigError("acme", err.Error())
	}
	return issuer, nil
}

// scopes returns the tenant scopes the jobs run for.
func (a *app) scopes() []model.Scope {
	return tenantScopes(a.cfg.Scheduler.Tenants)
}

func tenantScopes(tenants []string) []model.Scope {
	if len(tenants) == 0 {
		return []model.Scope{model.DefaultScope}
	}
	scopes := make([]model.Scope, 0, len(tenants))
	for _, t := range tenants {
		scopes = append(scopes, model.Scope{TenantID: strings.TrimSpace(t)})
	}
	return scopes
}

// jobs returns the scheduler jobs backed by the app's components.
func (a *app) jobs() scheduler.Jobs {
	j := scheduler.Jobs{
		Scopes:       a.scopes(),
		Reconciler:   a.engine,
		Certificates: a.certs,
		Retention:    a.pruner,
		Logger:       a.logger.With("component", "jobs"),
	}
	if a.monitor != nil {
		j.Health = a.monitor
	}
	return j
}

// newScheduler creates a scheduler with every configured job registered.
func (a *app) newScheduler() (*scheduler.Scheduler, error) {
	s := scheduler.New(
		scheduler.WithLogger(a.logger.With("component", "scheduler")),
		scheduler.WithMetrics(a.metrics),
	)
	if err := a.jobs().Register(s, &a.cfg.Scheduler); err != nil {
		return nil, err
	}
	return s, nil
}

func (a *app) versionInfo() health.VersionInfo {
	return health.VersionInfo{
		Version:   Version,
		Commit:    GitCommit,
		BuildTime: BuildDate,
		GoVersion: runtime.Version(),
	}
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases every component in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// progressFanout forwards progress reports to several sinks.
type progressFanout []events.ProgressSink

func (f progressFanout) Progress(ctx context.Context, p events.Progress) {
	for _, s := range f {
		s.Progress(ctx, p)
	}
}
