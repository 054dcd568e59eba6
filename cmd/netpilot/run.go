package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"netpilot-hq/netpilot/pkg/cli"
	"netpilot-hq/netpilot/pkg/config"
	"netpilot-hq/netpilot/pkg/scheduler"
	"netpilot-hq/netpilot/pkg/server"
	"netpilot-hq/netpilot/pkg/watch"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
	noServer      bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the reconcile loop, the scheduled jobs and the admin server",
	Long: `Run netpilot in the foreground.

On start a full reconcile is queued. The scheduler then runs the periodic
reconcile, the certificate renewal sweep, the expiry check, the upstream
health check and the ledger retention. When the drift watcher is enabled,
changes under reconcile.watch_paths queue a reconcile as well.

Examples:
  # Start with default config
  netpilot run

  # Start with custom config
  netpilot run --config /etc/netpilot/config.yaml

  # Override the admin listen address
  netpilot run --listen 0.0.0.0:9180

  # Validate config without starting
  netpilot run --dry-run`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override admin listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting")
	runCmd.Flags().BoolVar(&runFlags.noServer, "no-server", false, "do not start the admin server")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return cli.NewConfigError("", err.Error())
	}

	if runFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration valid")
		return nil
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	return a.run(ctx, !runFlags.noServer && config.IsEnabled(cfg.Server.Enabled, true))
}

// run blocks until ctx is cancelled or a component fails.
func (a *app) run(ctx context.Context, withServer bool) error {
	cfg := a.cfg
	logger := a.logger

	sched, err := a.newScheduler()
	if err != nil {
		return err
	}

	jobs := a.jobs()
	trigger := scheduler.NewTrigger(scheduler.JobReconcile, cfg.Scheduler.TriggerDebounce, jobs.Reconcile,
		logger.With("component", "trigger"))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		trigger.Run(gctx)
		return nil
	})
	trigger.Fire()

	if err := sched.Start(gctx); err != nil {
		return err
	}

	if cfg.Reconcile.WatchEnabled {
		w, err := watch.New(watch.ConfigFrom(&cfg.Reconcile), logger.With("component", "watch"))
		if err != nil {
			return fmt.Errorf("failed to create drift watcher: %w", err)
		}
		g.Go(func() error {
			return w.Watch(gctx, func(context.Context) error {
				trigger.Fire()
				return nil
			})
		})
	}

	if withServer {
		srv := server.New(&cfg.Server, server.Deps{
			Health:       a.health,
			Metrics:      a.metrics,
			Ledger:       a.ledger,
			Breakers:     a.breakers,
			Upstreams:    a.upstreams(),
			Reconciler:   a.engine,
			Trigger:      trigger,
			Certificates: a.certs,
			CertStore:    a.store,
			Jobs:         sched,
			Tracer:       a.tracer,
			Version:      a.versionInfo(),
		}, logger.With("component", "server"))
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}

	logger.Info("netpilot started",
		"version", Version,
		"dynamic_dir", cfg.Proxy.DynamicDir,
		"reloader", cfg.Proxy.Reloader,
		"scopes", len(a.scopes()),
		"watch", cfg.Reconcile.WatchEnabled,
		"admin", withServer,
	)

	err = g.Wait()
	sched.Stop()
	if err != nil {
		logger.Error("netpilot stopped with error", "error", err)
		return err
	}
	logger.Info("netpilot stopped", "reconciles_triggered", trigger.Runs())
	return nil
}

// upstreams returns the health source of the admin server, or nil when
// upstream probing is disabled.
func (a *app) upstreams() server.UpstreamHealth {
	if a.monitor == nil {
		return nil
	}
	return a.monitor
}
