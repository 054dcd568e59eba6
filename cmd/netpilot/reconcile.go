package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"netpilot-hq/netpilot/pkg/cli"
	"netpilot-hq/netpilot/pkg/reconcile"
)

var reconcileFlags struct {
	domainID int64
	dryRun   bool
	progress bool
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Publish the desired state to the proxy once",
	Long: `Render every active domain of the scope, write the changed documents to the
dynamic directory and reload the proxy when anything changed.

Examples:
  # Publish every domain
  netpilot reconcile

  # Publish one domain
  netpilot reconcile --domain 12

  # Print the document of one domain without writing it
  netpilot reconcile --domain 12 --dry-run`,
	RunE: runReconcile,
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Repeat the proxy reload step",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(a *app) error {
			if err := a.engine.RetryReload(cmd.Context(), currentScope()); err != nil {
				return cli.NewCommandError("reload", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Proxy reloaded")
			return nil
		})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that every document in the dynamic directory parses",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		report, err := reconcile.Verify(cfg.Proxy.DynamicDir)
		if err != nil {
			return cli.NewCommandError("verify", err)
		}
		if err := printResult(cmd, verifyTable{report}); err != nil {
			return err
		}
		if !report.OK() {
			return cli.NewPartialError("verify", fmt.Errorf("%d of %d documents are invalid", len(report.Invalid), report.Total))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd, reloadCmd, verifyCmd)

	reconcileCmd.Flags().Int64VarP(&reconcileFlags.domainID, "domain", "d", 0, "reconcile only this domain id")
	reconcileCmd.Flags().BoolVar(&reconcileFlags.dryRun, "dry-run", false, "print the document instead of writing it (requires --domain)")
	reconcileCmd.Flags().BoolVar(&reconcileFlags.progress, "progress", false, "print progress to stderr")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	if reconcileFlags.dryRun && reconcileFlags.domainID == 0 {
		return cli.NewConfigError("domain", "--dry-run requires --domain")
	}

	var opts appOptions
	if reconcileFlags.progress {
		opts.progress = cli.NewProgressPrinter(cmd.ErrOrStderr())
	}

	return withApp(cmd, opts, func(a *app) error {
		ctx := cmd.Context()
		scope := currentScope()

		if reconcileFlags.dryRun {
			data, skipped, err := a.engine.Render(ctx, scope, reconcileFlags.domainID)
			if err != nil {
				return cli.NewCommandError("reconcile", err)
			}
			for _, s := range skipped {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipped %s %d: %s\n", s.Type, s.ID, s.Reason)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}

		var (
			report *reconcile.Report
			err    error
		)
		if reconcileFlags.domainID != 0 {
			report, err = a.engine.ReconcileDomain(ctx, scope, reconcileFlags.domainID)
		} else {
			report, err = a.engine.ReconcileAll(ctx, scope)
		}
		if report != nil {
			if perr := printResult(cmd, reportTable{report}); perr != nil {
				return perr
			}
		}
		if err != nil {
			if report != nil {
				return cli.NewPartialError("reconcile", err)
			}
			return cli.NewCommandError("reconcile", err)
		}
		return nil
	})
}

// withApp builds the app from the global flags, runs fn and closes the app.
func withApp(cmd *cobra.Command, opts appOptions, fn func(a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			fmt.Fprintln(os.Stderr, "warning: close:", cerr)
		}
	}()
	return fn(a)
}

type reportTable struct {
	*reconcile.Report
}

func (t reportTable) Header() []string {
	return []string{"DOMAIN", "OUTCOME", "ROUTERS", "SKIPPED", "FILE"}
}

func (t reportTable) Rows() [][]string {
	rows := make([][]string, 0, len(t.Domains)+len(t.Removed)+1)
	for _, d := range t.Domains {
		rows = append(rows, []string{d.Domain, string(d.Outcome), strconv.Itoa(d.Routers), strconv.Itoa(len(d.Skipped)), d.File})
	}
	for _, f := range t.Removed {
		rows = append(rows, []string{"-", string(reconcile.OutcomeRemoved), "0", "0", f})
	}
	rows = append(rows, []string{"(reload)", t.Reload, "", "", ""})
	return rows
}

type verifyTable struct {
	*reconcile.VerifyReport
}

func (t verifyTable) Header() []string {
	return []string{"DOCUMENT", "ERROR"}
}

func (t verifyTable) Rows() [][]string {
	rows := make([][]string, 0, len(t.Invalid)+1)
	for _, d := range t.Invalid {
		rows = append(rows, []string{d.Name, strings.TrimSpace(d.Error)})
	}
	rows = append(rows, []string{fmt.Sprintf("%d/%d valid", t.Valid, t.Total), ""})
	return rows
}
