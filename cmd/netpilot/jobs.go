package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"netpilot-hq/netpilot/pkg/cli"
	"netpilot-hq/netpilot/pkg/scheduler"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and run the scheduled jobs once",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the configured jobs and their schedules",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(a *app) error {
			s, err := a.newScheduler()
			if err != nil {
				return cli.NewCommandError("jobs list", err)
			}
			return printResult(cmd, jobTable(s.Status()))
		})
	},
}

var jobsRunCmd = &cobra.Command{
	Use:       "run <job>",
	Short:     "Run one job now for every configured tenant",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{scheduler.JobReconcile, scheduler.JobRenewalSweep, scheduler.JobExpiryCheck, scheduler.JobHealthCheck, scheduler.JobLedgerRetention},
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(a *app) error {
			s, err := a.newScheduler()
			if err != nil {
				return cli.NewCommandError("jobs run", err)
			}
			if err := s.RunNow(cmd.Context(), args[0]); err != nil {
				return cli.NewCommandError("jobs run "+args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s finished\n", args[0])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd, jobsRunCmd)
}

type jobTable []scheduler.JobStatus

func (t jobTable) Header() []string {
	return []string{"JOB", "SCHEDULE", "NEXT"}
}

func (t jobTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, j := range t {
		spec := j.Spec
		if spec == "" {
			spec = "(on demand)"
		}
		rows = append(rows, []string{j.Name, spec, formatTime(j.Next)})
	}
	return rows
}
