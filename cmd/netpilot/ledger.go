package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"netpilot-hq/netpilot/pkg/cli"
	"netpilot-hq/netpilot/pkg/ledger"
	"netpilot-hq/netpilot/pkg/ledger/export"
)

var ledgerFlags struct {
	kind    string
	status  string
	subject string
	since   time.Duration
	limit   int
	offset  int
}

var exportFlags struct {
	format string
	file   string
	limit  int
	batch  int
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and prune the operation ledger",
	Long: `The ledger records every reconcile pass, certificate issuance and renewal
with its outcome, duration and per-step details.

Examples:
  # Failed renewals of the last week
  netpilot ledger list --kind cert-renew --status failed --since 168h

  # Full entry as JSON
  netpilot ledger show 2f1c0a7e-... -o json

  # Export every reconcile entry as CSV
  netpilot ledger export --kind reconcile --format csv --file reconcile.csv

  # Apply the retention policy now
  netpilot ledger prune`,
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ledger entries, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := ledgerQuery()
		if err != nil {
			return err
		}
		return withApp(cmd, appOptions{}, func(a *app) error {
			entries, err := a.ledger.Query(cmd.Context(), q)
			if err != nil {
				return cli.NewCommandError("ledger list", err)
			}
			return printResult(cmd, entryTable(entries))
		})
	},
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show <entry-id>",
	Short: "Show one ledger entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(a *app) error {
			entry, err := a.ledger.Storage().Get(cmd.Context(), args[0])
			if err != nil {
				return cli.NewCommandError("ledger show", err)
			}
			if outputFormat == string(cli.FormatText) {
				return printEntry(cmd, entry)
			}
			return printResult(cmd, entryTable{entry})
		})
	},
}

var ledgerPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Apply the retention policy",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(a *app) error {
			n, err := a.pruner.Prune(cmd.Context())
			if err != nil {
				return cli.NewCommandError("ledger prune", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Pruned %d entries\n", n)
			return nil
		})
	},
}

var ledgerExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export matching ledger entries as JSON or CSV",
	Long: `Export streams every matching entry, newest first, without loading the
whole ledger into memory. The filters are the same as for list.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := ledgerFilter()
		if err != nil {
			return err
		}
		if exportFlags.limit < 0 {
			return cli.NewConfigError("limit", "limit must not be negative")
		}
		q.Limit = exportFlags.limit

		exporter, err := export.New(exportFlags.format)
		if err != nil {
			return cli.NewConfigError("format", err.Error())
		}

		var w io.Writer = cmd.OutOrStdout()
		if exportFlags.file != "" {
			f, err := os.Create(exportFlags.file)
			if err != nil {
				return cli.NewCommandError("ledger export", err)
			}
			defer f.Close()
			w = f
		}

		return withApp(cmd, appOptions{}, func(a *app) error {
			ctx := cmd.Context()
			entries, errc := export.Stream(ctx, a.ledger.Storage(), *q, exportFlags.batch)
			if err := exporter.ExportStream(ctx, entries, w); err != nil {
				return cli.NewCommandError("ledger export", err)
			}
			if err := <-errc; err != nil {
				return cli.NewCommandError("ledger export", err)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerListCmd, ledgerShowCmd, ledgerExportCmd, ledgerPruneCmd)

	for _, c := range []*cobra.Command{ledgerListCmd, ledgerExportCmd} {
		f := c.Flags()
		f.StringVar(&ledgerFlags.kind, "kind", "", "filter by kind (reconcile, cert-issue, cert-renew)")
		f.StringVar(&ledgerFlags.status, "status", "", "filter by status (running, success, failed)")
		f.StringVar(&ledgerFlags.subject, "subject", "", "filter by domain name")
		f.DurationVar(&ledgerFlags.since, "since", 0, "only entries started within this duration")
	}

	f := ledgerListCmd.Flags()
	f.IntVar(&ledgerFlags.limit, "limit", 50, "maximum number of entries")
	f.IntVar(&ledgerFlags.offset, "offset", 0, "number of entries to skip")

	f = ledgerExportCmd.Flags()
	f.StringVar(&exportFlags.format, "format", "json", "export format (json, csv)")
	f.StringVar(&exportFlags.file, "file", "", "write to this file instead of stdout")
	f.IntVar(&exportFlags.limit, "limit", 0, "maximum number of entries (0 exports all)")
	f.IntVar(&exportFlags.batch, "batch-size", export.DefaultBatchSize, "entries read per storage query")
}

func ledgerQuery() (*ledger.Query, error) {
	q, err := ledgerFilter()
	if err != nil {
		return nil, err
	}
	q.Limit = ledgerFlags.limit
	q.Offset = ledgerFlags.offset
	if q.Limit <= 0 || q.Offset < 0 {
		return nil, cli.NewConfigError("limit", "limit must be positive and offset non-negative")
	}
	return q, nil
}

// ledgerFilter builds the filter shared by list and export.
func ledgerFilter() (*ledger.Query, error) {
	q := &ledger.Query{
		TenantID: tenant,
		Kind:     ledger.Kind(ledgerFlags.kind),
		Status:   ledger.Status(ledgerFlags.status),
		Subject:  ledgerFlags.subject,
	}
	if q.Kind != "" && !q.Kind.Valid() {
		return nil, cli.NewConfigError("kind", fmt.Sprintf("unknown kind %q", ledgerFlags.kind))
	}
	switch q.Status {
	case "", ledger.StatusRunning, ledger.StatusSuccess, ledger.StatusFailed:
	default:
		return nil, cli.NewConfigError("status", fmt.Sprintf("unknown status %q", ledgerFlags.status))
	}
	if ledgerFlags.since > 0 {
		start := time.Now().Add(-ledgerFlags.since)
		q.StartTime = &start
	}
	return q, nil
}

func printEntry(cmd *cobra.Command, e *ledger.Entry) error {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "ID:        %s\n", e.ID)
	fmt.Fprintf(w, "Kind:      %s\n", e.Kind)
	fmt.Fprintf(w, "Action:    %s\n", e.Action)
	fmt.Fprintf(w, "Subject:   %s\n", e.Subject)
	fmt.Fprintf(w, "Status:    %s\n", e.Status)
	fmt.Fprintf(w, "Started:   %s\n", e.StartedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "Completed: %s\n", formatTime(e.CompletedAt))
	fmt.Fprintf(w, "Duration:  %s\n", e.Duration)
	if e.Error != "" {
		fmt.Fprintf(w, "Error:     %s\n", e.Error)
	}
	if len(e.Payload) > 0 {
		fmt.Fprintln(w, "Payload:")
		return (&cli.JSONFormatter{Indent: true}).FormatTo(w, e.Payload)
	}
	return nil
}

type entryTable []*ledger.Entry

func (t entryTable) Header() []string {
	return []string{"ID", "STARTED", "KIND", "ACTION", "SUBJECT", "STATUS", "DURATION", "ERROR"}
}

func (t entryTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, e := range t {
		rows = append(rows, []string{
			e.ID,
			e.StartedAt.UTC().Format(time.RFC3339),
			string(e.Kind),
			e.Action,
			e.Subject,
			string(e.Status),
			e.Duration.Round(time.Millisecond).String(),
			e.Error,
		})
	}
	return rows
}

