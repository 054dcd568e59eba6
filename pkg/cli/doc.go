/*
Package cli provides command-line helpers shared by the netpilot commands.

Output Formatting:

Command results are printed as text, JSON or CSV. Results that implement
Table are rendered as aligned columns in text mode and as records in CSV
mode:

	formatter, err := cli.NewFormatter(cli.FormatJSON)
	if err != nil {
		return err
	}
	return formatter.FormatTo(os.Stdout, report)

Progress Reporting:

ProgressPrinter implements events.ProgressSink and prints the steps of a
reconciliation or an issuance as they happen:

	engine := reconcile.NewEngine(..., reconcile.WithProgress(cli.NewProgressPrinter(os.Stderr)))

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()
*/
package cli
