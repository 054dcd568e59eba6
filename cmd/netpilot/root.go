package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"netpilot-hq/netpilot/pkg/cli"
	"netpilot-hq/netpilot/pkg/model"
)

var (
	// Global flags
	cfgFile      string
	envFiles     []string
	verbose      bool
	outputFormat string
	tenant       string
)

var rootCmd = &cobra.Command{
	Use:   "netpilot",
	Short: "Netpilot - reverse proxy configuration and certificate control plane",
	Long: `Netpilot renders the routing desired state (domains, upstreams, route and
redirect rules) into dynamic configuration files for a Traefik-style proxy,
publishes them atomically and keeps the TLS certificate of every domain
issued and renewed through an ACME certificate authority.

Every publication and certificate operation is recorded in an append-only
ledger that can be inspected with "netpilot ledger".`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. The first SIGINT or SIGTERM cancels the
// command's context.
func Execute() error {
	ctx, stop := cli.SignalContext(context.Background())
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Global persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (defaults only when empty)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files loaded before the environment overrides (default .env)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", string(cli.FormatText), "output format (text, json, csv)")
	rootCmd.PersistentFlags().StringVar(&tenant, "tenant", "", "tenant scope of one-shot commands")
}

// currentScope is the scope selected by --tenant.
func currentScope() model.Scope {
	return model.Scope{TenantID: tenant}
}

// printResult writes v to stdout in the selected output format.
func printResult(cmd *cobra.Command, v any) error {
	formatter, err := cli.NewFormatter(cli.OutputFormat(outputFormat))
	if err != nil {
		return cli.NewConfigError("output", err.Error())
	}
	w := cmd.OutOrStdout()
	if w == nil {
		w = os.Stdout
	}
	return formatter.FormatTo(w, v)
}
