// Netpilot keeps a Traefik-style reverse proxy in sync with the routing
// desired state in a database and drives the TLS certificates of every
// domain through their lifecycle.
//
// Usage:
//
//	# Run the reconcile loop, the scheduled jobs and the admin server
//	netpilot run --config /etc/netpilot/config.yaml
//
//	# Publish every domain once
//	netpilot reconcile
//
//	# Show the document of one domain without writing it
//	netpilot reconcile --domain 12 --dry-run
//
//	# Renew due certificates now
//	netpilot certs sweep
//
//	# Inspect the operation ledger
//	netpilot ledger list --kind cert-renew --status failed
package main

import (
	"fmt"
	"os"

	"netpilot-hq/netpilot/pkg/cli"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}
