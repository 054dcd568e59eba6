package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"netpilot-hq/netpilot/pkg/certs"
	"netpilot-hq/netpilot/pkg/cli"
	"netpilot-hq/netpilot/pkg/model"
	"netpilot-hq/netpilot/pkg/store"
)

var certsFlags struct {
	statuses  []string
	domainID  int64
	autoRenew bool
}

var certsCmd = &cobra.Command{
	Use:   "certs",
	Short: "Certificate lifecycle operations",
	Long: `Issue, renew and inspect the TLS certificates of the managed domains.

Examples:
  # List certificates that need attention
  netpilot certs list --status expiring,expired,failed

  # Issue one certificate now
  netpilot certs issue 7

  # Renew every due certificate
  netpilot certs sweep

  # Clear the retry state of a certificate that ran out of retries
  netpilot certs reset 7`,
}

var certsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List certificates",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := store.CertificateFilter{DomainID: certsFlags.domainID, AutoRenewOnly: certsFlags.autoRenew}
		for _, s := range certsFlags.statuses {
			filter.Statuses = append(filter.Statuses, model.CertificateStatus(strings.ToLower(strings.TrimSpace(s))))
		}
		return withApp(cmd, appOptions{}, func(a *app) error {
			list, err := a.store.ListCertificates(cmd.Context(), currentScope(), filter)
			if err != nil {
				return cli.NewCommandError("certs list", err)
			}
			return printResult(cmd, certificateTable(list))
		})
	},
}

var certsIssueCmd = &cobra.Command{
	Use:   "issue <certificate-id>",
	Short: "Issue or reissue one certificate now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, appOptions{}, func(a *app) error {
			cert, err := a.certs.Issue(cmd.Context(), currentScope(), id)
			if cert != nil {
				if perr := printResult(cmd, certificateTable{cert}); perr != nil {
					return perr
				}
			}
			if err != nil {
				return cli.NewCommandError("certs issue", err)
			}
			return nil
		})
	},
}

var certsResetCmd = &cobra.Command{
	Use:   "reset <certificate-id>",
	Short: "Clear the failure count so the next sweep retries the certificate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, appOptions{}, func(a *app) error {
			cert, err := a.certs.Reset(cmd.Context(), currentScope(), id)
			if err != nil {
				return cli.NewCommandError("certs reset", err)
			}
			return printResult(cmd, certificateTable{cert})
		})
	},
}

var certsSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Renew every due certificate",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(a *app) error {
			res, err := a.certs.RenewalSweep(cmd.Context(), currentScope())
			if err != nil {
				if errors.Is(err, certs.ErrSweepInProgress) {
					return cli.NewCommandError("certs sweep", errors.New("another sweep is running"))
				}
				return cli.NewCommandError("certs sweep", err)
			}
			if err := printResult(cmd, sweepTable{res}); err != nil {
				return err
			}
			if len(res.Failed) > 0 {
				return cli.NewPartialError("certs sweep", fmt.Errorf("%d of %d renewals failed", len(res.Failed), res.Checked))
			}
			return nil
		})
	},
}

var certsEvaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Reclassify certificates by expiry without issuing",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, appOptions{}, func(a *app) error {
			res, err := a.certs.EvaluateExpiry(cmd.Context(), currentScope())
			if err != nil {
				return cli.NewCommandError("certs evaluate", err)
			}
			return printResult(cmd, evaluateTable{res})
		})
	},
}

func init() {
	rootCmd.AddCommand(certsCmd)
	certsCmd.AddCommand(certsListCmd, certsIssueCmd, certsResetCmd, certsSweepCmd, certsEvaluateCmd)

	certsListCmd.Flags().StringSliceVar(&certsFlags.statuses, "status", nil, "filter by status (pending, processing, valid, expiring, expired, failed)")
	certsListCmd.Flags().Int64Var(&certsFlags.domainID, "domain", 0, "filter by domain id")
	certsListCmd.Flags().BoolVar(&certsFlags.autoRenew, "auto-renew", false, "only certificates with auto renewal")
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, cli.NewConfigError("id", fmt.Sprintf("invalid id %q", arg))
	}
	return id, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

type certificateTable []*model.Certificate

func (t certificateTable) Header() []string {
	return []string{"ID", "DOMAIN", "STATUS", "EXPIRES", "FAILURES", "NEXT ATTEMPT", "LAST ERROR"}
}

func (t certificateTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, c := range t {
		rows = append(rows, []string{
			strconv.FormatInt(c.ID, 10),
			c.DomainName,
			string(c.Status),
			formatTime(c.ExpiresAt),
			strconv.Itoa(c.FailureCount),
			formatTime(c.NextAttemptAt),
			c.LastError,
		})
	}
	return rows
}

type sweepTable struct {
	*certs.SweepResult
}

func (t sweepTable) Header() []string {
	return []string{"CERTIFICATE", "RESULT", "DETAIL"}
}

func (t sweepTable) Rows() [][]string {
	var rows [][]string
	for _, id := range t.Renewed {
		rows = append(rows, []string{strconv.FormatInt(id, 10), "renewed", ""})
	}
	for _, f := range t.Failed {
		rows = append(rows, []string{strconv.FormatInt(f.CertificateID, 10), "failed", f.Domain + ": " + f.Error})
	}
	for _, id := range t.Busy {
		rows = append(rows, []string{strconv.FormatInt(id, 10), "busy", ""})
	}
	for _, id := range t.Deferred {
		rows = append(rows, []string{strconv.FormatInt(id, 10), "deferred", ""})
	}
	for _, id := range t.Exhausted {
		rows = append(rows, []string{strconv.FormatInt(id, 10), "exhausted", "run certs reset"})
	}
	rows = append(rows, []string{"(checked)", strconv.Itoa(t.Checked), ""})
	return rows
}

type evaluateTable struct {
	*certs.EvaluateResult
}

func (t evaluateTable) Header() []string {
	return []string{"CERTIFICATE", "DOMAIN", "FROM", "TO"}
}

func (t evaluateTable) Rows() [][]string {
	rows := make([][]string, 0, len(t.Transitions)+1)
	for _, tr := range t.Transitions {
		rows = append(rows, []string{strconv.FormatInt(tr.CertificateID, 10), tr.Domain, string(tr.From), string(tr.To)})
	}
	rows = append(rows, []string{"(checked)", strconv.Itoa(t.Checked), "", ""})
	return rows
}
