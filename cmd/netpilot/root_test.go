package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"netpilot-hq/netpilot/pkg/cli"
	"netpilot-hq/netpilot/pkg/ledger"
	"netpilot-hq/netpilot/pkg/model"
)

func TestCommandTree(t *testing.T) {
	want := []string{
		"run",
		"reconcile",
		"reload",
		"verify",
		"certs list",
		"certs issue",
		"certs reset",
		"certs sweep",
		"certs evaluate",
		"ledger list",
		"ledger show",
		"ledger export",
		"ledger prune",
		"migrate up",
		"migrate status",
		"jobs list",
		"jobs run",
		"version",
	}
	for _, path := range want {
		cmd, _, err := rootCmd.Find(strings.Fields(path))
		if err != nil {
			t.Errorf("command %q not found: %v", path, err)
			continue
		}
		if cmd.Name() != strings.Fields(path)[len(strings.Fields(path))-1] {
			t.Errorf("Find(%q) = %s", path, cmd.Name())
		}
		if cmd.Short == "" {
			t.Errorf("command %q has no short description", path)
		}
	}
}

func TestGlobalFlags(t *testing.T) {
	for _, name := range []string{"config", "env-file", "verbose", "output", "tenant"} {
		if rootCmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("missing persistent flag --%s", name)
		}
	}
}

func TestPrintResult(t *testing.T) {
	defer func(orig string) { outputFormat = orig }(outputFormat)

	cmd := &cobra.Command{}
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)

	data := entryTable{{ID: "e1", Kind: ledger.KindReconcile, Status: ledger.StatusSuccess, Subject: "*", StartedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}}

	outputFormat = "csv"
	if err := printResult(cmd, data); err != nil {
		t.Fatalf("printResult: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "ID,STARTED,KIND") || !strings.Contains(buf.String(), "e1,2026-01-02T03:04:05Z,reconcile") {
		t.Errorf("csv output = %q", buf.String())
	}

	outputFormat = "xml"
	err := printResult(cmd, data)
	var cfgErr *cli.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("err = %v, want ConfigError", err)
	}
}

func TestTenantScopes(t *testing.T) {
	if got := tenantScopes(nil); len(got) != 1 || got[0] != model.DefaultScope {
		t.Errorf("tenantScopes(nil) = %v", got)
	}
	got := tenantScopes([]string{"acme", " beta "})
	if len(got) != 2 || got[0].TenantID != "acme" || got[1].TenantID != "beta" {
		t.Errorf("tenantScopes = %v", got)
	}
}

func TestParseID(t *testing.T) {
	if id, err := parseID("42"); err != nil || id != 42 {
		t.Errorf("parseID(42) = %d, %v", id, err)
	}
	for _, bad := range []string{"", "0", "-1", "abc"} {
		if _, err := parseID(bad); err == nil {
			t.Errorf("parseID(%q) expected error", bad)
		}
	}
}

func TestLedgerQuery(t *testing.T) {
	saved := ledgerFlags
	defer func() { ledgerFlags = saved }()

	tests := []struct {
		name    string
		kind    string
		status  string
		limit   int
		wantErr bool
	}{
		{name: "defaults", limit: 50},
		{name: "filters", kind: "cert-renew", status: "failed", limit: 10},
		{name: "unknown kind", kind: "deploy", limit: 10, wantErr: true},
		{name: "unknown status", status: "done", limit: 10, wantErr: true},
		{name: "zero limit", limit: 0, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledgerFlags.kind, ledgerFlags.status, ledgerFlags.limit = tt.kind, tt.status, tt.limit
			ledgerFlags.since = time.Hour
			q, err := ledgerQuery()
			if (err != nil) != tt.wantErr {
				t.Fatalf("ledgerQuery() err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if string(q.Kind) != tt.kind || string(q.Status) != tt.status || q.Limit != tt.limit {
				t.Errorf("query = %+v", q)
			}
			if q.StartTime == nil || time.Since(*q.StartTime) < time.Hour {
				t.Errorf("start time = %v, want about an hour ago", q.StartTime)
			}
		})
	}
}
