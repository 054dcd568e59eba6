package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"netpilot-hq/netpilot/pkg/cli"
	"netpilot-hq/netpilot/pkg/store/sqlstore"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the desired-state database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(s *sqlstore.Store) error {
			applied, err := s.Migrate(cmd.Context())
			if err != nil {
				return cli.NewCommandError("migrate up", err)
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "✓ Schema is up to date")
				return nil
			}
			for _, v := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Applied %d\n", v)
			}
			return nil
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List migrations and whether each is applied",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(s *sqlstore.Store) error {
			status, err := s.MigrationStatus(cmd.Context())
			if err != nil {
				return cli.NewCommandError("migrate status", err)
			}
			return printResult(cmd, migrationTable(status))
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateStatusCmd)
}

// withStore opens only the store, without applying migrations.
func withStore(cmd *cobra.Command, fn func(s *sqlstore.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if _, err := newLogger(cfg); err != nil {
		return err
	}
	a := &app{cfg: cfg}
	if err := a.openStore(cmd.Context(), true); err != nil {
		return err
	}
	defer a.Close()
	return fn(a.store)
}

type migrationTable []sqlstore.MigrationStatus

func (t migrationTable) Header() []string {
	return []string{"VERSION", "APPLIED", "SOURCE"}
}

func (t migrationTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, m := range t {
		rows = append(rows, []string{strconv.FormatInt(m.Version, 10), strconv.FormatBool(m.Applied), m.Path})
	}
	return rows
}
