package main

import (
	"fmt"

	"CurieLedger/internal/persistence"

	"github.com/spf13/cobra"
)

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd, func(m *persistence.Migrator) error {
			return m.Up(cmd.Context())
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the last applied migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd, func(m *persistence.Migrator) error {
			return m.Down(cmd.Context())
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List migrations not yet applied",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd, func(m *persistence.Migrator) error {
			pending, err := m.Pending(cmd.Context())
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			}
			for _, f := range pending {
				fmt.Fprintln(cmd.OutOrStdout(), "pending", f)
			}
			return nil
		})
	},
}

func withMigrator(cmd *cobra.Command, fn func(*persistence.Migrator) error) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	db, err := openDB(cmd.Context(), cfg.PostgresURL)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(persistence.NewMigrator(db, cfg.MigrationsDir, logger))
}
