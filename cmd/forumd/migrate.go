package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd(configPath func() string) *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := bootstrap(configPath())
			if err != nil {
				return err
			}
			db, err := openDatabase(cfg, log)
			if err != nil {
				return err
			}
			defer closeDatabase(db, log)

			if err := db.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate up failed: %w", err)
			}
			log.Info("database migrations complete")
			return nil
		},
	}

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := bootstrap(configPath())
			if err != nil {
				return err
			}
			db, err := openDatabase(cfg, log)
			if err != nil {
				return err
			}
			defer closeDatabase(db, log)

			rolled, err := db.MigrateDown(cmd.Context())
			if err != nil {
				return fmt.Errorf("migrate down failed: %w", err)
			}
			if rolled == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s\n", rolled)
			return nil
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := bootstrap(configPath())
			if err != nil {
				return err
			}
			db, err := openDatabase(cfg, log)
			if err != nil {
				return err
			}
			defer closeDatabase(db, log)

			applied, pending, err := db.GetMigrationStatus(cmd.Context())
			if err != nil {
				return fmt.Errorf("reading migration status: %w", err)
			}
			out := cmd.OutOrStdout()
			for _, r := range applied {
				fmt.Fprintf(out, "applied  %s  %s\n", r.Version, r.AppliedAt.Format("2006-01-02 15:04:05"))
			}
			for _, m := range pending {
				fmt.Fprintf(out, "pending  %s  %s\n", m.Version, m.Name)
			}
			return nil
		},
	}

	migrateCmd.AddCommand(up, down, status)
	return migrateCmd
}
