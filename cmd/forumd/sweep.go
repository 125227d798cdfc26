package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/forum-core/internal/auth"
)

func newSweepCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-tokens",
		Short: "Delete expired refresh tokens",
		Long: `Deletes refresh tokens past their expiry. Revoked tokens that have not
expired are kept so a replay is still recognised. When InfluxDB is
enabled the remaining active session count is recorded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, log, err := bootstrap(configPath())
			if err != nil {
				return err
			}
			db, err := openDatabase(cfg, log)
			if err != nil {
				return err
			}
			defer closeDatabase(db, log)

			tokens := auth.NewTokenRepository(db.DB)
			now := time.Now().UTC()
			removed, err := tokens.DeleteExpired(ctx, now)
			if err != nil {
				return fmt.Errorf("sweeping tokens: %w", err)
			}
			active, err := tokens.CountActive(ctx, now)
			if err != nil {
				return err
			}
			log.Info("expired refresh tokens removed", "removed", removed, "active", active)
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired tokens, %d active\n", removed, active)

			influxClient, err := connectInflux(cfg.InfluxDB, log)
			if err != nil {
				log.Warn("skipping session metrics", "error", err)
				return nil
			}
			if influxClient != nil {
				influxClient.WriteActiveSessions(active, now)
				if closeErr := influxClient.Close(); closeErr != nil {
					log.Error("error closing InfluxDB", "error", closeErr)
				}
			}
			return nil
		},
	}
}
