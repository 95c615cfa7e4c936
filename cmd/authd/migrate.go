package main

import (
	"github.com/spf13/cobra"

	postgresstor "auth-go/internal/store/postgres"
)

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the PostgreSQL schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(opts)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			db, err := postgresstor.NewDB(ctx, &cfg.Postgres)
			if err != nil {
				logger.Error("failed to connect to postgres", "error", err)
				return err
			}
			defer db.Close()

			if err := db.RunMigrations(ctx); err != nil {
				logger.Error("migration failed", "error", err)
				return err
			}

			logger.Info("database migrations completed",
				"host", cfg.Postgres.Host,
				"database", cfg.Postgres.Database,
			)
			return nil
		},
	}
}
