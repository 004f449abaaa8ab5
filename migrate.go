package main

import (
	"boost-service/internal/config"
	"boost-service/internal/db"
	"boost-service/internal/logging"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply Postgres migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.MustLoadConfig(configPath)
			logger := logging.GetLogger(cfg.Logs)

			if err := db.RunMigrations(db.GetConnStr(cfg.Database), dir); err != nil {
				return err
			}
			logger.Info("Migrations applied", "dir", dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "migrations", "directory holding goose migrations")
	return cmd
}
