package main

import (
	"github.com/spf13/cobra"

	"visitorid/internal/platform/config"
	"visitorid/internal/platform/logger"
	"visitorid/internal/platform/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the PostgreSQL schema and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log := logger.New(cfg.Log)

		db, err := postgres.Open(cmd.Context(), cfg.Postgres)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := postgres.Migrate(cmd.Context(), db); err != nil {
			return err
		}
		log.Info("migrations applied")
		return nil
	},
}
