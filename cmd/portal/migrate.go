package main

import (
	"errors"
	"log/slog"

	"github.com/set-night/billingportal/internal/config"
	"github.com/set-night/billingportal/internal/repository"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Apply the embedded Postgres migrations to DATABASE_URL.

The sqlite driver creates its schema on open, so this command only applies
to DOCSTORE_DRIVER=postgres.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.SlogLevel())

	if cfg.DocstoreDriver != config.DriverPostgres {
		return errors.New("migrate requires DOCSTORE_DRIVER=postgres")
	}

	migrationsFS, err := postgresMigrations()
	if err != nil {
		return err
	}
	if err := repository.RunMigrations(cfg.DatabaseURL, migrationsFS); err != nil {
		return err
	}
	slog.Info("database is up to date")
	return nil
}
