package main

import (
	"database/sql"
	"os"

	"github.com/spf13/cobra"

	"github.com/amishk599/leadscout/internal/config"
	"github.com/amishk599/leadscout/internal/store"
	"github.com/amishk599/leadscout/internal/store/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the lead store schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRawDB(migrations.Run)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRawDB(migrations.Down)
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print applied and pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRawDB(func(db *sql.DB, dialect string) error {
			return migrations.Status(db, dialect, os.Stdout)
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
}

// withRawDB opens the configured database without migrating it and runs fn.
func withRawDB(fn func(db *sql.DB, dialect string) error) error {
	logger := setupLogger(debug)
	cfg, err := loadConfig(logger)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return err
	}

	db, dialect, err := store.OpenUnmigrated(cfg.Store.Driver, storeTarget(cfg.Store))
	if err != nil {
		return err
	}
	defer db.Close()

	if err := fn(db, dialect); err != nil {
		logger.Error("migration failed", "dialect", dialect, "error", err)
		return err
	}
	logger.Info("migration command finished", "dialect", dialect)
	return nil
}

func storeTarget(cfg config.StoreConfig) string {
	if cfg.Driver == migrations.Postgres {
		return cfg.DSN
	}
	return cfg.Path
}
