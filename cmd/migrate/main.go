// Package main provides a CLI tool for running database migrations.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/carbon-marketplace/internal/config"
	"github.com/carbon-marketplace/internal/logging"
	"github.com/carbon-marketplace/internal/storage"
)

const (
	postgresMigrations   = "migrations/postgres"
	clickhouseMigrations = "migrations/clickhouse"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Carbon marketplace database migrations",
	}
	rootCmd.PersistentFlags().String("db", "postgres", "Database type: postgres, clickhouse")

	rootCmd.AddCommand(upCmd(), downCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.FormatText)
	return cfg, nil
}

func upCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbType, _ := cmd.Flags().GetString("db")
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			switch dbType {
			case "postgres":
				logging.Info("Running Postgres migrations...")
				if err := storage.RunMigrations(cfg.Database.Postgres.PostgresURL(), postgresMigrations); err != nil {
					return err
				}
				logging.Info("Postgres migrations completed successfully")
				return nil
			case "clickhouse":
				return runClickHouseMigrations(cmd.Context(), cfg)
			default:
				return fmt.Errorf("unknown database type: %s", dbType)
			}
		},
	}
}

func downCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back Postgres migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbType, _ := cmd.Flags().GetString("db")
			if dbType != "postgres" {
				return fmt.Errorf("ClickHouse migrations only support 'up'")
			}
			steps, _ := cmd.Flags().GetInt("steps")
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			logging.Infof("Rolling back %d Postgres migration(s)...", steps)
			if err := storage.RollbackMigrations(cfg.Database.Postgres.PostgresURL(), postgresMigrations, steps); err != nil {
				return err
			}
			logging.Info("Postgres migration rolled back successfully")
			return nil
		},
	}
	cmd.Flags().Int("steps", 1, "Number of migrations to roll back")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the current Postgres migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			version, dirty, err := storage.MigrationVersion(cfg.Database.Postgres.PostgresURL(), postgresMigrations)
			if err != nil {
				return err
			}
			fmt.Printf("Current Postgres migration version: %d (dirty: %v)\n", version, dirty)
			return nil
		},
	}
}

func runClickHouseMigrations(ctx context.Context, cfg *config.Config) error {
	if _, err := os.Stat(clickhouseMigrations); os.IsNotExist(err) {
		return fmt.Errorf("migrations directory not found: %s", clickhouseMigrations)
	}

	logging.Info("Connecting to ClickHouse...")
	db, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		return fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.WithError(err).Warn("Error closing ClickHouse connection")
		}
	}()

	applied, err := storage.RunClickHouseMigrations(ctx, db, clickhouseMigrations)
	if err != nil {
		return err
	}
	logging.WithField("applied", applied).Info("ClickHouse migrations completed successfully")
	return nil
}
