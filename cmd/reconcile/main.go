// Package main runs retirement reconciliation once, outside the API server.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/carbon-marketplace/internal/adapter"
	"github.com/carbon-marketplace/internal/config"
	"github.com/carbon-marketplace/internal/events"
	"github.com/carbon-marketplace/internal/logging"
	"github.com/carbon-marketplace/internal/service"
	"github.com/carbon-marketplace/internal/storage"
	"github.com/carbon-marketplace/internal/worker"
)

func main() {
	var (
		stalePending time.Duration
		batchSize    int
	)

	rootCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Finalize submitted retirements and fail stale pending ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))

			if !cmd.Flags().Changed("stale-pending") {
				stalePending = cfg.Reconcile.StalePending
			}
			if !cmd.Flags().Changed("batch") {
				batchSize = cfg.Reconcile.BatchSize
			}

			postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
			if err != nil {
				return fmt.Errorf("failed to connect to Postgres: %w", err)
			}
			defer postgres.Close()

			var ledger service.ActivityLedger = service.NopLedger{}
			if cfg.Database.ClickHouse.Enabled {
				clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
				if err != nil {
					return fmt.Errorf("failed to connect to ClickHouse: %w", err)
				}
				defer clickhouse.Close()
				ledger = storage.NewActivityRepository(clickhouse)
			}

			publisher, err := events.New(cfg.Events.AMQPURL, cfg.Events.Exchange)
			if err != nil {
				logging.WithError(err).Warn("Failed to connect to RabbitMQ, events are disabled")
				publisher = events.NopPublisher{}
			}
			defer publisher.Close()

			chain, err := adapter.NewRetirementContract(&cfg.Chain)
			if err != nil {
				return fmt.Errorf("failed to initialize retirement contract: %w", err)
			}

			ownershipRepo := storage.NewOwnershipRepository(postgres)
			retirements := service.NewRetirementService(
				ownershipRepo,
				storage.NewRetirementRepository(postgres, ownershipRepo),
				storage.NewPropertyRepository(postgres),
				chain, ledger, publisher, nil, cfg.Chain.ReceiptTimeout,
			)

			w, err := worker.NewReconcileWorker(&worker.ReconcileWorkerConfig{
				Reconciler:   retirements,
				StalePending: stalePending,
				BatchSize:    batchSize,
			})
			if err != nil {
				return err
			}

			stats, err := w.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
	rootCmd.Flags().DurationVar(&stalePending, "stale-pending", 10*time.Minute, "Fail pending retirements older than this")
	rootCmd.Flags().IntVar(&batchSize, "batch", 50, "Maximum retirements per status to process")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
