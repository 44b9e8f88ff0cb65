// Package main provides the API server entry point for the carbon marketplace.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carbon-marketplace/internal/adapter"
	"github.com/carbon-marketplace/internal/api"
	"github.com/carbon-marketplace/internal/auth"
	"github.com/carbon-marketplace/internal/circuitbreaker"
	"github.com/carbon-marketplace/internal/config"
	"github.com/carbon-marketplace/internal/events"
	"github.com/carbon-marketplace/internal/logging"
	"github.com/carbon-marketplace/internal/service"
	"github.com/carbon-marketplace/internal/storage"
	"github.com/carbon-marketplace/internal/worker"
)

func main() {
	fmt.Println("Carbon Marketplace API Server")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize structured logging
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	defer logger.Sync()

	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	// The activity ledger is optional; without ClickHouse portfolio activity stays empty
	var ledger service.ActivityLedger = service.NopLedger{}
	if cfg.Database.ClickHouse.Enabled {
		clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to ClickHouse")
		}
		defer clickhouse.Close()
		ledger = storage.NewActivityRepository(clickhouse)
	} else {
		logger.Warn("ClickHouse disabled, activity ledger is off")
	}

	logger.Info("Database connections established")

	publisher, err := events.New(cfg.Events.AMQPURL, cfg.Events.Exchange)
	if err != nil {
		logger.WithError(err).Warn("Failed to connect to RabbitMQ, events are disabled")
		publisher = events.NopPublisher{}
	}
	defer publisher.Close()

	objects, err := storage.NewBucketStore(cfg.Storage.Root, cfg.Storage.PublicBaseURL, cfg.Storage.MaxUploadSize,
		cfg.Storage.ImagesBucket, cfg.Storage.KYCBucket)
	if err != nil {
		logger.WithError(err).Fatal("Failed to prepare storage buckets")
	}

	// External collaborators
	ordersClient := adapter.NewOrdersClient(&cfg.Orders)
	chain, err := adapter.NewRetirementContract(&cfg.Chain)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize retirement contract")
	}

	// Repositories
	userRepo := storage.NewUserRepository(postgres)
	kycRepo := storage.NewKYCRepository(postgres, userRepo)
	propertyRepo := storage.NewPropertyRepository(postgres)
	ownershipRepo := storage.NewOwnershipRepository(postgres)
	retirementRepo := storage.NewRetirementRepository(postgres, ownershipRepo)

	cacheService := storage.NewCacheService(redis, cfg.Cache.KYCStatusTTL)
	locks := storage.NewBusyLocks(redis, cfg.Cache.LockTTL)

	// Services
	logger.Info("Initializing services...")

	sessions := auth.NewProvider(userRepo, storage.NewSessionStore(redis),
		auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL), cfg.Auth.AdminEmail)
	kycService := service.NewKYCService(userRepo, kycRepo, cacheService, objects, publisher,
		cfg.Storage.KYCBucket, cfg.KYC.AutoApprove)
	propertyService := service.NewPropertyService(propertyRepo, storage.NewPropertyCache(), kycService)
	orderService := service.NewOrderService(ordersClient, kycService, ledger, publisher, &cfg.Orders)
	adminPropertyService := service.NewAdminPropertyService(propertyRepo, objects, locks, cfg.Storage.ImagesBucket)
	adminUserService := service.NewAdminUserService(userRepo, kycService)
	retirementService := service.NewRetirementService(ownershipRepo, retirementRepo, propertyRepo, chain,
		ledger, publisher, locks, cfg.Chain.ReceiptTimeout)
	portfolioService := service.NewPortfolioService(ownershipRepo, ledger)

	logger.Info("Services initialized")

	// Background reconciliation of submitted and stale retirements
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reconciler *worker.ReconcileWorker
	if !cfg.Reconcile.WorkerDisabled {
		reconciler, err = worker.NewReconcileWorker(&worker.ReconcileWorkerConfig{
			Reconciler:   retirementService,
			Interval:     cfg.Reconcile.Interval,
			StalePending: cfg.Reconcile.StalePending,
			BatchSize:    cfg.Reconcile.BatchSize,
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to create reconcile worker")
		}
		if err := reconciler.Start(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to start reconcile worker")
		}
	}

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    cfg.Chain.ReceiptTimeout + 30*time.Second, // retire waits for the receipt
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		AnonymousRPS:    cfg.RateLimit.Anonymous,
		UserRPS:         cfg.RateLimit.User,
		AdminRPS:        cfg.RateLimit.Admin,
		StorageRoot:     objects.Root(),
		MaxUploadSize:   cfg.Storage.MaxUploadSize,
		MapsToken:       cfg.Maps.Token,
		Breakers: map[string]*circuitbreaker.CircuitBreaker{
			"orders": ordersClient.Breaker(),
			"chain":  chain.Breaker(),
		},
	}

	server := api.NewServer(serverConfig, api.Services{
		Sessions:        sessions,
		KYC:             kycService,
		Properties:      propertyService,
		Orders:          orderService,
		AdminProperties: adminPropertyService,
		AdminUsers:      adminUserService,
		Retirements:     retirementService,
		Portfolio:       portfolioService,
	})

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host":      cfg.Server.Host,
		"port":      cfg.Server.Port,
		"chainConfigured": chain.Configured(),
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	if reconciler != nil {
		if err := reconciler.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Reconcile worker did not stop cleanly")
		}
	}

	logger.Info("Server exited")
}
