package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"obras/internal/amqp"
	"obras/internal/backend"
	"obras/internal/cache"
	"obras/internal/config"
	"obras/internal/core"
	"obras/internal/identity"
	"obras/internal/log"
	"obras/internal/services"
	"obras/internal/sheets"
	gsheet "obras/internal/sheets/google"
	"obras/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := log.New(log.ComponentWorker, slog.LevelInfo)
	log.SetDefault(logger)

	logger.Info("Starting obras-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Record store via the backend factory
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	result, err := backend.NewFactory(logger.WithComponent(log.ComponentStorage)).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err)
		os.Exit(1)
	}
	if result.Cleanup != nil {
		defer result.Cleanup()
	}
	recordStore := result.Store

	// AMQP client for consuming repair requests (optional)
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRecalcQueue, cfg.AMQPActivityQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without repair queue", log.FieldError, err)
		} else {
			defer amqpClient.Close()
			logger.Info("AMQP client initialized",
				"exchange", cfg.AMQPExchange,
				"recalc_queue", cfg.AMQPRecalcQueue)
		}
	}

	// Report writer (optional)
	var reports sheets.ReportWriter
	if cfg.GoogleSpreadsheetID != "" {
		client, err := gsheet.NewFromEnv(ctx)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", log.FieldError, err)
			os.Exit(1)
		}
		reports = client
		logger.Info("Google Sheets report export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Report export disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	// The worker acts as the fixed system identity.
	resolver := identity.StaticResolver{Principal: identity.System()}

	listCache := cache.NewLRUCache[[]core.AggregationRecord](cfg.CacheSize, cfg.CacheTTL)
	cacheManager := cache.NewManager()
	cacheManager.Register(listCache)
	cacheManager.StartCleanup(cfg.CacheCleanupInterval)
	defer cacheManager.Stop()

	recalc := services.NewRecalcService(recordStore, recordStore, resolver)
	aggregation := services.NewAggregationService(recordStore, resolver, listCache)
	rollupWorker := worker.NewRollupWorker(recordStore, recalc, aggregation, reports, cfg.WorkerConcurrency)

	// Recover anything missed while the worker was down.
	if err := rollupWorker.StartupReconcile(ctx); err != nil {
		logger.Error("Startup reconcile failed", log.FieldError, err)
		// Don't exit - the periodic pass will retry.
	}
	if err := rollupWorker.RefreshAggregations(ctx); err != nil {
		logger.Error("Startup aggregation refresh failed", log.FieldError, err)
	}

	if amqpClient != nil {
		go func() {
			err := amqpClient.ConsumeRecalcRequests(ctx, func(msg *amqp.RecalcRequestMessage) error {
				return rollupWorker.HandleRecalcMessage(ctx, msg)
			})
			if err != nil && err != context.Canceled {
				logger.Error("Message consumption failed", log.FieldError, err)
				cancel()
			}
		}()
	} else {
		logger.Info("Skipping AMQP message consumption - no client available")
	}

	go rollupWorker.Run(ctx, cfg.ReconcileInterval, cfg.ExportInterval)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	logger.Info("Shutting down worker...")
	cancel()

	// Give in-flight passes a moment to finish.
	time.Sleep(2 * time.Second)
	logger.Info("Worker shutdown complete")
}
