package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"condominio/internal/amqp"
	"condominio/internal/config"
	"condominio/internal/core"
	"condominio/internal/ledger"
	"condominio/internal/log"
	"condominio/internal/services"
	"condominio/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	// Setup structured logging
	logCfg := log.DefaultConfig()
	logCfg.Component = log.ComponentWorker
	logger := log.New(logCfg)
	log.SetDefault(logger)

	logger.Info("Starting condo-worker")

	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	// Initialize SQLite repository
	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	// Initialize AMQP client for publishing posting notifications
	// The condo-export worker consumes these and refreshes statements
	var publisher services.Publisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without notifications", "error", err)
		} else {
			defer amqpClient.Close()
			publisher = amqpClient
			logger.Info("AMQP client initialized - postings will notify condo-export")
		}
	} else {
		logger.Info("AMQP disabled - postings will not be announced")
	}

	allocService := services.NewAllocationService(repo, ledger.NewService(repo), publisher)
	processor := services.NewRecurringProcessor(repo, allocService)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Recurring and reserve processor configured",
		"interval", cfg.RecurringInterval,
		"building_workers", cfg.BuildingWorkers,
		"sqlite_db", cfg.SQLiteDBPath)

	ticker := time.NewTicker(cfg.RecurringInterval)
	defer ticker.Stop()

	// Run initial processing on startup
	logger.Info("Running initial processing...")
	runPass(ctx, repo, processor, allocService, cfg.BuildingWorkers, time.Now())

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				runPass(ctx, repo, processor, allocService, cfg.BuildingWorkers, now)
			}
		}
	}()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("Shutting down condo-worker...")
	cancel()

	select {
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout reached")
	case <-time.After(2 * time.Second):
		logger.Info("Condo-worker shutdown complete")
	}
}

// runPass processes every building once: recurring templates first, then
// the month's reserve contribution. Buildings run concurrently up to the
// configured limit.
func runPass(ctx context.Context, repo *storage.SQLiteRepository, processor *services.RecurringProcessor, allocService *services.AllocationService, workers int, now time.Time) {
	buildings, err := repo.Queries().ListBuildings(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to list buildings", "error", err)
		return
	}

	ym := core.YearMonth{Year: now.Year(), Month: int(now.Month())}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, b := range buildings {
		g.Go(func() error {
			if _, err := processor.ProcessDueTemplates(gctx, b.ID, now); err != nil {
				slog.ErrorContext(gctx, "Recurring processing failed",
					"building_id", b.ID, "error", err)
			}
			if _, err := allocService.CollectReserve(gctx, b, ym); err != nil {
				slog.ErrorContext(gctx, "Reserve collection failed",
					"building_id", b.ID, "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		slog.ErrorContext(ctx, "Processing pass failed", "error", err)
		return
	}

	slog.InfoContext(ctx, "Processing pass complete",
		"buildings", len(buildings),
		"processing_date", now.Format("2006-01-02"))
}
