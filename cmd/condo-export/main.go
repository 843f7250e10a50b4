package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"condominio/internal/amqp"
	"condominio/internal/backend"
	"condominio/internal/balance"
	"condominio/internal/config"
	"condominio/internal/core"
	"condominio/internal/log"
	"condominio/internal/storage"
	"condominio/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	// Setup structured logging
	logCfg := log.DefaultConfig()
	logCfg.Component = log.ComponentExport
	logger := log.New(logCfg)
	log.SetDefault(logger)

	logger.Info("Starting condo-export")

	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	// Initialize SQLite repository to read snapshots
	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	// Select the statement backend (sheets or memory)
	writer, err := backend.NewStatementWriter(context.Background(), backend.Type(cfg.ExportBackend))
	if err != nil {
		logger.Error("Failed to initialize statement backend", "error", err, "backend", cfg.ExportBackend)
		os.Exit(1)
	}

	// Initialize AMQP client for consuming posting notifications
	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exportWorker := worker.NewExportWorker(repo, balance.NewService(repo), writer)

	// On startup, export the current month for every building in case
	// notifications were missed while the worker was down.
	logger.Info("Performing startup export pass...")
	now := time.Now()
	if err := exportWorker.ExportAll(ctx, core.YearMonth{Year: now.Year(), Month: int(now.Month())}); err != nil {
		logger.Error("Startup export pass failed", "error", err)
		// Don't exit - continue with normal operation
	}

	// Start message consumption
	go func() {
		err := amqpClient.ConsumeLedgerPosted(ctx, func(msg *amqp.LedgerPostedMessage) error {
			return exportWorker.HandleLedgerPosted(ctx, msg)
		})
		if err != nil && err != context.Canceled {
			logger.Error("Message consumption failed", "error", err)
		}
		cancel()
	}()

	// Periodic backup export for any missed notifications
	ticker := time.NewTicker(cfg.ExportInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case tick := <-ticker.C:
				ym := core.YearMonth{Year: tick.Year(), Month: int(tick.Month())}
				if err := exportWorker.ExportAll(ctx, ym); err != nil {
					logger.Error("Periodic export failed", "error", err)
				}
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

	logger.Info("Shutting down condo-export...")
	cancel()

	select {
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout reached")
	case <-time.After(5 * time.Second):
		logger.Info("Condo-export shutdown complete")
	}
}
