/**
 * OCR Worker - Main Entry Point
 *
 * Consumes document jobs from Redis and runs each PDF through the hybrid
 * extraction pipeline: digital text where the PDF carries it, otherwise
 * render, enhance, binarize and recognize with the preset retry cascade.
 *
 * Architecture:
 * - Asynq consumer (default) or plain Redis LIST consumer (QUEUE_BACKEND=redis)
 * - Page worker pool bounded by PAGE_WORKERS
 * - Results written to RESULTS_DIR as txt, json and md
 * - Optional PostgreSQL persistence and Qdrant page vectors
 */

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/config"
	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/logging"
	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/processor"
	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/queue"
	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/recognition"
	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/storage"
)

// consumer is implemented by both queue backends.
type consumer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

func main() {
	if err := run(); err != nil {
		logging.NewLogger("worker").Error("Worker exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load environment variables
	envErr := godotenv.Load(".env")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logging.Configure(cfg.LogLevel, cfg.LogFormat, nil)
	logger := logging.NewLogger("worker")
	if envErr != nil {
		logger.Debug(".env not found, using system environment variables")
	}

	logger.Info("OCR worker starting",
		"backend", cfg.QueueBackend,
		"queue", cfg.QueueName,
		"languages", cfg.Languages(),
		"concurrency", cfg.WorkerConcurrency,
		"page_workers", cfg.PageWorkers,
	)

	resources, err := cfg.LoadResources()
	if err != nil {
		return err
	}
	dict := resources.Dictionary.Stats()
	logger.Info("Resources loaded", "presets", len(resources.Presets), "dictionary_version", dict.Version, "terms", dict.Terms)

	// Result sinks: files always, stores when configured
	files := storage.NewFileWriter(cfg.ResultsDir, cfg.DebugImagesDir)
	storageManager, err := storage.NewStorageManager(storage.ManagerConfig{
		DatabaseURL:      cfg.DatabaseURL,
		QdrantURL:        cfg.QdrantURL,
		QdrantCollection: cfg.QdrantCollection,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize storage manager: %w", err)
	}
	defer storageManager.Close()

	sink := storage.MultiSink{files}
	if storageManager.Enabled() {
		sink = append(sink, storageManager)
		if err := healthCheck(storageManager); err != nil {
			return err
		}
	}

	proc, err := processor.NewDocumentProcessor(&processor.ProcessorConfig{
		Config:    cfg,
		Resources: resources,
		Engine:    recognition.NewTesseractEngine(&recognition.TesseractConfig{TessdataPrefix: cfg.TessdataPrefix}),
		DebugSink: files,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize document processor: %w", err)
	}

	handler, err := queue.NewJobHandler(&queue.HandlerConfig{
		Processor:         proc,
		Sink:              sink,
		Jobs:              storageManager,
		ProcessingTimeout: cfg.ProcessingTimeout,
	})
	if err != nil {
		return err
	}

	qc, err := newConsumer(cfg, handler)
	if err != nil {
		return fmt.Errorf("failed to initialize queue consumer: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := qc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}
	logger.Info("Waiting for jobs", "results_dir", cfg.ResultsDir, "stores", storageManager.Enabled())

	<-ctx.Done()
	logger.Info("Shutdown signal received, draining running jobs")

	// Running jobs get the processing timeout to finish
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ProcessingTimeout+5*time.Second)
	defer cancel()
	if err := qc.Stop(shutdownCtx); err != nil {
		logger.Warn("Error stopping queue consumer", "error", err)
	}

	logger.Info("Shutdown complete")
	return nil
}

func newConsumer(cfg *config.Config, handler *queue.JobHandler) (consumer, error) {
	switch cfg.QueueBackend {
	case "redis":
		return queue.NewRedisConsumer(&queue.RedisConsumerConfig{
			RedisURL:    cfg.RedisURL,
			QueueName:   cfg.QueueName,
			Concurrency: cfg.WorkerConcurrency,
			Handler:     handler,
		})
	default:
		return queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:    cfg.RedisURL,
			QueueName:   cfg.QueueName,
			Concurrency: cfg.WorkerConcurrency,
			Handler:     handler,
		})
	}
}

func healthCheck(sm *storage.StorageManager) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sm.Ping(ctx); err != nil {
		return fmt.Errorf("storage health check failed: %w", err)
	}
	return nil
}
