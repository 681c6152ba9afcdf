package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mlozhkin/docledger/internal/api/handlers"
	"github.com/mlozhkin/docledger/internal/api/middleware"
	"github.com/mlozhkin/docledger/internal/archive"
	"github.com/mlozhkin/docledger/internal/categorize"
	"github.com/mlozhkin/docledger/internal/config"
	"github.com/mlozhkin/docledger/internal/extract"
	"github.com/mlozhkin/docledger/internal/jobs"
	"github.com/mlozhkin/docledger/internal/jobs/inmemory"
	"github.com/mlozhkin/docledger/internal/ledger"
	"github.com/mlozhkin/docledger/internal/logger"
	"github.com/mlozhkin/docledger/internal/normalize"
	"github.com/mlozhkin/docledger/internal/pipeline"
	"github.com/mlozhkin/docledger/internal/tax"
)

func main() {
	cfg := config.Load()

	// Parse command-line flags
	port := flag.String("port", cfg.Port, "HTTP server port")
	flag.Parse()

	// Initialize logger
	log := logger.NewService("api")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if err := cfg.RequireCompletion(); err != nil {
		log.Fatal().Err(err).Msg("Missing completion-service credentials")
	}

	ctx := context.Background()

	// Completion service with the per-minute request budget
	gemini, err := extract.NewGeminiService(ctx, cfg.APIKey, cfg.ModelName)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create completion service")
	}
	completion := extract.NewRateLimited(gemini, cfg.RequestsPerMinute)

	extractor, err := extract.New(completion, extract.Config{
		Temperature:     cfg.Temperature,
		MaxTokens:       cfg.MaxOutputTokens,
		MaxAttempts:     cfg.MaxAttempts,
		BaseBackoff:     cfg.BaseBackoff,
		MerchantMaxLen:  cfg.MerchantMaxLen,
		DefaultCurrency: cfg.DefaultCurrency,
		DateMin:         cfg.DateMin,
		DateMax:         cfg.DateMax,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create extractor")
	}

	// Merchant table: built-in defaults unless a map file is configured
	table := categorize.DefaultMerchantMap()
	if cfg.MerchantMapPath != "" {
		table, err = categorize.LoadMerchantMap(cfg.MerchantMapPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load merchant map")
		}
	}
	categorizer := categorize.New(table, cfg.CategoryThreshold)

	store := ledger.NewStore(cfg.MinConfidence)

	// Optional raw-document archive
	opts := pipeline.Options{
		Workers:         cfg.WorkerCount,
		DocumentTimeout: cfg.DocumentTimeout,
	}
	var archiveStore *archive.Store
	if cfg.ArchiveBucket != "" {
		archiveStore, err = archive.New(ctx, cfg.ArchiveBucket)
		if err != nil {
			log.Warn().Err(err).Msg("Archive disabled: storage client unavailable")
		} else {
			opts.Archiver = archiveStore
			log.Info().Str("bucket", cfg.ArchiveBucket).Msg("Archiving raw documents")
		}
	}

	processor, err := pipeline.NewProcessor(normalize.New(cfg.ExcerptMaxLen), extractor, categorizer, store, opts)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create processor")
	}
	registry := pipeline.NewRegistry()

	// Tax configuration: built-in defaults unless a config file is present
	taxCfg := tax.DefaultConfig()
	if cfg.TaxConfigPath != "" {
		taxCfg, err = tax.LoadConfig(cfg.TaxConfigPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load tax configuration")
		}
	}
	estimator, err := tax.NewEstimator(store, taxCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create tax estimator")
	}

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.QueueSize, cfg.WorkerCount, jobStore)

	workerCtx, cancelWorker := context.WithCancel(logger.WithContext(ctx, log))
	defer cancelWorker()

	// Create job handler for processing queued batches
	jobHandler := func(ctx context.Context, job jobs.Job) error {
		batchJob, ok := job.(*jobs.ProcessBatchJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}

		log.Info().
			Str("job_id", batchJob.JobID).
			Str("batch_id", batchJob.BatchID).
			Int("documents", len(batchJob.Inputs)).
			Msg("Processing batch job")

		report := processor.ProcessBatch(ctx, batchJob.BatchID, batchJob.Inputs)
		registry.Complete(batchJob.BatchID, report)

		log.Info().
			Str("job_id", batchJob.JobID).
			Str("batch_id", batchJob.BatchID).
			Int("accepted", report.Accepted).
			Int("needs_review", report.NeedsReview).
			Int("rejected", report.Rejected).
			Int("failed", report.Failed).
			Msg("Batch job completed")

		return nil
	}

	// Start job consumer in background
	go func() {
		log.Info().Msg("Starting job worker")
		if err := jobQueue.Start(workerCtx, jobHandler); err != nil {
			log.Error().Err(err).Msg("Job worker stopped with error")
		}
	}()

	// Initialize handlers and routes
	mux := handlers.Router(
		handlers.NewBatchesHandler(processor, registry, jobQueue, log),
		handlers.NewRecordsHandler(store, log),
		handlers.NewTaxHandler(estimator, cfg.DefaultCurrency, log),
		handlers.NewReportsHandler(store, log),
		handlers.NewCategoriesHandler(log),
		handlers.NewJobsHandler(jobStore, log),
	)

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(
					middleware.Auth(mux),
				),
			),
		),
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", *port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight batches
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	if archiveStore != nil {
		if err := archiveStore.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close archive store")
		}
	}

	log.Info().Msg("Server exited")
}
