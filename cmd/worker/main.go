// The worker watches a spool directory and runs every dropped document
// through the pipeline. Files are moved to a processed subdirectory once
// they have been picked up; CSV files are expanded into one document per
// row before submission.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

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
)

// settleDelay is how long a file must stay quiet before pickup; writers get
// this long to finish before the worker reads the file.
const settleDelay = 500 * time.Millisecond

func main() {
	cfg := config.Load()

	var (
		watchDir     = flag.String("watch", "", "spool directory to watch for documents")
		processedDir = flag.String("processed", "", "directory picked-up files are moved to (default <watch>/processed)")
	)
	flag.Parse()

	log := logger.NewService("worker")

	if *watchDir == "" {
		log.Fatal().Msg("-watch directory is required")
	}
	if *processedDir == "" {
		*processedDir = filepath.Join(*watchDir, "processed")
	}
	if err := os.MkdirAll(*processedDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("Failed to create processed directory")
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if err := cfg.RequireCompletion(); err != nil {
		log.Fatal().Err(err).Msg("Missing completion-service credentials")
	}

	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	processor, archiveStore := buildProcessor(ctx, cfg, log)

	// Initialize job store and queue
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.QueueSize, cfg.WorkerCount, jobStore)

	handler := func(ctx context.Context, job jobs.Job) error {
		batchJob, ok := job.(*jobs.ProcessBatchJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}

		report := processor.ProcessBatch(ctx, batchJob.BatchID, batchJob.Inputs)

		log.Info().
			Str("job_id", batchJob.JobID).
			Str("batch_id", report.BatchID).
			Int("accepted", report.Accepted).
			Int("needs_review", report.NeedsReview).
			Int("rejected", report.Rejected).
			Int("failed", report.Failed).
			Int("duplicates", report.Duplicates).
			Msg("Batch processed")
		return nil
	}

	if err := jobQueue.Start(ctx, handler); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	spool := &spoolWatcher{
		queue:        jobQueue,
		watchDir:     *watchDir,
		processedDir: *processedDir,
		log:          log,
		timers:       make(map[string]*time.Timer),
	}

	// Pick up anything already waiting in the spool.
	spool.scanExisting(ctx)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create filesystem watcher")
	}
	defer watcher.Close()
	if err := watcher.Add(*watchDir); err != nil {
		log.Fatal().Err(err).Str("dir", *watchDir).Msg("Failed to watch directory")
	}

	go spool.run(ctx, watcher)

	log.Info().Str("dir", *watchDir).Msg("Worker watching for documents")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}
	if archiveStore != nil {
		if err := archiveStore.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close archive store")
		}
	}

	log.Info().Msg("Worker exited")
}

// buildProcessor assembles the extraction pipeline from configuration.
func buildProcessor(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*pipeline.Processor, *archive.Store) {
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

	table := categorize.DefaultMerchantMap()
	if cfg.MerchantMapPath != "" {
		table, err = categorize.LoadMerchantMap(cfg.MerchantMapPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load merchant map")
		}
	}

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
		}
	}

	processor, err := pipeline.NewProcessor(
		normalize.New(cfg.ExcerptMaxLen),
		extractor,
		categorize.New(table, cfg.CategoryThreshold),
		ledger.NewStore(cfg.MinConfidence),
		opts,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create processor")
	}
	return processor, archiveStore
}

// spoolWatcher turns filesystem events into batch jobs. Writers rarely
// produce a single atomic create, so every event (re)arms a settle timer and
// the file is only picked up once it has been quiet for settleDelay.
type spoolWatcher struct {
	queue        *inmemory.Queue
	watchDir     string
	processedDir string
	log          zerolog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func (s *spoolWatcher) run(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !s.eligible(event.Name) {
				continue
			}
			s.arm(ctx, event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.log.Error().Err(err).Msg("Watcher error")
		}
	}
}

// arm starts or resets the settle timer for a path.
func (s *spoolWatcher) arm(ctx context.Context, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[path]; ok {
		t.Reset(settleDelay)
		return
	}
	s.timers[path] = time.AfterFunc(settleDelay, func() {
		s.mu.Lock()
		delete(s.timers, path)
		s.mu.Unlock()
		s.pickup(ctx, path)
	})
}

// scanExisting submits files already present in the spool at startup.
func (s *spoolWatcher) scanExisting(ctx context.Context) {
	entries, err := os.ReadDir(s.watchDir)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to scan spool directory")
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(s.watchDir, entry.Name())
		if s.eligible(path) {
			s.pickup(ctx, path)
		}
	}
}

// eligible filters out hidden files and unsupported extensions.
func (s *spoolWatcher) eligible(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".text", ".pdf", ".png", ".jpg", ".jpeg", ".csv":
		return true
	}
	return false
}

// pickup reads one spool file, publishes it as a batch job and moves it to
// the processed directory.
func (s *spoolWatcher) pickup(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	content, err := os.ReadFile(path)
	if err != nil {
		s.log.Error().Err(err).Str("file", path).Msg("Failed to read spool file")
		return
	}
	if len(content) == 0 {
		s.log.Warn().Str("file", path).Msg("Skipping empty spool file")
		return
	}

	inputs, err := pipeline.InputsFromFile(path, content)
	if err != nil {
		s.log.Error().Err(err).Str("file", path).Msg("Failed to prepare spool file")
		return
	}

	job := &jobs.ProcessBatchJob{Inputs: inputs}
	if err := s.queue.PublishProcessBatch(ctx, job); err != nil {
		s.log.Error().Err(err).Str("file", path).Msg("Failed to enqueue spool file")
		return
	}

	dest := filepath.Join(s.processedDir, fmt.Sprintf("%d-%s", time.Now().UnixNano(), filepath.Base(path)))
	if err := os.Rename(path, dest); err != nil {
		s.log.Error().Err(err).Str("file", path).Msg("Failed to move processed file")
		return
	}

	s.log.Info().
		Str("file", filepath.Base(path)).
		Str("job_id", job.JobID).
		Int("documents", len(inputs)).
		Msg("Spool file enqueued")
}

