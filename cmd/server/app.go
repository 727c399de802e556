package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/verbatimhq/verbatim-api/internal/circuit"
	"github.com/verbatimhq/verbatim-api/internal/config"
	"github.com/verbatimhq/verbatim-api/internal/jobs"
	"github.com/verbatimhq/verbatim-api/internal/lock"
	"github.com/verbatimhq/verbatim-api/internal/platform/blob"
	"github.com/verbatimhq/verbatim-api/internal/platform/gemini"
	"github.com/verbatimhq/verbatim-api/internal/platform/postgres"
	"github.com/verbatimhq/verbatim-api/internal/platform/redisstore"
	"github.com/verbatimhq/verbatim-api/internal/processing"
	"github.com/verbatimhq/verbatim-api/internal/quota"
	"github.com/verbatimhq/verbatim-api/internal/ratelimit"
	"github.com/verbatimhq/verbatim-api/internal/store"
)

// maxAudioBytes caps how much audio one note may pull into memory.
const maxAudioBytes = 64 << 20

// application holds the shared application dependencies to simplify
// wiring and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB
	redis  *redis.Client

	noteStore  store.NoteStore
	usageStore store.UsageStore

	lockManager  *lock.Manager
	quotaManager *quota.Manager
	limiter      *ratelimit.Limiter
	breaker      *circuit.Breaker
	orchestrator *processing.Orchestrator

	queue     *jobs.Queue
	scheduler *jobs.Scheduler
}

// newApplication creates an application instance with all dependencies
// initialized. Core dependencies (config, logger, database) must be
// established before this is called.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	// Redis backs the rate-limit and quota windows. Connection failures
	// surface per call and degrade to in-memory windows, so startup only
	// logs the outcome of the ping.
	app.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := app.redis.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unreachable at startup, window counters will degrade to in-memory",
			"addr", cfg.Redis.Addr,
			"error", err)
	} else {
		logger.Info("Redis connection established", "addr", cfg.Redis.Addr)
	}

	app.noteStore = postgres.NewPostgresNoteStore(db)
	app.usageStore = postgres.NewPostgresUsageStore(db)

	app.lockManager = lock.NewManager(
		postgres.NewPostgresLockStore(db),
		logger.With("component", "lock_manager"),
	)

	windows := redisstore.NewWindowStore(app.redis)
	app.limiter = ratelimit.NewLimiter(windows, logger.With("component", "rate_limiter"))

	app.quotaManager = quota.NewManager(
		app.noteStore,
		app.usageStore,
		app.limiter,
		quota.Limits{
			MaxNotesPerUser:      cfg.Quota.MaxNotesPerUser,
			MaxProcessingPerHour: cfg.Quota.MaxProcessingPerHour,
			MaxTokensPerDay:      cfg.Quota.MaxTokensPerDay,
			MaxStorageBytes:      cfg.Quota.MaxStorageBytes,
		},
		logger.With("component", "quota_manager"),
	)

	app.breaker = circuit.NewBreaker(circuit.Config{
		FailureThreshold: cfg.Processing.FailureThreshold,
		ResetTimeout:     cfg.Processing.ResetTimeout(),
	}, logger.With("component", "circuit_breaker"))

	geminiClient, err := gemini.NewClient(ctx, logger.With("component", "gemini"), cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Gemini client: %w", err)
	}
	transcriber := gemini.NewTranscriber(geminiClient)
	analyzer, err := gemini.NewAnalyzer(geminiClient)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize analyzer: %w", err)
	}
	logger.Info("Gemini providers initialized", "model", cfg.LLM.ModelName)

	fetcher := blob.NewHTTPFetcher(
		time.Duration(cfg.Processing.ProviderTimeoutSec)*time.Second,
		maxAudioBytes,
	)

	resultsWriter := store.NewResultsWriter(db, app.noteStore, app.usageStore)

	app.orchestrator, err = processing.NewOrchestrator(
		app.noteStore,
		resultsWriter,
		app.lockManager,
		app.quotaManager,
		app.limiter,
		app.breaker,
		transcriber,
		analyzer,
		fetcher,
		processing.Config{
			BatchSize:         cfg.Processing.BatchSize,
			MaxConcurrency:    cfg.Processing.MaxConcurrency,
			LockTTL:           cfg.Processing.LockTTL(),
			MaxNoteAttempts:   cfg.Processing.MaxNoteAttempts,
			MaxCallAttempts:   cfg.LLM.MaxRetries,
			CallBaseDelay:     time.Duration(cfg.LLM.RetryDelaySeconds) * time.Second,
			ProviderRateLimit: cfg.Processing.ProviderRateLimit,
			RateWindow:        cfg.Processing.RateWindow(),
		},
		logger.With("component", "orchestrator"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize orchestrator: %w", err)
	}

	if err := setupJobQueue(app); err != nil {
		return nil, fmt.Errorf("failed to set up job queue: %w", err)
	}

	logger.Info("Application initialized successfully")
	return app, nil
}

// setupJobQueue wires the background queue, its handlers and (when
// configured) the periodic scheduler.
func setupJobQueue(app *application) error {
	cfg := app.config.Jobs

	app.queue = jobs.NewQueue(
		postgres.NewPostgresJobStore(app.db),
		jobs.BatchConfig{
			BatchSize:   cfg.BatchSize,
			MaxAttempts: cfg.MaxAttempts,
			Retention:   cfg.Retention(),
		},
		app.logger.With("component", "job_queue"),
	)

	app.queue.RegisterHandler(jobs.TypeNoteProcessing, app.orchestrator.Handler())
	app.queue.RegisterHandler(jobs.TypeQueueMaintenance, app.queue.HandleMaintenance)

	if cfg.RunScheduler {
		app.scheduler = jobs.NewScheduler(
			app.queue,
			time.Duration(cfg.TickSeconds)*time.Second,
			app.logger.With("component", "job_scheduler"),
		)
		app.scheduler.Start()
	}

	return nil
}

// Run starts the HTTP server and blocks until shutdown.
func (app *application) Run(ctx context.Context) error {
	router := app.setupRouter()

	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.scheduler != nil {
		app.scheduler.Stop()
	}

	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("Error closing Redis connection", "error", err)
		}
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}
