package processing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/verbatimhq/verbatim-api/internal/circuit"
	"github.com/verbatimhq/verbatim-api/internal/domain"
	"github.com/verbatimhq/verbatim-api/internal/jobs"
	"github.com/verbatimhq/verbatim-api/internal/lock"
	"github.com/verbatimhq/verbatim-api/internal/provider"
	"github.com/verbatimhq/verbatim-api/internal/quota"
	"github.com/verbatimhq/verbatim-api/internal/ratelimit"
	"github.com/verbatimhq/verbatim-api/internal/retry"
	"github.com/verbatimhq/verbatim-api/internal/store"
)

// Rate limiter service keys for the two provider call sites.
const (
	transcribeServiceKey = "gemini:transcribe"
	analyzeServiceKey    = "gemini:analyze"
)

// errRateDeferred marks a note deferred by our own rate limiter. It is not
// a failure: the note stays eligible and is retried on the next pass
// without consuming its attempt budget.
var errRateDeferred = errors.New("provider call deferred by rate limiter")

// AudioFetcher retrieves the raw audio bytes for a note. The storage
// backing audio artifacts is an external collaborator consumed through
// this narrow interface.
type AudioFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ResultsStore persists a successful run's note results together with its
// usage events in one transaction.
type ResultsStore interface {
	SaveResults(ctx context.Context, note *domain.Note, events []*store.UsageEvent) error
}

// Config tunes the orchestrator.
type Config struct {
	// BatchSize is the maximum number of notes selected per pass.
	BatchSize int

	// MaxConcurrency bounds how many notes are processed at once within
	// one pass. Each note's pipeline is sequential.
	MaxConcurrency int

	// LockTTL bounds how long a crashed worker can hold a note.
	LockTTL time.Duration

	// MaxNoteAttempts is how many passes may retry a failed note before it
	// is surfaced as permanently failed.
	MaxNoteAttempts int

	// MaxCallAttempts is the per-provider-call retry budget.
	MaxCallAttempts int

	// CallBaseDelay is the base backoff delay between call retries.
	CallBaseDelay time.Duration

	// ProviderRateLimit caps provider calls per service key per RateWindow.
	ProviderRateLimit int64

	// RateWindow is the fixed rate-limit window.
	RateWindow time.Duration
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:         10,
		MaxConcurrency:    4,
		LockTTL:           15 * time.Minute,
		MaxNoteAttempts:   3,
		MaxCallAttempts:   3,
		CallBaseDelay:     2 * time.Second,
		ProviderRateLimit: 60,
		RateWindow:        time.Minute,
	}
}

// BatchSummary reports the outcome of one orchestration pass.
type BatchSummary struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// outcome is the per-note result inside a pass.
type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeFailed
	outcomeSkipped
)

// Orchestrator composes the lock manager, quota manager, rate limiter,
// circuit breaker and retry controller to execute the processing pipeline
// for eligible notes. The batch entry point is idempotent and safe to
// invoke concurrently: cross-invocation coordination happens through the
// durable locks and counters, never through process memory.
type Orchestrator struct {
	notes       store.NoteStore
	results     ResultsStore
	locks       *lock.Manager
	quotas      *quota.Manager
	limiter     *ratelimit.Limiter
	breaker     *circuit.Breaker
	transcriber provider.Transcriber
	analyzer    provider.Analyzer
	fetcher     AudioFetcher
	config      Config
	logger      *slog.Logger
}

// NewOrchestrator creates an orchestrator. All dependencies are required.
func NewOrchestrator(
	notes store.NoteStore,
	results ResultsStore,
	locks *lock.Manager,
	quotas *quota.Manager,
	limiter *ratelimit.Limiter,
	breaker *circuit.Breaker,
	transcriber provider.Transcriber,
	analyzer provider.Analyzer,
	fetcher AudioFetcher,
	config Config,
	logger *slog.Logger,
) (*Orchestrator, error) {
	switch {
	case notes == nil:
		return nil, errors.New("note store cannot be nil")
	case results == nil:
		return nil, errors.New("results store cannot be nil")
	case locks == nil:
		return nil, errors.New("lock manager cannot be nil")
	case quotas == nil:
		return nil, errors.New("quota manager cannot be nil")
	case limiter == nil:
		return nil, errors.New("rate limiter cannot be nil")
	case breaker == nil:
		return nil, errors.New("circuit breaker cannot be nil")
	case transcriber == nil:
		return nil, errors.New("transcriber cannot be nil")
	case analyzer == nil:
		return nil, errors.New("analyzer cannot be nil")
	case fetcher == nil:
		return nil, errors.New("audio fetcher cannot be nil")
	case logger == nil:
		return nil, errors.New("logger cannot be nil")
	}

	def := DefaultConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = def.MaxConcurrency
	}
	if config.LockTTL <= 0 {
		config.LockTTL = def.LockTTL
	}
	if config.MaxNoteAttempts <= 0 {
		config.MaxNoteAttempts = def.MaxNoteAttempts
	}
	if config.MaxCallAttempts <= 0 {
		config.MaxCallAttempts = def.MaxCallAttempts
	}
	if config.CallBaseDelay <= 0 {
		config.CallBaseDelay = def.CallBaseDelay
	}
	if config.ProviderRateLimit <= 0 {
		config.ProviderRateLimit = def.ProviderRateLimit
	}
	if config.RateWindow <= 0 {
		config.RateWindow = def.RateWindow
	}

	return &Orchestrator{
		notes:       notes,
		results:     results,
		locks:       locks,
		quotas:      quotas,
		limiter:     limiter,
		breaker:     breaker,
		transcriber: transcriber,
		analyzer:    analyzer,
		fetcher:     fetcher,
		config:      config,
		logger:      logger,
	}, nil
}

// ProcessBatch runs one orchestration pass: it reclaims expired locks,
// recovers notes abandoned by crashed workers, then selects eligible notes
// and drives each through the pipeline with bounded concurrency. Per-note
// failures never abort the batch. Note processing order within a batch is
// not guaranteed.
func (o *Orchestrator) ProcessBatch(ctx context.Context) (BatchSummary, error) {
	if _, err := o.locks.SweepExpired(ctx); err != nil {
		// A failed sweep only delays reclamation; the pass still runs.
		o.logger.Warn("lock sweep failed", "error", err)
	}

	// A note still marked processing after its lock TTL belongs to a worker
	// that died mid-pipeline. Reset it so selection picks it up again.
	cutoff := time.Now().UTC().Add(-o.config.LockTTL)
	if n, err := o.notes.RecoverStuckNotes(ctx, cutoff); err != nil {
		o.logger.Warn("stuck note recovery failed", "error", err)
	} else if n > 0 {
		o.logger.Info("recovered stuck notes", "count", n)
	}

	notes, err := o.notes.GetNotesReadyForProcessing(ctx, o.config.MaxNoteAttempts, o.config.BatchSize)
	if err != nil {
		return BatchSummary{}, fmt.Errorf("failed to select notes for processing: %w", err)
	}

	if len(notes) == 0 {
		return BatchSummary{}, nil
	}

	o.logger.Info("starting orchestration pass", "eligible_notes", len(notes))

	var (
		mu      sync.Mutex
		summary BatchSummary
		denied  = make(map[uuid.UUID]bool)
		wg      sync.WaitGroup
		sem     = make(chan struct{}, o.config.MaxConcurrency)
	)

	for _, note := range notes {
		wg.Add(1)
		sem <- struct{}{}
		go func(note *domain.Note) {
			defer wg.Done()
			defer func() { <-sem }()

			mu.Lock()
			skip := denied[note.UserID]
			mu.Unlock()

			var result outcome
			if skip {
				// A principal already denied by quota this pass stays
				// denied; re-checking per note wastes store round trips.
				result = outcomeSkipped
			} else {
				var quotaDenied bool
				result, quotaDenied = o.processNote(ctx, note)
				if quotaDenied {
					mu.Lock()
					denied[note.UserID] = true
					mu.Unlock()
				}
			}

			mu.Lock()
			switch result {
			case outcomeProcessed:
				summary.Processed++
			case outcomeFailed:
				summary.Failed++
			case outcomeSkipped:
				summary.Skipped++
			}
			mu.Unlock()
		}(note)
	}
	wg.Wait()

	o.logger.Info("orchestration pass finished",
		"processed", summary.Processed,
		"failed", summary.Failed,
		"skipped", summary.Skipped)
	return summary, nil
}

// processNote drives one note through the full pipeline. The second return
// reports whether the note was skipped because its principal hit a quota
// ceiling, so the batch can stop admitting that principal's notes this pass.
func (o *Orchestrator) processNote(ctx context.Context, note *domain.Note) (outcome, bool) {
	log := o.logger.With("note_id", note.ID, "user_id", note.UserID)

	acquired, err := o.locks.Acquire(ctx, lockResource(note.ID), o.config.LockTTL)
	if err != nil {
		// Fail closed: without the lock we cannot rule out a concurrent
		// processor, so the note is skipped, not failed.
		log.Warn("lock acquisition errored, skipping note", "error", err)
		return outcomeSkipped, false
	}
	if !acquired {
		log.Debug("note locked by another processor, skipping")
		return outcomeSkipped, false
	}
	defer func() {
		if err := o.locks.Release(ctx, lockResource(note.ID)); err != nil {
			// The TTL is the backstop; a failed release only delays reuse.
			log.Warn("failed to release note lock", "error", err)
		}
	}()

	check, err := o.quotas.CheckProcessingQuota(ctx, note.UserID)
	if err != nil {
		log.Warn("quota check unavailable, skipping note", "error", err)
		return outcomeSkipped, false
	}
	if !check.Allowed {
		// Quota denial aborts this principal's notes for the pass without
		// consuming any retry budget.
		log.Info("processing denied by quota", "reason", check.Reason)
		return outcomeSkipped, true
	}

	if err := o.notes.UpdateNoteStatus(ctx, note.ID, domain.NoteStatusProcessing); err != nil {
		log.Warn("failed to mark note processing, skipping", "error", err)
		return outcomeSkipped, false
	}

	transcript, analysis, tokensUsed, err := o.runPipeline(ctx, note, log)
	if err != nil {
		if errors.Is(err, errRateDeferred) {
			// Our own limiter deferred the call; restore pending so the
			// next pass picks the note up without burning an attempt.
			if stErr := o.notes.UpdateNoteStatus(ctx, note.ID, domain.NoteStatusPending); stErr != nil {
				log.Warn("failed to restore note to pending", "error", stErr)
			}
			log.Info("note deferred by rate limiter")
			return outcomeSkipped, false
		}

		if recErr := o.notes.RecordNoteFailure(ctx, note.ID, err.Error()); recErr != nil {
			log.Error("failed to record note failure", "error", recErr)
		}
		log.Error("note processing failed", "error", err)
		return outcomeFailed, false
	}

	if err := note.SetResults(transcript.Text, analysis); err != nil {
		if recErr := o.notes.RecordNoteFailure(ctx, note.ID, err.Error()); recErr != nil {
			log.Error("failed to record note failure", "error", recErr)
		}
		return outcomeFailed, false
	}
	if err := o.results.SaveResults(ctx, note, usageEvents(note.UserID, tokensUsed)); err != nil {
		if recErr := o.notes.RecordNoteFailure(ctx, note.ID, err.Error()); recErr != nil {
			log.Error("failed to record note failure", "error", recErr)
		}
		log.Error("failed to persist note results", "error", err)
		return outcomeFailed, false
	}

	o.quotas.RecordProcessingAttempt(ctx, note.UserID)
	o.quotas.RecordTokenUsage(ctx, note.UserID, tokensUsed)

	log.Info("note processed",
		"transcript_chars", len(transcript.Text),
		"tasks", len(analysis.Tasks),
		"tags", len(analysis.Tags))
	return outcomeProcessed, false
}

// runPipeline executes the provider-facing stages: fetch audio, transcribe,
// analyze. Transcription must complete before analysis begins. The third
// return is the total token consumption across both calls.
func (o *Orchestrator) runPipeline(
	ctx context.Context,
	note *domain.Note,
	log *slog.Logger,
) (*provider.Transcript, *domain.Analysis, int64, error) {
	audio, err := o.fetcher.Fetch(ctx, note.AudioURL)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to fetch audio: %w", err)
	}

	var transcript *provider.Transcript
	err = o.callProvider(ctx, transcribeServiceKey, func(ctx context.Context) error {
		var callErr error
		transcript, callErr = o.transcriber.Transcribe(ctx, audio, note.MimeType)
		return callErr
	})
	if err != nil {
		return nil, nil, 0, fmt.Errorf("transcription failed: %w", err)
	}

	var analyzed *provider.Analysis
	err = o.callProvider(ctx, analyzeServiceKey, func(ctx context.Context) error {
		var callErr error
		analyzed, callErr = o.analyzer.Analyze(ctx, transcript.Text, provider.AnalysisContext{
			Title: note.Title,
		})
		return callErr
	})
	if err != nil {
		return nil, nil, 0, fmt.Errorf("analysis failed: %w", err)
	}

	log.Debug("pipeline stages complete")
	return transcript, &domain.Analysis{
		Summary: analyzed.Summary,
		Tasks:   analyzed.Tasks,
		Tags:    analyzed.Tags,
	}, transcript.TokensUsed + analyzed.TokensUsed, nil
}

// callProvider funnels one provider call through the rate limiter, circuit
// breaker and retry controller. Every attempt's outcome feeds the breaker;
// a breaker that opens mid-retry short-circuits the remaining attempts.
func (o *Orchestrator) callProvider(ctx context.Context, serviceKey string, op func(ctx context.Context) error) error {
	if !o.limiter.TryAcquire(ctx, serviceKey, o.config.ProviderRateLimit, o.config.RateWindow) {
		return fmt.Errorf("%w: %s", errRateDeferred, serviceKey)
	}

	return retry.Execute(ctx, func(ctx context.Context) error {
		if !o.breaker.Allow() {
			return circuit.ErrOpen
		}

		err := op(ctx)
		if err != nil {
			o.breaker.RecordFailure(string(provider.Classify(err)))
			return err
		}

		o.breaker.RecordSuccess()
		return nil
	}, retry.Options{
		MaxAttempts: o.config.MaxCallAttempts,
		BaseDelay:   o.config.CallBaseDelay,
		Classify: func(err error) bool {
			// The breaker's synthetic failure is final for this call;
			// retrying it would just spin until the gate check fires.
			if errors.Is(err, circuit.ErrOpen) {
				return false
			}
			return provider.Transient(err)
		},
		Gate: o.breaker,
	})
}

// Handler returns the job queue handler that runs an orchestration pass
// when a note_processing job executes. The job payload may carry a
// batch_size override.
func (o *Orchestrator) Handler() jobs.Handler {
	return func(ctx context.Context, job *jobs.Job) error {
		if len(job.Payload) > 0 {
			var payload struct {
				BatchSize int `json:"batch_size"`
			}
			if err := json.Unmarshal(job.Payload, &payload); err == nil && payload.BatchSize > 0 {
				scoped := *o
				scoped.config.BatchSize = payload.BatchSize
				_, err := scoped.ProcessBatch(ctx)
				return err
			}
		}

		_, err := o.ProcessBatch(ctx)
		return err
	}
}

func lockResource(noteID uuid.UUID) string {
	return "note:" + noteID.String()
}

// usageEvents builds the durable usage trail of one successful run: always
// one processing event, plus a token event when the run consumed tokens.
func usageEvents(userID uuid.UUID, tokensUsed int64) []*store.UsageEvent {
	now := time.Now().UTC()
	events := []*store.UsageEvent{{
		ID:         uuid.New(),
		UserID:     userID,
		Kind:       store.UsageKindProcessing,
		Amount:     1,
		OccurredAt: now,
	}}
	if tokensUsed > 0 {
		events = append(events, &store.UsageEvent{
			ID:         uuid.New(),
			UserID:     userID,
			Kind:       store.UsageKindTokens,
			Amount:     tokensUsed,
			OccurredAt: now,
		})
	}
	return events
}
