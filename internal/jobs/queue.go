package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store defines the interface for persisting jobs.
type Store interface {
	// CreateJob saves a new job and assigns its insertion sequence.
	CreateJob(ctx context.Context, job *Job) error

	// GetJob retrieves a job by ID.
	// Returns store.ErrJobNotFound if the job does not exist.
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)

	// GetJobsByStatus retrieves all jobs with the given status, in
	// insertion order.
	GetJobsByStatus(ctx context.Context, status Status) ([]*Job, error)

	// UpdateJob persists the job's status, attempts and last error.
	UpdateJob(ctx context.Context, job *Job) error

	// CancelPending atomically moves a job from pending to cancelled.
	// Returns false if the job was not in pending state.
	CancelPending(ctx context.Context, id uuid.UUID) (bool, error)

	// SelectDue returns up to limit pending jobs with scheduledAt <= now,
	// ordered by ascending priority, then ascending scheduledAt, then
	// insertion order.
	SelectDue(ctx context.Context, now time.Time, limit int) ([]*Job, error)

	// DeleteTerminalBefore removes terminal jobs last updated before the
	// cutoff and returns the number removed.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// CountByStatus returns the number of jobs per status.
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

// Handler executes one job. A nil return marks the job completed; an error
// requeues it until the attempt budget is exhausted.
type Handler func(ctx context.Context, job *Job) error

// BatchConfig tunes one processing tick.
type BatchConfig struct {
	// BatchSize is the maximum number of jobs one tick will run.
	BatchSize int `json:"batch_size"`

	// MaxAttempts is the attempt budget per job; jobs exceeding it move to
	// failed with the last error retained.
	MaxAttempts int `json:"max_attempts"`

	// Retention is how long terminal jobs are kept before the maintenance
	// purge removes them.
	Retention time.Duration `json:"retention"`
}

// DefaultBatchConfig returns a BatchConfig with reasonable defaults.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		BatchSize:   20,
		MaxAttempts: 3,
		Retention:   30 * 24 * time.Hour,
	}
}

// TickSummary reports the outcome of one ProcessPendingJobs invocation.
type TickSummary struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Requeued  int `json:"requeued"`
}

// QueueStats is the queue snapshot exposed on the admin surface.
type QueueStats struct {
	Counts map[Status]int `json:"counts"`
	Total  int            `json:"total"`
}

// Queue is the background job queue service. Producers add jobs; an
// external scheduler (or the admin force-run endpoint) drives
// ProcessPendingJobs one deterministic tick at a time.
type Queue struct {
	store    Store
	logger   *slog.Logger
	clock    func() time.Time
	handlers map[string]Handler

	mu  sync.RWMutex
	cfg BatchConfig
}

// NewQueue creates a job queue over the given store.
func NewQueue(store Store, cfg BatchConfig, logger *slog.Logger) *Queue {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchConfig().BatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultBatchConfig().MaxAttempts
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultBatchConfig().Retention
	}

	return &Queue{
		store:    store,
		logger:   logger,
		clock:    time.Now,
		handlers: make(map[string]Handler),
		cfg:      cfg,
	}
}

// SetClock replaces the queue's time source for tests.
func (q *Queue) SetClock(clock func() time.Time) {
	q.clock = clock
}

// RegisterHandler binds a handler to a job type. Registering twice for the
// same type replaces the previous handler.
func (q *Queue) RegisterHandler(jobType string, h Handler) {
	q.handlers[jobType] = h
}

// AddJob enqueues a new pending job and returns its ID. A zero scheduledAt
// means the job is due immediately.
func (q *Queue) AddJob(
	ctx context.Context,
	jobType string,
	payload json.RawMessage,
	priority int,
	scheduledAt time.Time,
) (uuid.UUID, error) {
	job, err := NewJob(jobType, payload, priority, scheduledAt)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid job: %w", err)
	}

	if err := q.store.CreateJob(ctx, job); err != nil {
		return uuid.Nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	q.logger.Info("job enqueued",
		"job_id", job.ID,
		"job_type", jobType,
		"priority", priority,
		"scheduled_at", job.ScheduledAt)
	return job.ID, nil
}

// GetJob retrieves a job by ID.
func (q *Queue) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	return q.store.GetJob(ctx, id)
}

// GetJobsByStatus lists all jobs in the given status.
func (q *Queue) GetJobsByStatus(ctx context.Context, status Status) ([]*Job, error) {
	if !isValidStatus(status) {
		return nil, ErrInvalidJobStatus
	}
	return q.store.GetJobsByStatus(ctx, status)
}

// CancelJob cancels a pending job. It returns false for jobs that are
// running or already terminal; an in-flight job runs to completion.
func (q *Queue) CancelJob(ctx context.Context, id uuid.UUID) (bool, error) {
	cancelled, err := q.store.CancelPending(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}

	if cancelled {
		q.logger.Info("job cancelled", "job_id", id)
	}
	return cancelled, nil
}

// UpdateBatchConfig replaces the queue's batch configuration. Zero-valued
// fields keep their current values.
func (q *Queue) UpdateBatchConfig(cfg BatchConfig) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if cfg.BatchSize > 0 {
		q.cfg.BatchSize = cfg.BatchSize
	}
	if cfg.MaxAttempts > 0 {
		q.cfg.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.Retention > 0 {
		q.cfg.Retention = cfg.Retention
	}
}

// BatchConfig returns the current batch configuration.
func (q *Queue) BatchConfig() BatchConfig {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.cfg
}

// ProcessPendingJobs runs one processing tick: it selects due pending jobs
// in deterministic order (priority ascending, then scheduled time, then
// insertion order) and executes them sequentially. Each execution counts an
// attempt; failures requeue the job until MaxAttempts, after which it moves
// to failed with the last error retained.
func (q *Queue) ProcessPendingJobs(ctx context.Context) (TickSummary, error) {
	cfg := q.BatchConfig()
	now := q.clock().UTC()

	due, err := q.store.SelectDue(ctx, now, cfg.BatchSize)
	if err != nil {
		return TickSummary{}, fmt.Errorf("failed to select due jobs: %w", err)
	}

	var summary TickSummary
	for _, job := range due {
		outcome := q.runJob(ctx, job, cfg.MaxAttempts)
		switch outcome {
		case StatusCompleted:
			summary.Processed++
		case StatusFailed:
			summary.Failed++
		default:
			summary.Requeued++
		}
	}

	if len(due) > 0 {
		q.logger.Info("processed pending jobs",
			"selected", len(due),
			"completed", summary.Processed,
			"failed", summary.Failed,
			"requeued", summary.Requeued)
	}
	return summary, nil
}

// runJob executes a single job and returns its resulting status.
func (q *Queue) runJob(ctx context.Context, job *Job, maxAttempts int) Status {
	log := q.logger.With("job_id", job.ID, "job_type", job.Type)

	job.Status = StatusRunning
	job.Attempts++
	job.UpdatedAt = q.clock().UTC()
	if err := q.store.UpdateJob(ctx, job); err != nil {
		log.Error("failed to mark job running, leaving pending", "error", err)
		job.Status = StatusPending
		job.Attempts--
		return StatusPending
	}

	handler, ok := q.handlers[job.Type]
	if !ok {
		// No handler is a configuration defect, not a transient condition;
		// retrying it burns the attempt budget for nothing.
		job.Status = StatusFailed
		job.LastError = fmt.Sprintf("no handler registered for job type %q", job.Type)
		q.finishJob(ctx, job, log)
		return StatusFailed
	}

	err := handler(ctx, job)
	if err == nil {
		job.Status = StatusCompleted
		job.LastError = ""
		q.finishJob(ctx, job, log)
		return StatusCompleted
	}

	job.LastError = err.Error()
	if job.Attempts >= maxAttempts {
		job.Status = StatusFailed
		log.Error("job failed permanently",
			"attempts", job.Attempts,
			"error", err)
	} else {
		job.Status = StatusPending
		log.Warn("job failed, will retry on a later tick",
			"attempts", job.Attempts,
			"error", err)
	}
	q.finishJob(ctx, job, log)
	return job.Status
}

func (q *Queue) finishJob(ctx context.Context, job *Job, log *slog.Logger) {
	job.UpdatedAt = q.clock().UTC()
	if err := q.store.UpdateJob(ctx, job); err != nil {
		log.Error("failed to persist job outcome",
			"status", job.Status,
			"error", err)
	}
}

// PurgeExpired removes terminal jobs older than the retention period and
// returns the number removed.
func (q *Queue) PurgeExpired(ctx context.Context) (int64, error) {
	cfg := q.BatchConfig()
	cutoff := q.clock().UTC().Add(-cfg.Retention)

	count, err := q.store.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired jobs: %w", err)
	}

	if count > 0 {
		q.logger.Info("purged expired jobs", "count", count, "cutoff", cutoff)
	}
	return count, nil
}

// HandleMaintenance is the built-in handler for TypeQueueMaintenance jobs.
func (q *Queue) HandleMaintenance(ctx context.Context, _ *Job) error {
	_, err := q.PurgeExpired(ctx)
	return err
}

// Stats returns the queue snapshot for the admin surface.
func (q *Queue) Stats(ctx context.Context) (QueueStats, error) {
	counts, err := q.store.CountByStatus(ctx)
	if err != nil {
		return QueueStats{}, fmt.Errorf("failed to count jobs: %w", err)
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	return QueueStats{Counts: counts, Total: total}, nil
}
