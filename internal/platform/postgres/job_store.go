package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/verbatimhq/verbatim-api/internal/jobs"
	"github.com/verbatimhq/verbatim-api/internal/platform/logger"
	"github.com/verbatimhq/verbatim-api/internal/store"
)

// PostgresJobStore implements the jobs.Store interface using PostgreSQL
type PostgresJobStore struct {
	db store.DBTX
}

// NewPostgresJobStore creates a new PostgresJobStore
func NewPostgresJobStore(db store.DBTX) *PostgresJobStore {
	return &PostgresJobStore{
		db: db,
	}
}

const jobColumns = `id, type, payload, priority, scheduled_at, status, attempts,
	last_error, seq, created_at, updated_at`

// CreateJob saves a new job and reads back its insertion sequence.
func (s *PostgresJobStore) CreateJob(ctx context.Context, job *jobs.Job) error {
	log := logger.FromContext(ctx)

	query := `
		INSERT INTO jobs (id, type, payload, priority, scheduled_at, status,
			attempts, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING seq
	`

	err := s.db.QueryRowContext(ctx, query,
		job.ID,
		job.Type,
		nullBytes(job.Payload),
		job.Priority,
		job.ScheduledAt,
		job.Status,
		job.Attempts,
		nullString(job.LastError),
		job.CreatedAt,
		job.UpdatedAt,
	).Scan(&job.Seq)
	if err != nil {
		log.Error("failed to create job",
			"job_id", job.ID,
			"job_type", job.Type,
			"error", err)
		return MapError("job", "create", err)
	}

	return nil
}

// GetJob retrieves a job by ID.
func (s *PostgresJobStore) GetJob(ctx context.Context, id uuid.UUID) (*jobs.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrJobNotFound
		}
		return nil, MapError("job", "get", err)
	}
	return job, nil
}

// GetJobsByStatus retrieves all jobs with the given status, in insertion order.
func (s *PostgresJobStore) GetJobsByStatus(ctx context.Context, status jobs.Status) ([]*jobs.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = $1 ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, MapError("job", "select", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// UpdateJob persists the job's status, attempts and last error.
func (s *PostgresJobStore) UpdateJob(ctx context.Context, job *jobs.Job) error {
	log := logger.FromContext(ctx)

	query := `
		UPDATE jobs
		SET status = $1, attempts = $2, last_error = $3, updated_at = $4
		WHERE id = $5
	`

	result, err := s.db.ExecContext(ctx, query,
		job.Status,
		job.Attempts,
		nullString(job.LastError),
		job.UpdatedAt,
		job.ID,
	)
	if err != nil {
		log.Error("failed to update job",
			"job_id", job.ID,
			"status", job.Status,
			"error", err)
		return MapError("job", "update", err)
	}

	return requireRow(result, store.ErrJobNotFound)
}

// CancelPending atomically moves a job from pending to cancelled.
// Returns false if the job was not in pending state.
func (s *PostgresJobStore) CancelPending(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE jobs
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`

	result, err := s.db.ExecContext(ctx, query,
		jobs.StatusCancelled,
		time.Now().UTC(),
		id,
		jobs.StatusPending,
	)
	if err != nil {
		return false, MapError("job", "cancel", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, MapError("job", "cancel", err)
	}
	return rows > 0, nil
}

// SelectDue returns up to limit due pending jobs in the queue's
// deterministic order: priority ascending, then scheduled time ascending,
// then insertion sequence ascending.
func (s *PostgresJobStore) SelectDue(ctx context.Context, now time.Time, limit int) ([]*jobs.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = $1 AND scheduled_at <= $2
		ORDER BY priority ASC, scheduled_at ASC, seq ASC
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, jobs.StatusPending, now, limit)
	if err != nil {
		return nil, MapError("job", "select", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// DeleteTerminalBefore removes terminal jobs last updated before the cutoff.
func (s *PostgresJobStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM jobs
		WHERE status IN ($1, $2, $3) AND updated_at < $4
	`

	result, err := s.db.ExecContext(ctx, query,
		jobs.StatusCompleted,
		jobs.StatusFailed,
		jobs.StatusCancelled,
		cutoff,
	)
	if err != nil {
		return 0, MapError("job", "delete", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, MapError("job", "delete", err)
	}
	return rows, nil
}

// CountByStatus returns the number of jobs per status.
func (s *PostgresJobStore) CountByStatus(ctx context.Context) (map[jobs.Status]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, MapError("job", "count", err)
	}
	defer rows.Close()

	counts := make(map[jobs.Status]int)
	for rows.Next() {
		var status jobs.Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, MapError("job", "count", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, MapError("job", "count", err)
	}
	return counts, nil
}

func scanJob(row rowScanner) (*jobs.Job, error) {
	var (
		job       jobs.Job
		payload   []byte
		lastError sql.NullString
	)

	err := row.Scan(
		&job.ID,
		&job.Type,
		&payload,
		&job.Priority,
		&job.ScheduledAt,
		&job.Status,
		&job.Attempts,
		&lastError,
		&job.Seq,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Payload = payload
	job.LastError = lastError.String
	return &job, nil
}

func collectJobs(rows *sql.Rows) ([]*jobs.Job, error) {
	var result []*jobs.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, MapError("job", "scan", err)
		}
		result = append(result, job)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError("job", "scan", err)
	}
	return result, nil
}
