package jobs

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a job.
type Status string

// Possible job status values.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Job type constants for the queue's built-in producers.
const (
	// TypeNoteProcessing runs one orchestration pass over eligible notes.
	TypeNoteProcessing = "note_processing"

	// TypeQueueMaintenance purges terminal jobs past the retention period.
	TypeQueueMaintenance = "queue_maintenance"
)

// Common validation errors for Job.
var (
	ErrEmptyJobType     = errors.New("job type cannot be empty")
	ErrInvalidJobStatus = errors.New("invalid job status")
)

// Job is a unit of auxiliary background work. Priority follows the
// lower-is-more-urgent convention: priority 0 runs before priority 10.
// Seq is the insertion-order sequence assigned by the store and is the
// final tie-break in selection ordering.
type Job struct {
	ID          uuid.UUID       `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Priority    int             `json:"priority"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	Status      Status          `json:"status"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"last_error,omitempty"`
	Seq         int64           `json:"seq"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewJob creates a pending job of the given type. A zero scheduledAt means
// "due now". Returns an error if validation fails.
func NewJob(jobType string, payload json.RawMessage, priority int, scheduledAt time.Time) (*Job, error) {
	now := time.Now().UTC()
	if scheduledAt.IsZero() {
		scheduledAt = now
	}

	job := &Job{
		ID:          uuid.New(),
		Type:        jobType,
		Payload:     payload,
		Priority:    priority,
		ScheduledAt: scheduledAt.UTC(),
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}
	return job, nil
}

// Validate checks if the Job has valid data.
func (j *Job) Validate() error {
	if j.Type == "" {
		return ErrEmptyJobType
	}
	if !isValidStatus(j.Status) {
		return ErrInvalidJobStatus
	}
	return nil
}

// Terminal reports whether the job has reached a final state. Terminal
// jobs are retained for audit until the retention purge removes them.
func (j *Job) Terminal() bool {
	switch j.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

func isValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}
