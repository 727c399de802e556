package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/verbatimhq/verbatim-api/internal/domain"
)

// NoteStore defines the interface for note data persistence.
type NoteStore interface {
	// CreateNote saves a new note to the store.
	// Returns ErrDuplicate if a note with the same ID already exists,
	// or a validation error if the note data is invalid.
	CreateNote(ctx context.Context, note *domain.Note) error

	// GetNote retrieves a note by its unique ID.
	// Returns ErrNoteNotFound if the note does not exist.
	GetNote(ctx context.Context, id uuid.UUID) (*domain.Note, error)

	// GetNotesReadyForProcessing returns up to limit notes that are eligible
	// for a processing pass: pending notes plus failed notes whose attempt
	// count is still below maxAttempts, oldest first.
	GetNotesReadyForProcessing(ctx context.Context, maxAttempts, limit int) ([]*domain.Note, error)

	// UpdateNoteResults persists the transcript, analysis, status and
	// processed timestamp of a note after a successful pipeline run.
	// Returns ErrNoteNotFound if the note does not exist.
	UpdateNoteResults(ctx context.Context, note *domain.Note) error

	// UpdateNoteStatus updates only the note's status.
	// Returns ErrNoteNotFound if the note does not exist.
	UpdateNoteStatus(ctx context.Context, id uuid.UUID, status domain.NoteStatus) error

	// RecordNoteFailure records a failed processing attempt on the note:
	// increments the attempt counter, stores the error message and marks
	// the note failed.
	RecordNoteFailure(ctx context.Context, id uuid.UUID, errMsg string) error

	// RecoverStuckNotes resets notes left in processing since before the
	// cutoff back to pending and returns the number reset. A worker that
	// crashed mid-pipeline leaves its note in processing; once the note's
	// lock TTL has elapsed that state can only mean an abandoned run.
	RecoverStuckNotes(ctx context.Context, cutoff time.Time) (int64, error)

	// CountNotesByUser returns the number of notes owned by the given user.
	CountNotesByUser(ctx context.Context, userID uuid.UUID) (int, error)

	// SumStorageByUser returns the total audio bytes stored for the given user.
	SumStorageByUser(ctx context.Context, userID uuid.UUID) (int64, error)

	// WithTx returns a new NoteStore instance that uses the provided transaction.
	// The transaction should be created and managed by the caller.
	WithTx(tx *sql.Tx) NoteStore
}
