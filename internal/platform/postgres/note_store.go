package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/verbatimhq/verbatim-api/internal/domain"
	"github.com/verbatimhq/verbatim-api/internal/platform/logger"
	"github.com/verbatimhq/verbatim-api/internal/store"
)

// PostgresNoteStore implements the store.NoteStore interface using PostgreSQL
type PostgresNoteStore struct {
	db store.DBTX
}

// NewPostgresNoteStore creates a new PostgresNoteStore
func NewPostgresNoteStore(db store.DBTX) *PostgresNoteStore {
	return &PostgresNoteStore{
		db: db,
	}
}

// WithTx returns a new NoteStore instance that uses the provided transaction.
func (s *PostgresNoteStore) WithTx(tx *sql.Tx) store.NoteStore {
	return &PostgresNoteStore{db: tx}
}

const noteColumns = `id, user_id, title, audio_url, mime_type, duration_seconds, size_bytes,
	transcript, analysis, status, processing_attempts, last_processing_error,
	processed_at, created_at, updated_at`

// CreateNote saves a new note to the database.
func (s *PostgresNoteStore) CreateNote(ctx context.Context, note *domain.Note) error {
	log := logger.FromContext(ctx)

	if err := note.Validate(); err != nil {
		return store.NewStoreError("note", "create", "validation failed", err)
	}

	query := `
		INSERT INTO notes (` + noteColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := s.db.ExecContext(ctx, query,
		note.ID,
		note.UserID,
		note.Title,
		note.AudioURL,
		note.MimeType,
		note.DurationSeconds,
		note.SizeBytes,
		nullString(note.Transcript),
		nullBytes(note.Analysis),
		note.Status,
		note.ProcessingAttempts,
		nullString(note.LastProcessingError),
		note.ProcessedAt,
		note.CreatedAt,
		note.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to create note",
			"note_id", note.ID,
			"error", err)
		return MapError("note", "create", err)
	}

	return nil
}

// GetNote retrieves a note by its unique ID.
func (s *PostgresNoteStore) GetNote(ctx context.Context, id uuid.UUID) (*domain.Note, error) {
	query := `SELECT ` + noteColumns + ` FROM notes WHERE id = $1`

	note, err := scanNote(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNoteNotFound
		}
		return nil, MapError("note", "get", err)
	}
	return note, nil
}

// GetNotesReadyForProcessing returns up to limit notes eligible for a
// processing pass: pending notes plus failed notes whose attempt count is
// still below maxAttempts, oldest first.
func (s *PostgresNoteStore) GetNotesReadyForProcessing(
	ctx context.Context,
	maxAttempts, limit int,
) ([]*domain.Note, error) {
	log := logger.FromContext(ctx)

	query := `
		SELECT ` + noteColumns + `
		FROM notes
		WHERE status = $1
		   OR (status = $2 AND processing_attempts < $3)
		ORDER BY created_at ASC
		LIMIT $4
	`

	rows, err := s.db.QueryContext(ctx, query,
		domain.NoteStatusPending,
		domain.NoteStatusFailed,
		maxAttempts,
		limit,
	)
	if err != nil {
		log.Error("failed to query notes ready for processing", "error", err)
		return nil, MapError("note", "select", err)
	}
	defer rows.Close()

	var notes []*domain.Note
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, MapError("note", "select", err)
		}
		notes = append(notes, note)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError("note", "select", err)
	}

	return notes, nil
}

// UpdateNoteResults persists the transcript, analysis, status and processed
// timestamp after a successful pipeline run.
func (s *PostgresNoteStore) UpdateNoteResults(ctx context.Context, note *domain.Note) error {
	log := logger.FromContext(ctx)

	query := `
		UPDATE notes
		SET transcript = $1, analysis = $2, status = $3,
		    last_processing_error = '', processed_at = $4, updated_at = $5
		WHERE id = $6
	`

	result, err := s.db.ExecContext(ctx, query,
		note.Transcript,
		nullBytes(note.Analysis),
		note.Status,
		note.ProcessedAt,
		time.Now().UTC(),
		note.ID,
	)
	if err != nil {
		log.Error("failed to update note results",
			"note_id", note.ID,
			"error", err)
		return MapError("note", "update", err)
	}

	return requireRow(result, store.ErrNoteNotFound)
}

// UpdateNoteStatus updates only the note's status.
func (s *PostgresNoteStore) UpdateNoteStatus(
	ctx context.Context,
	id uuid.UUID,
	status domain.NoteStatus,
) error {
	query := `UPDATE notes SET status = $1, updated_at = $2 WHERE id = $3`

	result, err := s.db.ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		return MapError("note", "update", err)
	}
	return requireRow(result, store.ErrNoteNotFound)
}

// RecordNoteFailure records a failed processing attempt: increments the
// attempt counter, stores the error message and marks the note failed.
func (s *PostgresNoteStore) RecordNoteFailure(ctx context.Context, id uuid.UUID, errMsg string) error {
	log := logger.FromContext(ctx)

	query := `
		UPDATE notes
		SET status = $1,
		    processing_attempts = processing_attempts + 1,
		    last_processing_error = $2,
		    updated_at = $3
		WHERE id = $4
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.NoteStatusFailed,
		errMsg,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		log.Error("failed to record note failure",
			"note_id", id,
			"error", err)
		return MapError("note", "update", err)
	}

	return requireRow(result, store.ErrNoteNotFound)
}

// RecoverStuckNotes resets notes left in processing since before the cutoff
// back to pending and returns the number reset.
func (s *PostgresNoteStore) RecoverStuckNotes(ctx context.Context, cutoff time.Time) (int64, error) {
	log := logger.FromContext(ctx)

	query := `
		UPDATE notes
		SET status = $1, updated_at = $2
		WHERE status = $3 AND updated_at < $4
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.NoteStatusPending,
		time.Now().UTC(),
		domain.NoteStatusProcessing,
		cutoff,
	)
	if err != nil {
		log.Error("failed to recover stuck notes", "error", err)
		return 0, MapError("note", "recover", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, MapError("note", "recover", err)
	}
	return n, nil
}

// CountNotesByUser returns the number of notes owned by the given user.
func (s *PostgresNoteStore) CountNotesByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notes WHERE user_id = $1`, userID,
	).Scan(&count)
	if err != nil {
		return 0, MapError("note", "count", err)
	}
	return count, nil
}

// SumStorageByUser returns the total audio bytes stored for the given user.
func (s *PostgresNoteStore) SumStorageByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(size_bytes), 0) FROM notes WHERE user_id = $1`, userID,
	).Scan(&total)
	if err != nil {
		return 0, MapError("note", "sum", err)
	}
	return total, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (*domain.Note, error) {
	var (
		note        domain.Note
		transcript  sql.NullString
		analysis    []byte
		lastError   sql.NullString
		processedAt sql.NullTime
	)

	err := row.Scan(
		&note.ID,
		&note.UserID,
		&note.Title,
		&note.AudioURL,
		&note.MimeType,
		&note.DurationSeconds,
		&note.SizeBytes,
		&transcript,
		&analysis,
		&note.Status,
		&note.ProcessingAttempts,
		&lastError,
		&processedAt,
		&note.CreatedAt,
		&note.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	note.Transcript = transcript.String
	note.Analysis = analysis
	note.LastProcessingError = lastError.String
	if processedAt.Valid {
		t := processedAt.Time
		note.ProcessedAt = &t
	}
	return &note, nil
}

// requireRow returns notFound if the statement affected no rows.
func requireRow(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return MapError("note", "update", err)
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
