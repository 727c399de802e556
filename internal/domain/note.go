package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// NoteStatus represents the processing state of an audio note
type NoteStatus string

// Possible note status values
const (
	NoteStatusPending    NoteStatus = "pending"
	NoteStatusProcessing NoteStatus = "processing"
	NoteStatusCompleted  NoteStatus = "completed"
	NoteStatusFailed     NoteStatus = "failed"
)

// Common validation errors for Note
var (
	ErrEmptyNoteID       = errors.New("note ID cannot be empty")
	ErrEmptyNoteUserID   = errors.New("note user ID cannot be empty")
	ErrEmptyAudioURL     = errors.New("note audio URL cannot be empty")
	ErrEmptyMimeType     = errors.New("note mime type cannot be empty")
	ErrInvalidNoteStatus = errors.New("invalid note status")
)

// Analysis is the structured result produced by the analysis provider from
// a note's transcript. It is persisted on the note as JSON.
type Analysis struct {
	Summary string   `json:"summary"`
	Tasks   []string `json:"tasks,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// Note represents an audio note submitted by a user. It tracks the original
// audio artifact, the transcription and analysis results, and the processing
// state including how many attempts have been made and the last error.
type Note struct {
	ID                  uuid.UUID       `json:"id"`
	UserID              uuid.UUID       `json:"user_id"`
	Title               string          `json:"title"`
	AudioURL            string          `json:"audio_url"`
	MimeType            string          `json:"mime_type"`
	DurationSeconds     int             `json:"duration_seconds"`
	SizeBytes           int64           `json:"size_bytes"`
	Transcript          string          `json:"transcript,omitempty"`
	Analysis            json.RawMessage `json:"analysis,omitempty"`
	Status              NoteStatus      `json:"status"`
	ProcessingAttempts  int             `json:"processing_attempts"`
	LastProcessingError string          `json:"last_processing_error,omitempty"`
	ProcessedAt         *time.Time      `json:"processed_at,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// NewNote creates a new Note with the given owner and audio metadata.
// It generates a new UUID for the note ID, sets the status to pending,
// and sets the creation/update timestamps.
// Returns an error if validation fails.
func NewNote(userID uuid.UUID, title, audioURL, mimeType string, sizeBytes int64) (*Note, error) {
	note := &Note{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     title,
		AudioURL:  audioURL,
		MimeType:  mimeType,
		SizeBytes: sizeBytes,
		Status:    NoteStatusPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	if err := note.Validate(); err != nil {
		return nil, err
	}

	return note, nil
}

// Validate checks if the Note has valid data.
// Returns an error if any field fails validation.
func (n *Note) Validate() error {
	if n.ID == uuid.Nil {
		return ErrEmptyNoteID
	}

	if n.UserID == uuid.Nil {
		return ErrEmptyNoteUserID
	}

	if n.AudioURL == "" {
		return ErrEmptyAudioURL
	}

	if n.MimeType == "" {
		return ErrEmptyMimeType
	}

	if !isValidNoteStatus(n.Status) {
		return ErrInvalidNoteStatus
	}

	return nil
}

// UpdateStatus updates the note's status and the UpdatedAt timestamp.
// Returns an error if the new status is invalid.
func (n *Note) UpdateStatus(status NoteStatus) error {
	if !isValidNoteStatus(status) {
		return ErrInvalidNoteStatus
	}

	n.Status = status
	n.UpdatedAt = time.Now().UTC()
	return nil
}

// SetResults records a successful processing run on the note: transcript,
// analysis, completed status and the processing timestamp.
func (n *Note) SetResults(transcript string, analysis *Analysis) error {
	data, err := json.Marshal(analysis)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	n.Transcript = transcript
	n.Analysis = data
	n.Status = NoteStatusCompleted
	n.LastProcessingError = ""
	n.ProcessedAt = &now
	n.UpdatedAt = now
	return nil
}

// isValidNoteStatus checks if the given status is a valid NoteStatus.
func isValidNoteStatus(status NoteStatus) bool {
	switch status {
	case NoteStatusPending, NoteStatusProcessing, NoteStatusCompleted, NoteStatusFailed:
		return true
	default:
		return false
	}
}
