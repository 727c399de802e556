package store

import (
	"context"
	"database/sql"

	"github.com/verbatimhq/verbatim-api/internal/domain"
)

// ResultsWriter persists the outcome of a successful pipeline run. The note
// results and their usage events commit in one transaction so the durable
// usage trail never drifts from the notes it accounts for.
type ResultsWriter struct {
	db    *sql.DB
	notes NoteStore
	usage UsageStore
}

// NewResultsWriter creates a ResultsWriter over the given database handle
// and stores.
func NewResultsWriter(db *sql.DB, notes NoteStore, usage UsageStore) *ResultsWriter {
	if db == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("db cannot be nil")
	}
	if notes == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("notes cannot be nil")
	}
	if usage == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("usage cannot be nil")
	}
	return &ResultsWriter{db: db, notes: notes, usage: usage}
}

// SaveResults writes the note's transcript, analysis and status together
// with the usage events of the run. All writes commit or roll back as one.
func (w *ResultsWriter) SaveResults(
	ctx context.Context,
	note *domain.Note,
	events []*UsageEvent,
) error {
	return RunInTransaction(ctx, w.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := w.notes.WithTx(tx).UpdateNoteResults(ctx, note); err != nil {
			return err
		}
		usage := w.usage.WithTx(tx)
		for _, ev := range events {
			if err := usage.RecordEvent(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	})
}
