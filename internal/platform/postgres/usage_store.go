package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/verbatimhq/verbatim-api/internal/platform/logger"
	"github.com/verbatimhq/verbatim-api/internal/store"
)

// PostgresUsageStore implements the store.UsageStore interface using PostgreSQL
type PostgresUsageStore struct {
	db store.DBTX
}

// NewPostgresUsageStore creates a new PostgresUsageStore
func NewPostgresUsageStore(db store.DBTX) *PostgresUsageStore {
	return &PostgresUsageStore{
		db: db,
	}
}

// RecordEvent appends a usage event.
func (s *PostgresUsageStore) RecordEvent(ctx context.Context, ev *store.UsageEvent) error {
	log := logger.FromContext(ctx)

	query := `
		INSERT INTO usage_events (id, user_id, kind, amount, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.db.ExecContext(ctx, query,
		ev.ID,
		ev.UserID,
		ev.Kind,
		ev.Amount,
		ev.OccurredAt,
	)
	if err != nil {
		log.Error("failed to record usage event",
			"user_id", ev.UserID,
			"kind", ev.Kind,
			"error", err)
		return MapError("usage_event", "create", err)
	}

	return nil
}

// SumSince returns the total amount of events of the given kind for the
// user since the given instant.
func (s *PostgresUsageStore) SumSince(
	ctx context.Context,
	userID uuid.UUID,
	kind string,
	since time.Time,
) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM usage_events
		WHERE user_id = $1 AND kind = $2 AND occurred_at >= $3
	`, userID, kind, since).Scan(&total)
	if err != nil {
		return 0, MapError("usage_event", "sum", err)
	}
	return total, nil
}

// WithTx returns a new PostgresUsageStore that uses the provided transaction.
func (s *PostgresUsageStore) WithTx(tx *sql.Tx) store.UsageStore {
	return &PostgresUsageStore{db: tx}
}
