package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/verbatimhq/verbatim-api/internal/lock"
	"github.com/verbatimhq/verbatim-api/internal/platform/logger"
	"github.com/verbatimhq/verbatim-api/internal/store"
)

// PostgresLockStore implements the lock.Store interface using PostgreSQL
type PostgresLockStore struct {
	db store.DBTX
}

// NewPostgresLockStore creates a new PostgresLockStore
func NewPostgresLockStore(db store.DBTX) *PostgresLockStore {
	return &PostgresLockStore{
		db: db,
	}
}

// Upsert performs the atomic insert-if-absent-or-expired. The conditional
// upsert only steals the row when the existing lock has expired, which is
// what enforces the at-most-one-live-lock invariant.
func (s *PostgresLockStore) Upsert(ctx context.Context, l *lock.Lock) (bool, error) {
	log := logger.FromContext(ctx)

	query := `
		INSERT INTO processing_locks (resource_id, holder_token, acquired_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (resource_id) DO UPDATE
		SET holder_token = EXCLUDED.holder_token,
		    acquired_at = EXCLUDED.acquired_at,
		    expires_at = EXCLUDED.expires_at
		WHERE processing_locks.expires_at < $3
	`

	result, err := s.db.ExecContext(ctx, query,
		l.ResourceID,
		l.HolderToken,
		l.AcquiredAt,
		l.ExpiresAt,
	)
	if err != nil {
		log.Error("lock upsert failed",
			"resource_id", l.ResourceID,
			"error", err)
		return false, MapError("lock", "acquire", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, MapError("lock", "acquire", err)
	}
	return rows > 0, nil
}

// Delete removes the lock row if held by the given holder. Missing or
// foreign rows are a no-op.
func (s *PostgresLockStore) Delete(ctx context.Context, resourceID string, holder uuid.UUID) error {
	query := `DELETE FROM processing_locks WHERE resource_id = $1 AND holder_token = $2`

	if _, err := s.db.ExecContext(ctx, query, resourceID, holder); err != nil {
		return MapError("lock", "release", err)
	}
	return nil
}

// DeleteExpired removes all lock rows whose expiry is before now.
func (s *PostgresLockStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM processing_locks WHERE expires_at < $1`

	result, err := s.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, MapError("lock", "sweep", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, MapError("lock", "sweep", err)
	}
	return rows, nil
}
