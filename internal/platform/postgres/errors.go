package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/verbatimhq/verbatim-api/internal/store"
)

// PostgreSQL error codes we map to store sentinels.
const (
	pgCodeUniqueViolation = "23505"
)

// MapError translates driver-level errors into the store package's
// sentinel errors so callers can use errors.Is without importing pgx.
// Connection-level failures map to ErrStoreUnavailable; components that
// must fail closed key off that.
func MapError(entity, operation string, err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgCodeUniqueViolation {
		return store.NewStoreError(entity, operation, "duplicate", fmt.Errorf("%w: %v", store.ErrDuplicate, err))
	}

	if isConnectionError(err) {
		return store.NewStoreError(entity, operation, "store unreachable", fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err))
	}

	return store.NewStoreError(entity, operation, "query failed", err)
}

// isConnectionError reports whether the error indicates the database could
// not be reached at all, as opposed to rejecting a particular statement.
func isConnectionError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
