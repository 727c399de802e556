package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Usage event kinds recorded by the quota manager.
const (
	UsageKindProcessing = "processing"
	UsageKindTokens     = "tokens"
)

// UsageEvent is an audit record of a billable operation performed on behalf
// of a principal. The quota windows in the counter store are the fast path;
// these rows are the durable trail.
type UsageEvent struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Kind       string
	Amount     int64
	OccurredAt time.Time
}

// UsageStore defines the interface for persisting usage events.
type UsageStore interface {
	// RecordEvent appends a usage event. Failures here must never abort the
	// caller's primary operation; callers log and continue.
	RecordEvent(ctx context.Context, ev *UsageEvent) error

	// SumSince returns the total amount of events of the given kind for the
	// user since the given instant.
	SumSince(ctx context.Context, userID uuid.UUID, kind string, since time.Time) (int64, error)

	// WithTx returns a new UsageStore instance that uses the provided
	// transaction. The transaction is created and managed by the caller.
	WithTx(tx *sql.Tx) UsageStore
}
