package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTTL is returned when Acquire is called with a non-positive TTL.
var ErrInvalidTTL = errors.New("lock TTL must be positive")

// Lock is a durable lock row. The invariant enforced by the store is that
// at most one non-expired lock exists per resource ID.
type Lock struct {
	ResourceID  string
	HolderToken uuid.UUID
	AcquiredAt  time.Time
	ExpiresAt   time.Time
}

// Store is the durable persistence consumed by the Manager.
type Store interface {
	// Upsert performs an atomic insert-if-absent-or-expired of the lock row.
	// It returns true if the lock was taken, false if another holder's
	// non-expired lock is in place.
	Upsert(ctx context.Context, l *Lock) (bool, error)

	// Delete removes the lock row for resourceID if it is held by holder.
	// Deleting a missing or foreign lock is a no-op.
	Delete(ctx context.Context, resourceID string, holder uuid.UUID) error

	// DeleteExpired removes all lock rows whose expiry is before now and
	// returns the number removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Manager coordinates exclusive processing of resources across concurrent
// invocations. Each Manager carries a process-unique holder token so it
// only ever releases its own locks.
type Manager struct {
	store  Store
	holder uuid.UUID
	logger *slog.Logger
	clock  func() time.Time
}

// NewManager creates a lock manager with a fresh holder token.
func NewManager(store Store, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		holder: uuid.New(),
		logger: logger,
		clock:  time.Now,
	}
}

// SetClock replaces the manager's time source for tests.
func (m *Manager) SetClock(clock func() time.Time) {
	m.clock = clock
}

// HolderToken returns this manager's holder identity.
func (m *Manager) HolderToken() uuid.UUID {
	return m.holder
}

// Acquire attempts to take the lock for resourceID with the given TTL.
// It returns false, not an error, when another holder's lock is live;
// callers must treat that as "skip, someone else is working on it" and
// never retry in a tight loop.
//
// If the durable store is unreachable, Acquire fails closed (returns false
// alongside the error): duplicate processing is worse than a skipped pass.
func (m *Manager) Acquire(ctx context.Context, resourceID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, ErrInvalidTTL
	}

	now := m.clock().UTC()
	l := &Lock{
		ResourceID:  resourceID,
		HolderToken: m.holder,
		AcquiredAt:  now,
		ExpiresAt:   now.Add(ttl),
	}

	acquired, err := m.store.Upsert(ctx, l)
	if err != nil {
		m.logger.Error("lock acquisition failed, treating as not acquired",
			"resource_id", resourceID,
			"error", err)
		return false, fmt.Errorf("failed to acquire lock for %s: %w", resourceID, err)
	}

	if acquired {
		m.logger.Debug("lock acquired",
			"resource_id", resourceID,
			"expires_at", l.ExpiresAt)
	} else {
		m.logger.Debug("lock contended, skipping",
			"resource_id", resourceID)
	}

	return acquired, nil
}

// Release drops this manager's lock on resourceID. Releasing a lock that
// does not exist, has expired, or belongs to another holder is a no-op.
func (m *Manager) Release(ctx context.Context, resourceID string) error {
	if err := m.store.Delete(ctx, resourceID, m.holder); err != nil {
		m.logger.Error("failed to release lock",
			"resource_id", resourceID,
			"error", err)
		return fmt.Errorf("failed to release lock for %s: %w", resourceID, err)
	}
	return nil
}

// SweepExpired reclaims locks whose holder crashed before releasing.
// It deletes only rows whose expiry has passed and returns the count.
// The orchestrator runs this opportunistically before each batch pass.
func (m *Manager) SweepExpired(ctx context.Context) (int64, error) {
	count, err := m.store.DeleteExpired(ctx, m.clock().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired locks: %w", err)
	}

	if count > 0 {
		m.logger.Info("reclaimed expired locks", "count", count)
	}
	return count, nil
}
