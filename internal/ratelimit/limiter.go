package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// WindowStore is the durable fixed-window counter consumed by the limiter.
// Implementations key each counter by (key, window start bucket) and expire
// buckets once the window elapses.
type WindowStore interface {
	// IncrBy adds delta to the counter for the current window of key and
	// returns the new count.
	IncrBy(ctx context.Context, key string, window time.Duration, delta int64) (int64, error)

	// Get returns the counter for the current window of key without
	// modifying it. A missing counter reads as zero.
	Get(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Limiter caps call volume per key within a fixed time window.
//
// The durable store is authoritative. When it errors, the limiter falls
// back to a process-local in-memory window with the same semantics and logs
// the degradation: counts reset on restart and are not shared across
// processes, which trades accuracy for availability — refusing all traffic
// whenever the counter store hiccups would be worse than slightly imprecise
// limiting.
type Limiter struct {
	store    WindowStore
	fallback *memoryWindows
	logger   *slog.Logger
}

// NewLimiter creates a Limiter over the given durable counter store.
func NewLimiter(store WindowStore, logger *slog.Logger) *Limiter {
	return &Limiter{
		store:    store,
		fallback: newMemoryWindows(),
		logger:   logger,
	}
}

// TryAcquire counts one call against the window for key and reports whether
// it is within limit. The count is consumed even when the call is rejected;
// a fixed-window counter does not refund probes.
func (l *Limiter) TryAcquire(ctx context.Context, key string, limit int64, window time.Duration) bool {
	count, err := l.store.IncrBy(ctx, key, window, 1)
	if err != nil {
		l.logger.Warn("counter store unavailable, using in-memory rate limit window",
			"key", key,
			"error", err)
		count = l.fallback.incrBy(key, window, 1)
	}

	return count <= limit
}

// RecordN adds delta to the window for key without enforcing a limit.
// The quota manager uses this for token accounting.
func (l *Limiter) RecordN(ctx context.Context, key string, window time.Duration, delta int64) {
	if _, err := l.store.IncrBy(ctx, key, window, delta); err != nil {
		l.logger.Warn("counter store unavailable, recording to in-memory window",
			"key", key,
			"error", err)
		l.fallback.incrBy(key, window, delta)
	}
}

// PeekDurable returns the current window count for key from the durable
// store only. Store errors surface to the caller instead of reading the
// in-memory fallback: the quota manager has its own durable fallback and a
// process-local count would let it over-admit across workers.
func (l *Limiter) PeekDurable(ctx context.Context, key string, window time.Duration) (int64, error) {
	return l.store.Get(ctx, key, window)
}

// ResetFallback clears the in-memory fallback windows. Exposed for tests.
func (l *Limiter) ResetFallback() {
	l.fallback.reset()
}
