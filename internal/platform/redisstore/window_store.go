package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// WindowStore is a fixed-window counter on Redis. Each (key, window) pair
// maps to a Redis key suffixed with the window's start bucket; the key
// expires shortly after the window elapses so stale buckets clean
// themselves up.
type WindowStore struct {
	client *redis.Client
	clock  func() time.Time
}

// NewWindowStore creates a WindowStore over the given Redis client.
func NewWindowStore(client *redis.Client) *WindowStore {
	return &WindowStore{
		client: client,
		clock:  time.Now,
	}
}

// SetClock replaces the store's time source for tests.
func (s *WindowStore) SetClock(clock func() time.Time) {
	s.clock = clock
}

// IncrBy adds delta to the counter for the current window of key and
// returns the new count. The expiry is set with NX semantics on every hit:
// only the first write in the bucket anchors it, so it tracks the window
// boundary rather than sliding, and concurrent first writes cannot leave
// the bucket without a TTL.
func (s *WindowStore) IncrBy(ctx context.Context, key string, window time.Duration, delta int64) (int64, error) {
	bucket := s.bucketKey(key, window)

	count, err := s.client.IncrBy(ctx, bucket, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment window counter: %w", err)
	}

	// The slack second keeps a read racing the boundary from missing the
	// value.
	if err := s.client.ExpireNX(ctx, bucket, window+time.Second).Err(); err != nil {
		return count, fmt.Errorf("failed to set window expiry: %w", err)
	}

	return count, nil
}

// Get returns the counter for the current window of key without modifying
// it. A missing bucket reads as zero.
func (s *WindowStore) Get(ctx context.Context, key string, window time.Duration) (int64, error) {
	bucket := s.bucketKey(key, window)

	count, err := s.client.Get(ctx, bucket).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read window counter: %w", err)
	}
	return count, nil
}

// bucketKey derives the Redis key for the current window of key.
func (s *WindowStore) bucketKey(key string, window time.Duration) string {
	start := s.clock().Truncate(window)
	return fmt.Sprintf("win:%s:%d", key, start.UnixMilli())
}
