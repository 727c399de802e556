package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/verbatimhq/verbatim-api/internal/platform/logger"
)

// Gate lets the retry controller observe an external fail-fast signal
// (the circuit breaker) between attempts. When the gate reports tripped,
// remaining attempts are skipped immediately.
type Gate interface {
	Tripped() bool
}

// ErrGateTripped is returned when remaining attempts were skipped because
// the gate reported tripped mid-retry.
var ErrGateTripped = fmt.Errorf("retries aborted: gate tripped")

// Options configures a single Execute call.
type Options struct {
	// MaxAttempts is the total number of tries, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// BaseDelay is the backoff delay before the second attempt; the delay
	// for attempt n (0-indexed) is BaseDelay * 2^n, scaled by jitter.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff delay. Zero means uncapped.
	MaxDelay time.Duration

	// Classify reports whether an error is transient and therefore worth
	// retrying. If nil, every error is treated as transient.
	Classify func(error) bool

	// Gate, if non-nil, is consulted before every attempt after the first.
	Gate Gate
}

// Execute runs fn, retrying transient failures with exponential backoff and
// jitter until it succeeds, a non-transient error occurs, the gate trips,
// the context is cancelled, or MaxAttempts is exhausted. The final error is
// wrapped with the attempt count for diagnostics.
func Execute(ctx context.Context, fn func(ctx context.Context) error, opts Options) error {
	log := logger.FromContext(ctx)

	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 && opts.Gate != nil && opts.Gate.Tripped() {
			log.Warn("skipping remaining attempts, gate tripped",
				"attempt", attempt+1,
				"last_error", lastErr)
			return fmt.Errorf("%w after %d of %d attempts: %v",
				ErrGateTripped, attempt, maxAttempts, lastErr)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if opts.Classify != nil && !opts.Classify(err) {
			log.Debug("non-transient error, not retrying",
				"attempt", attempt+1,
				"error", err)
			return err
		}

		if attempt == maxAttempts-1 {
			break
		}

		delay := backoffDelay(opts.BaseDelay, opts.MaxDelay, attempt, rng)
		log.Debug("retrying after delay",
			"attempt", attempt+1,
			"max_attempts", maxAttempts,
			"delay", delay.String(),
			"error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled after %d of %d attempts: %w",
				attempt+1, maxAttempts, ctx.Err())
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", maxAttempts, lastErr)
}

// backoffDelay computes the delay before the next attempt:
// base * 2^attempt, scaled by a jitter factor in [0.5, 1.0) and capped.
func backoffDelay(base, cap time.Duration, attempt int, rng *rand.Rand) time.Duration {
	if base <= 0 {
		base = time.Second
	}

	backoff := float64(base) * math.Pow(2, float64(attempt))
	jitter := 0.5 + rng.Float64()*0.5
	delay := time.Duration(backoff * jitter)

	if cap > 0 && delay > cap {
		delay = cap
	}
	return delay
}
