package circuit

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State represents the breaker's position in its lifecycle.
type State string

// Breaker states.
const (
	// StateClosed is normal operation: calls flow through.
	StateClosed State = "closed"

	// StateOpen short-circuits all calls with a fast synthetic failure.
	StateOpen State = "open"

	// StateHalfOpen permits exactly one trial call to probe recovery.
	StateHalfOpen State = "half-open"
)

// ErrOpen is the synthetic failure returned on behalf of short-circuited
// calls while the breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// Config holds the breaker's tuning parameters.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker from closed to open.
	FailureThreshold int

	// ResetTimeout is how long the breaker stays open before permitting
	// a half-open trial call.
	ResetTimeout time.Duration
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
	}
}

// Status is a read-only snapshot of the breaker for the admin surface.
type Status struct {
	State               State            `json:"state"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	FailuresByKind      map[string]int64 `json:"failures_by_kind"`
	LastFailureAt       time.Time        `json:"last_failure_at"`
	OpenedAt            time.Time        `json:"opened_at"`
}

// Breaker tracks failures of calls to the external provider and fails fast
// when the provider is unhealthy. Failure kinds are counted for
// observability only; the state machine is gated solely by the raw
// consecutive-failure count to keep the trigger condition deterministic.
type Breaker struct {
	mu sync.Mutex

	config Config
	logger *slog.Logger

	// clock is swappable in tests.
	clock func() time.Time

	state               State
	consecutiveFailures int
	failuresByKind      map[string]int64
	lastFailureAt       time.Time
	openedAt            time.Time
	trialInFlight       bool
}

// NewBreaker creates a new Breaker in the closed state.
func NewBreaker(config Config, logger *slog.Logger) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = DefaultConfig().ResetTimeout
	}

	return &Breaker{
		config:         config,
		logger:         logger,
		clock:          time.Now,
		state:          StateClosed,
		failuresByKind: make(map[string]int64),
	}
}

// SetClock replaces the breaker's time source. Tests use this to advance
// time without sleeping.
func (b *Breaker) SetClock(clock func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clock = clock
}

// Allow reports whether a call may proceed. While open it returns false
// until the reset timeout has elapsed, at which point the breaker moves to
// half-open and admits exactly one trial call; further calls are rejected
// until that trial's outcome is recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if b.clock().Sub(b.openedAt) < b.config.ResetTimeout {
			return false
		}
		b.state = StateHalfOpen
		b.trialInFlight = true
		b.logger.Info("circuit breaker transitioning to half-open",
			"open_duration", b.clock().Sub(b.openedAt).String())
		return true

	case StateHalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true

	default:
		return false
	}
}

// Tripped reports whether the breaker is open and still inside its
// cool-down. The retry controller checks this between attempts so it can
// short-circuit remaining retries without consuming the half-open trial slot.
func (b *Breaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state == StateOpen && b.clock().Sub(b.openedAt) < b.config.ResetTimeout
}

// RecordSuccess notes a successful call. A half-open trial success closes
// the breaker and resets the failure counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.logger.Info("circuit breaker closing after successful trial call")
	}

	b.state = StateClosed
	b.consecutiveFailures = 0
	b.trialInFlight = false
}

// RecordFailure notes a failed call of the given kind. Reaching the
// failure threshold while closed opens the breaker; a half-open trial
// failure reopens it and restarts the cool-down.
func (b *Breaker) RecordFailure(kind string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	b.failuresByKind[kind]++
	b.lastFailureAt = b.clock()

	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = b.clock()
		b.trialInFlight = false
		b.logger.Warn("circuit breaker reopening after failed trial call",
			"failure_kind", kind)

	case StateClosed:
		if b.consecutiveFailures >= b.config.FailureThreshold {
			b.state = StateOpen
			b.openedAt = b.clock()
			b.logger.Warn("circuit breaker opened",
				"consecutive_failures", b.consecutiveFailures,
				"failure_kind", kind)
		}
	}
}

// Status returns a snapshot of the breaker state for observability.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	kinds := make(map[string]int64, len(b.failuresByKind))
	for k, v := range b.failuresByKind {
		kinds[k] = v
	}

	return Status{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		FailuresByKind:      kinds,
		LastFailureAt:       b.lastFailureAt,
		OpenedAt:            b.openedAt,
	}
}

// Reset returns the breaker to its initial closed state, clearing all
// counters. Exposed for tests and operator intervention.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.consecutiveFailures = 0
	b.failuresByKind = make(map[string]int64)
	b.lastFailureAt = time.Time{}
	b.openedAt = time.Time{}
	b.trialInFlight = false
}
