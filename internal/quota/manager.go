package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/verbatimhq/verbatim-api/internal/ratelimit"
	"github.com/verbatimhq/verbatim-api/internal/store"
)

// Window durations for the rate and token ceilings. Both are fixed windows
// built on the rate limiter's windowing primitive.
const (
	processingWindow = time.Hour
	tokenWindow      = 24 * time.Hour
)

// Limits holds the configured per-principal ceilings.
type Limits struct {
	MaxNotesPerUser      int   `json:"max_notes_per_user"`
	MaxProcessingPerHour int64 `json:"max_processing_per_hour"`
	MaxTokensPerDay      int64 `json:"max_tokens_per_day"`
	MaxStorageBytes      int64 `json:"max_storage_bytes"`
}

// Usage is the current consumption of a principal across all quota
// dimensions. It is derived, not stored: note count and storage come from
// the note store, rate and token counts from the window counters.
type Usage struct {
	NoteCount          int   `json:"note_count"`
	ProcessingLastHour int64 `json:"processing_last_hour"`
	TokensLastDay      int64 `json:"tokens_last_day"`
	StorageBytes       int64 `json:"storage_bytes"`
}

// CheckResult is the outcome of an admission check.
type CheckResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Usage   Usage  `json:"usage"`
	Limits  Limits `json:"limits"`
}

// Status is the full quota picture for a principal, with percentage fields
// clamped to [0,100] for safe UI consumption.
type Status struct {
	Usage       Usage              `json:"usage"`
	Limits      Limits             `json:"limits"`
	Percentages map[string]float64 `json:"percentages"`
}

// Manager performs admission control and usage accounting per principal.
type Manager struct {
	notes   store.NoteStore
	usage   store.UsageStore
	windows *ratelimit.Limiter
	limits  Limits
	logger  *slog.Logger
	clock   func() time.Time
}

// NewManager creates a quota manager over the given stores and limits.
func NewManager(
	notes store.NoteStore,
	usage store.UsageStore,
	windows *ratelimit.Limiter,
	limits Limits,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		notes:   notes,
		usage:   usage,
		windows: windows,
		limits:  limits,
		logger:  logger,
		clock:   time.Now,
	}
}

// CheckUploadQuota reports whether the principal may submit a new note.
// Dimensions are evaluated in a fixed order (count, rate, tokens, storage)
// so the reported reason is deterministic: the first exceeded dimension wins.
// A store failure denies admission with a store-unavailable reason rather
// than risking over-admission.
func (m *Manager) CheckUploadQuota(ctx context.Context, userID uuid.UUID) (CheckResult, error) {
	return m.check(ctx, userID)
}

// CheckProcessingQuota reports whether a processing pass may run work on
// behalf of the principal. Same evaluation order and fail-closed semantics
// as CheckUploadQuota.
func (m *Manager) CheckProcessingQuota(ctx context.Context, userID uuid.UUID) (CheckResult, error) {
	return m.check(ctx, userID)
}

func (m *Manager) check(ctx context.Context, userID uuid.UUID) (CheckResult, error) {
	usage, err := m.currentUsage(ctx, userID)
	if err != nil {
		// Fail closed: deny new work rather than risking double-spend.
		return CheckResult{
			Allowed: false,
			Reason:  "quota status unavailable, admission denied",
			Limits:  m.limits,
		}, fmt.Errorf("failed to compute quota usage: %w", err)
	}

	result := CheckResult{Allowed: true, Usage: usage, Limits: m.limits}

	switch {
	case usage.NoteCount >= m.limits.MaxNotesPerUser:
		result.Allowed = false
		result.Reason = fmt.Sprintf("note count limit reached (%d of %d notes)",
			usage.NoteCount, m.limits.MaxNotesPerUser)

	case usage.ProcessingLastHour >= m.limits.MaxProcessingPerHour:
		result.Allowed = false
		result.Reason = fmt.Sprintf("processing rate limit reached (%d of %d in the last hour)",
			usage.ProcessingLastHour, m.limits.MaxProcessingPerHour)

	case usage.TokensLastDay >= m.limits.MaxTokensPerDay:
		result.Allowed = false
		result.Reason = fmt.Sprintf("token budget exhausted (%d of %d in the last day)",
			usage.TokensLastDay, m.limits.MaxTokensPerDay)

	case usage.StorageBytes >= m.limits.MaxStorageBytes:
		result.Allowed = false
		result.Reason = fmt.Sprintf("storage limit reached (%d of %d bytes)",
			usage.StorageBytes, m.limits.MaxStorageBytes)
	}

	return result, nil
}

// RecordProcessingAttempt counts one processing event against the
// principal's hourly window. Fire-and-forget: failures are logged inside
// the limiter, never surfaced, so accounting can never fail the pipeline
// that ran the work. The durable usage_events row commits with the note
// results, not here.
func (m *Manager) RecordProcessingAttempt(ctx context.Context, userID uuid.UUID) {
	m.windows.RecordN(ctx, processingKey(userID), processingWindow, 1)
}

// RecordTokenUsage counts tokens against the principal's daily budget.
// Fire-and-forget, same as RecordProcessingAttempt.
func (m *Manager) RecordTokenUsage(ctx context.Context, userID uuid.UUID, tokens int64) {
	if tokens <= 0 {
		return
	}
	m.windows.RecordN(ctx, tokenKey(userID), tokenWindow, tokens)
}

// GetQuotaStatus returns the principal's usage, limits and per-dimension
// percentages clamped to [0,100].
func (m *Manager) GetQuotaStatus(ctx context.Context, userID uuid.UUID) (Status, error) {
	usage, err := m.currentUsage(ctx, userID)
	if err != nil {
		return Status{}, fmt.Errorf("failed to compute quota usage: %w", err)
	}

	return Status{
		Usage:  usage,
		Limits: m.limits,
		Percentages: map[string]float64{
			"notes":      percentage(float64(usage.NoteCount), float64(m.limits.MaxNotesPerUser)),
			"processing": percentage(float64(usage.ProcessingLastHour), float64(m.limits.MaxProcessingPerHour)),
			"tokens":     percentage(float64(usage.TokensLastDay), float64(m.limits.MaxTokensPerDay)),
			"storage":    percentage(float64(usage.StorageBytes), float64(m.limits.MaxStorageBytes)),
		},
	}, nil
}

func (m *Manager) currentUsage(ctx context.Context, userID uuid.UUID) (Usage, error) {
	noteCount, err := m.notes.CountNotesByUser(ctx, userID)
	if err != nil {
		return Usage{}, err
	}

	storageBytes, err := m.notes.SumStorageByUser(ctx, userID)
	if err != nil {
		return Usage{}, err
	}

	processing, err := m.windowCount(ctx, processingKey(userID), processingWindow,
		store.UsageKindProcessing, userID)
	if err != nil {
		return Usage{}, err
	}

	tokens, err := m.windowCount(ctx, tokenKey(userID), tokenWindow,
		store.UsageKindTokens, userID)
	if err != nil {
		return Usage{}, err
	}

	return Usage{
		NoteCount:          noteCount,
		ProcessingLastHour: processing,
		TokensLastDay:      tokens,
		StorageBytes:       storageBytes,
	}, nil
}

// windowCount reads a quota window from the counter store, falling back to
// the durable usage trail in Postgres when the counter store is unreachable.
// Both sources failing propagates the error so checks stay fail-closed.
func (m *Manager) windowCount(
	ctx context.Context,
	key string,
	window time.Duration,
	kind string,
	userID uuid.UUID,
) (int64, error) {
	count, err := m.windows.PeekDurable(ctx, key, window)
	if err == nil {
		return count, nil
	}

	m.logger.Warn("counter store unavailable, using durable usage trail",
		"user_id", userID,
		"kind", kind,
		"error", err)
	return m.usage.SumSince(ctx, userID, kind, m.clock().UTC().Add(-window))
}

func processingKey(userID uuid.UUID) string {
	return "quota:processing:" + userID.String()
}

func tokenKey(userID uuid.UUID) string {
	return "quota:tokens:" + userID.String()
}

// percentage returns used/limit as a percentage clamped to [0,100].
func percentage(used, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	p := used / limit * 100
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
