package processing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/verbatimhq/verbatim-api/internal/circuit"
	"github.com/verbatimhq/verbatim-api/internal/domain"
	"github.com/verbatimhq/verbatim-api/internal/jobs"
	"github.com/verbatimhq/verbatim-api/internal/lock"
	"github.com/verbatimhq/verbatim-api/internal/provider"
	"github.com/verbatimhq/verbatim-api/internal/quota"
	"github.com/verbatimhq/verbatim-api/internal/ratelimit"
	"github.com/verbatimhq/verbatim-api/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockNoteStore is an in-memory store.NoteStore.
type mockNoteStore struct {
	mu    sync.Mutex
	notes map[uuid.UUID]*domain.Note
}

func newMockNoteStore() *mockNoteStore {
	return &mockNoteStore{notes: make(map[uuid.UUID]*domain.Note)}
}

func (s *mockNoteStore) CreateNote(ctx context.Context, note *domain.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *note
	s.notes[note.ID] = &cp
	return nil
}

func (s *mockNoteStore) GetNote(ctx context.Context, id uuid.UUID) (*domain.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	note, ok := s.notes[id]
	if !ok {
		return nil, store.ErrNoteNotFound
	}
	cp := *note
	return &cp, nil
}

func (s *mockNoteStore) GetNotesReadyForProcessing(ctx context.Context, maxAttempts, limit int) ([]*domain.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var eligible []*domain.Note
	for _, note := range s.notes {
		if note.Status == domain.NoteStatusPending ||
			(note.Status == domain.NoteStatusFailed && note.ProcessingAttempts < maxAttempts) {
			cp := *note
			eligible = append(eligible, &cp)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}
	return eligible, nil
}

func (s *mockNoteStore) UpdateNoteResults(ctx context.Context, note *domain.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notes[note.ID]; !ok {
		return store.ErrNoteNotFound
	}
	cp := *note
	s.notes[note.ID] = &cp
	return nil
}

func (s *mockNoteStore) UpdateNoteStatus(ctx context.Context, id uuid.UUID, status domain.NoteStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	note, ok := s.notes[id]
	if !ok {
		return store.ErrNoteNotFound
	}
	note.Status = status
	note.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *mockNoteStore) RecordNoteFailure(ctx context.Context, id uuid.UUID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	note, ok := s.notes[id]
	if !ok {
		return store.ErrNoteNotFound
	}
	note.Status = domain.NoteStatusFailed
	note.ProcessingAttempts++
	note.LastProcessingError = errMsg
	note.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *mockNoteStore) RecoverStuckNotes(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, note := range s.notes {
		if note.Status == domain.NoteStatusProcessing && note.UpdatedAt.Before(cutoff) {
			note.Status = domain.NoteStatusPending
			note.UpdatedAt = time.Now().UTC()
			count++
		}
	}
	return count, nil
}

func (s *mockNoteStore) CountNotesByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, note := range s.notes {
		if note.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (s *mockNoteStore) SumStorageByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, note := range s.notes {
		if note.UserID == userID {
			total += note.SizeBytes
		}
	}
	return total, nil
}

func (s *mockNoteStore) WithTx(tx *sql.Tx) store.NoteStore { return s }

// memoryLockStore is an in-memory lock.Store.
type memoryLockStore struct {
	mu    sync.Mutex
	locks map[string]*lock.Lock
}

func newMemoryLockStore() *memoryLockStore {
	return &memoryLockStore{locks: make(map[string]*lock.Lock)}
}

func (s *memoryLockStore) Upsert(ctx context.Context, l *lock.Lock) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.locks[l.ResourceID]
	if ok && existing.ExpiresAt.After(l.AcquiredAt) {
		return false, nil
	}
	cp := *l
	s.locks[l.ResourceID] = &cp
	return true, nil
}

func (s *memoryLockStore) Delete(ctx context.Context, resourceID string, holder uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[resourceID]; ok && l.HolderToken == holder {
		delete(s.locks, resourceID)
	}
	return nil
}

func (s *memoryLockStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for id, l := range s.locks {
		if l.ExpiresAt.Before(now) {
			delete(s.locks, id)
			count++
		}
	}
	return count, nil
}

// memoryWindowStore is an in-memory ratelimit.WindowStore.
type memoryWindowStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newMemoryWindowStore() *memoryWindowStore {
	return &memoryWindowStore{counts: make(map[string]int64)}
}

func (s *memoryWindowStore) IncrBy(ctx context.Context, key string, window time.Duration, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[key] += delta
	return s.counts[key], nil
}

func (s *memoryWindowStore) Get(ctx context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[key], nil
}

// mockUsageStore discards usage events.
type mockUsageStore struct{}

func (s *mockUsageStore) RecordEvent(ctx context.Context, ev *store.UsageEvent) error { return nil }
func (s *mockUsageStore) SumSince(ctx context.Context, userID uuid.UUID, kind string, since time.Time) (int64, error) {
	return 0, nil
}
func (s *mockUsageStore) WithTx(tx *sql.Tx) store.UsageStore { return s }

// memoryResultsStore persists note results to the mock note store and keeps
// the usage events for assertions.
type memoryResultsStore struct {
	notes *mockNoteStore

	mu     sync.Mutex
	events []*store.UsageEvent
	err    error
}

func (s *memoryResultsStore) SaveResults(ctx context.Context, note *domain.Note, events []*store.UsageEvent) error {
	s.mu.Lock()
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if err := s.notes.UpdateNoteResults(ctx, note); err != nil {
		return err
	}

	s.mu.Lock()
	s.events = append(s.events, events...)
	s.mu.Unlock()
	return nil
}

func (s *memoryResultsStore) recordedEvents() []*store.UsageEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*store.UsageEvent(nil), s.events...)
}

// stubTranscriber returns a fixed transcript or an injected error.
type stubTranscriber struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (*provider.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &provider.Transcript{Text: "hello from the transcript", TokensUsed: 100}, nil
}

func (s *stubTranscriber) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// stubAnalyzer returns a fixed analysis or an injected error.
type stubAnalyzer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubAnalyzer) Analyze(ctx context.Context, text string, actx provider.AnalysisContext) (*provider.Analysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &provider.Analysis{
		Summary:    "a short summary",
		Tasks:      []string{"do the thing"},
		Tags:       []string{"test"},
		TokensUsed: 50,
	}, nil
}

// stubFetcher returns fixed audio bytes.
type stubFetcher struct {
	err error
}

func (s *stubFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []byte("audio-bytes"), nil
}

// testHarness bundles the orchestrator with its collaborators.
type testHarness struct {
	orchestrator *Orchestrator
	notes        *mockNoteStore
	results      *memoryResultsStore
	locks        *lock.Manager
	breaker      *circuit.Breaker
	transcriber  *stubTranscriber
	analyzer     *stubAnalyzer
	fetcher      *stubFetcher
	lockStore    *memoryLockStore
}

func newTestHarness(t *testing.T, cfg Config, limits quota.Limits) *testHarness {
	t.Helper()

	notes := newMockNoteStore()
	results := &memoryResultsStore{notes: notes}
	lockStore := newMemoryLockStore()
	locks := lock.NewManager(lockStore, testLogger())
	limiter := ratelimit.NewLimiter(newMemoryWindowStore(), testLogger())
	quotas := quota.NewManager(notes, &mockUsageStore{}, limiter, limits, testLogger())
	breaker := circuit.NewBreaker(circuit.Config{FailureThreshold: 5, ResetTimeout: time.Minute}, testLogger())
	transcriber := &stubTranscriber{}
	analyzer := &stubAnalyzer{}
	fetcher := &stubFetcher{}

	if cfg.CallBaseDelay == 0 {
		cfg.CallBaseDelay = time.Millisecond
	}

	orch, err := NewOrchestrator(
		notes, results, locks, quotas, limiter, breaker,
		transcriber, analyzer, fetcher, cfg, testLogger(),
	)
	require.NoError(t, err)

	return &testHarness{
		orchestrator: orch,
		notes:        notes,
		results:      results,
		locks:        locks,
		breaker:      breaker,
		transcriber:  transcriber,
		analyzer:     analyzer,
		fetcher:      fetcher,
		lockStore:    lockStore,
	}
}

func generousLimits() quota.Limits {
	return quota.Limits{
		MaxNotesPerUser:      1000,
		MaxProcessingPerHour: 1000,
		MaxTokensPerDay:      1 << 30,
		MaxStorageBytes:      1 << 40,
	}
}

func addPendingNote(t *testing.T, notes *mockNoteStore, userID uuid.UUID) *domain.Note {
	t.Helper()
	note, err := domain.NewNote(userID, "test note", "https://blobs.example.com/a.ogg", "audio/ogg", 512)
	require.NoError(t, err)
	require.NoError(t, notes.CreateNote(context.Background(), note))
	return note
}

func TestProcessBatchHappyPath(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, Config{}, generousLimits())
	note := addPendingNote(t, h.notes, uuid.New())

	summary, err := h.orchestrator.ProcessBatch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, BatchSummary{Processed: 1}, summary)

	stored, err := h.notes.GetNote(context.Background(), note.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NoteStatusCompleted, stored.Status)
	assert.Equal(t, "hello from the transcript", stored.Transcript)
	require.NotNil(t, stored.ProcessedAt)

	var analysis domain.Analysis
	require.NoError(t, json.Unmarshal(stored.Analysis, &analysis))
	assert.Equal(t, "a short summary", analysis.Summary)
	assert.Equal(t, []string{"do the thing"}, analysis.Tasks)

	// The usage events of the run were saved with the results.
	events := h.results.recordedEvents()
	require.Len(t, events, 2)
	assert.Equal(t, store.UsageKindProcessing, events[0].Kind)
	assert.Equal(t, int64(1), events[0].Amount)
	assert.Equal(t, store.UsageKindTokens, events[1].Kind)
	assert.Equal(t, int64(150), events[1].Amount)
	for _, ev := range events {
		assert.Equal(t, note.UserID, ev.UserID)
	}

	// The lock was released after processing.
	h.lockStore.mu.Lock()
	assert.Empty(t, h.lockStore.locks)
	h.lockStore.mu.Unlock()
}

func TestProcessBatchEmptySelection(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, Config{}, generousLimits())

	summary, err := h.orchestrator.ProcessBatch(context.Background())

	require.NoError(t, err)
	assert.Zero(t, summary)
	assert.Zero(t, h.transcriber.callCount())
}

func TestProcessBatchSkipsLockedNotes(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, Config{}, generousLimits())
	note := addPendingNote(t, h.notes, uuid.New())

	// Another processor holds the note's lock.
	foreign := lock.NewManager(h.lockStore, testLogger())
	acquired, err := foreign.Acquire(context.Background(), "note:"+note.ID.String(), time.Hour)
	require.NoError(t, err)
	require.True(t, acquired)

	summary, err := h.orchestrator.ProcessBatch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, BatchSummary{Skipped: 1}, summary)
	assert.Zero(t, h.transcriber.callCount())

	stored, err := h.notes.GetNote(context.Background(), note.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NoteStatusPending, stored.Status, "skipped notes stay eligible")
	assert.Zero(t, stored.ProcessingAttempts, "skipping must not burn an attempt")
}

func TestProcessBatchQuotaDenialSkipsPrincipal(t *testing.T) {
	t.Parallel()

	limits := generousLimits()
	limits.MaxProcessingPerHour = 1
	h := newTestHarness(t, Config{MaxConcurrency: 1}, limits)

	userID := uuid.New()
	first := addPendingNote(t, h.notes, userID)
	second := addPendingNote(t, h.notes, userID)

	// First pass: one note processed; its accounting exhausts the hourly
	// processing quota.
	summary, err := h.orchestrator.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Skipped)

	var completed, pending int
	for _, id := range []uuid.UUID{first.ID, second.ID} {
		stored, err := h.notes.GetNote(context.Background(), id)
		require.NoError(t, err)
		switch stored.Status {
		case domain.NoteStatusCompleted:
			completed++
		case domain.NoteStatusPending:
			pending++
			assert.Zero(t, stored.ProcessingAttempts, "quota denial must not burn an attempt")
		}
	}
	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, pending)

	// Second pass: the principal is over quota, nothing runs.
	summary, err = h.orchestrator.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Processed)
	assert.Equal(t, 1, summary.Skipped)
}

func TestProcessBatchRateLimiterDefersNotes(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, Config{
		MaxConcurrency:    1,
		ProviderRateLimit: 1,
		RateWindow:        time.Hour,
	}, generousLimits())

	userID := uuid.New()
	addPendingNote(t, h.notes, userID)
	time.Sleep(2 * time.Millisecond) // distinct CreatedAt for deterministic order
	deferred := addPendingNote(t, h.notes, userID)

	summary, err := h.orchestrator.ProcessBatch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Skipped)

	stored, err := h.notes.GetNote(context.Background(), deferred.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NoteStatusPending, stored.Status, "deferred notes return to pending")
	assert.Zero(t, stored.ProcessingAttempts, "deferral must not burn an attempt")
}

func TestProcessBatchRecordsProviderFailure(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, Config{MaxCallAttempts: 3}, generousLimits())
	h.transcriber.err = provider.Errorf(provider.KindServer, "internal error")
	note := addPendingNote(t, h.notes, uuid.New())

	summary, err := h.orchestrator.ProcessBatch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, BatchSummary{Failed: 1}, summary)
	assert.Equal(t, 3, h.transcriber.callCount(), "transient errors consume the call retry budget")

	stored, err := h.notes.GetNote(context.Background(), note.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NoteStatusFailed, stored.Status)
	assert.Equal(t, 1, stored.ProcessingAttempts)
	assert.Contains(t, stored.LastProcessingError, "transcription failed")
}

func TestProcessBatchNonTransientFailureSkipsRetries(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, Config{MaxCallAttempts: 3}, generousLimits())
	h.transcriber.err = provider.Errorf(provider.KindAuth, "invalid API key")
	addPendingNote(t, h.notes, uuid.New())

	summary, err := h.orchestrator.ProcessBatch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, BatchSummary{Failed: 1}, summary)
	assert.Equal(t, 1, h.transcriber.callCount(), "auth errors are not retried")
}

func TestProcessBatchFailsFastWhenBreakerOpen(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, Config{MaxCallAttempts: 3}, generousLimits())
	for i := 0; i < 5; i++ {
		h.breaker.RecordFailure("server")
	}
	require.Equal(t, circuit.StateOpen, h.breaker.Status().State)

	note := addPendingNote(t, h.notes, uuid.New())

	summary, err := h.orchestrator.ProcessBatch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, BatchSummary{Failed: 1}, summary)
	assert.Zero(t, h.transcriber.callCount(), "an open breaker must block the provider call entirely")

	stored, err := h.notes.GetNote(context.Background(), note.ID)
	require.NoError(t, err)
	assert.Contains(t, stored.LastProcessingError, circuit.ErrOpen.Error())
}

func TestProcessBatchFailureFeedsBreaker(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, Config{MaxCallAttempts: 2}, generousLimits())
	h.transcriber.err = provider.Errorf(provider.KindTimeout, "deadline exceeded")
	addPendingNote(t, h.notes, uuid.New())

	_, err := h.orchestrator.ProcessBatch(context.Background())
	require.NoError(t, err)

	status := h.breaker.Status()
	assert.Equal(t, 2, status.ConsecutiveFailures)
	assert.Equal(t, int64(2), status.FailuresByKind[string(provider.KindTimeout)])
}

func TestProcessBatchSweepsExpiredLocks(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, Config{}, generousLimits())
	note := addPendingNote(t, h.notes, uuid.New())

	// A crashed processor left an expired lock behind.
	h.lockStore.mu.Lock()
	h.lockStore.locks["note:"+note.ID.String()] = &lock.Lock{
		ResourceID:  "note:" + note.ID.String(),
		HolderToken: uuid.New(),
		AcquiredAt:  time.Now().UTC().Add(-time.Hour),
		ExpiresAt:   time.Now().UTC().Add(-45 * time.Minute),
	}
	h.lockStore.mu.Unlock()

	summary, err := h.orchestrator.ProcessBatch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, BatchSummary{Processed: 1}, summary, "expired locks are reclaimed before selection")
}

func TestProcessBatchRecoversStuckNotes(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, Config{LockTTL: 15 * time.Minute}, generousLimits())

	// A worker died mid-pipeline an hour ago, leaving its note marked
	// processing with no lock.
	stuck := addPendingNote(t, h.notes, uuid.New())
	h.notes.mu.Lock()
	h.notes.notes[stuck.ID].Status = domain.NoteStatusProcessing
	h.notes.notes[stuck.ID].UpdatedAt = time.Now().UTC().Add(-time.Hour)
	h.notes.mu.Unlock()

	summary, err := h.orchestrator.ProcessBatch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, BatchSummary{Processed: 1}, summary, "abandoned notes re-enter selection")

	stored, err := h.notes.GetNote(context.Background(), stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NoteStatusCompleted, stored.Status)
}

func TestProcessBatchLeavesFreshProcessingNotesAlone(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, Config{LockTTL: 15 * time.Minute}, generousLimits())

	// Another worker picked this note up moments ago; it is live, not stuck.
	active := addPendingNote(t, h.notes, uuid.New())
	h.notes.mu.Lock()
	h.notes.notes[active.ID].Status = domain.NoteStatusProcessing
	h.notes.notes[active.ID].UpdatedAt = time.Now().UTC()
	h.notes.mu.Unlock()

	summary, err := h.orchestrator.ProcessBatch(context.Background())

	require.NoError(t, err)
	assert.Zero(t, summary)

	stored, err := h.notes.GetNote(context.Background(), active.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NoteStatusProcessing, stored.Status)
}

func TestProcessBatchResultsSaveFailureIsRecorded(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, Config{}, generousLimits())
	h.results.err = errors.New("transaction failed")
	note := addPendingNote(t, h.notes, uuid.New())

	summary, err := h.orchestrator.ProcessBatch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, BatchSummary{Failed: 1}, summary)

	stored, err := h.notes.GetNote(context.Background(), note.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NoteStatusFailed, stored.Status)
	assert.Contains(t, stored.LastProcessingError, "transaction failed")
	assert.Empty(t, h.results.recordedEvents(), "no usage events survive a failed save")
}

func TestFailedNotesRetryUntilAttemptBudget(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, Config{MaxNoteAttempts: 2, MaxCallAttempts: 1}, generousLimits())
	h.transcriber.err = provider.Errorf(provider.KindServer, "internal error")
	note := addPendingNote(t, h.notes, uuid.New())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		summary, err := h.orchestrator.ProcessBatch(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Failed)
	}

	stored, err := h.notes.GetNote(ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.ProcessingAttempts)

	// The attempt budget is exhausted; the note is no longer selected.
	summary, err := h.orchestrator.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary)
}

func TestHandlerRunsBatch(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, Config{}, generousLimits())
	addPendingNote(t, h.notes, uuid.New())

	handler := h.orchestrator.Handler()
	job, err := jobs.NewJob(jobs.TypeNoteProcessing, nil, 0, time.Time{})
	require.NoError(t, err)

	require.NoError(t, handler(context.Background(), job))
	assert.Equal(t, 1, h.transcriber.callCount())
}

func TestHandlerHonorsBatchSizeOverride(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, Config{MaxConcurrency: 1}, generousLimits())
	for i := 0; i < 3; i++ {
		addPendingNote(t, h.notes, uuid.New())
		time.Sleep(time.Millisecond)
	}

	handler := h.orchestrator.Handler()
	payload, err := json.Marshal(map[string]int{"batch_size": 2})
	require.NoError(t, err)
	job, err := jobs.NewJob(jobs.TypeNoteProcessing, payload, 0, time.Time{})
	require.NoError(t, err)

	require.NoError(t, handler(context.Background(), job))
	assert.Equal(t, 2, h.transcriber.callCount(), "the payload batch size caps the pass")
}

func TestNewOrchestratorValidatesDependencies(t *testing.T) {
	t.Parallel()

	notes := newMockNoteStore()
	locks := lock.NewManager(newMemoryLockStore(), testLogger())
	limiter := ratelimit.NewLimiter(newMemoryWindowStore(), testLogger())
	quotas := quota.NewManager(notes, &mockUsageStore{}, limiter, generousLimits(), testLogger())
	breaker := circuit.NewBreaker(circuit.DefaultConfig(), testLogger())

	results := &memoryResultsStore{notes: notes}

	_, err := NewOrchestrator(nil, results, locks, quotas, limiter, breaker,
		&stubTranscriber{}, &stubAnalyzer{}, &stubFetcher{}, Config{}, testLogger())
	assert.Error(t, err)

	_, err = NewOrchestrator(notes, nil, locks, quotas, limiter, breaker,
		&stubTranscriber{}, &stubAnalyzer{}, &stubFetcher{}, Config{}, testLogger())
	assert.Error(t, err)

	_, err = NewOrchestrator(notes, results, locks, quotas, limiter, breaker,
		nil, &stubAnalyzer{}, &stubFetcher{}, Config{}, testLogger())
	assert.Error(t, err)

	_, err = NewOrchestrator(notes, results, locks, quotas, limiter, breaker,
		&stubTranscriber{}, &stubAnalyzer{}, &stubFetcher{}, Config{}, nil)
	assert.Error(t, err)
}

func TestProcessBatchFetchFailureIsRecorded(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, Config{}, generousLimits())
	h.fetcher.err = errors.New("object not found")
	note := addPendingNote(t, h.notes, uuid.New())

	summary, err := h.orchestrator.ProcessBatch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, BatchSummary{Failed: 1}, summary)

	stored, err := h.notes.GetNote(context.Background(), note.ID)
	require.NoError(t, err)
	assert.Contains(t, stored.LastProcessingError, "failed to fetch audio")
}
