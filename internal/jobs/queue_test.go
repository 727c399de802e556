package jobs

import (
	"context"
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
	"github.com/verbatimhq/verbatim-api/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memoryJobStore implements Store in memory with the durable
// implementation's selection ordering.
type memoryJobStore struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]*Job
	nextSeq int64
	err     error
}

func newMemoryJobStore() *memoryJobStore {
	return &memoryJobStore{jobs: make(map[uuid.UUID]*Job)}
}

func (s *memoryJobStore) CreateJob(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}

	s.nextSeq++
	job.Seq = s.nextSeq
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *memoryJobStore) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *memoryJobStore) GetJobsByStatus(ctx context.Context, status Status) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*Job
	for _, job := range s.jobs {
		if job.Status == status {
			cp := *job
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Seq < result[j].Seq })
	return result, nil
}

func (s *memoryJobStore) UpdateJob(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}

	if _, ok := s.jobs[job.ID]; !ok {
		return store.ErrJobNotFound
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *memoryJobStore) CancelPending(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != StatusPending {
		return false, nil
	}
	job.Status = StatusCancelled
	job.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *memoryJobStore) SelectDue(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Job
	for _, job := range s.jobs {
		if job.Status == StatusPending && !job.ScheduledAt.After(now) {
			cp := *job
			due = append(due, &cp)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority < due[j].Priority
		}
		if !due[i].ScheduledAt.Equal(due[j].ScheduledAt) {
			return due[i].ScheduledAt.Before(due[j].ScheduledAt)
		}
		return due[i].Seq < due[j].Seq
	})

	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *memoryJobStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for id, job := range s.jobs {
		if job.Terminal() && job.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			count++
		}
	}
	return count, nil
}

func (s *memoryJobStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[Status]int)
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

func newTestQueue(t *testing.T) (*Queue, *memoryJobStore) {
	t.Helper()
	store := newMemoryJobStore()
	q := NewQueue(store, BatchConfig{BatchSize: 10, MaxAttempts: 3, Retention: 24 * time.Hour}, testLogger())
	return q, store
}

func TestQueueAddAndGetJob(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.AddJob(ctx, TypeNoteProcessing, nil, 100, time.Time{})
	require.NoError(t, err)

	job, err := q.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, TypeNoteProcessing, job.Type)
	assert.Equal(t, StatusPending, job.Status)
	assert.NotZero(t, job.Seq)

	_, err = q.GetJob(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrJobNotFound)
}

func TestQueueAddJobRejectsEmptyType(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)

	_, err := q.AddJob(context.Background(), "", nil, 0, time.Time{})

	assert.ErrorIs(t, err, ErrEmptyJobType)
}

func TestQueueProcessesInDeterministicOrder(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)
	ctx := context.Background()

	var mu sync.Mutex
	var ran []string
	q.RegisterHandler("ordered", func(ctx context.Context, job *Job) error {
		mu.Lock()
		defer mu.Unlock()
		var payload struct {
			Name string `json:"name"`
		}
		require.NoError(t, json.Unmarshal(job.Payload, &payload))
		ran = append(ran, payload.Name)
		return nil
	})

	scheduled := time.Now().UTC().Add(-time.Minute)
	add := func(name string, priority int) {
		payload, err := json.Marshal(map[string]string{"name": name})
		require.NoError(t, err)
		_, err = q.AddJob(ctx, "ordered", payload, priority, scheduled)
		require.NoError(t, err)
	}

	// Insertion order deliberately disagrees with priority order; lower
	// priority values run first, seq breaks the tie.
	add("low-first", 200)
	add("urgent", 0)
	add("mid", 100)
	add("urgent-second", 0)

	summary, err := q.ProcessPendingJobs(ctx)

	require.NoError(t, err)
	assert.Equal(t, 4, summary.Processed)
	assert.Equal(t, []string{"urgent", "urgent-second", "mid", "low-first"}, ran)
}

func TestQueueFutureJobsAreNotDue(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)
	ctx := context.Background()

	ran := false
	q.RegisterHandler("later", func(ctx context.Context, job *Job) error {
		ran = true
		return nil
	})

	_, err := q.AddJob(ctx, "later", nil, 0, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)

	summary, err := q.ProcessPendingJobs(ctx)

	require.NoError(t, err)
	assert.Zero(t, summary.Processed)
	assert.False(t, ran, "a job scheduled in the future must not run")
}

func TestQueueRetriesUntilMaxAttempts(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)
	ctx := context.Background()

	attempts := 0
	q.RegisterHandler("flaky", func(ctx context.Context, job *Job) error {
		attempts++
		return errors.New("boom")
	})

	id, err := q.AddJob(ctx, "flaky", nil, 0, time.Time{})
	require.NoError(t, err)

	// First two ticks requeue the job.
	for i := 0; i < 2; i++ {
		summary, err := q.ProcessPendingJobs(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Requeued)

		job, err := q.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, job.Status)
		assert.Equal(t, "boom", job.LastError)
	}

	// Third tick exhausts the attempt budget.
	summary, err := q.ProcessPendingJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 3, attempts)

	job, err := q.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, "boom", job.LastError)

	// Failed jobs stay failed; the next tick does not pick them up.
	summary, err = q.ProcessPendingJobs(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Processed+summary.Failed+summary.Requeued)
}

func TestQueueMissingHandlerFailsImmediately(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.AddJob(ctx, "unregistered", nil, 0, time.Time{})
	require.NoError(t, err)

	summary, err := q.ProcessPendingJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	job, err := q.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Contains(t, job.LastError, "no handler registered")
}

func TestQueueCancelJob(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)
	ctx := context.Background()
	q.RegisterHandler("work", func(ctx context.Context, job *Job) error { return nil })

	t.Run("pending job is cancelled", func(t *testing.T) {
		id, err := q.AddJob(ctx, "work", nil, 0, time.Now().UTC().Add(time.Hour))
		require.NoError(t, err)

		cancelled, err := q.CancelJob(ctx, id)
		require.NoError(t, err)
		assert.True(t, cancelled)

		job, err := q.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, job.Status)
	})

	t.Run("completed job is not cancelled", func(t *testing.T) {
		id, err := q.AddJob(ctx, "work", nil, 0, time.Time{})
		require.NoError(t, err)
		_, err = q.ProcessPendingJobs(ctx)
		require.NoError(t, err)

		cancelled, err := q.CancelJob(ctx, id)
		require.NoError(t, err)
		assert.False(t, cancelled)

		job, err := q.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, job.Status)
	})
}

func TestQueuePurgeExpired(t *testing.T) {
	t.Parallel()

	q, jobStore := newTestQueue(t)
	ctx := context.Background()
	q.RegisterHandler("work", func(ctx context.Context, job *Job) error { return nil })

	oldID, err := q.AddJob(ctx, "work", nil, 0, time.Time{})
	require.NoError(t, err)
	_, err = q.ProcessPendingJobs(ctx)
	require.NoError(t, err)

	// Age the completed job past the retention window.
	jobStore.mu.Lock()
	jobStore.jobs[oldID].UpdatedAt = time.Now().UTC().Add(-48 * time.Hour)
	jobStore.mu.Unlock()

	pendingID, err := q.AddJob(ctx, "work", nil, 0, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)

	purged, err := q.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, err = q.GetJob(ctx, oldID)
	assert.ErrorIs(t, err, store.ErrJobNotFound)

	_, err = q.GetJob(ctx, pendingID)
	assert.NoError(t, err, "non-terminal jobs are never purged")
}

func TestQueueStats(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)
	ctx := context.Background()
	q.RegisterHandler("work", func(ctx context.Context, job *Job) error { return nil })

	_, err := q.AddJob(ctx, "work", nil, 0, time.Time{})
	require.NoError(t, err)
	_, err = q.AddJob(ctx, "work", nil, 0, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	_, err = q.ProcessPendingJobs(ctx)
	require.NoError(t, err)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Counts[StatusCompleted])
	assert.Equal(t, 1, stats.Counts[StatusPending])
	assert.Equal(t, 2, stats.Total)
}

func TestQueueUpdateBatchConfig(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)

	q.UpdateBatchConfig(BatchConfig{BatchSize: 50})

	cfg := q.BatchConfig()
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 3, cfg.MaxAttempts, "zero-valued fields keep their current values")
	assert.Equal(t, 24*time.Hour, cfg.Retention)
}
