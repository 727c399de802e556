package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler drives the queue with a periodic tick. It is an explicitly
// constructed loop rather than a hidden timer: tests that need determinism
// skip the scheduler entirely and call ProcessPendingJobs directly, and
// deployments using external cron simply never start it.
type Scheduler struct {
	queue    *Queue
	interval time.Duration
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler ticking at the given interval.
func NewScheduler(queue *Queue, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		queue:    queue,
		interval: interval,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins the tick loop in a background goroutine.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
	s.logger.Info("job scheduler started", "interval", s.interval.String())
}

// Stop cancels the loop and waits for the in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info("job scheduler stopped")
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-ticker.C:
			summary, err := s.queue.ProcessPendingJobs(s.ctx)
			if err != nil {
				s.logger.Error("scheduled job tick failed", "error", err)
				continue
			}
			if summary.Processed+summary.Failed+summary.Requeued > 0 {
				s.logger.Debug("scheduled job tick finished",
					"processed", summary.Processed,
					"failed", summary.Failed,
					"requeued", summary.Requeued)
			}
		}
	}
}
