// Package scheduler runs the per-user periodic market checks.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"cryptosignal/internal/logging"
)

// CheckFunc performs one market check for a user.
type CheckFunc func(ctx context.Context, userID int64)

// Metrics counts scheduler activity.
type Metrics struct {
	RunsStarted   int64
	RunsCompleted int64
	RunsSkipped   int64
	ActiveJobs    int
}

type job struct {
	userID   int64
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// Scheduler owns one repeating job per user. Concurrent check execution
// across users is capped by a slot semaphore.
type Scheduler struct {
	run   CheckFunc
	slots chan struct{}

	mu   sync.Mutex
	jobs map[int64]*job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	runsStarted   atomic.Int64
	runsCompleted atomic.Int64
	runsSkipped   atomic.Int64
}

// New creates a scheduler allowing up to maxConcurrent checks at once.
func New(maxConcurrent int, run CheckFunc) *Scheduler {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		run:    run,
		slots:  make(chan struct{}, maxConcurrent),
		jobs:   make(map[int64]*job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Upsert schedules a repeating check for a user, replacing any existing
// job. The first run fires one interval from now, not immediately. The
// replaced job is cancelled but not waited for, so Upsert never blocks
// behind a check in flight.
func (s *Scheduler) Upsert(userID int64, interval time.Duration) {
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.jobs[userID]; ok {
		old.cancel()
	}
	if s.ctx.Err() != nil {
		return
	}

	jctx, jcancel := context.WithCancel(s.ctx)
	j := &job{
		userID:   userID,
		interval: interval,
		cancel:   jcancel,
		done:     make(chan struct{}),
	}
	s.jobs[userID] = j

	s.wg.Add(1)
	go s.loop(jctx, j)

	logging.Scheduler("Scheduled user %d every %v", userID, interval)
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	defer s.wg.Done()
	defer close(j.done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.execute(ctx, j.userID)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, userID int64) {
	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		s.runsSkipped.Add(1)
		return
	}
	defer func() { <-s.slots }()

	s.runsStarted.Add(1)
	logging.SchedulerDebug("Running check for user %d", userID)
	s.run(ctx, userID)
	s.runsCompleted.Add(1)
}

// TriggerNow runs one check for a user immediately, outside its schedule.
// It still respects the concurrency cap.
func (s *Scheduler) TriggerNow(ctx context.Context, userID int64) {
	s.execute(ctx, userID)
}

// Remove stops the job for a user and waits for its goroutine to exit.
func (s *Scheduler) Remove(userID int64) {
	s.mu.Lock()
	j, ok := s.jobs[userID]
	if ok {
		delete(s.jobs, userID)
	}
	s.mu.Unlock()

	if ok {
		j.cancel()
		<-j.done
		logging.Scheduler("Removed job for user %d", userID)
	}
}

// Interval returns the configured interval for a user's job, or zero
// when no job exists.
func (s *Scheduler) Interval(userID int64) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[userID]; ok {
		return j.interval
	}
	return 0
}

// Metrics returns a snapshot of scheduler counters.
func (s *Scheduler) Metrics() Metrics {
	s.mu.Lock()
	active := len(s.jobs)
	s.mu.Unlock()

	return Metrics{
		RunsStarted:   s.runsStarted.Load(),
		RunsCompleted: s.runsCompleted.Load(),
		RunsSkipped:   s.runsSkipped.Load(),
		ActiveJobs:    active,
	}
}

// Stop cancels every job and blocks until all goroutines have exited.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.jobs = make(map[int64]*job)
	s.mu.Unlock()

	logging.Scheduler("Scheduler stopped (started=%d completed=%d)", s.runsStarted.Load(), s.runsCompleted.Load())
}
