package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestJobFiresAfterInterval(t *testing.T) {
	var runs atomic.Int32
	s := New(2, func(ctx context.Context, userID int64) {
		runs.Add(1)
	})
	defer s.Stop()

	s.Upsert(1, 50*time.Millisecond)

	// First run waits a full interval.
	time.Sleep(20 * time.Millisecond)
	if n := runs.Load(); n != 0 {
		t.Errorf("job fired before the first interval: %d runs", n)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && runs.Load() < 2 {
		time.Sleep(10 * time.Millisecond)
	}
	if n := runs.Load(); n < 2 {
		t.Errorf("expected repeated runs, got %d", n)
	}
}

func TestUpsertReplacesJob(t *testing.T) {
	s := New(2, func(ctx context.Context, userID int64) {})
	defer s.Stop()

	s.Upsert(1, time.Hour)
	s.Upsert(1, 2*time.Hour)

	if got := s.Interval(1); got != 2*time.Hour {
		t.Errorf("interval = %v, want 2h", got)
	}
	if m := s.Metrics(); m.ActiveJobs != 1 {
		t.Errorf("active jobs = %d, want 1 after replace", m.ActiveJobs)
	}
}

func TestUpsertDoesNotBlockOnRunningCheck(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	s := New(1, func(ctx context.Context, userID int64) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})
	defer s.Stop()
	defer close(release)

	s.Upsert(1, 20*time.Millisecond)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("check never started")
	}

	done := make(chan struct{})
	go func() {
		s.Upsert(1, time.Hour)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Upsert blocked behind a check in flight")
	}
	if got := s.Interval(1); got != time.Hour {
		t.Errorf("interval = %v, want 1h", got)
	}
}

func TestRemoveStopsJob(t *testing.T) {
	var runs atomic.Int32
	s := New(2, func(ctx context.Context, userID int64) {
		runs.Add(1)
	})
	defer s.Stop()

	s.Upsert(1, 30*time.Millisecond)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && runs.Load() == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	s.Remove(1)
	after := runs.Load()
	time.Sleep(100 * time.Millisecond)
	if runs.Load() != after {
		t.Error("job kept running after Remove")
	}
	if m := s.Metrics(); m.ActiveJobs != 0 {
		t.Errorf("active jobs = %d, want 0", m.ActiveJobs)
	}
}

func TestConcurrencyCap(t *testing.T) {
	var active, peak int32
	var mu sync.Mutex

	s := New(2, func(ctx context.Context, userID int64) {
		cur := atomic.AddInt32(&active, 1)
		mu.Lock()
		if cur > peak {
			peak = cur
		}
		mu.Unlock()
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&active, -1)
	})
	defer s.Stop()

	var wg sync.WaitGroup
	for i := int64(1); i <= 6; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			s.TriggerNow(context.Background(), id)
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestStopWaitsForGoroutines(t *testing.T) {
	s := New(2, func(ctx context.Context, userID int64) {})
	for i := int64(1); i <= 5; i++ {
		s.Upsert(i, time.Hour)
	}
	s.Stop()

	if m := s.Metrics(); m.ActiveJobs != 0 {
		t.Errorf("active jobs after Stop = %d", m.ActiveJobs)
	}
}

func TestUpsertAfterStopIsNoop(t *testing.T) {
	s := New(1, func(ctx context.Context, userID int64) {})
	s.Stop()

	s.Upsert(1, time.Hour)
	if m := s.Metrics(); m.ActiveJobs != 0 {
		t.Errorf("job scheduled after Stop: %d active", m.ActiveJobs)
	}
}
