package timer

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_Schedule(t *testing.T) {
	s := NewScheduler(2)
	s.Start()
	defer s.Stop()

	var executed atomic.Bool

	err := s.Schedule("test1", time.Now().Add(50*time.Millisecond), func() {
		executed.Store(true)
	})
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	time.Sleep(200 * time.Millisecond)

	if !executed.Load() {
		t.Error("Task was not executed")
	}
}

func TestScheduler_Cancel(t *testing.T) {
	s := NewScheduler(2)
	s.Start()
	defer s.Stop()

	var executed atomic.Bool

	if err := s.Schedule("test1", time.Now().Add(100*time.Millisecond), func() {
		executed.Store(true)
	}); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	if !s.Cancel("test1") {
		t.Error("Cancel returned false")
	}

	time.Sleep(200 * time.Millisecond)

	if executed.Load() {
		t.Error("Task was executed despite being cancelled")
	}
}

func TestScheduler_MultipleTasksOrdering(t *testing.T) {
	s := NewScheduler(1)
	s.Start()
	defer s.Stop()

	var results []int
	var mu sync.Mutex
	record := func(n int) func() {
		return func() {
			mu.Lock()
			results = append(results, n)
			mu.Unlock()
		}
	}

	// Schedule tasks in reverse order
	s.Schedule("task3", time.Now().Add(150*time.Millisecond), record(3))
	s.Schedule("task1", time.Now().Add(50*time.Millisecond), record(1))
	s.Schedule("task2", time.Now().Add(100*time.Millisecond), record(2))

	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	if results[0] != 1 || results[1] != 2 || results[2] != 3 {
		t.Errorf("Tasks executed in wrong order: %v", results)
	}
}

func TestScheduler_RescheduleExisting(t *testing.T) {
	s := NewScheduler(2)
	s.Start()
	defer s.Stop()

	var count atomic.Int32

	s.Schedule("test1", time.Now().Add(100*time.Millisecond), func() { count.Add(1) })
	// Same ID replaces the first task
	s.Schedule("test1", time.Now().Add(50*time.Millisecond), func() { count.Add(10) })

	time.Sleep(200 * time.Millisecond)

	if got := count.Load(); got != 10 {
		t.Errorf("Expected count=10 (only second task), got %d", got)
	}
}

func TestScheduler_Every(t *testing.T) {
	s := NewScheduler(2)
	s.Start()
	defer s.Stop()

	var ticks atomic.Int32
	if err := s.Every("anim", 20*time.Millisecond, func() { ticks.Add(1) }); err != nil {
		t.Fatalf("Every failed: %v", err)
	}

	time.Sleep(150 * time.Millisecond)

	if got := ticks.Load(); got < 3 {
		t.Errorf("Expected at least 3 ticks, got %d", got)
	}
}

func TestScheduler_EveryCancel(t *testing.T) {
	s := NewScheduler(2)
	s.Start()
	defer s.Stop()

	var ticks atomic.Int32
	s.Every("anim", 20*time.Millisecond, func() { ticks.Add(1) })

	time.Sleep(70 * time.Millisecond)
	if !s.Cancel("anim") {
		t.Fatal("Cancel returned false for recurring task")
	}
	time.Sleep(30 * time.Millisecond)
	after := ticks.Load()

	time.Sleep(100 * time.Millisecond)
	if got := ticks.Load(); got != after {
		t.Errorf("Recurring task kept firing after cancel: %d -> %d", after, got)
	}

	stats := s.Stats()
	if stats.RecurringTasks != 0 || stats.ScheduledTasks != 0 {
		t.Errorf("Expected no tasks after cancel, got %+v", stats)
	}
}

func TestScheduler_EveryInvalidPeriod(t *testing.T) {
	s := NewScheduler(1)
	if err := s.Every("x", 0, func() {}); err != ErrInvalidPeriod {
		t.Errorf("Expected ErrInvalidPeriod, got %v", err)
	}
}

func TestScheduler_StoppedRejects(t *testing.T) {
	s := NewScheduler(1)
	s.Start()
	s.Stop()
	s.Stop() // idempotent

	if err := s.Schedule("x", time.Now(), func() {}); err != ErrSchedulerStopped {
		t.Errorf("Expected ErrSchedulerStopped, got %v", err)
	}
	if err := s.Every("y", time.Second, func() {}); err != ErrSchedulerStopped {
		t.Errorf("Expected ErrSchedulerStopped, got %v", err)
	}
}

func TestScheduler_Stats(t *testing.T) {
	s := NewScheduler(5)
	s.Start()
	defer s.Stop()

	s.Schedule("task1", time.Now().Add(1*time.Hour), func() {})
	s.Schedule("task2", time.Now().Add(2*time.Hour), func() {})
	s.Every("task3", time.Hour, func() {})

	stats := s.Stats()
	if stats.ScheduledTasks != 3 {
		t.Errorf("Expected 3 scheduled tasks, got %d", stats.ScheduledTasks)
	}
	if stats.RecurringTasks != 1 {
		t.Errorf("Expected 1 recurring task, got %d", stats.RecurringTasks)
	}
	if stats.Workers != 5 {
		t.Errorf("Expected 5 workers, got %d", stats.Workers)
	}
}
