package timer

import (
	"container/heap"
	"sync"
	"time"
)

// Task is a callback scheduled for a point in time
type Task struct {
	ID       string
	ExpiryAt time.Time
	Callback func()
	index    int // index in the heap (for heap.Interface)
}

// taskHeap is a min-heap of Tasks ordered by ExpiryAt
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	return h[i].ExpiryAt.Before(h[j].ExpiryAt)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x interface{}) {
	task := x.(*Task)
	task.index = len(*h)
	*h = append(*h, task)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	task.index = -1
	*h = old[0 : n-1]
	return task
}

// Scheduler runs one-shot and recurring tasks from a single min-heap.
// Expired callbacks are handed to a fixed pool of worker goroutines, so a
// callback never runs on the scheduling loop itself.
type Scheduler struct {
	heap      taskHeap
	mu        sync.Mutex
	wakeup    chan struct{}
	tasks     map[string]*Task  // for O(1) lookup by ID
	recurring map[string]uint64 // ID -> generation of the live Every registration
	gen       uint64
	jobs      chan func()
	workers   int
	wg        sync.WaitGroup
	started   bool
	stopped   bool
	stopCh    chan struct{}
}

// NewScheduler creates a scheduler with the given number of workers
func NewScheduler(workers int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	s := &Scheduler{
		heap:      make(taskHeap, 0),
		wakeup:    make(chan struct{}, 1),
		tasks:     make(map[string]*Task),
		recurring: make(map[string]uint64),
		jobs:      make(chan func(), workers),
		workers:   workers,
		stopCh:    make(chan struct{}),
	}
	heap.Init(&s.heap)
	return s
}

// Start launches the workers and the scheduling loop
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	s.wg.Add(1)
	go s.run()
}

// Stop halts the scheduler and waits for running callbacks to return.
// Pending tasks are dropped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
}

// Schedule runs callback once at expiryAt. An existing task with the same ID
// is replaced.
func (s *Scheduler) Schedule(id string, expiryAt time.Time, callback func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}

	delete(s.recurring, id)
	s.scheduleLocked(id, expiryAt, callback)
	return nil
}

// Every runs callback every period, starting one period from now, until
// Cancel(id) or Stop. The next run is armed before the callback executes so
// the period does not drift with callback duration.
func (s *Scheduler) Every(id string, period time.Duration, callback func()) error {
	if period <= 0 {
		return ErrInvalidPeriod
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}

	s.gen++
	gen := s.gen
	s.recurring[id] = gen

	var fire func()
	next := time.Now().Add(period)
	fire = func() {
		s.mu.Lock()
		if s.stopped || s.recurring[id] != gen {
			s.mu.Unlock()
			return
		}
		next = next.Add(period)
		if now := time.Now(); next.Before(now) {
			next = now.Add(period)
		}
		s.scheduleLocked(id, next, fire)
		s.mu.Unlock()

		callback()
	}

	s.scheduleLocked(id, next, fire)
	return nil
}

func (s *Scheduler) scheduleLocked(id string, expiryAt time.Time, callback func()) {
	if existing, ok := s.tasks[id]; ok {
		heap.Remove(&s.heap, existing.index)
		delete(s.tasks, id)
	}

	task := &Task{
		ID:       id,
		ExpiryAt: expiryAt,
		Callback: callback,
	}

	heap.Push(&s.heap, task)
	s.tasks[id] = task

	// Wake up the loop if this is the earliest task
	if s.heap[0] == task {
		select {
		case s.wakeup <- struct{}{}:
		default:
		}
	}
}

// Cancel removes a scheduled or recurring task
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, recurring := s.recurring[id]
	delete(s.recurring, id)

	task, ok := s.tasks[id]
	if !ok {
		return recurring
	}

	heap.Remove(&s.heap, task.index)
	delete(s.tasks, id)
	return true
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	for {
		s.mu.Lock()

		var waitDuration time.Duration
		if s.heap.Len() == 0 {
			waitDuration = 24 * time.Hour
		} else {
			next := s.heap[0]
			waitDuration = time.Until(next.ExpiryAt)

			if waitDuration <= 0 {
				task := heap.Pop(&s.heap).(*Task)
				delete(s.tasks, task.ID)
				s.mu.Unlock()

				select {
				case s.jobs <- task.Callback:
				case <-s.stopCh:
					return
				}
				continue
			}
		}

		s.mu.Unlock()

		timer := time.NewTimer(waitDuration)
		select {
		case <-timer.C:
		case <-s.wakeup:
			timer.Stop()
		case <-s.stopCh:
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()

	for {
		select {
		case job := <-s.jobs:
			job()
		case <-s.stopCh:
			return
		}
	}
}

// Stats returns statistics about the scheduler
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		ScheduledTasks: len(s.tasks),
		RecurringTasks: len(s.recurring),
		Workers:        s.workers,
	}
}

// Stats contains statistics about the scheduler
type Stats struct {
	ScheduledTasks int
	RecurringTasks int
	Workers        int
}

var (
	ErrSchedulerStopped = &TimerError{"scheduler is stopped"}
	ErrInvalidPeriod    = &TimerError{"period must be positive"}
)

// TimerError represents a timer error
type TimerError struct {
	msg string
}

func (e *TimerError) Error() string {
	return e.msg
}
