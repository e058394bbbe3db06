package timer

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Job is a recurring unit of work. Each job runs at most once at a time.
type Job func(ctx context.Context)

// task is a job waiting for its next run
type task struct {
	id       string
	dueAt    time.Time
	interval time.Duration
	job      Job
	index    int // index in the heap (for heap.Interface)
}

// taskHeap is a min-heap of tasks ordered by dueAt
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	return h[i].dueAt.Before(h[j].dueAt)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x interface{}) {
	n := len(*h)
	t := x.(*task)
	t.index = n
	*h = append(*h, t)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil // avoid memory leak
	t.index = -1
	*h = old[0 : n-1]
	return t
}

// Scheduler runs recurring jobs from a min-heap on a bounded worker pool. A
// job is rescheduled one interval after its run finishes, so runs of the same
// job never overlap.
type Scheduler struct {
	heap     taskHeap
	mu       sync.Mutex
	wakeup   chan struct{}
	tasks    map[string]*task // for O(1) lookup by ID
	running  map[string]bool
	ready    chan *task
	workers  int
	workerWg sync.WaitGroup
	stopped  bool
	stopCh   chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	now      func() time.Time
}

// NewScheduler creates a new scheduler with a worker pool
func NewScheduler(workers int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		heap:    make(taskHeap, 0),
		wakeup:  make(chan struct{}, 1),
		tasks:   make(map[string]*task),
		running: make(map[string]bool),
		ready:   make(chan *task),
		workers: workers,
		stopCh:  make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		now:     time.Now,
	}
	heap.Init(&s.heap)
	return s
}

// Start starts the scheduler loop and its worker pool
func (s *Scheduler) Start() {
	for i := 0; i < s.workers; i++ {
		s.workerWg.Add(1)
		go s.worker()
	}
	go s.run()
}

// Stop cancels running jobs and waits for the workers to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	s.cancel()
	s.workerWg.Wait()
}

// Every runs job first at firstAt and then every interval after each run
// completes. An existing job with the same ID is replaced.
func (s *Scheduler) Every(id string, firstAt time.Time, interval time.Duration, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}

	if existing, ok := s.tasks[id]; ok {
		if existing.index >= 0 {
			heap.Remove(&s.heap, existing.index)
		}
		delete(s.tasks, id)
	}

	t := &task{id: id, dueAt: firstAt, interval: interval, job: job, index: -1}
	s.tasks[id] = t
	if !s.running[id] {
		s.push(t)
	}
	return nil
}

// Cancel removes a job. A run in progress finishes but is not rescheduled.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return false
	}
	if t.index >= 0 {
		heap.Remove(&s.heap, t.index)
	}
	delete(s.tasks, id)
	return true
}

// push must be called with mu held
func (s *Scheduler) push(t *task) {
	heap.Push(&s.heap, t)
	if s.heap[0] == t {
		select {
		case s.wakeup <- struct{}{}:
		default:
		}
	}
}

// run is the main scheduler loop
func (s *Scheduler) run() {
	for {
		s.mu.Lock()

		if s.stopped {
			s.mu.Unlock()
			return
		}

		var waitDuration time.Duration
		var due *task
		if s.heap.Len() == 0 {
			waitDuration = 24 * time.Hour
		} else {
			waitDuration = s.heap[0].dueAt.Sub(s.now())
			if waitDuration <= 0 {
				due = heap.Pop(&s.heap).(*task)
				s.running[due.id] = true
			}
		}

		s.mu.Unlock()

		if due != nil {
			select {
			case s.ready <- due:
			case <-s.stopCh:
				return
			}
			continue
		}

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

// worker runs due jobs until the scheduler stops
func (s *Scheduler) worker() {
	defer s.workerWg.Done()

	for {
		select {
		case t := <-s.ready:
			t.job(s.ctx)
			s.finish(t)
		case <-s.stopCh:
			return
		}
	}
}

// finish reschedules the job unless it was cancelled or replaced meanwhile
func (s *Scheduler) finish(t *task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.running, t.id)
	if s.stopped {
		return
	}
	current, ok := s.tasks[t.id]
	if !ok {
		return
	}
	if current == t {
		t.dueAt = s.now().Add(t.interval)
	}
	if current.index < 0 {
		s.push(current)
	}
}

// Stats returns statistics about the scheduler
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		ScheduledJobs: len(s.tasks),
		RunningJobs:   len(s.running),
		Workers:       s.workers,
	}
}

// Stats contains statistics about the scheduler
type Stats struct {
	ScheduledJobs int
	RunningJobs   int
	Workers       int
}

var (
	ErrSchedulerStopped = &Error{"scheduler is stopped"}
)

// Error represents a scheduler error
type Error struct {
	msg string
}

func (e *Error) Error() string {
	return e.msg
}
