package futures

import (
	"context"
	"math"
	"sync"

	"github.com/petermattis/goid"
	"golang.org/x/sync/semaphore"
)

// Scheduler is the dispatch collaborator contract. A scheduler accepts tasks
// for eventual execution, may run them inline on a requesting goroutine, and
// may support removing not-yet-started tasks.
type Scheduler interface {
	// Queue accepts the task for asynchronous execution. It must eventually
	// cause [Task.Execute] to be invoked exactly once, and must return an
	// error (without retaining the task) on refusal.
	Queue(t *Task) error

	// TryInline synchronously attempts to run the task on the calling
	// goroutine, returning false without running it on refusal.
	// wasPreviouslyQueued reports whether the task had been queued earlier.
	TryInline(t *Task, wasPreviouslyQueued bool) bool

	// TryDequeue is a best-effort removal of a queued task; it returns false
	// if the task already began executing or cannot be removed.
	TryDequeue(t *Task) bool

	// RequiresAtomicStartTransition reports whether cancellation of a task
	// that has not been started should use a canceled-before-started CAS.
	// Dequeue-based cancellation of an already queued task is tried first.
	RequiresAtomicStartTransition() bool

	// MaxConcurrency is an advisory upper bound on concurrently executing
	// tasks.
	MaxConcurrency() int
}

// goroutineScheduler runs every queued task on its own goroutine. LongRunning
// is a no-op hint here, since each task already gets a dedicated goroutine.
type goroutineScheduler struct{}

var defaultScheduler Scheduler = goroutineScheduler{}

// Default returns the default scheduler: one goroutine per task, inlining
// permitted from any goroutine.
func Default() Scheduler {
	return defaultScheduler
}

func (goroutineScheduler) Queue(t *Task) error {
	go t.Execute()
	return nil
}

func (goroutineScheduler) TryInline(t *Task, _ bool) bool {
	return t.Execute()
}

func (goroutineScheduler) TryDequeue(*Task) bool { return false }

func (goroutineScheduler) RequiresAtomicStartTransition() bool { return false }

func (goroutineScheduler) MaxConcurrency() int { return math.MaxInt }

// BoundedScheduler limits concurrently executing tasks with a weighted
// semaphore. Tasks carrying the [LongRunning] hint bypass the limit and run
// on a dedicated goroutine.
type BoundedScheduler struct {
	sem *semaphore.Weighted
	n   int
}

// NewBounded returns a scheduler that runs at most n tasks concurrently.
// Panics if n < 1.
func NewBounded(n int) *BoundedScheduler {
	if n < 1 {
		panic(`futures: bounded scheduler requires a positive concurrency limit`)
	}
	return &BoundedScheduler{
		sem: semaphore.NewWeighted(int64(n)),
		n:   n,
	}
}

func (s *BoundedScheduler) Queue(t *Task) error {
	if t.Options()&LongRunning != 0 {
		go t.Execute()
		return nil
	}
	go func() {
		_ = s.sem.Acquire(context.Background(), 1)
		defer s.sem.Release(1)
		t.Execute()
	}()
	return nil
}

func (s *BoundedScheduler) TryInline(t *Task, _ bool) bool {
	if !s.sem.TryAcquire(1) {
		return false
	}
	defer s.sem.Release(1)
	return t.Execute()
}

func (s *BoundedScheduler) TryDequeue(*Task) bool { return false }

func (s *BoundedScheduler) RequiresAtomicStartTransition() bool { return false }

func (s *BoundedScheduler) MaxConcurrency() int { return s.n }

// SerialScheduler posts every task onto a single run goroutine, serializing
// execution. Inlining succeeds only when requested from within that
// goroutine, and queued tasks may be dequeued before they run.
//
// Instances must be initialized with [NewSerialScheduler], and released with
// [SerialScheduler.Close] when no longer needed.
type SerialScheduler struct {
	mu      sync.Mutex
	queue   []*Task
	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
	stop    sync.Once
	gid     int64
	started chan struct{}
}

// NewSerialScheduler starts the run goroutine and returns the scheduler.
func NewSerialScheduler() *SerialScheduler {
	s := &SerialScheduler{
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		started: make(chan struct{}),
	}
	go s.run()
	<-s.started
	return s
}

func (s *SerialScheduler) run() {
	s.gid = goid.Get()
	close(s.started)
	defer close(s.done)
	for {
		select {
		case <-s.stopped:
			return
		case <-s.wake:
			for {
				select {
				case <-s.stopped:
					return
				default:
				}
				s.mu.Lock()
				if len(s.queue) == 0 {
					s.mu.Unlock()
					break
				}
				t := s.queue[0]
				s.queue = s.queue[1:]
				s.mu.Unlock()
				t.Execute()
			}
		}
	}
}

func (s *SerialScheduler) Queue(t *Task) error {
	select {
	case <-s.stopped:
		return ErrSchedulerClosed
	default:
	}
	s.mu.Lock()
	s.queue = append(s.queue, t)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

func (s *SerialScheduler) TryInline(t *Task, _ bool) bool {
	if goid.Get() != s.gid {
		return false
	}
	return t.Execute()
}

func (s *SerialScheduler) TryDequeue(t *Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, queued := range s.queue {
		if queued == t {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (s *SerialScheduler) RequiresAtomicStartTransition() bool { return true }

func (s *SerialScheduler) MaxConcurrency() int { return 1 }

// ScheduledTasks returns a snapshot of tasks queued but not yet run, for
// debugger-style enumeration.
func (s *SerialScheduler) ScheduledTasks() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Task, len(s.queue))
	copy(out, s.queue)
	return out
}

// Close stops the run goroutine, blocking until it exits. Tasks still queued
// are not executed.
func (s *SerialScheduler) Close() error {
	s.stop.Do(func() {
		close(s.stopped)
	})
	<-s.done
	return nil
}
