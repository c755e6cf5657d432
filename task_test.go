package futures

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func mustNew(t *testing.T, fn func(), opts ...TaskOption) *Task {
	t.Helper()
	task, err := New(fn, opts...)
	if err != nil {
		t.Fatalf("failed to construct task: %v", err)
	}
	return task
}

func waitCompleted(t *testing.T, task *Task) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := task.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("task %d did not complete in time", task.ID())
	}
	return err
}

func TestTask_RunToCompletion(t *testing.T) {
	var ran atomic.Bool
	task := mustNew(t, func() {
		ran.Store(true)
	})

	if got := task.Status(); got != StatusCreated {
		t.Fatalf("expected Created before start, got %v", got)
	}

	if err := task.Start(Default()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := waitCompleted(t, task); err != nil {
		t.Fatalf("wait returned error: %v", err)
	}

	if !ran.Load() {
		t.Fatal("body did not run")
	}
	if got := task.Status(); got != StatusRanToCompletion {
		t.Fatalf("expected RanToCompletion, got %v", got)
	}
	if !task.IsCompleted() {
		t.Fatal("IsCompleted false after terminal state")
	}
}

// Three separate tasks over the same action; after all waits return, the
// shared counter shows each ran exactly once.
func TestTask_ThreeTasksSameAction(t *testing.T) {
	var mu sync.Mutex
	x := 0
	action := func() {
		mu.Lock()
		x++
		mu.Unlock()
	}

	tasks := make([]*Task, 3)
	for i := range tasks {
		tasks[i] = mustNew(t, action)
		if err := tasks[i].Start(Default()); err != nil {
			t.Fatalf("start %d failed: %v", i, err)
		}
	}
	for i, task := range tasks {
		if err := waitCompleted(t, task); err != nil {
			t.Fatalf("wait %d returned error: %v", i, err)
		}
		if got := task.Status(); got != StatusRanToCompletion {
			t.Fatalf("task %d status %v, expected RanToCompletion", i, got)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if x != 3 {
		t.Fatalf("expected x=3, got %d", x)
	}
}

func TestTask_PanicFaults(t *testing.T) {
	boom := errors.New("boom")
	task := mustNew(t, func() {
		panic(boom)
	})
	if err := task.Start(Default()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	err := waitCompleted(t, task)
	if err == nil {
		t.Fatal("expected error from wait on faulted task")
	}
	var agg *AggregateError
	if !errors.As(err, &agg) {
		t.Fatalf("expected AggregateError, got %T: %v", err, err)
	}
	if !errors.Is(agg, boom) {
		t.Fatalf("aggregate does not contain cause: %v", agg)
	}
	if got := task.Status(); got != StatusFaulted {
		t.Fatalf("expected Faulted, got %v", got)
	}
}

func TestTask_NonErrorPanicWrapped(t *testing.T) {
	task := mustNew(t, func() {
		panic("not an error")
	})
	if err := task.Start(Default()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	err := waitCompleted(t, task)
	var pe PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PanicError in aggregate, got %v", err)
	}
	if pe.Value != "not an error" {
		t.Fatalf("unexpected panic value: %v", pe.Value)
	}
}

func TestTask_StartPreconditions(t *testing.T) {
	t.Run("nil scheduler", func(t *testing.T) {
		task := mustNew(t, func() {})
		if err := task.Start(nil); !errors.Is(err, ErrNilScheduler) {
			t.Fatalf("expected ErrNilScheduler, got %v", err)
		}
	})

	t.Run("double start", func(t *testing.T) {
		block := make(chan struct{})
		task := mustNew(t, func() { <-block })
		if err := task.Start(Default()); err != nil {
			t.Fatalf("first start failed: %v", err)
		}
		if err := task.Start(Default()); !errors.Is(err, ErrTaskStarted) {
			t.Fatalf("expected ErrTaskStarted, got %v", err)
		}
		close(block)
		_ = waitCompleted(t, task)
	})

	t.Run("completed task", func(t *testing.T) {
		task := mustNew(t, func() {})
		if err := task.Start(Default()); err != nil {
			t.Fatalf("start failed: %v", err)
		}
		_ = waitCompleted(t, task)
		// The completed check runs before the scheduler slot is examined, so
		// the completed error wins over the started error.
		if err := task.Start(Default()); err == nil {
			t.Fatal("expected error starting completed task")
		}
	})

	t.Run("promise task", func(t *testing.T) {
		src, err := NewCompletionSource[int]()
		if err != nil {
			t.Fatalf("source construction failed: %v", err)
		}
		if err := src.Future().Start(Default()); !errors.Is(err, ErrPromiseTask) {
			t.Fatalf("expected ErrPromiseTask, got %v", err)
		}
	})

	t.Run("continuation task", func(t *testing.T) {
		task := mustNew(t, func() {})
		k, err := task.ContinueWith(func(*Task) {})
		if err != nil {
			t.Fatalf("continue-with failed: %v", err)
		}
		if err := k.Start(Default()); !errors.Is(err, ErrContinuationTask) {
			t.Fatalf("expected ErrContinuationTask, got %v", err)
		}
	})
}

func TestTask_RunSynchronously(t *testing.T) {
	var ran bool
	task := mustNew(t, func() { ran = true })
	if err := task.RunSynchronously(Default()); err != nil {
		t.Fatalf("run-synchronously failed: %v", err)
	}
	if !ran {
		t.Fatal("body did not run inline")
	}
	if got := task.Status(); got != StatusRanToCompletion {
		t.Fatalf("expected RanToCompletion, got %v", got)
	}
}

func TestTask_RunSynchronouslyRefusedInline(t *testing.T) {
	s := NewSerialScheduler()
	defer s.Close()

	// Called from outside the serial goroutine, TryInline refuses and the
	// call queues + blocks until the run goroutine executes the task.
	var ran atomic.Bool
	task := mustNew(t, func() { ran.Store(true) })
	if err := task.RunSynchronously(s); err != nil {
		t.Fatalf("run-synchronously failed: %v", err)
	}
	if !ran.Load() {
		t.Fatal("body did not run")
	}
}

func TestTask_WaitTimeout(t *testing.T) {
	block := make(chan struct{})
	task := mustNew(t, func() { <-block })
	if err := task.Start(Default()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	completed, err := task.WaitTimeout(context.Background(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error from timed-out wait: %v", err)
	}
	if completed {
		t.Fatal("expected timeout to report incomplete")
	}

	close(block)
	completed, err = task.WaitTimeout(context.Background(), 5*time.Second)
	if err != nil {
		t.Fatalf("unexpected error after completion: %v", err)
	}
	if !completed {
		t.Fatal("expected completion")
	}
}

func TestTask_WaitContextCanceled(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	task := mustNew(t, func() { <-block })
	if err := task.Start(Default()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := task.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTask_ExecuteIdempotent(t *testing.T) {
	var runs atomic.Int32
	task := mustNew(t, func() { runs.Add(1) })
	task.trySetScheduler(Default())
	task.markStarted()

	if !task.Execute() {
		t.Fatal("first execute should run")
	}
	if task.Execute() {
		t.Fatal("second execute should be rejected")
	}
	if got := runs.Load(); got != 1 {
		t.Fatalf("body ran %d times", got)
	}
}

func TestTask_Dispose(t *testing.T) {
	task := mustNew(t, func() {})
	if err := task.Dispose(); !errors.Is(err, ErrTaskNotCompleted) {
		t.Fatalf("expected ErrTaskNotCompleted, got %v", err)
	}
	if err := task.Start(Default()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	_ = waitCompleted(t, task)
	if err := task.Dispose(); err != nil {
		t.Fatalf("dispose after completion failed: %v", err)
	}
	if err := task.Wait(context.Background()); !errors.Is(err, ErrDisposed) {
		t.Fatalf("expected ErrDisposed from wait, got %v", err)
	}
}

func TestTask_IDsUniqueAndPositive(t *testing.T) {
	seen := make(map[int64]struct{})
	for i := 0; i < 100; i++ {
		task := mustNew(t, func() {})
		id := task.ID()
		if id <= 0 {
			t.Fatalf("non-positive id %d", id)
		}
		if id != task.ID() {
			t.Fatal("id not stable")
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = struct{}{}
	}
}

func TestTask_GoexitMarksAborted(t *testing.T) {
	task := mustNew(t, func() {
		// Unwinds the body without a panic value.
		runtime.Goexit()
	})
	task.trySetScheduler(Default())
	task.markStarted()

	done := make(chan struct{})
	go func() {
		defer close(done)
		task.Execute()
	}()
	<-done

	// Goexit runs deferred handlers, so the task still completes; the
	// aborted bit demotes synchronous continuations.
	if err := waitCompleted(t, task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.stateFlags.Load()&stateGoroutineAborted == 0 {
		t.Fatal("expected goroutine-aborted bit")
	}
}

func TestTask_CurrentTask(t *testing.T) {
	if cur := CurrentTask(); cur != nil {
		t.Fatalf("expected no ambient task, got %d", cur.ID())
	}
	var observed *Task
	task := mustNew(t, func() {
		observed = CurrentTask()
	})
	if err := task.RunSynchronously(Default()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if observed != task {
		t.Fatal("body did not observe itself as the current task")
	}
	if cur := CurrentTask(); cur != nil {
		t.Fatal("current task not restored after execution")
	}
}
