package futures

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestContinueWith_RunsAfterAntecedent(t *testing.T) {
	var order atomic.Int32
	task := mustNew(t, func() {
		order.CompareAndSwap(0, 1)
	})

	k, err := task.ContinueWith(func(antecedent *Task) {
		if antecedent != task {
			t.Error("continuation received wrong antecedent")
		}
		if !antecedent.IsCompleted() {
			t.Error("antecedent not complete when continuation ran")
		}
		order.CompareAndSwap(1, 2)
	})
	if err != nil {
		t.Fatalf("continue-with failed: %v", err)
	}

	if err := task.Start(Default()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := waitCompleted(t, k); err != nil {
		t.Fatalf("continuation wait returned error: %v", err)
	}
	if got := order.Load(); got != 2 {
		t.Fatalf("expected ordered execution, got %d", got)
	}
}

// A continuation filtered to not-on-ran-to-completion over a succeeding
// antecedent transitions to Canceled; its body is never invoked.
func TestContinueWith_FilterMismatchCancels(t *testing.T) {
	task := mustNew(t, func() {})

	var invoked atomic.Bool
	k, err := task.ContinueWith(func(*Task) {
		invoked.Store(true)
	}, WithContinueOptions(NotOnRanToCompletion))
	if err != nil {
		t.Fatalf("continue-with failed: %v", err)
	}

	if err := task.Start(Default()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := waitCompleted(t, k); err == nil {
		t.Fatal("expected canceled error from continuation wait")
	}
	if got := k.Status(); got != StatusCanceled {
		t.Fatalf("expected Canceled, got %v", got)
	}
	if invoked.Load() {
		t.Fatal("filtered continuation body was invoked")
	}
}

func TestContinueWith_OnlyOnFaulted(t *testing.T) {
	task := mustNew(t, func() {
		panic(errors.New("boom"))
	})

	var sawFault atomic.Bool
	k, err := task.ContinueWith(func(antecedent *Task) {
		sawFault.Store(antecedent.IsFaulted())
	}, WithContinueOptions(OnlyOnFaulted))
	if err != nil {
		t.Fatalf("continue-with failed: %v", err)
	}

	if err := task.Start(Default()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := waitCompleted(t, k); err != nil {
		t.Fatalf("continuation wait returned error: %v", err)
	}
	if !sawFault.Load() {
		t.Fatal("continuation did not observe the fault")
	}

	// The antecedent's fault is left to its own observers.
	if task.Exception() == nil {
		t.Fatal("antecedent aggregate missing")
	}
}

func TestContinueWith_AfterCompletion(t *testing.T) {
	task := mustNew(t, func() {})
	if err := task.Start(Default()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	_ = waitCompleted(t, task)

	var ran atomic.Bool
	k, err := task.ContinueWith(func(*Task) {
		ran.Store(true)
	}, WithContinueOptions(ExecuteSynchronously))
	if err != nil {
		t.Fatalf("continue-with failed: %v", err)
	}
	// Executed synchronously by the attaching goroutine.
	if !k.IsCompleted() {
		t.Fatal("synchronous continuation on completed antecedent did not run inline")
	}
	if !ran.Load() {
		t.Fatal("continuation body did not run")
	}
}

func TestContinueWith_OptionValidation(t *testing.T) {
	task := mustNew(t, func() {})

	if _, err := task.ContinueWith(func(*Task) {},
		WithContinueOptions(NotOnRanToCompletion|NotOnFaulted|NotOnCanceled),
	); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("expected ErrInvalidOptions for not-on-anything, got %v", err)
	}

	if _, err := task.ContinueWith(func(*Task) {},
		WithContinueOptions(ExecuteSynchronously),
		WithContinueCreateOptions(LongRunning),
	); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("expected ErrInvalidOptions for sync+long-running, got %v", err)
	}

	if _, err := task.ContinueWith(nil); !errors.Is(err, ErrNilAction) {
		t.Fatalf("expected ErrNilAction, got %v", err)
	}
}

func TestContinueWith_Chained(t *testing.T) {
	task := mustNew(t, func() {})
	var hops atomic.Int32

	cur := task
	for i := 0; i < 5; i++ {
		next, err := cur.ContinueWith(func(*Task) {
			hops.Add(1)
		}, WithContinueOptions(ExecuteSynchronously))
		if err != nil {
			t.Fatalf("chain link %d failed: %v", i, err)
		}
		cur = next
	}

	if err := task.Start(Default()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := waitCompleted(t, cur); err != nil {
		t.Fatalf("chain tail wait returned error: %v", err)
	}
	if got := hops.Load(); got != 5 {
		t.Fatalf("expected 5 hops, got %d", got)
	}
}

// A long synchronous chain completes despite the inline depth guard: links
// beyond the threshold are queued to the scheduler instead of recursing.
func TestContinueWith_DeepSynchronousChain(t *testing.T) {
	task := mustNew(t, func() {})
	var hops atomic.Int32

	const depth = 100
	cur := task
	for i := 0; i < depth; i++ {
		next, err := cur.ContinueWith(func(*Task) {
			hops.Add(1)
		}, WithContinueOptions(ExecuteSynchronously))
		if err != nil {
			t.Fatalf("chain link %d failed: %v", i, err)
		}
		cur = next
	}

	if err := task.Start(Default()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := waitCompleted(t, cur); err != nil {
		t.Fatalf("deep chain wait returned error: %v", err)
	}
	if got := hops.Load(); got != depth {
		t.Fatalf("expected %d hops, got %d", depth, got)
	}
}

func TestWhenCompleted_LateAttachment(t *testing.T) {
	task := mustNew(t, func() {})
	if err := task.Start(Default()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	_ = waitCompleted(t, task)

	called := make(chan struct{})
	task.whenCompleted(func(*Task) {
		close(called)
	})
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("late completion callback not invoked")
	}
}

func TestContinueWith_ContinuationFaultIsolated(t *testing.T) {
	task := mustNew(t, func() {})
	boom := errors.New("boom")
	k, err := task.ContinueWith(func(*Task) {
		panic(boom)
	})
	if err != nil {
		t.Fatalf("continue-with failed: %v", err)
	}
	if err := task.Start(Default()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if err := waitCompleted(t, task); err != nil {
		t.Fatalf("antecedent should succeed, got %v", err)
	}
	err = waitCompleted(t, k)
	if !errors.Is(err, boom) {
		t.Fatalf("expected continuation fault, got %v", err)
	}
}
