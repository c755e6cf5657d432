package parallel

import (
	"errors"
	"math"
	"sync"
	"testing"
)

func TestLoopState64_StopThenBreakFails(t *testing.T) {
	s := NewLoopState64()
	if err := s.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := s.Break(5); !errors.Is(err, ErrLoopStopped) {
		t.Fatalf("expected ErrLoopStopped, got %v", err)
	}
	if s.Flags()&LoopBroken != 0 {
		t.Fatal("broken flag set despite failed break")
	}
}

func TestLoopState64_BreakThenStopFails(t *testing.T) {
	s := NewLoopState64()
	if err := s.Break(10); err != nil {
		t.Fatalf("break failed: %v", err)
	}
	if err := s.Stop(); !errors.Is(err, ErrLoopBroken) {
		t.Fatalf("expected ErrLoopBroken, got %v", err)
	}
	if s.Flags()&LoopStopped != 0 {
		t.Fatal("stopped flag set despite failed stop")
	}
}

func TestLoopState64_BreakQuietAfterExceptional(t *testing.T) {
	s := NewLoopState64()
	s.SetExceptional()
	if err := s.Break(3); err != nil {
		t.Fatalf("break after exceptional should be quiet, got %v", err)
	}
	if _, ok := s.LowestBreakIteration(); ok {
		t.Fatal("break after exceptional must not record an iteration")
	}

	s = NewLoopState64()
	s.Cancel()
	if err := s.Break(3); err != nil {
		t.Fatalf("break after cancel should be quiet, got %v", err)
	}
}

func TestLoopState64_LowestBreakMonotone(t *testing.T) {
	s := NewLoopState64()
	for _, it := range []int64{100, 50, 75, 10, 20} {
		_ = s.Break(it)
	}
	got, ok := s.LowestBreakIteration()
	if !ok {
		t.Fatal("break not recorded")
	}
	if got != 10 {
		t.Fatalf("lowest break = %d, want 10", got)
	}
}

func TestLoopState64_LowestBreakConcurrent(t *testing.T) {
	s := NewLoopState64()
	var wg sync.WaitGroup
	for i := int64(0); i < 64; i++ {
		wg.Add(1)
		go func(it int64) {
			defer wg.Done()
			_ = s.Break(it)
		}(i)
	}
	wg.Wait()
	got, ok := s.LowestBreakIteration()
	if !ok {
		t.Fatal("break not recorded")
	}
	if got != 0 {
		t.Fatalf("lowest break = %d, want 0", got)
	}
}

func TestLoopState64_CancelAndExceptionalIdempotent(t *testing.T) {
	s := NewLoopState64()
	s.Cancel()
	s.Cancel()
	s.SetExceptional()
	s.SetExceptional()
	if got := s.Flags(); got != LoopCanceled|LoopExceptional {
		t.Fatalf("flags = %#x", got)
	}
}

func TestLoopState64_NoBreakSentinel(t *testing.T) {
	s := NewLoopState64()
	if _, ok := s.LowestBreakIteration(); ok {
		t.Fatal("break reported without any Break call")
	}
	if got := s.lowestBreak.Load(); got != math.MaxInt64 {
		t.Fatalf("sentinel = %d", got)
	}
}

func TestLoopState32_Basics(t *testing.T) {
	s := NewLoopState32()
	if err := s.Break(40); err != nil {
		t.Fatalf("break failed: %v", err)
	}
	if err := s.Break(7); err != nil {
		t.Fatalf("second break failed: %v", err)
	}
	got, ok := s.LowestBreakIteration()
	if !ok || got != 7 {
		t.Fatalf("lowest break = %d, %v", got, ok)
	}
	if err := s.Stop(); !errors.Is(err, ErrLoopBroken) {
		t.Fatalf("expected ErrLoopBroken, got %v", err)
	}

	s = NewLoopState32()
	if err := s.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := s.Break(1); !errors.Is(err, ErrLoopStopped) {
		t.Fatalf("expected ErrLoopStopped, got %v", err)
	}
	s.Cancel()
	if got := s.Flags(); got&LoopStopped == 0 || got&LoopCanceled == 0 {
		t.Fatalf("flags = %#x", got)
	}
}
