package parallel

import (
	"errors"
	"math"
	"runtime"
	"sync/atomic"
)

// Loop state flags shared by all iterations of a parallel loop.
const (
	// LoopNone is the initial flag word.
	LoopNone int32 = 0
	// LoopExceptional records that an iteration failed.
	LoopExceptional int32 = 0x1
	// LoopBroken records that an iteration called Break.
	LoopBroken int32 = 0x2
	// LoopStopped records that an iteration called Stop.
	LoopStopped int32 = 0x4
	// LoopCanceled records that the loop's cancellation was requested.
	LoopCanceled int32 = 0x8
)

// Conflicting transition errors. Stop-after-Break and Break-after-Stop fail
// loudly; every other combination is tolerated quietly.
var (
	// ErrLoopBroken indicates Stop was called after Break.
	ErrLoopBroken = errors.New(`parallel: loop already broken, cannot stop`)
	// ErrLoopStopped indicates Break was called after Stop.
	ErrLoopStopped = errors.New(`parallel: loop already stopped, cannot break`)
)

// loopFlags is the shared atomic flag word; transitions follow the same
// CAS-with-illegal-mask idiom as the task state word.
type loopFlags struct {
	v atomic.Int32
}

// update or-ins newBits unless any illegalBits are set, retrying on CAS
// contention. Returns the pre-update word and whether the update won.
func (x *loopFlags) update(newBits, illegalBits int32) (int32, bool) {
	var spins int
	for {
		old := x.v.Load()
		if old&illegalBits != 0 {
			return old, false
		}
		if x.v.CompareAndSwap(old, old|newBits) {
			return old, true
		}
		if spins++; spins > 4 {
			runtime.Gosched()
		}
	}
}

// LoopState64 is the loop-state word for loops with 64-bit iteration
// indices. The zero value is not ready for use; construct with
// [NewLoopState64].
type LoopState64 struct {
	flags       loopFlags
	lowestBreak atomic.Int64
}

// NewLoopState64 returns a fresh loop state with no flags set and the
// lowest broken iteration at its maximum sentinel.
func NewLoopState64() *LoopState64 {
	s := &LoopState64{}
	s.lowestBreak.Store(math.MaxInt64)
	return s
}

// Flags returns the current flag word.
func (s *LoopState64) Flags() int32 {
	return s.flags.v.Load()
}

// Stop requests orderly termination of the loop: iterations not yet started
// should not run. It fails with [ErrLoopBroken] if Break was already called.
func (s *LoopState64) Stop() error {
	if _, ok := s.flags.update(LoopStopped, LoopBroken); !ok {
		return ErrLoopBroken
	}
	return nil
}

// Cancel records that cancellation of the loop was requested. Idempotent.
func (s *LoopState64) Cancel() {
	s.flags.update(LoopCanceled, LoopNone)
}

// SetExceptional records that an iteration failed. Idempotent.
func (s *LoopState64) SetExceptional() {
	s.flags.update(LoopExceptional, LoopNone)
}

// Break requests termination of iterations beyond the given one. It fails
// with [ErrLoopStopped] if Stop was already called; if the loop is already
// exceptional or canceled the call is a quiet no-op. The lowest broken
// iteration only ever decreases.
func (s *LoopState64) Break(iteration int64) error {
	old, ok := s.flags.update(LoopBroken, LoopStopped|LoopExceptional|LoopCanceled)
	if !ok {
		if old&LoopStopped != 0 {
			return ErrLoopStopped
		}
		return nil
	}
	for {
		cur := s.lowestBreak.Load()
		if iteration >= cur || s.lowestBreak.CompareAndSwap(cur, iteration) {
			return nil
		}
	}
}

// LowestBreakIteration returns the lowest iteration passed to Break, and
// whether Break was ever called.
func (s *LoopState64) LowestBreakIteration() (int64, bool) {
	if s.Flags()&LoopBroken == 0 {
		return 0, false
	}
	return s.lowestBreak.Load(), true
}

// LoopState32 is the loop-state word for loops with 32-bit iteration
// indices. Construct with [NewLoopState32].
type LoopState32 struct {
	flags       loopFlags
	lowestBreak atomic.Int32
}

// NewLoopState32 returns a fresh loop state with no flags set and the
// lowest broken iteration at its maximum sentinel.
func NewLoopState32() *LoopState32 {
	s := &LoopState32{}
	s.lowestBreak.Store(math.MaxInt32)
	return s
}

// Flags returns the current flag word.
func (s *LoopState32) Flags() int32 {
	return s.flags.v.Load()
}

// Stop requests orderly termination of the loop. It fails with
// [ErrLoopBroken] if Break was already called.
func (s *LoopState32) Stop() error {
	if _, ok := s.flags.update(LoopStopped, LoopBroken); !ok {
		return ErrLoopBroken
	}
	return nil
}

// Cancel records that cancellation of the loop was requested. Idempotent.
func (s *LoopState32) Cancel() {
	s.flags.update(LoopCanceled, LoopNone)
}

// SetExceptional records that an iteration failed. Idempotent.
func (s *LoopState32) SetExceptional() {
	s.flags.update(LoopExceptional, LoopNone)
}

// Break requests termination of iterations beyond the given one. See
// [LoopState64.Break].
func (s *LoopState32) Break(iteration int32) error {
	old, ok := s.flags.update(LoopBroken, LoopStopped|LoopExceptional|LoopCanceled)
	if !ok {
		if old&LoopStopped != 0 {
			return ErrLoopStopped
		}
		return nil
	}
	for {
		cur := s.lowestBreak.Load()
		if iteration >= cur || s.lowestBreak.CompareAndSwap(cur, iteration) {
			return nil
		}
	}
}

// LowestBreakIteration returns the lowest iteration passed to Break, and
// whether Break was ever called.
func (s *LoopState32) LowestBreakIteration() (int32, bool) {
	if s.Flags()&LoopBroken == 0 {
		return 0, false
	}
	return s.lowestBreak.Load(), true
}
