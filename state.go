package futures

import (
	"runtime"
	"sync/atomic"
)

// TaskStatus represents the lifecycle state of a [Task].
//
// State Machine:
//
//	Created → WaitingForActivation → WaitingToRun → Running →
//	WaitingForChildrenToComplete → {RanToCompletion, Canceled, Faulted}
//
// A task constructed by [NewCompletionSource] starts in WaitingForActivation
// and transitions directly to a terminal state. Terminal states are
// irreversible, and exactly one of them is ever recorded.
type TaskStatus int32

const (
	// StatusCreated indicates the task has been initialized but not yet
	// scheduled.
	StatusCreated TaskStatus = iota
	// StatusWaitingForActivation indicates the task is waiting to be
	// activated and scheduled internally (continuations and promise-style
	// tasks).
	StatusWaitingForActivation
	// StatusWaitingToRun indicates the task has been scheduled but has not
	// yet begun executing.
	StatusWaitingToRun
	// StatusRunning indicates the task body is executing.
	StatusRunning
	// StatusWaitingForChildrenToComplete indicates the body has finished and
	// the task is waiting for attached children to complete.
	StatusWaitingForChildrenToComplete
	// StatusRanToCompletion indicates the task completed successfully.
	StatusRanToCompletion
	// StatusCanceled indicates the task acknowledged cancellation, or was
	// canceled before it ever ran.
	StatusCanceled
	// StatusFaulted indicates the task terminated due to one or more
	// recorded errors.
	StatusFaulted
)

// String returns a human-readable representation of the status.
func (s TaskStatus) String() string {
	switch s {
	case StatusCreated:
		return "Created"
	case StatusWaitingForActivation:
		return "WaitingForActivation"
	case StatusWaitingToRun:
		return "WaitingToRun"
	case StatusRunning:
		return "Running"
	case StatusWaitingForChildrenToComplete:
		return "WaitingForChildrenToComplete"
	case StatusRanToCompletion:
		return "RanToCompletion"
	case StatusCanceled:
		return "Canceled"
	case StatusFaulted:
		return "Faulted"
	default:
		return "Unknown"
	}
}

// IsTerminal returns true for RanToCompletion, Canceled, and Faulted.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusRanToCompletion, StatusCanceled, StatusFaulted:
		return true
	}
	return false
}

// State word layout. The low 16 bits carry the creation-options field; the
// lifecycle bits live above it. Lifecycle transitions are CAS loops over the
// whole word, see Task.tryUpdateState.
const (
	// optionsMask covers the creation-options field in the low 16 bits.
	optionsMask = 0xFFFF

	stateStarted               = 1 << 16
	stateDelegateInvoked       = 1 << 17
	stateDisposed              = 1 << 18
	stateExceptionObserved     = 1 << 19 // set only by the parent's wait path
	stateCancellationAck       = 1 << 20
	stateFaulted               = 1 << 21
	stateCanceled              = 1 << 22
	stateWaitingOnChildren     = 1 << 23
	stateRanToCompletion       = 1 << 24
	stateWaitingForActivation  = 1 << 25
	stateCompletionReserved    = 1 << 26
	stateGoroutineAborted      = 1 << 27

	stateCompletedMask = stateRanToCompletion | stateCanceled | stateFaulted
)

// spinWait is a tiny adaptive spinner for CAS retry loops. The first few
// iterations are plain retries; after that each iteration yields the
// processor.
type spinWait struct {
	count int
}

const spinYieldThreshold = 4

func (x *spinWait) spinOnce() {
	x.count++
	if x.count > spinYieldThreshold {
		runtime.Gosched()
	}
}

// spinUntilCompleted performs acquire-loads of the state word until the
// completed mask is observed. Used after a losing completion race so the
// caller returns only once the winner's terminal state is visible.
func spinUntilCompleted(w *atomic.Int32) {
	var spin spinWait
	for w.Load()&stateCompletedMask == 0 {
		spin.spinOnce()
	}
}

// tryUpdateState or-ins newBits unless any illegalBits are set, retrying on
// CAS contention. Returns the pre-update word and whether the update won.
// Failure due to illegalBits returns immediately without spinning.
func (t *Task) tryUpdateState(newBits, illegalBits int32) (int32, bool) {
	var spin spinWait
	for {
		old := t.stateFlags.Load()
		if old&illegalBits != 0 {
			return old, false
		}
		if t.stateFlags.CompareAndSwap(old, old|newBits) {
			return old, true
		}
		spin.spinOnce()
	}
}

// orState unconditionally or-ins bits into the state word.
func (t *Task) orState(bits int32) {
	var spin spinWait
	for {
		old := t.stateFlags.Load()
		if t.stateFlags.CompareAndSwap(old, old|bits) {
			return
		}
		spin.spinOnce()
	}
}

// markStarted flags the task as started. Illegal once canceled or completed.
func (t *Task) markStarted() bool {
	_, ok := t.tryUpdateState(stateStarted, stateCanceled|stateCompletedMask)
	return ok
}

// reserveCompletion claims the right to record the terminal state. Exactly
// one reservation ever succeeds per task.
func (t *Task) reserveCompletion() bool {
	_, ok := t.tryUpdateState(stateCompletionReserved, stateCompletionReserved|stateCompletedMask)
	return ok
}

// Status derives the public [TaskStatus] from the packed state word.
func (t *Task) Status() TaskStatus {
	sf := t.stateFlags.Load()
	switch {
	case sf&stateFaulted != 0:
		return StatusFaulted
	case sf&stateCanceled != 0:
		return StatusCanceled
	case sf&stateRanToCompletion != 0:
		return StatusRanToCompletion
	case sf&stateWaitingOnChildren != 0:
		return StatusWaitingForChildrenToComplete
	case sf&stateDelegateInvoked != 0:
		return StatusRunning
	case sf&stateStarted != 0:
		return StatusWaitingToRun
	case sf&stateWaitingForActivation != 0:
		return StatusWaitingForActivation
	default:
		return StatusCreated
	}
}

// IsCompleted returns true once the task has reached a terminal state.
func (t *Task) IsCompleted() bool {
	return t.stateFlags.Load()&stateCompletedMask != 0
}

// IsFaulted returns true if the task terminated due to recorded errors.
func (t *Task) IsFaulted() bool {
	return t.stateFlags.Load()&stateFaulted != 0
}

// IsCanceled returns true if the task terminated in the Canceled state.
func (t *Task) IsCanceled() bool {
	return t.stateFlags.Load()&stateCanceled != 0
}
