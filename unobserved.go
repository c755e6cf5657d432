package futures

import (
	"runtime"
	"sync"
)

// UnobservedFault carries the error aggregate of a faulted task that was
// reclaimed without any observer reading it. The handler may call
// SetObserved to mark the aggregate handled, suppressing any further
// escalation policy layered on top.
type UnobservedFault struct {
	// TaskID identifies the reclaimed task.
	TaskID int64
	// Err is the task's error aggregate.
	Err *AggregateError

	observed bool
}

// SetObserved marks the fault as observed.
func (u *UnobservedFault) SetObserved() {
	u.observed = true
}

// Observed reports whether SetObserved was called.
func (u *UnobservedFault) Observed() bool {
	return u.observed
}

var unobservedHandler struct {
	sync.RWMutex
	fn func(*UnobservedFault)
}

// SetUnobservedFaultHandler installs the process-wide handler invoked when a
// faulted task is reclaimed with its error aggregate never observed. Pass
// nil to restore the default behavior (an error-level log event).
func SetUnobservedFaultHandler(fn func(*UnobservedFault)) {
	unobservedHandler.Lock()
	defer unobservedHandler.Unlock()
	unobservedHandler.fn = fn
}

func getUnobservedFaultHandler() func(*UnobservedFault) {
	unobservedHandler.RLock()
	defer unobservedHandler.RUnlock()
	return unobservedHandler.fn
}

// armUnobservedFault registers the reclamation hook on a task entering the
// Faulted state. Observation (Exception, Wait, Result, or parent
// aggregation) disarms it.
func (t *Task) armUnobservedFault() {
	runtime.SetFinalizer(t, notifyUnobservedFault)
}

// markFaultObserved disarms the unobserved-fault hook.
func (t *Task) markFaultObserved() {
	cp := t.contingent.Load()
	if cp == nil {
		return
	}
	if cp.faultObserved.CompareAndSwap(0, 1) {
		runtime.SetFinalizer(t, nil)
	}
}

func notifyUnobservedFault(t *Task) {
	cp := t.contingent.Load()
	if cp == nil || cp.faultObserved.Load() != 0 {
		return
	}
	fault := &UnobservedFault{
		TaskID: t.ID(),
		Err:    &AggregateError{Errors: cp.exceptionsSnapshot()},
	}
	if fn := getUnobservedFaultHandler(); fn != nil {
		fn(fault)
		if fault.Observed() {
			return
		}
	}
	logTaskError(t, fault.Err, `faulted task reclaimed with unobserved errors`)
}
