package futures

import (
	"sync"
	"sync/atomic"
)

// contingentProperties holds rarely-used per-task state, allocated lazily and
// published via CAS on the owning task. The mutex guards only list mutations
// (exceptions, exceptional children, continuations); the countdown and the
// cancellation-requested flag are plain atomics.
type contingentProperties struct {
	// countdown equals 1 + active attached children. The task finalizes when
	// it reaches zero.
	countdown atomic.Int32
	// cancelRequested is set by any cancellation request path.
	cancelRequested atomic.Int32
	// faultObserved records that some observer read the error aggregate.
	faultObserved atomic.Int32
	// cancelStop deregisters the context callback. Written once during
	// construction, before the task escapes the constructing goroutine.
	cancelStop func() bool

	mu sync.Mutex
	// Guarded by mu:
	exceptions          []error
	exceptionalChildren []*Task
	continuations       []*continuation
}

func newContingentProperties() *contingentProperties {
	cp := &contingentProperties{}
	cp.countdown.Store(1)
	return cp
}

// ensureContingent returns the task's contingent block, publishing a fresh
// one via CAS on first use.
func (t *Task) ensureContingent() *contingentProperties {
	if cp := t.contingent.Load(); cp != nil {
		return cp
	}
	cp := newContingentProperties()
	if !t.contingent.CompareAndSwap(nil, cp) {
		cp = t.contingent.Load()
	}
	return cp
}

func (cp *contingentProperties) appendException(err error) {
	cp.mu.Lock()
	cp.exceptions = append(cp.exceptions, err)
	cp.mu.Unlock()
}

func (cp *contingentProperties) hasExceptions() bool {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return len(cp.exceptions) > 0
}

func (cp *contingentProperties) exceptionsSnapshot() []error {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if len(cp.exceptions) == 0 {
		return nil
	}
	out := make([]error, len(cp.exceptions))
	copy(out, cp.exceptions)
	return out
}

// recordCancellationRequest notes that cancellation was requested; idempotent.
func (t *Task) recordCancellationRequest() {
	t.ensureContingent().cancelRequested.Store(1)
}

// cancellationRequested reports whether cancellation was requested, either
// internally or via the task's context.
func (t *Task) cancellationRequested() bool {
	if cp := t.contingent.Load(); cp != nil && cp.cancelRequested.Load() != 0 {
		return true
	}
	return t.ctx != nil && t.ctx.Err() != nil
}

// deregisterCancellation releases the context callback registration. Called
// on every terminal transition.
func (t *Task) deregisterCancellation() {
	if cp := t.contingent.Load(); cp != nil && cp.cancelStop != nil {
		cp.cancelStop()
	}
}
