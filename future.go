package futures

import (
	"context"
	"time"
)

// Future is a [Task] carrying a typed result slot. It is the consumer half
// of the producer/consumer split: it exposes waiting and reading, while the
// state-transition operations live on [CompletionSource].
type Future[T any] struct {
	Task
	result    T
	resultSet bool
}

// StartNew constructs a future executing fn and starts it on the configured
// scheduler, defaulting to [Default]. A non-nil error returned by fn faults
// the future, unless it matches the task context's cancellation error, in
// which case the future completes Canceled.
func StartNew[T any](fn func() (T, error), opts ...TaskOption) (*Future[T], error) {
	f, err := NewFuture(fn, opts...)
	if err != nil {
		return nil, err
	}
	if err := f.startInternal(f.getScheduler()); err != nil {
		return nil, err
	}
	return f, nil
}

// NewFuture constructs an unstarted future executing fn. See [StartNew].
func NewFuture[T any](fn func() (T, error), opts ...TaskOption) (*Future[T], error) {
	if fn == nil {
		return nil, ErrNilAction
	}
	cfg, err := resolveTaskOptions(opts)
	if err != nil {
		return nil, err
	}
	f := &Future[T]{}
	f.Task.initialize(func() {
		v, err := fn()
		if err != nil {
			f.Task.recordFailure(err)
			return
		}
		f.result = v
		f.resultSet = true
	}, cfg, 0)
	return f, nil
}

// Result waits for the future to complete, then returns its value, or the
// terminal error for a faulted or canceled future. A ctx cancellation
// returns ctx's error with the zero value.
func (f *Future[T]) Result(ctx context.Context) (T, error) {
	if err := f.Wait(ctx); err != nil {
		var zero T
		return zero, err
	}
	return f.result, nil
}

// TryResult returns the value without blocking, reporting whether a result
// has been set. It returns false for pending, faulted, and canceled futures.
func (f *Future[T]) TryResult() (T, bool) {
	if f.IsCompleted() && f.resultSet {
		return f.result, true
	}
	var zero T
	return zero, false
}

// CompletionSource is the producer handle of a promise-style future: a task
// with no body whose terminal state is set externally. Exactly one
// completion attempt ever succeeds; losing attempts return false only after
// the winner's terminal state is observable.
type CompletionSource[T any] struct {
	f *Future[T]
}

// NewCompletionSource constructs a promise-style future and its producer
// handle. The future starts in WaitingForActivation and cannot be started;
// it transitions directly to a terminal state via the source.
func NewCompletionSource[T any](opts ...TaskOption) (*CompletionSource[T], error) {
	cfg, err := resolveTaskOptions(opts)
	if err != nil {
		return nil, err
	}
	f := &Future[T]{}
	f.Task.initialize(nil, cfg, optionPromiseTask)
	return &CompletionSource[T]{f: f}, nil
}

// Future returns the consumer handle.
func (s *CompletionSource[T]) Future() *Future[T] {
	return s.f
}

// TrySetResult transitions the future to RanToCompletion with v. Returns
// false if another completion won; by then the future is observably terminal.
func (s *CompletionSource[T]) TrySetResult(v T) bool {
	t := &s.f.Task
	if !t.reserveCompletion() {
		spinUntilCompleted(&t.stateFlags)
		return false
	}
	s.f.result = v
	s.f.resultSet = true
	t.finish(true)
	return true
}

// TrySetError transitions the future to Faulted, recording errs. Returns
// false if another completion won; by then the future is observably
// terminal. At least one non-nil error is required.
func (s *CompletionSource[T]) TrySetError(errs ...error) bool {
	if len(errs) == 0 {
		return false
	}
	t := &s.f.Task
	if !t.reserveCompletion() {
		spinUntilCompleted(&t.stateFlags)
		return false
	}
	cp := t.ensureContingent()
	for _, err := range errs {
		cp.appendException(err)
	}
	t.finish(true)
	return true
}

// TrySetCanceled transitions the future to Canceled. Returns false if
// another completion won; by then the future is observably terminal.
func (s *CompletionSource[T]) TrySetCanceled() bool {
	t := &s.f.Task
	if !t.reserveCompletion() {
		spinUntilCompleted(&t.stateFlags)
		return false
	}
	t.recordCancellationRequest()
	t.orState(stateCancellationAck)
	t.finish(true)
	return true
}

// SetResult is TrySetResult that fails loudly: it returns
// [ErrTaskCompleted] if the future is already terminal.
func (s *CompletionSource[T]) SetResult(v T) error {
	if !s.TrySetResult(v) {
		return ErrTaskCompleted
	}
	return nil
}

// SetError is TrySetError that fails loudly.
func (s *CompletionSource[T]) SetError(errs ...error) error {
	if len(errs) == 0 {
		return ErrNilAction
	}
	if !s.TrySetError(errs...) {
		return ErrTaskCompleted
	}
	return nil
}

// SetCanceled is TrySetCanceled that fails loudly.
func (s *CompletionSource[T]) SetCanceled() error {
	if !s.TrySetCanceled() {
		return ErrTaskCompleted
	}
	return nil
}

// FromResult returns a future already completed with v.
func FromResult[T any](v T) *Future[T] {
	f := &Future[T]{}
	f.Task.initialize(nil, &taskConfig{}, optionPromiseTask)
	f.result = v
	f.resultSet = true
	f.Task.reserveCompletion()
	f.Task.orState(stateRanToCompletion)
	f.Task.finishCompletionTail(stateRanToCompletion)
	return f
}

// FromError returns a future already faulted with err.
func FromError[T any](err error) *Future[T] {
	f := &Future[T]{}
	f.Task.initialize(nil, &taskConfig{}, optionPromiseTask)
	f.Task.ensureContingent().appendException(err)
	f.Task.reserveCompletion()
	f.Task.orState(stateFaulted)
	f.Task.finishCompletionTail(stateFaulted)
	return f
}

// FromCanceled returns a future already canceled.
func FromCanceled[T any]() *Future[T] {
	f := &Future[T]{}
	f.Task.initialize(nil, &taskConfig{}, optionPromiseTask)
	f.Task.recordCancellationRequest()
	f.Task.orState(stateCancellationAck)
	f.Task.reserveCompletion()
	f.Task.orState(stateCanceled)
	f.Task.finishCompletionTail(stateCanceled)
	return f
}

// Delay returns a promise-style task that completes after d. A context
// supplied via [WithContext] cancels the delay early, completing the task
// Canceled.
func Delay(d time.Duration, opts ...TaskOption) (*Task, error) {
	cfg, err := resolveTaskOptions(opts)
	if err != nil {
		return nil, err
	}
	t := &Task{}
	t.initialize(nil, cfg, optionPromiseTask)
	timer := time.AfterFunc(d, func() {
		if t.reserveCompletion() {
			t.finish(true)
		}
	})
	t.whenCompleted(func(*Task) {
		timer.Stop()
	})
	return t, nil
}
