package futures

import (
	"errors"
	"fmt"
)

// Precondition violations raised by the public surface. The task's state is
// unchanged when any of these is returned.
var (
	// ErrTaskCompleted indicates an operation that requires a pending task
	// was attempted on a task that already reached a terminal state.
	ErrTaskCompleted = errors.New("futures: task already completed")

	// ErrTaskStarted indicates a start was attempted on a task whose
	// scheduler slot is already set.
	ErrTaskStarted = errors.New("futures: task already started")

	// ErrPromiseTask indicates a start was attempted on a promise-style task,
	// which has no body and is completed externally.
	ErrPromiseTask = errors.New("futures: promise-style task may not be started")

	// ErrContinuationTask indicates a start was attempted on a continuation
	// task, which is started by its antecedent's completion.
	ErrContinuationTask = errors.New("futures: continuation task may not be started directly")

	// ErrDisposed indicates an operation on a disposed task.
	ErrDisposed = errors.New("futures: task disposed")

	// ErrTaskNotCompleted indicates Dispose was attempted before the task
	// reached a terminal state.
	ErrTaskNotCompleted = errors.New("futures: task not yet completed")

	// ErrNilAction indicates a nil body or continuation function.
	ErrNilAction = errors.New("futures: nil action")

	// ErrSchedulerClosed indicates a queue attempt on a closed scheduler.
	ErrSchedulerClosed = errors.New("futures: scheduler closed")

	// ErrNilScheduler indicates a nil scheduler was supplied.
	ErrNilScheduler = errors.New("futures: nil scheduler")

	// ErrInvalidOptions indicates a rejected option combination, e.g.
	// ExecuteSynchronously together with LongRunning, or a continuation
	// filter that excludes every outcome.
	ErrInvalidOptions = errors.New("futures: invalid option combination")
)

// AggregateError represents one or more errors recorded on a faulted task,
// including errors folded in from faulted attached children.
//
// The Errors field preserves recording order: the task's own errors first,
// then children's, in completion-processing order.
type AggregateError struct {
	// Errors contains the recorded errors. Never empty on a faulted task.
	Errors []error
}

// Error implements the error interface.
func (e *AggregateError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "futures: one or more errors occurred"
	case 1:
		return "futures: one or more errors occurred: " + e.Errors[0].Error()
	default:
		return fmt.Sprintf("futures: one or more errors occurred: %v (and %d more)", e.Errors[0], len(e.Errors)-1)
	}
}

// Unwrap returns the errors slice for multi-error unwrapping (Go 1.20+),
// enabling [errors.Is] and [errors.As] against all contained errors.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// Is implements matching for [errors.Is]: any AggregateError matches any
// other AggregateError by type.
func (e *AggregateError) Is(target error) bool {
	var aggTarget *AggregateError
	return errors.As(target, &aggTarget)
}

// Flatten returns a copy with nested AggregateError values expanded in
// place, preserving order.
func (e *AggregateError) Flatten() *AggregateError {
	out := &AggregateError{Errors: make([]error, 0, len(e.Errors))}
	for _, err := range e.Errors {
		var nested *AggregateError
		if errors.As(err, &nested) && nested != nil {
			out.Errors = append(out.Errors, nested.Flatten().Errors...)
		} else {
			out.Errors = append(out.Errors, err)
		}
	}
	return out
}

// PanicError wraps a non-error value recovered from a panicking task body.
type PanicError struct {
	// Value is the recovered panic value.
	Value any
}

// Error implements the error interface.
func (e PanicError) Error() string {
	return fmt.Sprintf("futures: panic in task body: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is an error type.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// CanceledError indicates a task terminated in the Canceled state. It is
// returned from wait and result operations on canceled tasks.
type CanceledError struct {
	// TaskID identifies the canceled task, if it had been observed.
	TaskID int64
	// Cause is the cancellation cause, typically [context.Canceled] or
	// [context.DeadlineExceeded]; may be nil for internal cancellation.
	Cause error
}

// Error implements the error interface.
func (e *CanceledError) Error() string {
	if e.TaskID != 0 {
		return fmt.Sprintf("futures: task %d was canceled", e.TaskID)
	}
	return "futures: task was canceled"
}

// Unwrap returns the cancellation cause for use with [errors.Is].
func (e *CanceledError) Unwrap() error {
	return e.Cause
}

// SchedulerError wraps a failure raised by a [Scheduler] while accepting or
// running a task. The task the scheduler rejected is driven to Faulted with
// this error recorded, and the error is also returned from Start.
type SchedulerError struct {
	// Cause is the underlying scheduler failure.
	Cause error
}

// Error implements the error interface.
func (e *SchedulerError) Error() string {
	return "futures: scheduler failed to queue or run task: " + e.Cause.Error()
}

// Unwrap returns the underlying cause.
func (e *SchedulerError) Unwrap() error {
	return e.Cause
}
