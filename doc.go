// Package futures provides a task/future runtime: an in-process concurrency
// primitive representing an in-flight asynchronous computation, with atomic
// lifecycle transitions, completion signaling, cancellation propagation,
// parent/child aggregation, continuation chaining, and pluggable scheduler
// dispatch.
//
// # Architecture
//
// The core entity is [Task]: a unit of work with an observable terminal state
// ([TaskStatus]). Every lifecycle change is a compare-and-swap over a single
// packed state word, so all operations are safe under arbitrary
// interleavings. The typed [Future] carries a result value, and is produced
// through a [CompletionSource], which exposes only the state-transition side
// (try-set-result/error/canceled) separately from the consumer side
// (wait/read).
//
// Tasks are dispatched through a [Scheduler] collaborator. Three
// implementations ship with the package: [Default] (goroutine per task),
// [NewBounded] (semaphore-limited concurrency), and [NewSerialScheduler]
// (a serialized single-goroutine post sink that supports inlining only from
// its own goroutine).
//
// The futures/parallel subpackage provides the data-parallel machinery that
// a parallel-loop driver sits on: a cooperative range partitioner
// ([parallel.RangeManager]) and the shared loop-state flag words.
//
// # Lifecycle
//
// Created → WaitingForActivation → WaitingToRun → Running →
// WaitingForChildrenToComplete → one of {RanToCompletion, Faulted, Canceled}.
// Promise-style tasks (those constructed via [NewCompletionSource]) skip from
// WaitingForActivation directly to a terminal state.
//
// Exactly one terminal state is ever recorded, and the completion event, once
// signaled, stays signaled. Any goroutine that observes a task as completed
// may read its result slot or error aggregate with no further
// synchronization.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Waiting accepts a
// [context.Context] and an optional timeout; cancellation of the context
// returns its error, while an elapsed timeout reports false without error.
//
// # Usage
//
//	t, err := futures.Run(func() {
//	    doWork()
//	})
//	if err != nil {
//	    // precondition violation
//	}
//	if err := t.Wait(context.Background()); err != nil {
//	    // *futures.AggregateError (fault) or *futures.CanceledError
//	}
//
// Typed results use [StartNew] or a [CompletionSource]:
//
//	f, _ := futures.StartNew(func() (int, error) { return 42, nil })
//	v, err := f.Result(context.Background())
//
// # Error Types
//
//   - [AggregateError]: one or more recorded faults, multi-error unwrapping
//   - [CanceledError]: task terminated in the Canceled state
//   - [SchedulerError]: a scheduler failed to accept or run a task
//   - [PanicError]: wraps a non-error panic value recovered from a task body
//
// All error types implement [error], and support [errors.Is]/[errors.As]
// through Unwrap.
package futures
