package futures

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// taskIDCounter backs lazy task identity assignment. IDs are positive,
// process-unique, and never reused; when concurrent first calls to ID race on
// the same task, the losing call's value is skipped.
var taskIDCounter atomic.Int64

// closedChan is a shared pre-closed channel for already-completed waits.
var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// completionEvent is the lazily-created one-shot wait primitive. Once
// signaled it stays signaled.
type completionEvent struct {
	once sync.Once
	ch   chan struct{}
}

func (e *completionEvent) signal() {
	e.once.Do(func() {
		close(e.ch)
	})
}

// schedulerBox wraps the Scheduler interface for atomic publication.
type schedulerBox struct {
	s Scheduler
}

// Task is an in-flight unit of asynchronous work with an observable terminal
// state. Construct with [New] or [NewWithState], dispatch with [Task.Start]
// or [Task.RunSynchronously], observe with [Task.Wait], [Task.Status],
// [Task.Exception], and chain with [Task.ContinueWith].
//
// All methods are safe for concurrent use by multiple goroutines.
type Task struct {
	// stateFlags is the packed lifecycle + creation-options word; every
	// lifecycle transition is a CAS over it. See state.go.
	stateFlags atomic.Int32
	id         atomic.Int64
	scheduler  atomic.Pointer[schedulerBox]
	event      atomic.Pointer[completionEvent]
	contingent atomic.Pointer[contingentProperties]

	// action is the task body; nil for promise-style tasks. Cleared on the
	// terminal transition to release captured closures.
	action func()
	// state is the opaque caller-supplied state object.
	state any
	// ctx is the cancellation context captured at construction; the body
	// reads it via Context(). It is not copied per execution and is kept
	// after the terminal transition.
	ctx context.Context
	// parent is set at construction iff the task was created while another
	// task was executing on the current goroutine with AttachedToParent; it
	// is never reassigned.
	parent *Task
}

// New constructs an unstarted task executing fn. The task does not run until
// [Task.Start] or [Task.RunSynchronously] is called.
//
// A fn that panics faults the task, recording the panic value (wrapped in
// [PanicError] unless it is already an error). A panic with an error matching
// the task context's cancellation error is treated as acknowledged
// cancellation instead.
func New(fn func(), opts ...TaskOption) (*Task, error) {
	if fn == nil {
		return nil, ErrNilAction
	}
	cfg, err := resolveTaskOptions(opts)
	if err != nil {
		return nil, err
	}
	t := &Task{}
	t.initialize(fn, cfg, 0)
	return t, nil
}

// NewWithState constructs an unstarted task executing fn with the state
// object supplied via [WithState] (or nil).
func NewWithState(fn func(state any), opts ...TaskOption) (*Task, error) {
	if fn == nil {
		return nil, ErrNilAction
	}
	cfg, err := resolveTaskOptions(opts)
	if err != nil {
		return nil, err
	}
	t := &Task{}
	t.initialize(func() { fn(t.state) }, cfg, 0)
	return t, nil
}

// Run constructs a task executing fn and starts it on the configured
// scheduler, defaulting to [Default].
func Run(fn func(), opts ...TaskOption) (*Task, error) {
	t, err := New(fn, opts...)
	if err != nil {
		return nil, err
	}
	if err := t.startInternal(t.getScheduler()); err != nil {
		return nil, err
	}
	return t, nil
}

// initialize records options, captures the parent if attached, installs any
// construction-time scheduler, and registers the cancellation callback.
// It never enqueues.
func (t *Task) initialize(action func(), cfg *taskConfig, extra CreateOptions) {
	options := cfg.options | extra
	flags := int32(options) & optionsMask
	if options&(optionPromiseTask|optionContinuationTask) != 0 {
		flags |= stateWaitingForActivation
	}
	t.stateFlags.Store(flags)
	t.action = action
	t.state = cfg.state
	t.ctx = cfg.ctx

	if cfg.scheduler != nil {
		t.trySetScheduler(cfg.scheduler)
	}

	if options&(AttachedToParent|optionChildReplica) != 0 {
		if p := CurrentTask(); p != nil {
			t.parent = p
			p.addNewChild()
		}
	}

	if cfg.ctx != nil && options&optionQueuedByRuntime == 0 {
		cp := t.ensureContingent()
		cp.cancelStop = context.AfterFunc(cfg.ctx, func() {
			t.internalCancel()
		})
	}
}

// ID returns the task's identity: a lazily assigned positive integer, unique
// within the process and never reused.
func (t *Task) ID() int64 {
	if id := t.id.Load(); id != 0 {
		return id
	}
	t.id.CompareAndSwap(0, taskIDCounter.Add(1))
	return t.id.Load()
}

// State returns the opaque state object supplied at construction, if any.
func (t *Task) State() any {
	return t.state
}

// Options returns the public creation options recorded at construction.
func (t *Task) Options() CreateOptions {
	return CreateOptions(t.stateFlags.Load()&optionsMask) & publicOptionsMask
}

// Context returns the cancellation context captured at construction, or
// [context.Background] if none was supplied. Task bodies may consult it for
// cooperative cancellation.
func (t *Task) Context() context.Context {
	if t.ctx != nil {
		return t.ctx
	}
	return context.Background()
}

func (t *Task) hasOption(o CreateOptions) bool {
	return CreateOptions(t.stateFlags.Load())&o != 0
}

func (t *Task) trySetScheduler(s Scheduler) bool {
	return t.scheduler.CompareAndSwap(nil, &schedulerBox{s: s})
}

func (t *Task) getScheduler() Scheduler {
	if b := t.scheduler.Load(); b != nil {
		return b.s
	}
	return nil
}

// Start schedules the task on s. The scheduler reference is installed
// monotonically: if a scheduler was already installed (by a prior Start or at
// construction), Start fails with [ErrTaskStarted].
//
// Starting a continuation task, a promise-style task, a completed task, or a
// disposed task each fail with a distinct precondition error. A failure in
// the scheduler's enqueue is recorded on the task (driving it to Faulted so
// waiters unblock) and also returned.
func (t *Task) Start(s Scheduler) error {
	if s == nil {
		return ErrNilScheduler
	}
	if err := t.startPreconditions(); err != nil {
		return err
	}
	if !t.trySetScheduler(s) {
		return ErrTaskStarted
	}
	if !t.markStarted() {
		return ErrTaskCompleted
	}
	logTaskEvent(t, `task started`)
	return t.enqueue(s)
}

// RunSynchronously attempts to execute the task inline on the calling
// goroutine via the scheduler's inlining hook. If the scheduler refuses, the
// task is queued and the call blocks until it completes.
func (t *Task) RunSynchronously(s Scheduler) error {
	if s == nil {
		return ErrNilScheduler
	}
	if err := t.startPreconditions(); err != nil {
		return err
	}
	if !t.trySetScheduler(s) {
		return ErrTaskStarted
	}
	if !t.markStarted() {
		return ErrTaskCompleted
	}
	if t.tryRunInline(s, false) {
		return nil
	}
	if err := t.enqueue(s); err != nil {
		return err
	}
	<-t.completionCh()
	return nil
}

func (t *Task) startPreconditions() error {
	flags := t.stateFlags.Load()
	options := CreateOptions(flags & optionsMask)
	switch {
	case options&optionContinuationTask != 0:
		return ErrContinuationTask
	case options&optionPromiseTask != 0:
		return ErrPromiseTask
	case flags&stateDisposed != 0:
		return ErrDisposed
	case flags&stateCompletedMask != 0:
		return ErrTaskCompleted
	}
	return nil
}

// startInternal is the runtime's start path: it uses the installed scheduler
// (falling back to Default), tolerating a construction-time installation.
func (t *Task) startInternal(s Scheduler) error {
	if s == nil {
		s = Default()
	}
	t.trySetScheduler(s)
	if !t.markStarted() {
		return ErrTaskCompleted
	}
	return t.enqueue(t.getScheduler())
}

// enqueue hands the task to the scheduler, converting any failure into a
// SchedulerError recorded on the task.
func (t *Task) enqueue(s Scheduler) error {
	if err := s.Queue(t); err != nil {
		serr := &SchedulerError{Cause: err}
		t.ensureContingent().appendException(serr)
		t.finish(false)
		logTaskError(t, serr, `scheduler rejected task`)
		return serr
	}
	return nil
}

// tryRunInline runs the task on the calling goroutine through the
// scheduler's inlining hook, guarded by the per-goroutine depth limit.
func (t *Task) tryRunInline(s Scheduler, wasPreviouslyQueued bool) bool {
	if !beginInline() {
		return false
	}
	defer endInline()
	return s.TryInline(t, wasPreviouslyQueued)
}

// Execute is the execution entry invoked by schedulers. It is idempotent:
// the first call on a runnable task runs the body and drives the task to a
// terminal state; any other call returns false without side effects.
//
// Scheduler implementations must arrange for Execute to be invoked exactly
// once per queued task; extra calls are tolerated.
func (t *Task) Execute() bool {
	if _, ok := t.tryUpdateState(stateDelegateInvoked, stateDelegateInvoked|stateCompletedMask); !ok {
		return false
	}
	if t.cancellationRequested() {
		// Body skipped; acknowledge and complete as Canceled.
		t.recordCancellationRequest()
		t.orState(stateCancellationAck)
		t.finish(true)
		return true
	}
	t.run()
	return true
}

// run executes the body with the current-task slot swapped in, classifying
// panics and runtime.Goexit, then finishes the task exactly once.
func (t *Task) run() {
	prev := setCurrentTask(t)
	var returned bool
	defer func() {
		r := recover()
		setCurrentTask(prev)
		if r != nil {
			t.recordFailure(r)
		} else if !returned {
			// runtime.Goexit unwound the body: note it so synchronous
			// continuations are demoted to their scheduler.
			t.orState(stateGoroutineAborted)
		}
		t.finish(true)
	}()
	if t.action != nil {
		t.action()
	}
	returned = true
}

// recordFailure classifies a body failure: a cancellation error matching the
// task's context is acknowledged cancellation; anything else is recorded in
// the exception aggregate. Non-error panic values are wrapped in PanicError.
func (t *Task) recordFailure(r any) {
	err, ok := r.(error)
	if !ok {
		err = PanicError{Value: r}
	}
	if t.ctx != nil {
		if ctxErr := t.ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			t.recordCancellationRequest()
			t.orState(stateCancellationAck)
			return
		}
	}
	t.ensureContingent().appendException(err)
}

// finish is stage one of completion. With delegateRan, the completion
// countdown is decremented; a nonzero remainder means attached children are
// still running and the last of them will finalize the task.
func (t *Task) finish(delegateRan bool) {
	if !delegateRan {
		t.finishStageTwo()
		return
	}
	if cp := t.contingent.Load(); cp != nil && cp.countdown.Add(-1) != 0 {
		t.orState(stateWaitingOnChildren)
		return
	}
	t.finishStageTwo()
}

// finishStageTwo finalizes: folds in faulted children, selects the terminal
// bit, records it (reserving completion first), and runs the completion
// tail. It executes exactly once per task: the countdown reaches zero once.
func (t *Task) finishStageTwo() {
	t.aggregateExceptionalChildren()

	cp := t.contingent.Load()
	var terminal int32
	switch {
	case cp != nil && cp.hasExceptions():
		terminal = stateFaulted
	case t.cancellationRequested() && t.stateFlags.Load()&stateCancellationAck != 0:
		terminal = stateCanceled
	default:
		terminal = stateRanToCompletion
	}

	// The reservation may already be held when completion arrived through a
	// producer handle; the recording below is still unique because stage two
	// runs once.
	t.reserveCompletion()
	t.orState(terminal)
	t.finishCompletionTail(terminal)
}

// finishCompletionTail runs after the terminal bit is visible: signal the
// completion event, deregister the cancellation callback, notify the parent,
// drain continuations, release the body.
func (t *Task) finishCompletionTail(terminal int32) {
	logTaskEvent(t, `task completed`)
	t.signalCompletion()
	t.deregisterCancellation()
	if t.parent != nil && t.hasOption(AttachedToParent|optionChildReplica) && !t.parent.IsCompleted() {
		t.parent.processChildCompletion(t)
	}
	t.finishContinuations()
	t.action = nil
	if terminal == stateFaulted {
		t.armUnobservedFault()
	}
}

// addNewChild joins a newly constructed attached child to this task's
// completion countdown.
func (t *Task) addNewChild() {
	t.ensureContingent().countdown.Add(1)
}

// disregardChild reverses addNewChild after a failed child construction.
func (t *Task) disregardChild() {
	if cp := t.contingent.Load(); cp != nil {
		cp.countdown.Add(-1)
	}
}

// processChildCompletion is called by an attached child that reached a
// terminal state. Faulted children not yet observed through the parent's
// wait path are retained for aggregation; the last completing child
// finalizes the parent.
func (t *Task) processChildCompletion(child *Task) {
	if child.IsFaulted() && child.stateFlags.Load()&stateExceptionObserved == 0 {
		cp := t.ensureContingent()
		cp.mu.Lock()
		cp.exceptionalChildren = append(cp.exceptionalChildren, child)
		cp.mu.Unlock()
	}
	cp := t.contingent.Load()
	if cp != nil && cp.countdown.Add(-1) == 0 {
		t.finishStageTwo()
	}
}

// aggregateExceptionalChildren drains the exceptional-children list into
// this task's own aggregate, skipping children whose exception the parent
// already observed via wait.
func (t *Task) aggregateExceptionalChildren() {
	cp := t.contingent.Load()
	if cp == nil {
		return
	}
	cp.mu.Lock()
	children := cp.exceptionalChildren
	cp.exceptionalChildren = nil
	cp.mu.Unlock()
	for _, child := range children {
		if child.stateFlags.Load()&stateExceptionObserved != 0 {
			continue
		}
		if ccp := child.contingent.Load(); ccp != nil {
			for _, err := range ccp.exceptionsSnapshot() {
				cp.appendException(err)
			}
			child.markFaultObserved()
		}
	}
}

// Cancel requests cancellation of the task. A task that has not begun
// executing is canceled outright when its scheduler can dequeue it, or via
// an atomic canceled-before-started transition when the scheduler requires
// one; otherwise the request is cooperative and is observed when the task
// next runs. Returns true if the request was recorded before the task
// completed.
func (t *Task) Cancel() bool {
	return t.internalCancel()
}

func (t *Task) internalCancel() bool {
	flags := t.stateFlags.Load()
	if flags&stateCompletedMask != 0 {
		return false
	}
	sched := t.getScheduler()

	if sched != nil && flags&stateStarted != 0 && flags&stateDelegateInvoked == 0 {
		if sched.TryDequeue(t) {
			t.recordCancellationRequest()
			t.orState(stateCancellationAck)
			logTaskEvent(t, `task dequeued for cancellation`)
			t.finish(false)
			return true
		}
	}

	if sched == nil || sched.RequiresAtomicStartTransition() {
		// A single CAS sets canceled (plus the reservation) while started is
		// still unset; success means the task will never run.
		if _, ok := t.tryUpdateState(
			stateCanceled|stateCompletionReserved,
			stateCanceled|stateStarted|stateDelegateInvoked|stateCompletedMask|stateCompletionReserved,
		); ok {
			t.recordCancellationRequest()
			t.orState(stateCancellationAck)
			logTaskEvent(t, `task canceled before start`)
			t.finishCompletionTail(stateCanceled)
			return true
		}
	}

	t.recordCancellationRequest()
	return !t.IsCompleted()
}

// internalCancelContinuation transitions an unstarted continuation task to
// Canceled because its antecedent's terminal state did not match its filter.
func (t *Task) internalCancelContinuation() {
	if _, ok := t.tryUpdateState(
		stateCanceled|stateCompletionReserved,
		stateCanceled|stateCompletedMask|stateCompletionReserved,
	); !ok {
		return
	}
	t.recordCancellationRequest()
	t.orState(stateCancellationAck)
	t.finishCompletionTail(stateCanceled)
}

// completionCh returns a channel closed when the task completes, creating
// the completion event on first use.
func (t *Task) completionCh() <-chan struct{} {
	if t.IsCompleted() {
		return closedChan
	}
	ev := t.event.Load()
	if ev == nil {
		ev = &completionEvent{ch: make(chan struct{})}
		if !t.event.CompareAndSwap(nil, ev) {
			ev = t.event.Load()
		}
		if ev == nil {
			return closedChan
		}
	}
	// Cover the race with a finalize that signaled before our publication.
	if t.IsCompleted() {
		ev.signal()
	}
	return ev.ch
}

func (t *Task) signalCompletion() {
	if ev := t.event.Load(); ev != nil {
		ev.signal()
	}
}

// Wait blocks until the task completes or ctx is done. It returns nil for a
// task that ran to completion, the [AggregateError] of a faulted task, a
// [CanceledError] for a canceled task, or ctx's error if ctx is done first.
func (t *Task) Wait(ctx context.Context) error {
	if t.stateFlags.Load()&stateDisposed != 0 {
		return ErrDisposed
	}
	if !t.IsCompleted() {
		select {
		case <-t.completionCh():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return t.completionError()
}

// WaitTimeout is Wait bounded by d. It reports whether the task completed;
// an elapsed timeout returns (false, nil) without error. On completion the
// task's terminal error, if any, is returned alongside true.
func (t *Task) WaitTimeout(ctx context.Context, d time.Duration) (bool, error) {
	if t.stateFlags.Load()&stateDisposed != 0 {
		return false, ErrDisposed
	}
	if !t.IsCompleted() {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-t.completionCh():
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
			return false, nil
		}
	}
	return true, t.completionError()
}

// completionError translates the terminal state into the wait-path error,
// marking fault observation as a side effect.
func (t *Task) completionError() error {
	switch t.Status() {
	case StatusFaulted:
		return t.Exception()
	case StatusCanceled:
		var cause error
		if t.ctx != nil {
			cause = t.ctx.Err()
		}
		return &CanceledError{TaskID: t.ID(), Cause: cause}
	default:
		return nil
	}
}

// Exception returns the error aggregate of a faulted task, or nil. Reading
// the aggregate marks it observed, both for the unobserved-fault
// notification and, when called from the parent's wait path, for parent
// aggregation filtering.
func (t *Task) Exception() *AggregateError {
	if !t.IsFaulted() {
		return nil
	}
	cp := t.contingent.Load()
	if cp == nil {
		return nil
	}
	t.updateExceptionObservedStatus()
	t.markFaultObserved()
	return &AggregateError{Errors: cp.exceptionsSnapshot()}
}

// updateExceptionObservedStatus flags the child as observed when the caller
// is the parent's body observing it through wait. Only this path may set the
// bit.
func (t *Task) updateExceptionObservedStatus() {
	if t.parent != nil && t.hasOption(AttachedToParent|optionChildReplica) && CurrentTask() == t.parent {
		t.orState(stateExceptionObserved)
	}
}

// Dispose releases the completion event. It is legal only once the task has
// reached a terminal state; operations on a disposed task fail with
// [ErrDisposed].
func (t *Task) Dispose() error {
	if !t.IsCompleted() {
		return ErrTaskNotCompleted
	}
	t.orState(stateDisposed)
	t.event.Store(nil)
	return nil
}
