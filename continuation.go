package futures

// continuation is a record attached to an antecedent: either a continuation
// task (ContinueWith) or an internal completion callback. Callbacks are
// unfiltered and always run synchronously at completion.
type continuation struct {
	task      *Task
	fn        func(antecedent *Task)
	scheduler Scheduler
	options   ContinueOptions
}

// wants reports whether the antecedent's terminal state passes the
// continuation's filter.
func (c *continuation) wants(s TaskStatus) bool {
	switch s {
	case StatusRanToCompletion:
		return c.options&NotOnRanToCompletion == 0
	case StatusCanceled:
		return c.options&NotOnCanceled == 0
	default:
		return c.options&NotOnFaulted == 0
	}
}

// ContinueWith creates a task that runs after this one terminates, receiving
// the completed antecedent. The continuation's filter flags select which
// terminal states it runs on; a non-matching terminal state transitions the
// continuation to Canceled without invoking its body.
//
// If the antecedent is already complete, the continuation is dispatched
// immediately by the calling goroutine (inline when ExecuteSynchronously is
// set and the inline guard permits, queued otherwise).
func (t *Task) ContinueWith(fn func(antecedent *Task), opts ...ContinueOption) (*Task, error) {
	if fn == nil {
		return nil, ErrNilAction
	}
	cfg, err := resolveContinueOptions(opts)
	if err != nil {
		return nil, err
	}
	sched := cfg.scheduler
	if sched == nil {
		sched = Default()
	}

	k := &Task{}
	k.initialize(func() { fn(t) }, &taskConfig{options: cfg.create, scheduler: sched}, optionContinuationTask)

	c := &continuation{task: k, scheduler: sched, options: cfg.options}
	if !t.addContinuation(c) {
		t.runContinuation(c, c.options&ExecuteSynchronously != 0, false)
	}
	return k, nil
}

// whenCompleted attaches an internal completion callback, invoking it
// immediately if the task is already complete.
func (t *Task) whenCompleted(fn func(*Task)) {
	c := &continuation{fn: fn}
	if !t.addContinuation(c) {
		fn(t)
	}
}

// addContinuation appends under the contingent mutex, re-checking completion
// after acquiring it to cover the race with finalize. A false return means
// the task is complete and the caller must dispatch the continuation itself.
func (t *Task) addContinuation(c *continuation) bool {
	if t.IsCompleted() {
		return false
	}
	cp := t.ensureContingent()
	cp.mu.Lock()
	if t.IsCompleted() {
		cp.mu.Unlock()
		return false
	}
	cp.continuations = append(cp.continuations, c)
	cp.mu.Unlock()
	return true
}

// finishContinuations drains the continuation list once, after the terminal
// bit is visible. Scheduler-queued continuations go first in reverse
// insertion order, then synchronous continuations in forward order. Inline
// execution is suppressed for the whole drain when the goroutine-aborted bit
// is set.
func (t *Task) finishContinuations() {
	cp := t.contingent.Load()
	if cp == nil {
		return
	}
	cp.mu.Lock()
	list := cp.continuations
	cp.continuations = nil
	cp.mu.Unlock()
	if len(list) == 0 {
		return
	}

	suppressInline := t.stateFlags.Load()&stateGoroutineAborted != 0

	for i := len(list) - 1; i >= 0; i-- {
		c := list[i]
		if c.fn == nil && c.options&ExecuteSynchronously == 0 {
			t.runContinuation(c, false, suppressInline)
		}
	}
	for _, c := range list {
		if c.fn != nil || c.options&ExecuteSynchronously != 0 {
			t.runContinuation(c, true, suppressInline)
		}
	}
}

// runContinuation dispatches one continuation against this (completed)
// antecedent: callbacks run here; tasks are filtered, then inlined or queued.
func (t *Task) runContinuation(c *continuation, synchronous, suppressInline bool) {
	if c.fn != nil {
		c.fn(t)
		return
	}
	k := c.task
	if !c.wants(t.Status()) {
		k.internalCancelContinuation()
		return
	}
	if !k.markStarted() {
		// Canceled before its antecedent completed.
		return
	}
	logTaskEvent(k, `continuation dispatched`)
	if synchronous && !suppressInline && k.tryRunInline(c.scheduler, false) {
		return
	}
	_ = k.enqueue(c.scheduler)
}
