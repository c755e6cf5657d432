package futures

import "context"

// CreateOptions is the creation-options bitfield carried in the low 16 bits
// of the task state word.
type CreateOptions int32

const (
	// PreferFairness hints the scheduler to favor FIFO ordering for this
	// task.
	PreferFairness CreateOptions = 0x01
	// LongRunning hints the scheduler that the task is coarse-grained and
	// may warrant a dedicated goroutine.
	LongRunning CreateOptions = 0x02
	// AttachedToParent joins the task to the completion countdown of the
	// task executing on the creating goroutine, if any.
	AttachedToParent CreateOptions = 0x04

	// Internal options, never accepted from callers.

	// optionChildReplica marks a replica spawned under a replicating root;
	// replicas join the root's countdown like attached children, and each
	// replica may tail-spawn its successor.
	optionChildReplica CreateOptions = 0x100
	// optionContinuationTask marks a task created by ContinueWith; it is
	// started by its antecedent's completion, never directly.
	optionContinuationTask CreateOptions = 0x200
	// optionPromiseTask marks a task with no body, completed externally via
	// a CompletionSource.
	optionPromiseTask CreateOptions = 0x400
	// optionQueuedByRuntime suppresses cancellation-callback registration
	// for tasks the runtime has already queued.
	optionQueuedByRuntime CreateOptions = 0x800

	publicOptionsMask = PreferFairness | LongRunning | AttachedToParent
)

// taskConfig holds construction configuration for a Task.
type taskConfig struct {
	ctx       context.Context
	scheduler Scheduler
	state     any
	options   CreateOptions
}

// --- Task Options ---

// TaskOption configures task construction.
type TaskOption interface {
	applyTask(*taskConfig) error
}

// taskOptionImpl implements TaskOption.
type taskOptionImpl struct {
	applyTaskFunc func(*taskConfig) error
}

func (x *taskOptionImpl) applyTask(cfg *taskConfig) error {
	return x.applyTaskFunc(cfg)
}

// WithContext associates a cancellation context with the task. Cancellation
// of the context requests cancellation of the task; a callback registered on
// the context is deregistered on every terminal transition.
func WithContext(ctx context.Context) TaskOption {
	return &taskOptionImpl{func(cfg *taskConfig) error {
		cfg.ctx = ctx
		return nil
	}}
}

// WithScheduler fixes the task's scheduler at construction. Once set, the
// scheduler reference cannot be replaced.
func WithScheduler(s Scheduler) TaskOption {
	return &taskOptionImpl{func(cfg *taskConfig) error {
		if s == nil {
			return ErrNilScheduler
		}
		cfg.scheduler = s
		return nil
	}}
}

// WithState attaches an opaque state object, passed to bodies constructed
// via [NewWithState] and readable via [Task.State].
func WithState(state any) TaskOption {
	return &taskOptionImpl{func(cfg *taskConfig) error {
		cfg.state = state
		return nil
	}}
}

// WithOptions sets creation-option flags. Only [PreferFairness],
// [LongRunning], and [AttachedToParent] are accepted from callers.
func WithOptions(options CreateOptions) TaskOption {
	return &taskOptionImpl{func(cfg *taskConfig) error {
		if options&^publicOptionsMask != 0 {
			return ErrInvalidOptions
		}
		cfg.options |= options
		return nil
	}}
}

// resolveTaskOptions applies TaskOption instances to a fresh taskConfig.
func resolveTaskOptions(opts []TaskOption) (*taskConfig, error) {
	cfg := &taskConfig{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyTask(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// ContinueOptions filters and shapes continuation execution.
type ContinueOptions int32

const (
	// NotOnRanToCompletion excludes antecedents that ran to completion.
	NotOnRanToCompletion ContinueOptions = 0x10000
	// NotOnFaulted excludes faulted antecedents.
	NotOnFaulted ContinueOptions = 0x20000
	// NotOnCanceled excludes canceled antecedents.
	NotOnCanceled ContinueOptions = 0x40000
	// OnlyOnRanToCompletion runs the continuation only after success.
	OnlyOnRanToCompletion = NotOnFaulted | NotOnCanceled
	// OnlyOnFaulted runs the continuation only after a fault.
	OnlyOnFaulted = NotOnRanToCompletion | NotOnCanceled
	// OnlyOnCanceled runs the continuation only after cancellation.
	OnlyOnCanceled = NotOnRanToCompletion | NotOnFaulted
	// ExecuteSynchronously requests inline execution on the goroutine that
	// observes the antecedent's completion, subject to the inline guard.
	ExecuteSynchronously ContinueOptions = 0x80000

	notOnAnything = NotOnRanToCompletion | NotOnFaulted | NotOnCanceled
)

// continueConfig holds construction configuration for a continuation.
type continueConfig struct {
	scheduler Scheduler
	options   ContinueOptions
	create    CreateOptions
}

// --- Continuation Options ---

// ContinueOption configures ContinueWith.
type ContinueOption interface {
	applyContinue(*continueConfig) error
}

type continueOptionImpl struct {
	applyContinueFunc func(*continueConfig) error
}

func (x *continueOptionImpl) applyContinue(cfg *continueConfig) error {
	return x.applyContinueFunc(cfg)
}

// WithContinueOptions sets the continuation's filter and execution flags.
func WithContinueOptions(options ContinueOptions) ContinueOption {
	return &continueOptionImpl{func(cfg *continueConfig) error {
		cfg.options |= options
		return nil
	}}
}

// WithContinueScheduler sets the scheduler the continuation is queued to.
// Defaults to [Default].
func WithContinueScheduler(s Scheduler) ContinueOption {
	return &continueOptionImpl{func(cfg *continueConfig) error {
		if s == nil {
			return ErrNilScheduler
		}
		cfg.scheduler = s
		return nil
	}}
}

// WithContinueCreateOptions applies creation options (e.g. [LongRunning],
// [AttachedToParent]) to the continuation task itself.
func WithContinueCreateOptions(options CreateOptions) ContinueOption {
	return &continueOptionImpl{func(cfg *continueConfig) error {
		if options&^publicOptionsMask != 0 {
			return ErrInvalidOptions
		}
		cfg.create |= options
		return nil
	}}
}

// resolveContinueOptions applies ContinueOption instances and validates the
// combination.
func resolveContinueOptions(opts []ContinueOption) (*continueConfig, error) {
	cfg := &continueConfig{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyContinue(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.options&notOnAnything == notOnAnything {
		return nil, ErrInvalidOptions
	}
	if cfg.options&ExecuteSynchronously != 0 && cfg.create&LongRunning != 0 {
		return nil, ErrInvalidOptions
	}
	return cfg, nil
}
