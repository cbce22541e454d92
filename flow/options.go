package flow

import "time"

// Options is the legacy bulk-configuration counterpart to Option: a plain
// struct a caller can build once (from a config file or flag set) and pass
// to Builder.WithOptions alongside, or instead of, individual Option
// values. Fields left at their zero value do not override anything a
// functional Option already set; Option values applied after an Options
// value win, matching the reference architecture's own
// "Options can be mixed with functional options, later wins" contract.
type Options struct {
	// DefaultActionTimeout bounds every action invocation. Zero means no
	// timeout.
	DefaultActionTimeout time.Duration
	// RunBudget bounds the wall-clock duration of a single Run/RunAsync
	// call. Zero means no budget.
	RunBudget time.Duration
	// MaxSteps bounds the number of steps a single Run/RunAsync/Iterate/
	// IterateAsync call will drive before giving up. Zero means unbounded.
	MaxSteps int
	// PersistQueueDepth, when positive, makes the Application persist
	// through a buffered outbox instead of saving synchronously inside the
	// step that produced the new state: Save calls are queued on a channel
	// of this depth and drained by one background goroutine. Zero (the
	// default) persists synchronously, as before.
	PersistQueueDepth int
	// ReplayStrictness controls ReplayCheck's behavior on a hash mismatch.
	// Zero value is ReplayLenient.
	ReplayStrictness ReplayStrictness
}

// engineConfig collects the engine-wide tunables a Builder assembles via
// Option. The zero value matches §5's baseline: no default timeout, no
// wall-clock run budget, no step bound, synchronous persistence, lenient
// replay checking.
type engineConfig struct {
	defaultActionTimeout time.Duration
	runBudget            time.Duration
	maxSteps             int
	persistQueueDepth    int
	replayStrictness     ReplayStrictness
}

// Option configures an Application at Build time, following the
// functional-options pattern used throughout this module's reference
// architecture rather than a sprawling constructor parameter list.
type Option func(*engineConfig) error

// WithDefaultActionTimeout bounds every action's Run/RunAndUpdate/Stream
// call with ctx, cancelling it if the action has not returned within d.
// Update takes no context and is not bounded. A zero or negative d (the
// default) applies no timeout.
func WithDefaultActionTimeout(d time.Duration) Option {
	return func(c *engineConfig) error {
		c.defaultActionTimeout = d
		return nil
	}
}

// WithRunBudget bounds the wall-clock duration of a single Run/RunAsync
// call; exceeding it surfaces as the context's deadline-exceeded error on
// the action in flight, wrapped in ActionExecutionError. A zero or
// negative d (the default) applies no budget.
func WithRunBudget(d time.Duration) Option {
	return func(c *engineConfig) error {
		c.runBudget = d
		return nil
	}
}

// WithMaxSteps bounds the number of steps a single Run/RunAsync/Iterate/
// IterateAsync call will drive before it gives up and returns
// StepBudgetExceededError. A zero or negative n (the default) applies no
// bound; Step/StepAsync themselves are never bounded since each call is
// already exactly one step.
func WithMaxSteps(n int) Option {
	return func(c *engineConfig) error {
		c.maxSteps = n
		return nil
	}
}

// WithPersistQueueDepth switches the Application's persistence from
// synchronous (the default) to a buffered outbox of the given depth,
// drained by one background goroutine: a step's Save call returns as soon
// as it is enqueued rather than waiting for the write to land. A zero or
// negative n (the default) keeps persistence synchronous. Call
// Application.Close to drain and stop the outbox goroutine before the
// process exits.
func WithPersistQueueDepth(n int) Option {
	return func(c *engineConfig) error {
		c.persistQueueDepth = n
		return nil
	}
}

// WithReplayStrictness sets what ReplayCheck does when it finds a hash
// mismatch: ReplayLenient (the default) warns and proceeds, ReplayStrict
// returns a ReplayMismatchError.
func WithReplayStrictness(s ReplayStrictness) Option {
	return func(c *engineConfig) error {
		c.replayStrictness = s
		return nil
	}
}

// WithBulkOptions applies a pre-built Options value. Non-zero fields
// overwrite whatever individual Option values set earlier in the
// Builder's WithOptions chain; Option values listed after it in the same
// or a later WithOptions call still take precedence over it, the same
// "later wins" rule the reference architecture applies when mixing its
// own Options struct with its functional options.
func WithBulkOptions(o Options) Option {
	return func(c *engineConfig) error {
		if o.DefaultActionTimeout != 0 {
			c.defaultActionTimeout = o.DefaultActionTimeout
		}
		if o.RunBudget != 0 {
			c.runBudget = o.RunBudget
		}
		if o.MaxSteps != 0 {
			c.maxSteps = o.MaxSteps
		}
		if o.PersistQueueDepth != 0 {
			c.persistQueueDepth = o.PersistQueueDepth
		}
		if o.ReplayStrictness != ReplayLenient {
			c.replayStrictness = o.ReplayStrictness
		}
		return nil
	}
}
