package flow

import "context"

// Action is the common contract every node in the graph satisfies: a name
// assigned at build time, the state keys it reads and may write, and the
// runtime inputs it accepts. An Action additionally satisfies exactly one
// of TwoPhaseAction, SingleStepAction, or StreamingAction — the engine
// discovers which via type assertion at step time.
type Action interface {
	// Name identifies the action; assigned (and validated unique) by the
	// builder, not necessarily by the implementation itself.
	Name() string
	// Reads lists the state keys this action requires to be present
	// before it runs.
	Reads() []string
	// Writes lists the state keys this action may add or modify. Writing
	// any other key is rejected with UndeclaredWriteError.
	Writes() []string
	// Inputs returns the required and optional runtime argument names
	// the caller must (required) or may (optional) supply at the call
	// site; these are never drawn from State.
	Inputs() (required, optional []string)
	// IsAsync reports whether this action must be invoked through the
	// cooperative (*Async) entry points.
	IsAsync() bool
}

// TwoPhaseAction runs in two steps: Run produces a result over the
// reads-restricted state, then Update reduces that result into a new state
// restricted to the writes the action is allowed to make.
type TwoPhaseAction interface {
	Action
	Run(ctx context.Context, state State, inputs map[string]any) (map[string]any, error)
	Update(result map[string]any, state State) (State, error)
}

// SingleStepAction runs and reduces in one call, given the full state.
type SingleStepAction interface {
	Action
	RunAndUpdate(ctx context.Context, state State, inputs map[string]any) (map[string]any, State, error)
}

// StreamItem is one element of a streaming action's output. Partial is the
// intermediate payload for every non-terminal item. The terminal item sets
// Final to true and carries the action's result and new state; Final items
// never repeat.
type StreamItem struct {
	Partial    any
	Final      bool
	Result     map[string]any
	FinalState State
}

// StreamingAction produces a finite sequence of partial items followed by
// exactly one terminal item. The returned channel is closed by the action
// once the terminal item has been sent (or on error, in which case err is
// non-nil and the channel is closed without a terminal item).
type StreamingAction interface {
	Action
	Stream(ctx context.Context, state State, inputs map[string]any) (<-chan StreamItem, error)
}

// baseAction implements the Action contract's bookkeeping fields; concrete
// action kinds embed it.
type baseAction struct {
	name             string
	reads            []string
	writes           []string
	requiredInputs   []string
	optionalInputs   []string
	async            bool
}

func (a *baseAction) Name() string    { return a.name }
func (a *baseAction) Reads() []string { return a.reads }
func (a *baseAction) Writes() []string {
	return a.writes
}
func (a *baseAction) Inputs() (required, optional []string) {
	return a.requiredInputs, a.optionalInputs
}
func (a *baseAction) IsAsync() bool { return a.async }

// ActionOption configures an action built with TwoPhaseFunc, SingleStepFunc,
// or StreamingFunc.
type ActionOption func(*baseAction)

// WithRequiredInputs declares runtime arguments the caller must supply.
func WithRequiredInputs(names ...string) ActionOption {
	return func(b *baseAction) { b.requiredInputs = names }
}

// WithOptionalInputs declares runtime arguments the caller may supply.
func WithOptionalInputs(names ...string) ActionOption {
	return func(b *baseAction) { b.optionalInputs = names }
}

// WithAsync marks the action as requiring the cooperative (*Async) entry
// points.
func WithAsync() ActionOption {
	return func(b *baseAction) { b.async = true }
}

// TwoPhaseRunFunc is the Run half of a function-adapted TwoPhaseAction.
type TwoPhaseRunFunc func(ctx context.Context, state State, inputs map[string]any) (map[string]any, error)

// TwoPhaseUpdateFunc is the Update half of a function-adapted
// TwoPhaseAction.
type TwoPhaseUpdateFunc func(result map[string]any, state State) (State, error)

// twoPhaseFuncAction adapts a pair of plain functions to TwoPhaseAction,
// the idiomatic counterpart of the reference architecture's NodeFunc
// adapter for its single-function Node interface.
type twoPhaseFuncAction struct {
	baseAction
	run    TwoPhaseRunFunc
	update TwoPhaseUpdateFunc
}

// TwoPhaseFunc builds a TwoPhaseAction from a name, declared reads/writes,
// and the run/update function pair.
func TwoPhaseFunc(name string, reads, writes []string, run TwoPhaseRunFunc, update TwoPhaseUpdateFunc, opts ...ActionOption) TwoPhaseAction {
	a := &twoPhaseFuncAction{
		baseAction: baseAction{name: name, reads: reads, writes: writes},
		run:        run,
		update:     update,
	}
	for _, opt := range opts {
		opt(&a.baseAction)
	}
	return a
}

func (a *twoPhaseFuncAction) Run(ctx context.Context, state State, inputs map[string]any) (map[string]any, error) {
	return a.run(ctx, state, inputs)
}

func (a *twoPhaseFuncAction) Update(result map[string]any, state State) (State, error) {
	return a.update(result, state)
}

// SingleStepRunFunc is the body of a function-adapted SingleStepAction.
type SingleStepRunFunc func(ctx context.Context, state State, inputs map[string]any) (map[string]any, State, error)

type singleStepFuncAction struct {
	baseAction
	run SingleStepRunFunc
}

// SingleStepFunc builds a SingleStepAction from a name, declared
// reads/writes, and its combined run-and-update function.
func SingleStepFunc(name string, reads, writes []string, run SingleStepRunFunc, opts ...ActionOption) SingleStepAction {
	a := &singleStepFuncAction{
		baseAction: baseAction{name: name, reads: reads, writes: writes},
		run:        run,
	}
	for _, opt := range opts {
		opt(&a.baseAction)
	}
	return a
}

func (a *singleStepFuncAction) RunAndUpdate(ctx context.Context, state State, inputs map[string]any) (map[string]any, State, error) {
	return a.run(ctx, state, inputs)
}

// StreamingRunFunc is the body of a function-adapted StreamingAction.
type StreamingRunFunc func(ctx context.Context, state State, inputs map[string]any) (<-chan StreamItem, error)

type streamingFuncAction struct {
	baseAction
	run StreamingRunFunc
}

// StreamingFunc builds a StreamingAction from a name, declared
// reads/writes, and a function that returns the item channel.
func StreamingFunc(name string, reads, writes []string, run StreamingRunFunc, opts ...ActionOption) StreamingAction {
	a := &streamingFuncAction{
		baseAction: baseAction{name: name, reads: reads, writes: writes},
		run:        run,
	}
	for _, opt := range opts {
		opt(&a.baseAction)
	}
	return a
}

func (a *streamingFuncAction) Stream(ctx context.Context, state State, inputs map[string]any) (<-chan StreamItem, error) {
	return a.run(ctx, state, inputs)
}
