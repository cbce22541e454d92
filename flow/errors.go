package flow

import (
	"errors"
	"fmt"
)

// BuildError reports a violation of a build-time invariant: duplicate or
// unknown action names, a dangling transition endpoint, more than one
// default transition leaving a source, or an unknown entrypoint.
type BuildError struct {
	Message string
	Code    string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build error [%s]: %s", e.Code, e.Message)
}

// UndeclaredWriteError reports that an action wrote state keys outside its
// declared Writes set.
type UndeclaredWriteError struct {
	Action string
	Keys   []string
	Code   string
}

func (e *UndeclaredWriteError) Error() string {
	return fmt.Sprintf("[%s] action %q wrote undeclared keys %v", e.Code, e.Action, e.Keys)
}

// MissingInputError reports that a required action input was not supplied
// at the call site.
type MissingInputError struct {
	Action string
	Input  string
	Code   string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("[%s] action %q missing required input %q", e.Code, e.Action, e.Input)
}

// UnknownActionError reports a reference to an action name the graph does
// not declare: a dangling next-action lookup (a bug if the builder's
// validation ran) or an unknown haltBefore/haltAfter name.
type UnknownActionError struct {
	Name string
	Code string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("[%s] unknown action %q", e.Code, e.Name)
}

// AsyncMisuseError reports that the synchronous entry point was invoked on
// an action flagged async, or the asynchronous entry point was required but
// not used.
type AsyncMisuseError struct {
	Action string
	Reason string
	Code   string
}

func (e *AsyncMisuseError) Error() string {
	return fmt.Sprintf("[%s] async misuse on action %q: %s", e.Code, e.Action, e.Reason)
}

// ActionExecutionError wraps any error raised inside an action's Run,
// Update, or RunAndUpdate, carrying the action name and a truncated
// snapshot of the state at the time of failure.
type ActionExecutionError struct {
	Action   string
	Snapshot map[string]any
	Err      error
	Code     string
}

func (e *ActionExecutionError) Error() string {
	return fmt.Sprintf("[%s] action %q failed: %v", e.Code, e.Action, e.Err)
}

func (e *ActionExecutionError) Unwrap() error {
	return e.Err
}

// HookExecutionError reports that a single lifecycle hook failed or
// panicked. Hook failures are isolated: they are logged, never raised, and
// never stop step dispatch.
type HookExecutionError struct {
	Hook string
	Err  error
	Code string
}

func (e *HookExecutionError) Error() string {
	return fmt.Sprintf("[%s] hook %q failed: %v", e.Code, e.Hook, e.Err)
}

func (e *HookExecutionError) Unwrap() error {
	return e.Err
}

// EvaluationError reports that a condition could not be evaluated: a
// referenced state key was missing, or its value could not be compared
// against the condition's operand.
type EvaluationError struct {
	Condition string
	Reason    string
	Code      string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("[%s] condition %q could not be evaluated: %s", e.Code, e.Condition, e.Reason)
}

// StepBudgetExceededError reports that a Run/RunAsync/Iterate/IterateAsync
// call took more steps than WithMaxSteps allows without reaching a halt
// boundary or a terminal action.
type StepBudgetExceededError struct {
	MaxSteps int
	Code     string
}

func (e *StepBudgetExceededError) Error() string {
	return fmt.Sprintf("[%s] exceeded max steps (%d) without halting", e.Code, e.MaxSteps)
}

// ErrNoTerminalStreamItem is returned (wrapped in ActionExecutionError) when
// a streaming action closes its item channel without ever producing a
// terminal (result, finalState) pair.
var ErrNoTerminalStreamItem = errors.New("streaming action closed without a terminal item")

// ErrNotFound is returned by persister implementations when no prior record
// exists for the requested partition key and application id.
var ErrNotFound = errors.New("flow: no persisted record found")
