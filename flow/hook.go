package flow

import (
	"context"
	"sync"
	"time"
)

// ExecuteMethod names the top-level Application entry point a
// pre_run_execute_call/post_run_execute_call pair wraps.
type ExecuteMethod string

// The complete set of top-level entry points hooks may observe.
const (
	MethodStep              ExecuteMethod = "Step"
	MethodStepAsync         ExecuteMethod = "StepAsync"
	MethodIterate           ExecuteMethod = "Iterate"
	MethodIterateAsync      ExecuteMethod = "IterateAsync"
	MethodRun               ExecuteMethod = "Run"
	MethodRunAsync          ExecuteMethod = "RunAsync"
	MethodStreamResult      ExecuteMethod = "StreamResult"
	MethodStreamResultAsync ExecuteMethod = "StreamResultAsync"
)

// PostApplicationCreateEvent is fired once, immediately after Builder.Build
// succeeds.
type PostApplicationCreateEvent struct {
	AppID        string
	PartitionKey string
	Graph        *Graph
}

// PreRunExecuteCallEvent wraps a top-level entry point before it runs.
type PreRunExecuteCallEvent struct {
	AppID        string
	PartitionKey string
	Method       ExecuteMethod
}

// PostRunExecuteCallEvent wraps a top-level entry point after it returns.
type PostRunExecuteCallEvent struct {
	AppID        string
	PartitionKey string
	Method       ExecuteMethod
	Err          error
}

// PreRunStepEvent is fired before an action executes.
type PreRunStepEvent struct {
	AppID        string
	PartitionKey string
	SequenceID   int
	State        State
	Action       string
	Inputs       map[string]any
}

// PostRunStepEvent is fired after an action executes, whether it
// succeeded or failed. Err is nil on success.
type PostRunStepEvent struct {
	AppID        string
	PartitionKey string
	SequenceID   int
	State        State
	Action       string
	Result       map[string]any
	Err          error
}

// PreStartSpanEvent is fired when a span is opened.
type PreStartSpanEvent struct {
	Span *ActionSpan
}

// PostEndSpanEvent is fired when a span is closed.
type PostEndSpanEvent struct {
	Span *ActionSpan
}

// LogAttributesEvent is fired by LogAttribute.
type LogAttributesEvent struct {
	Span  *ActionSpan
	Name  string
	Value any
}

// PreStartStreamEvent is fired before a streaming action's first item is
// consumed.
type PreStartStreamEvent struct {
	AppID        string
	PartitionKey string
	Action       string
	SequenceID   int
}

// PostStreamItemEvent is fired once per non-terminal item a streaming
// action yields.
type PostStreamItemEvent struct {
	AppID                    string
	PartitionKey             string
	Action                   string
	SequenceID               int
	Item                     any
	ItemIndex                int
	StreamInitializeTime     time.Time
	FirstStreamItemStartTime time.Time
}

// PostEndStreamEvent is fired exactly once, after a streaming action's
// terminal item, before post_run_step.
type PostEndStreamEvent struct {
	AppID        string
	PartitionKey string
	Action       string
	SequenceID   int
}

// Hook interfaces, one sync/async pair per family. An adapter implements
// whichever interfaces it needs; Registry.Register discovers them via type
// assertion. This is the idiomatic substitute for method-name introspection
// named in the Design Notes: small interfaces, not reflection.

type PostApplicationCreateHook interface {
	PostApplicationCreate(ctx context.Context, e PostApplicationCreateEvent)
}
type PostApplicationCreateAsyncHook interface {
	PostApplicationCreateAsync(ctx context.Context, e PostApplicationCreateEvent) error
}

type PreRunExecuteCallHook interface {
	PreRunExecuteCall(ctx context.Context, e PreRunExecuteCallEvent)
}
type PreRunExecuteCallAsyncHook interface {
	PreRunExecuteCallAsync(ctx context.Context, e PreRunExecuteCallEvent) error
}
type PostRunExecuteCallHook interface {
	PostRunExecuteCall(ctx context.Context, e PostRunExecuteCallEvent)
}
type PostRunExecuteCallAsyncHook interface {
	PostRunExecuteCallAsync(ctx context.Context, e PostRunExecuteCallEvent) error
}

type PreRunStepHook interface {
	PreRunStep(ctx context.Context, e PreRunStepEvent)
}
type PreRunStepAsyncHook interface {
	PreRunStepAsync(ctx context.Context, e PreRunStepEvent) error
}
type PostRunStepHook interface {
	PostRunStep(ctx context.Context, e PostRunStepEvent)
}
type PostRunStepAsyncHook interface {
	PostRunStepAsync(ctx context.Context, e PostRunStepEvent) error
}

type PreStartSpanHook interface {
	PreStartSpan(ctx context.Context, e PreStartSpanEvent)
}
type PreStartSpanAsyncHook interface {
	PreStartSpanAsync(ctx context.Context, e PreStartSpanEvent) error
}
type PostEndSpanHook interface {
	PostEndSpan(ctx context.Context, e PostEndSpanEvent)
}
type PostEndSpanAsyncHook interface {
	PostEndSpanAsync(ctx context.Context, e PostEndSpanEvent) error
}

type DoLogAttributesHook interface {
	DoLogAttributes(ctx context.Context, e LogAttributesEvent)
}
type DoLogAttributesAsyncHook interface {
	DoLogAttributesAsync(ctx context.Context, e LogAttributesEvent) error
}

type PreStartStreamHook interface {
	PreStartStream(ctx context.Context, e PreStartStreamEvent)
}
type PreStartStreamAsyncHook interface {
	PreStartStreamAsync(ctx context.Context, e PreStartStreamEvent) error
}
type PostStreamItemHook interface {
	PostStreamItem(ctx context.Context, e PostStreamItemEvent)
}
type PostStreamItemAsyncHook interface {
	PostStreamItemAsync(ctx context.Context, e PostStreamItemEvent) error
}
type PostEndStreamHook interface {
	PostEndStream(ctx context.Context, e PostEndStreamEvent)
}
type PostEndStreamAsyncHook interface {
	PostEndStreamAsync(ctx context.Context, e PostEndStreamEvent) error
}

// Registry holds the adapters registered for each hook family, in
// registration order. The zero value is ready to use.
type Registry struct {
	appCreate      []PostApplicationCreateHook
	appCreateAsync []PostApplicationCreateAsyncHook

	preExecute       []PreRunExecuteCallHook
	preExecuteAsync  []PreRunExecuteCallAsyncHook
	postExecute      []PostRunExecuteCallHook
	postExecuteAsync []PostRunExecuteCallAsyncHook

	preStep       []PreRunStepHook
	preStepAsync  []PreRunStepAsyncHook
	postStep      []PostRunStepHook
	postStepAsync []PostRunStepAsyncHook

	preSpan       []PreStartSpanHook
	preSpanAsync  []PreStartSpanAsyncHook
	postSpan      []PostEndSpanHook
	postSpanAsync []PostEndSpanAsyncHook

	logAttrs      []DoLogAttributesHook
	logAttrsAsync []DoLogAttributesAsyncHook

	preStream        []PreStartStreamHook
	preStreamAsync   []PreStartStreamAsyncHook
	streamItem       []PostStreamItemHook
	streamItemAsync  []PostStreamItemAsyncHook
	postStream       []PostEndStreamHook
	postStreamAsync  []PostEndStreamAsyncHook

	// OnHookError receives every HookExecutionError produced by a failed
	// or panicking hook. Hook failures never stop step dispatch; this is
	// the only place they are observable. Defaults to a no-op if nil.
	OnHookError func(*HookExecutionError)

	// OnWarning receives non-fatal diagnostic messages, such as an
	// unbounded Run/Iterate call. Defaults to a no-op if nil.
	OnWarning func(string)
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register inspects adapter against every known hook interface and records
// every match. An adapter satisfying none of them is accepted but inert.
func (r *Registry) Register(adapter any) {
	if h, ok := adapter.(PostApplicationCreateHook); ok {
		r.appCreate = append(r.appCreate, h)
	}
	if h, ok := adapter.(PostApplicationCreateAsyncHook); ok {
		r.appCreateAsync = append(r.appCreateAsync, h)
	}
	if h, ok := adapter.(PreRunExecuteCallHook); ok {
		r.preExecute = append(r.preExecute, h)
	}
	if h, ok := adapter.(PreRunExecuteCallAsyncHook); ok {
		r.preExecuteAsync = append(r.preExecuteAsync, h)
	}
	if h, ok := adapter.(PostRunExecuteCallHook); ok {
		r.postExecute = append(r.postExecute, h)
	}
	if h, ok := adapter.(PostRunExecuteCallAsyncHook); ok {
		r.postExecuteAsync = append(r.postExecuteAsync, h)
	}
	if h, ok := adapter.(PreRunStepHook); ok {
		r.preStep = append(r.preStep, h)
	}
	if h, ok := adapter.(PreRunStepAsyncHook); ok {
		r.preStepAsync = append(r.preStepAsync, h)
	}
	if h, ok := adapter.(PostRunStepHook); ok {
		r.postStep = append(r.postStep, h)
	}
	if h, ok := adapter.(PostRunStepAsyncHook); ok {
		r.postStepAsync = append(r.postStepAsync, h)
	}
	if h, ok := adapter.(PreStartSpanHook); ok {
		r.preSpan = append(r.preSpan, h)
	}
	if h, ok := adapter.(PreStartSpanAsyncHook); ok {
		r.preSpanAsync = append(r.preSpanAsync, h)
	}
	if h, ok := adapter.(PostEndSpanHook); ok {
		r.postSpan = append(r.postSpan, h)
	}
	if h, ok := adapter.(PostEndSpanAsyncHook); ok {
		r.postSpanAsync = append(r.postSpanAsync, h)
	}
	if h, ok := adapter.(DoLogAttributesHook); ok {
		r.logAttrs = append(r.logAttrs, h)
	}
	if h, ok := adapter.(DoLogAttributesAsyncHook); ok {
		r.logAttrsAsync = append(r.logAttrsAsync, h)
	}
	if h, ok := adapter.(PreStartStreamHook); ok {
		r.preStream = append(r.preStream, h)
	}
	if h, ok := adapter.(PreStartStreamAsyncHook); ok {
		r.preStreamAsync = append(r.preStreamAsync, h)
	}
	if h, ok := adapter.(PostStreamItemHook); ok {
		r.streamItem = append(r.streamItem, h)
	}
	if h, ok := adapter.(PostStreamItemAsyncHook); ok {
		r.streamItemAsync = append(r.streamItemAsync, h)
	}
	if h, ok := adapter.(PostEndStreamHook); ok {
		r.postStream = append(r.postStream, h)
	}
	if h, ok := adapter.(PostEndStreamAsyncHook); ok {
		r.postStreamAsync = append(r.postStreamAsync, h)
	}
}

// hookDispatcher binds a Registry to a running Application's identifiers
// and drives sync-then-async invocation per family, per §4.5/§5.
type hookDispatcher struct {
	reg *Registry
}

func newHookDispatcher(reg *Registry) *hookDispatcher {
	if reg == nil {
		reg = NewRegistry()
	}
	return &hookDispatcher{reg: reg}
}

func (d *hookDispatcher) reportError(hookName string, err error) {
	if err == nil {
		return
	}
	hookErr := &HookExecutionError{Hook: hookName, Err: err, Code: "HOOK_FAILED"}
	if d.reg.OnHookError != nil {
		d.reg.OnHookError(hookErr)
	}
}

func (d *hookDispatcher) recoverInto(hookName string, errOut *error) {
	if r := recover(); r != nil {
		err := panicToError(r)
		if errOut != nil {
			*errOut = err
		}
		d.reportError(hookName, err)
	}
}

// runAsyncGroup launches fns concurrently, waits for all, and reports the
// first non-nil error under hookName (by arrival order, guarded by a
// mutex), matching "join all; first error surfaces after all complete".
func (d *hookDispatcher) runAsyncGroup(hookName string, fns []func() error) {
	if len(fns) == 0 {
		return
	}
	var wg sync.WaitGroup
	var mu sync.Mutex
	var first error
	for _, fn := range fns {
		fn := fn
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			func() {
				defer func() {
					if r := recover(); r != nil {
						err = panicToError(r)
					}
				}()
				err = fn()
			}()
			if err != nil {
				mu.Lock()
				if first == nil {
					first = err
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	d.reportError(hookName, first)
}
