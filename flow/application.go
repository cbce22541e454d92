package flow

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// StepOutcome is the result of one successful (or halted-before) step:
// the action that ran (or that the loop halted before), its result map
// (nil when halted before), and the state after the step.
type StepOutcome struct {
	Action string
	Result map[string]any
	State  State
}

// Application is a runnable state machine: a Graph, its current State, an
// adapter set, and identifiers. Application is safe for concurrent use by
// multiple goroutines in the sense that calls are serialized internally
// (§5's "cooperative single task per Application"); it does not parallelize
// actions within itself.
type Application struct {
	graph        *Graph
	appID        string
	partitionKey string
	dispatcher   *hookDispatcher
	registry     *Registry
	typeSystem   TypeSystem
	persister    Persister
	serde        *SerdeRegistry
	opts         engineConfig

	mu            sync.Mutex
	state         State
	seqCounter    int
	lastAction    string
	lastInputHash string

	persistCh   chan *PersistedState
	persistDone chan struct{}
}

// ID returns the application's identifier.
func (app *Application) ID() string { return app.appID }

// PartitionKey returns the application's partition key, if any.
func (app *Application) PartitionKey() string { return app.partitionKey }

// Graph returns the application's underlying graph.
func (app *Application) Graph() *Graph { return app.graph }

// State returns the application's current state.
func (app *Application) State() State {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.state
}

func (app *Application) executeWrapped(ctx context.Context, method ExecuteMethod, fn func() (*StepOutcome, error)) (*StepOutcome, error) {
	app.dispatcher.firePreRunExecuteCall(ctx, PreRunExecuteCallEvent{AppID: app.appID, PartitionKey: app.partitionKey, Method: method})
	outcome, err := fn()
	app.dispatcher.firePostRunExecuteCall(ctx, PostRunExecuteCallEvent{AppID: app.appID, PartitionKey: app.partitionKey, Method: method, Err: err})
	return outcome, err
}

// Step advances the machine once. It returns (nil, nil) when the graph is
// terminal from the current state. Step is the synchronous entry point: it
// raises AsyncMisuseError if the chosen action declares IsAsync.
func (app *Application) Step(ctx context.Context, inputs map[string]any) (*StepOutcome, error) {
	return app.executeWrapped(ctx, MethodStep, func() (*StepOutcome, error) {
		return app.doStep(ctx, inputs, false)
	})
}

// StepAsync is Step's cooperative counterpart: the only legal entry point
// for an action that declares IsAsync, and also legal for non-async
// actions.
func (app *Application) StepAsync(ctx context.Context, inputs map[string]any) (*StepOutcome, error) {
	return app.executeWrapped(ctx, MethodStepAsync, func() (*StepOutcome, error) {
		return app.doStep(ctx, inputs, true)
	})
}

func (app *Application) doStep(ctx context.Context, inputs map[string]any, allowAsync bool) (*StepOutcome, error) {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.doStepLocked(ctx, inputs, allowAsync)
}

// doStepLocked performs one step; the caller must hold app.mu.
func (app *Application) doStepLocked(ctx context.Context, inputs map[string]any, allowAsync bool) (*StepOutcome, error) {
	before := app.state

	nextName, err := app.graph.NextAction(before)
	if err != nil {
		return nil, err
	}
	if nextName == "" {
		return nil, nil
	}
	action, ok := app.graph.Action(nextName)
	if !ok {
		return nil, &UnknownActionError{Name: nextName, Code: "UNKNOWN_ACTION"}
	}
	if !allowAsync && action.IsAsync() {
		return nil, &AsyncMisuseError{Action: nextName, Reason: "action is flagged async; call StepAsync/IterateAsync/RunAsync instead", Code: "ASYNC_MISUSE"}
	}
	if inputs == nil {
		inputs = map[string]any{}
	}
	required, _ := action.Inputs()
	for _, name := range required {
		if _, ok := inputs[name]; !ok {
			return nil, &MissingInputError{Action: nextName, Input: name, Code: "MISSING_INPUT"}
		}
	}

	seqID := app.seqCounter
	app.seqCounter++

	spanFac := newSpanFactory(nextName, seqID)
	ctx = withDispatcher(ctx, app.dispatcher)
	ctx = withSpanFactory(ctx, spanFac)

	app.dispatcher.firePreRunStep(ctx, PreRunStepEvent{
		AppID: app.appID, PartitionKey: app.partitionKey, SequenceID: seqID,
		State: before, Action: nextName, Inputs: inputs,
	})

	result, newState, runErr := app.runAction(ctx, action, before, inputs)

	if runErr != nil {
		wrapped := wrapActionError(nextName, before, runErr)
		app.dispatcher.firePostRunStep(ctx, PostRunStepEvent{
			AppID: app.appID, PartitionKey: app.partitionKey, SequenceID: seqID,
			State: before, Action: nextName, Err: wrapped,
		})
		return nil, wrapped
	}

	newState = newState.Update(map[string]any{PriorStepKey: nextName})
	app.state = newState
	app.lastAction = nextName
	app.lastInputHash = hashInputs(inputs)
	app.persistLocked(ctx)

	app.dispatcher.firePostRunStep(ctx, PostRunStepEvent{
		AppID: app.appID, PartitionKey: app.partitionKey, SequenceID: seqID,
		State: newState, Action: nextName, Result: result,
	})

	return &StepOutcome{Action: nextName, Result: result, State: newState}, nil
}

// persistLocked durably records the current state if a persister is
// configured. The caller must hold app.mu. With no outbox configured
// (WithPersistQueueDepth unset), the write happens synchronously and its
// failure is reported through Registry.OnWarning rather than failing the
// step: the in-memory state is already authoritative for this process, and
// the next successful step will retry the write. With an outbox
// configured, the record is handed to the drain goroutine instead; a full
// queue is itself reported through Registry.OnWarning and drops the
// record, same as a failed synchronous write.
func (app *Application) persistLocked(ctx context.Context) {
	if app.persister == nil {
		return
	}
	data, err := app.state.Serialize(app.serde)
	if err != nil {
		app.warn(fmt.Sprintf("serializing state for persistence: %v", err))
		return
	}
	rec := &PersistedState{
		PartitionKey: app.partitionKey, AppID: app.appID, State: data, SeqCounter: app.seqCounter,
		LastAction: app.lastAction, LastInputHash: app.lastInputHash,
	}

	if app.persistCh != nil {
		select {
		case app.persistCh <- rec:
		default:
			app.warn("persist outbox full; dropping state save, next successful step will retry")
		}
		return
	}

	if err := app.persister.Save(ctx, rec); err != nil {
		app.warn(fmt.Sprintf("persisting state: %v", err))
	}
}

// drainPersistOutbox runs on its own goroutine for the lifetime of an
// Application built with WithPersistQueueDepth, saving records as they
// arrive until Close closes persistCh.
func (app *Application) drainPersistOutbox(ctx context.Context) {
	defer close(app.persistDone)
	for rec := range app.persistCh {
		if err := app.persister.Save(ctx, rec); err != nil {
			app.warn(fmt.Sprintf("persisting state: %v", err))
		}
	}
}

// Close stops the background persist-outbox goroutine, if one is running,
// after it drains every record already enqueued. Close is a no-op if the
// Application was not built with WithPersistQueueDepth. It does not close
// the underlying Persister.
func (app *Application) Close() {
	if app.persistCh == nil {
		return
	}
	close(app.persistCh)
	<-app.persistDone
}

func (app *Application) warn(msg string) {
	if app.registry.OnWarning != nil {
		app.registry.OnWarning(msg)
	}
}

func wrapActionError(action string, before State, err error) error {
	if aee, ok := err.(*ActionExecutionError); ok {
		return aee
	}
	return &ActionExecutionError{Action: action, Snapshot: snapshotFor(before), Err: err, Code: "ACTION_EXECUTION_FAILED"}
}

func snapshotFor(s State) map[string]any {
	out := make(map[string]any, s.Len())
	for _, k := range s.Keys() {
		out[k], _ = s.Get(k)
	}
	return out
}

// runAction dispatches to the action's execution shape, applying the
// optional default-action-timeout and recovering panics into errors so
// they flow through the same ActionExecutionError path as returned errors.
func (app *Application) runAction(ctx context.Context, action Action, before State, inputs map[string]any) (result map[string]any, newState State, err error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if app.opts.defaultActionTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, app.opts.defaultActionTimeout)
		defer cancel()
	}

	switch act := action.(type) {
	case TwoPhaseAction:
		restricted := before.Subset(act.Reads()...)
		result, err = safeRunTwoPhase(runCtx, act, restricted, inputs)
		if err != nil {
			return nil, State{}, err
		}
		var updated State
		updated, err = func() (s State, e error) {
			defer recoverIntoErr(&e)
			return act.Update(result, restricted)
		}()
		if err != nil {
			return nil, State{}, err
		}
		window := append(append([]string{}, act.Reads()...), act.Writes()...)
		if bad := detectUndeclaredWrites(restricted, updated, act.Writes()); len(bad) > 0 {
			return nil, State{}, &UndeclaredWriteError{Action: action.Name(), Keys: bad, Code: "UNDECLARED_WRITE"}
		}
		newState = reduce(before, window, updated)
		return result, newState, nil

	case SingleStepAction:
		result, newState, err = safeRunSingleStep(runCtx, act, before, inputs)
		if err != nil {
			return nil, State{}, err
		}
		if bad := detectUndeclaredWrites(before, newState, act.Writes()); len(bad) > 0 {
			return nil, State{}, &UndeclaredWriteError{Action: action.Name(), Keys: bad, Code: "UNDECLARED_WRITE"}
		}
		return result, newState, nil

	default:
		return nil, State{}, fmt.Errorf("action %q implements neither TwoPhaseAction nor SingleStepAction; use StreamResult for streaming actions", action.Name())
	}
}

func safeRunTwoPhase(ctx context.Context, act TwoPhaseAction, state State, inputs map[string]any) (result map[string]any, err error) {
	defer recoverIntoErr(&err)
	return act.Run(ctx, state, inputs)
}

func safeRunSingleStep(ctx context.Context, act SingleStepAction, state State, inputs map[string]any) (result map[string]any, newState State, err error) {
	defer recoverIntoErr(&err)
	return act.RunAndUpdate(ctx, state, inputs)
}

func recoverIntoErr(errOut *error) {
	if r := recover(); r != nil {
		*errOut = panicToError(r)
	}
}

// detectUndeclaredWrites reports keys in after that are new or changed
// relative to before and are not in writes (reserved keys are exempt:
// __PRIOR_STEP is set by the engine itself, never by the action).
func detectUndeclaredWrites(before, after State, writes []string) []string {
	allowed := make(map[string]struct{}, len(writes))
	for _, w := range writes {
		allowed[w] = struct{}{}
	}
	var bad []string
	for _, k := range after.Keys() {
		if IsReservedKey(k) {
			continue
		}
		av, _ := after.Get(k)
		bv, existed := before.Get(k)
		if existed && valuesEqual(av, bv) {
			continue
		}
		if _, ok := allowed[k]; !ok {
			bad = append(bad, k)
		}
	}
	return bad
}

// haltSet is a validated, order-independent set of action names used for
// halt-before/halt-after membership checks.
type haltSet map[string]struct{}

func (app *Application) validateHaltNames(names []string) (haltSet, error) {
	set := make(haltSet, len(names))
	for _, n := range names {
		if _, ok := app.graph.Action(n); !ok {
			return nil, &UnknownActionError{Name: n, Code: "UNKNOWN_ACTION"}
		}
		set[n] = struct{}{}
	}
	return set, nil
}

// runLoop drives Step/StepAsync to completion under the halt-before/
// halt-after rules of §4.4, invoking emit (if non-nil) once per completed
// step. It returns the final outcome (possibly the halt-before sentinel)
// and any error encountered.
func (app *Application) runLoop(ctx context.Context, haltBefore, haltAfter haltSet, inputs map[string]any, allowAsync bool, emit func(StepOutcome)) (*StepOutcome, error) {
	first := true
	var last *StepOutcome
	steps := 0
	for {
		app.mu.Lock()
		state := app.state
		app.mu.Unlock()

		nextName, err := app.graph.NextAction(state)
		if err != nil {
			return last, err
		}
		if nextName == "" {
			return last, nil
		}
		if _, halt := haltBefore[nextName]; halt {
			return &StepOutcome{Action: nextName, State: state}, nil
		}
		if app.opts.maxSteps > 0 && steps >= app.opts.maxSteps {
			return last, &StepBudgetExceededError{MaxSteps: app.opts.maxSteps, Code: "STEP_BUDGET_EXCEEDED"}
		}

		stepInputs := map[string]any{}
		if first {
			stepInputs = inputs
			first = false
		}

		var outcome *StepOutcome
		outcome, err = app.doStep(ctx, stepInputs, allowAsync)
		if err != nil {
			return last, err
		}
		last = outcome
		steps++
		if emit != nil {
			emit(*outcome)
		}
		if _, halt := haltAfter[outcome.Action]; halt {
			return last, nil
		}
	}
}

// Run drives the machine to completion (or to a halt boundary), returning
// the final outcome.
func (app *Application) Run(ctx context.Context, haltBefore, haltAfter []string, inputs map[string]any) (*StepOutcome, error) {
	return app.run(ctx, haltBefore, haltAfter, inputs, false)
}

// RunAsync is Run's cooperative counterpart, required when the graph
// contains actions flagged async.
func (app *Application) RunAsync(ctx context.Context, haltBefore, haltAfter []string, inputs map[string]any) (*StepOutcome, error) {
	return app.run(ctx, haltBefore, haltAfter, inputs, true)
}

func (app *Application) run(ctx context.Context, haltBeforeNames, haltAfterNames []string, inputs map[string]any, allowAsync bool) (*StepOutcome, error) {
	method := MethodRun
	if allowAsync {
		method = MethodRunAsync
	}
	if app.opts.runBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, app.opts.runBudget)
		defer cancel()
	}
	return app.executeWrapped(ctx, method, func() (*StepOutcome, error) {
		haltBefore, err := app.validateHaltNames(haltBeforeNames)
		if err != nil {
			return nil, err
		}
		haltAfter, err := app.validateHaltNames(haltAfterNames)
		if err != nil {
			return nil, err
		}
		app.warnIfUnbounded(haltBefore, haltAfter)
		return app.runLoop(ctx, haltBefore, haltAfter, inputs, allowAsync, nil)
	})
}

func (app *Application) warnIfUnbounded(haltBefore, haltAfter haltSet) {
	if len(haltBefore) == 0 && len(haltAfter) == 0 && app.registry.OnWarning != nil {
		app.registry.OnWarning(fmt.Sprintf("application %s: run/iterate called with no halt conditions; it may not halt until the graph reaches a terminal action", app.appID))
	}
}

// Iterate drives the machine step by step, delivering each completed
// outcome over the returned channel (closed when the loop ends), and
// returning an accessor for the final outcome/error once the loop has
// finished. Inputs are consumed only by the first step.
func (app *Application) Iterate(ctx context.Context, haltBefore, haltAfter []string, inputs map[string]any) (<-chan StepOutcome, func() (*StepOutcome, error)) {
	return app.iterate(ctx, haltBefore, haltAfter, inputs, false)
}

// IterateAsync is Iterate's cooperative counterpart.
func (app *Application) IterateAsync(ctx context.Context, haltBefore, haltAfter []string, inputs map[string]any) (<-chan StepOutcome, func() (*StepOutcome, error)) {
	return app.iterate(ctx, haltBefore, haltAfter, inputs, true)
}

func (app *Application) iterate(ctx context.Context, haltBeforeNames, haltAfterNames []string, inputs map[string]any, allowAsync bool) (<-chan StepOutcome, func() (*StepOutcome, error)) {
	method := MethodIterate
	if allowAsync {
		method = MethodIterateAsync
	}
	app.dispatcher.firePreRunExecuteCall(ctx, PreRunExecuteCallEvent{AppID: app.appID, PartitionKey: app.partitionKey, Method: method})

	ch := make(chan StepOutcome)
	done := make(chan struct{})
	var finalOutcome *StepOutcome
	var finalErr error

	finish := func(outcome *StepOutcome, err error) {
		finalOutcome, finalErr = outcome, err
		app.dispatcher.firePostRunExecuteCall(ctx, PostRunExecuteCallEvent{AppID: app.appID, PartitionKey: app.partitionKey, Method: method, Err: err})
		close(done)
	}

	haltBefore, err := app.validateHaltNames(haltBeforeNames)
	if err == nil {
		var haltAfter haltSet
		haltAfter, err = app.validateHaltNames(haltAfterNames)
		if err == nil {
			app.warnIfUnbounded(haltBefore, haltAfter)
			go func() {
				defer close(ch)
				outcome, loopErr := app.runLoop(ctx, haltBefore, haltAfter, inputs, allowAsync, func(o StepOutcome) {
					select {
					case ch <- o:
					case <-ctx.Done():
					}
				})
				finish(outcome, loopErr)
			}()
			return ch, func() (*StepOutcome, error) { <-done; return finalOutcome, finalErr }
		}
	}

	close(ch)
	finish(nil, err)
	return ch, func() (*StepOutcome, error) { <-done; return finalOutcome, finalErr }
}

// StreamResult runs the next action if (and only if) it is a
// StreamingAction, delivering each StreamItem over the returned channel
// (the terminal item included, last) and returning an accessor for the
// outcome once streaming completes. StreamResult returns a closed channel
// and a ready accessor immediately if the graph is terminal, the next
// action does not implement StreamingAction, or validation otherwise
// fails before the action starts.
func (app *Application) StreamResult(ctx context.Context, inputs map[string]any) (<-chan StreamItem, func() (*StepOutcome, error)) {
	return app.streamResult(ctx, inputs, false)
}

// StreamResultAsync is StreamResult's cooperative counterpart, required
// when the next action's Stream body is itself async.
func (app *Application) StreamResultAsync(ctx context.Context, inputs map[string]any) (<-chan StreamItem, func() (*StepOutcome, error)) {
	return app.streamResult(ctx, inputs, true)
}

func (app *Application) streamResult(ctx context.Context, inputs map[string]any, allowAsync bool) (<-chan StreamItem, func() (*StepOutcome, error)) {
	method := MethodStreamResult
	if allowAsync {
		method = MethodStreamResultAsync
	}
	app.dispatcher.firePreRunExecuteCall(ctx, PreRunExecuteCallEvent{AppID: app.appID, PartitionKey: app.partitionKey, Method: method})

	out := make(chan StreamItem)
	done := make(chan struct{})
	var finalOutcome *StepOutcome
	var finalErr error
	finish := func(outcome *StepOutcome, err error) {
		finalOutcome, finalErr = outcome, err
		app.dispatcher.firePostRunExecuteCall(ctx, PostRunExecuteCallEvent{AppID: app.appID, PartitionKey: app.partitionKey, Method: method, Err: err})
		close(done)
	}
	accessor := func() (*StepOutcome, error) { <-done; return finalOutcome, finalErr }

	app.mu.Lock()
	state := app.state
	app.mu.Unlock()

	nextName, err := app.graph.NextAction(state)
	if err != nil {
		close(out)
		finish(nil, err)
		return out, accessor
	}
	if nextName == "" {
		close(out)
		finish(nil, nil)
		return out, accessor
	}
	action, ok := app.graph.Action(nextName)
	if !ok {
		close(out)
		finish(nil, &UnknownActionError{Name: nextName, Code: "UNKNOWN_ACTION"})
		return out, accessor
	}
	streamAction, ok := action.(StreamingAction)
	if !ok {
		close(out)
		finish(nil, &ActionExecutionError{Action: nextName, Err: fmt.Errorf("action %q does not implement StreamingAction", nextName), Code: "NOT_STREAMING"})
		return out, accessor
	}
	if !allowAsync && streamAction.IsAsync() {
		close(out)
		finish(nil, &AsyncMisuseError{Action: nextName, Reason: "action is flagged async; call StreamResultAsync instead", Code: "ASYNC_MISUSE"})
		return out, accessor
	}
	if inputs == nil {
		inputs = map[string]any{}
	}
	required, _ := streamAction.Inputs()
	for _, name := range required {
		if _, ok := inputs[name]; !ok {
			close(out)
			finish(nil, &MissingInputError{Action: nextName, Input: name, Code: "MISSING_INPUT"})
			return out, accessor
		}
	}

	go app.runStream(ctx, streamAction, nextName, state, inputs, out, finish)

	return out, accessor
}

func (app *Application) runStream(ctx context.Context, action StreamingAction, name string, before State, inputs map[string]any, out chan<- StreamItem, finish func(*StepOutcome, error)) {
	defer close(out)

	app.mu.Lock()
	seqID := app.seqCounter
	app.seqCounter++
	app.mu.Unlock()

	spanFac := newSpanFactory(name, seqID)
	ctx = withDispatcher(ctx, app.dispatcher)
	ctx = withSpanFactory(ctx, spanFac)

	app.dispatcher.firePreRunStep(ctx, PreRunStepEvent{
		AppID: app.appID, PartitionKey: app.partitionKey, SequenceID: seqID,
		State: before, Action: name, Inputs: inputs,
	})
	app.dispatcher.firePreStartStream(ctx, PreStartStreamEvent{
		AppID: app.appID, PartitionKey: app.partitionKey, Action: name, SequenceID: seqID,
	})

	fail := func(err error) {
		wrapped := wrapActionError(name, before, err)
		app.dispatcher.firePostRunStep(ctx, PostRunStepEvent{
			AppID: app.appID, PartitionKey: app.partitionKey, SequenceID: seqID,
			State: before, Action: name, Err: wrapped,
		})
		finish(nil, wrapped)
	}

	restricted := before.Subset(action.Reads()...)
	streamCtx := ctx
	if app.opts.defaultActionTimeout > 0 {
		var cancel context.CancelFunc
		streamCtx, cancel = context.WithTimeout(ctx, app.opts.defaultActionTimeout)
		defer cancel()
	}
	itemsCh, startErr := safeStartStream(streamCtx, action, restricted, inputs)
	if startErr != nil {
		fail(startErr)
		return
	}

	streamInit := time.Now()
	var firstItemTime time.Time
	index := 0
	var terminal *StreamItem

	for item := range itemsCh {
		if item.Final {
			t := item
			terminal = &t
			break
		}
		if index == 0 {
			firstItemTime = time.Now()
		}
		app.dispatcher.firePostStreamItem(ctx, PostStreamItemEvent{
			AppID: app.appID, PartitionKey: app.partitionKey, Action: name, SequenceID: seqID,
			Item: item.Partial, ItemIndex: index,
			StreamInitializeTime: streamInit, FirstStreamItemStartTime: firstItemTime,
		})
		select {
		case out <- item:
		case <-ctx.Done():
			fail(ctx.Err())
			return
		}
		index++
	}

	if terminal == nil {
		fail(ErrNoTerminalStreamItem)
		return
	}

	if bad := detectUndeclaredWrites(restricted, terminal.FinalState, action.Writes()); len(bad) > 0 {
		fail(&UndeclaredWriteError{Action: name, Keys: bad, Code: "UNDECLARED_WRITE"})
		return
	}

	window := append(append([]string{}, action.Reads()...), action.Writes()...)
	merged := reduce(before, window, terminal.FinalState)
	merged = merged.Update(map[string]any{PriorStepKey: name})

	app.dispatcher.firePostEndStream(ctx, PostEndStreamEvent{
		AppID: app.appID, PartitionKey: app.partitionKey, Action: name, SequenceID: seqID,
	})

	app.mu.Lock()
	app.state = merged
	app.lastAction = name
	app.lastInputHash = hashInputs(inputs)
	app.persistLocked(ctx)
	app.mu.Unlock()

	outcome := &StepOutcome{Action: name, Result: terminal.Result, State: merged}
	app.dispatcher.firePostRunStep(ctx, PostRunStepEvent{
		AppID: app.appID, PartitionKey: app.partitionKey, SequenceID: seqID,
		State: merged, Action: name, Result: terminal.Result,
	})

	select {
	case out <- *terminal:
	case <-ctx.Done():
	}
	finish(outcome, nil)
}

func safeStartStream(ctx context.Context, action StreamingAction, state State, inputs map[string]any) (itemsCh <-chan StreamItem, err error) {
	defer recoverIntoErr(&err)
	return action.Stream(ctx, state, inputs)
}
