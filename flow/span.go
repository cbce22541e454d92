package flow

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// ActionSpan is a node in a per-action span tree, as declared in §3. Its
// UID is computed once, at open time, from the factory-local sequence
// counters — deterministic given the sequence of StartSpan calls made
// within one action's execution.
type ActionSpan struct {
	actionName       string
	actionSequenceID int
	name             string
	parent           *ActionSpan
	sequenceID       int
	childCount       int
	uid              string
}

// Action returns the name of the action this span was opened within.
func (s *ActionSpan) Action() string { return s.actionName }

// Name returns the name passed to StartSpan.
func (s *ActionSpan) Name() string { return s.name }

// Parent returns the enclosing span, or nil for a root span.
func (s *ActionSpan) Parent() *ActionSpan { return s.parent }

// SequenceID returns this span's position among its siblings.
func (s *ActionSpan) SequenceID() int { return s.sequenceID }

// UID returns the deterministic "<action_sequence_id>:<dotted-path>"
// identifier described in §3/§4.6.
func (s *ActionSpan) UID() string { return s.uid }

// spanFactory tracks the open-span stack for a single action execution. A
// fresh factory is created per Step/StepAsync call and threaded through
// context.Context — never held in a package-level variable — so that
// concurrent async actions never share or clobber each other's stacks.
type spanFactory struct {
	mu            sync.Mutex
	actionName    string
	actionSeqID   int
	topLevelCount int
	current       *ActionSpan
}

func newSpanFactory(actionName string, actionSeqID int) *spanFactory {
	return &spanFactory{actionName: actionName, actionSeqID: actionSeqID}
}

func (f *spanFactory) open(name string) *ActionSpan {
	f.mu.Lock()
	defer f.mu.Unlock()

	span := &ActionSpan{actionName: f.actionName, actionSequenceID: f.actionSeqID, name: name}
	if f.current == nil {
		span.sequenceID = f.topLevelCount
		f.topLevelCount++
	} else {
		span.parent = f.current
		span.sequenceID = f.current.childCount
		f.current.childCount++
	}
	span.uid = computeSpanUID(span)
	f.current = span
	return span
}

func (f *spanFactory) close(span *ActionSpan) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = span.parent
}

func computeSpanUID(span *ActionSpan) string {
	var path []int
	for s := span; s != nil; s = s.parent {
		path = append([]int{s.sequenceID}, path...)
	}
	parts := make([]string, len(path))
	for i, v := range path {
		parts[i] = strconv.Itoa(v)
	}
	return fmt.Sprintf("%d:%s", span.actionSequenceID, strings.Join(parts, "."))
}

type spanFactoryKey struct{}

func withSpanFactory(ctx context.Context, f *spanFactory) context.Context {
	return context.WithValue(ctx, spanFactoryKey{}, f)
}

func spanFactoryFromContext(ctx context.Context) *spanFactory {
	f, _ := ctx.Value(spanFactoryKey{}).(*spanFactory)
	return f
}

// SpanHandle represents one open span; call End to close it.
type SpanHandle struct {
	factory *spanFactory
	dispatcher *hookDispatcher
	span    *ActionSpan
}

// StartSpan opens a new child span of the current top-of-stack span for
// the action executing on ctx (or a new root span if none is open), fires
// pre_start_span, and returns a handle whose End restores the prior
// current span and fires post_end_span. StartSpan is a no-op observer
// (returns a span with an empty UID and a nil factory) if ctx carries no
// span factory, which happens only when called outside an action's Run.
func StartSpan(ctx context.Context, name string) *SpanHandle {
	f := spanFactoryFromContext(ctx)
	if f == nil {
		return &SpanHandle{span: &ActionSpan{name: name}}
	}
	span := f.open(name)
	h := &SpanHandle{factory: f, span: span, dispatcher: dispatcherFromContext(ctx)}
	if h.dispatcher != nil {
		h.dispatcher.firePreStartSpan(ctx, PreStartSpanEvent{Span: span})
	}
	return h
}

// Span returns the underlying ActionSpan.
func (h *SpanHandle) Span() *ActionSpan { return h.span }

// End closes the span, restoring the prior current span and firing
// post_end_span.
func (h *SpanHandle) End(ctx context.Context) {
	if h.factory == nil {
		return
	}
	h.factory.close(h.span)
	if h.dispatcher != nil {
		h.dispatcher.firePostEndSpan(ctx, PostEndSpanEvent{Span: h.span})
	}
}

// LogAttribute fires do_log_attributes for the current span on ctx (or,
// if no span is open, with a nil Span, attributing the value to the
// action itself). It does nothing when ctx carries no hook dispatcher.
// Values not representable by a hook's carrier are the hook's own
// responsibility to stringify; flow does not pre-serialize attribute
// values, preserving "any value is loggable" by passing it through as-is.
func LogAttribute(ctx context.Context, name string, value any) {
	d := dispatcherFromContext(ctx)
	if d == nil {
		return
	}
	f := spanFactoryFromContext(ctx)
	var span *ActionSpan
	if f != nil {
		f.mu.Lock()
		span = f.current
		f.mu.Unlock()
	}
	d.fireDoLogAttributes(ctx, LogAttributesEvent{Span: span, Name: name, Value: value})
}
