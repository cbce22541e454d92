package obs

import (
	"context"
	"fmt"
	"sync"

	"github.com/flowcraft/stategraph/flow"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelHook bridges the span family of hooks (pre_start_span/post_end_span/
// do_log_attributes) to OpenTelemetry, grounded on the reference
// architecture's emit.OTelEmitter. Each ActionSpan becomes one OTel span,
// keyed by the same deterministic UID an observer would see in the engine's
// own span tree, so a trace backend's waterfall view lines up with
// ActionSpan.UID values recorded elsewhere (logs, assertions, replays).
//
// pre_run_step/post_run_step are also bridged, so the tracer sees one root
// span per action even for actions that open no child spans of their own.
// Maps are shared across concurrent async actions, so access is mutex
// guarded rather than confined to a single goroutine.
type OTelHook struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[string]trace.Span
}

// NewOTelHook returns an OTelHook driving spans through tracer, typically
// obtained via otel.Tracer("stategraph").
func NewOTelHook(tracer trace.Tracer) *OTelHook {
	return &OTelHook{tracer: tracer, spans: make(map[string]trace.Span)}
}

func stepKey(appID, partitionKey string, sequenceID int) string {
	return fmt.Sprintf("%s/%s/%d", partitionKey, appID, sequenceID)
}

// PreRunStep implements flow.PreRunStepHook, opening the root span for an
// action's execution.
func (h *OTelHook) PreRunStep(ctx context.Context, e flow.PreRunStepEvent) {
	_, span := h.tracer.Start(ctx, e.Action)
	span.SetAttributes(
		attribute.String("stategraph.app_id", e.AppID),
		attribute.String("stategraph.partition_key", e.PartitionKey),
		attribute.Int("stategraph.sequence_id", e.SequenceID),
	)
	key := stepKey(e.AppID, e.PartitionKey, e.SequenceID)
	h.mu.Lock()
	h.spans[key] = span
	h.mu.Unlock()
}

// PostRunStep implements flow.PostRunStepHook, closing the root span opened
// by PreRunStep and recording the outcome.
func (h *OTelHook) PostRunStep(_ context.Context, e flow.PostRunStepEvent) {
	key := stepKey(e.AppID, e.PartitionKey, e.SequenceID)
	h.mu.Lock()
	span, ok := h.spans[key]
	if ok {
		delete(h.spans, key)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	if e.Err != nil {
		span.SetStatus(codes.Error, e.Err.Error())
		span.RecordError(e.Err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// PreStartSpan implements flow.PreStartSpanHook, opening a child OTel span
// for a nested ActionSpan.
func (h *OTelHook) PreStartSpan(ctx context.Context, e flow.PreStartSpanEvent) {
	_, span := h.tracer.Start(ctx, e.Span.Name())
	span.SetAttributes(attribute.String("stategraph.span_uid", e.Span.UID()))
	h.mu.Lock()
	h.spans[e.Span.UID()] = span
	h.mu.Unlock()
}

// PostEndSpan implements flow.PostEndSpanHook, closing the OTel span opened
// for this ActionSpan.
func (h *OTelHook) PostEndSpan(_ context.Context, e flow.PostEndSpanEvent) {
	h.mu.Lock()
	span, ok := h.spans[e.Span.UID()]
	if ok {
		delete(h.spans, e.Span.UID())
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	span.End()
}

// DoLogAttributes implements flow.DoLogAttributesHook, recording a logged
// attribute on the current OTel span (or as a no-op if none is tracked —
// happens when LogAttribute is called outside a StartSpan pair).
func (h *OTelHook) DoLogAttributes(_ context.Context, e flow.LogAttributesEvent) {
	if e.Span == nil {
		return
	}
	h.mu.Lock()
	span, ok := h.spans[e.Span.UID()]
	h.mu.Unlock()
	if !ok {
		return
	}
	switch v := e.Value.(type) {
	case string:
		span.SetAttributes(attribute.String(e.Name, v))
	case int:
		span.SetAttributes(attribute.Int(e.Name, v))
	case int64:
		span.SetAttributes(attribute.Int64(e.Name, v))
	case float64:
		span.SetAttributes(attribute.Float64(e.Name, v))
	case bool:
		span.SetAttributes(attribute.Bool(e.Name, v))
	default:
		span.SetAttributes(attribute.String(e.Name, fmt.Sprintf("%v", v)))
	}
}
