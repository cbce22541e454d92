package obs

import (
	"context"
	"errors"
	"testing"

	"github.com/flowcraft/stategraph/flow"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer(t *testing.T) (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return sr, tp
}

func TestOTelHookRecordsOneSpanPerStep(t *testing.T) {
	sr, tp := newRecordingTracer(t)
	hook := NewOTelHook(tp.Tracer("test"))
	ctx := context.Background()

	hook.PreRunStep(ctx, flow.PreRunStepEvent{AppID: "app-1", PartitionKey: "p", SequenceID: 0, Action: "increment"})
	hook.PostRunStep(ctx, flow.PostRunStepEvent{AppID: "app-1", PartitionKey: "p", SequenceID: 0, Action: "increment"})

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	if ended[0].Name() != "increment" {
		t.Errorf("span name = %q, want increment", ended[0].Name())
	}
}

func TestOTelHookRecordsErrorStatus(t *testing.T) {
	sr, tp := newRecordingTracer(t)
	hook := NewOTelHook(tp.Tracer("test"))
	ctx := context.Background()

	hook.PreRunStep(ctx, flow.PreRunStepEvent{AppID: "app-1", PartitionKey: "p", SequenceID: 0, Action: "risky"})
	hook.PostRunStep(ctx, flow.PostRunStepEvent{AppID: "app-1", PartitionKey: "p", SequenceID: 0, Action: "risky", Err: errors.New("boom")})

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	if ended[0].Status().Code.String() != "Error" {
		t.Errorf("status = %v, want Error", ended[0].Status())
	}
}

func TestOTelHookNestedSpans(t *testing.T) {
	sr, tp := newRecordingTracer(t)
	hook := NewOTelHook(tp.Tracer("test"))
	ctx := context.Background()

	hook.PreRunStep(ctx, flow.PreRunStepEvent{AppID: "app-1", PartitionKey: "p", SequenceID: 0, Action: "multi"})

	child := &flow.ActionSpan{}
	_ = child
	// PreStartSpan/PostEndSpan operate directly on *flow.ActionSpan values
	// produced by flow.StartSpan during a real action run; here we only
	// exercise that unmatched UIDs are handled without panicking.
	hook.PostEndSpan(ctx, flow.PostEndSpanEvent{Span: &flow.ActionSpan{}})

	hook.PostRunStep(ctx, flow.PostRunStepEvent{AppID: "app-1", PartitionKey: "p", SequenceID: 0, Action: "multi"})

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1 (unmatched child span must not be double-recorded)", len(ended))
	}
}

func TestOTelHookPostRunStepWithoutMatchingPreIsNoop(t *testing.T) {
	sr, tp := newRecordingTracer(t)
	hook := NewOTelHook(tp.Tracer("test"))
	ctx := context.Background()

	hook.PostRunStep(ctx, flow.PostRunStepEvent{AppID: "app-1", PartitionKey: "p", SequenceID: 99, Action: "ghost"})

	if len(sr.Ended()) != 0 {
		t.Errorf("expected no spans recorded for unmatched PostRunStep")
	}
}
