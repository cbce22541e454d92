package obs

import (
	"context"
	"errors"
	"testing"

	"github.com/flowcraft/stategraph/flow"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	m := &dto.Metric{}
	if err := (<-ch).Write(m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	return 0
}

func TestPromHookTracksStepLatencyAndErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	hook := NewPromHook(reg)
	ctx := context.Background()

	hook.PreRunStep(ctx, flow.PreRunStepEvent{AppID: "a", PartitionKey: "p", SequenceID: 0, Action: "ok"})
	hook.PostRunStep(ctx, flow.PostRunStepEvent{AppID: "a", PartitionKey: "p", SequenceID: 0, Action: "ok"})

	hook.PreRunStep(ctx, flow.PreRunStepEvent{AppID: "a", PartitionKey: "p", SequenceID: 1, Action: "fails"})
	hook.PostRunStep(ctx, flow.PostRunStepEvent{AppID: "a", PartitionKey: "p", SequenceID: 1, Action: "fails", Err: errors.New("boom")})

	if got := counterValue(t, hook.stepErrors.WithLabelValues("fails")); got != 1 {
		t.Errorf("stepErrors[fails] = %v, want 1", got)
	}
	if got := counterValue(t, hook.stepErrors.WithLabelValues("ok")); got != 0 {
		t.Errorf("stepErrors[ok] = %v, want 0", got)
	}
}

func TestPromHookPostRunStepWithoutPreIsNoop(t *testing.T) {
	reg := prometheus.NewRegistry()
	hook := NewPromHook(reg)
	ctx := context.Background()

	hook.PostRunStep(ctx, flow.PostRunStepEvent{AppID: "a", PartitionKey: "p", SequenceID: 42, Action: "ghost"})

	if got := counterValue(t, hook.stepErrors.WithLabelValues("ghost")); got != 0 {
		t.Errorf("stepErrors[ghost] = %v, want 0 for unmatched PostRunStep", got)
	}
}

func TestPromHookTracksExecuteCallOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	hook := NewPromHook(reg)
	ctx := context.Background()

	hook.PreRunExecuteCall(ctx, flow.PreRunExecuteCallEvent{AppID: "a", PartitionKey: "p", Method: flow.MethodRun})
	hook.PostRunExecuteCall(ctx, flow.PostRunExecuteCallEvent{AppID: "a", PartitionKey: "p", Method: flow.MethodRun})

	if gather, err := reg.Gather(); err != nil || len(gather) == 0 {
		t.Fatalf("gather: %v (len=%d)", err, len(gather))
	}
}
