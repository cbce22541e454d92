package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type syncPreStep struct {
	mu    *sync.Mutex
	order *[]string
	tag   string
}

func (h syncPreStep) PreRunStep(_ context.Context, _ PreRunStepEvent) {
	h.mu.Lock()
	*h.order = append(*h.order, h.tag)
	h.mu.Unlock()
}

type asyncPreStep struct {
	mu    *sync.Mutex
	order *[]string
	tag   string
	delay time.Duration
}

func (h asyncPreStep) PreRunStepAsync(_ context.Context, _ PreRunStepEvent) error {
	time.Sleep(h.delay)
	h.mu.Lock()
	*h.order = append(*h.order, h.tag)
	h.mu.Unlock()
	return nil
}

func TestHookDispatchSyncBeforeAsync(t *testing.T) {
	var mu sync.Mutex
	var order []string

	reg := NewRegistry()
	reg.Register(syncPreStep{mu: &mu, order: &order, tag: "sync"})
	reg.Register(asyncPreStep{mu: &mu, order: &order, tag: "async", delay: 5 * time.Millisecond})

	d := newHookDispatcher(reg)
	d.firePreRunStep(context.Background(), PreRunStepEvent{})

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "sync" || order[1] != "async" {
		t.Errorf("order = %v, want [sync async]", order)
	}
}

type failingAsyncHook struct{ err error }

func (h failingAsyncHook) PostRunStepAsync(_ context.Context, _ PostRunStepEvent) error {
	return h.err
}

func TestHookDispatchIsolatesErrorsAndKeepsRunning(t *testing.T) {
	var reported error
	reg := NewRegistry()
	reg.OnHookError = func(e *HookExecutionError) { reported = e }
	reg.Register(failingAsyncHook{err: errors.New("boom")})

	ran := false
	reg.Register(postRunStepFunc(func(_ context.Context, _ PostRunStepEvent) { ran = true }))

	d := newHookDispatcher(reg)
	d.firePostRunStep(context.Background(), PostRunStepEvent{})

	if reported == nil {
		t.Error("expected OnHookError to be invoked")
	}
	if !ran {
		t.Error("sync hook should still run despite the async hook's failure")
	}
}

type panickingHook struct{}

func (panickingHook) PostRunStep(_ context.Context, _ PostRunStepEvent) {
	panic("hook exploded")
}

func TestHookPanicIsRecoveredAndReported(t *testing.T) {
	var reported error
	reg := NewRegistry()
	reg.OnHookError = func(e *HookExecutionError) { reported = e }
	reg.Register(panickingHook{})

	d := newHookDispatcher(reg)
	d.firePostRunStep(context.Background(), PostRunStepEvent{})

	if reported == nil {
		t.Fatal("expected panic to be recovered and reported as a HookExecutionError")
	}
}

func TestInertAdapterAcceptedWithoutMatchingAnyHook(t *testing.T) {
	type inert struct{}
	reg := NewRegistry()
	// Must not panic even though inert{} satisfies no hook interface.
	reg.Register(inert{})
}
