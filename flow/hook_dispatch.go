package flow

import (
	"context"
	"fmt"
)

func panicToError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}

type dispatcherKey struct{}

func withDispatcher(ctx context.Context, d *hookDispatcher) context.Context {
	return context.WithValue(ctx, dispatcherKey{}, d)
}

func dispatcherFromContext(ctx context.Context) *hookDispatcher {
	d, _ := ctx.Value(dispatcherKey{}).(*hookDispatcher)
	return d
}

func (d *hookDispatcher) firePostApplicationCreate(ctx context.Context, e PostApplicationCreateEvent) {
	for _, h := range d.reg.appCreate {
		func() {
			defer d.recoverInto("post_application_create", nil)
			h.PostApplicationCreate(ctx, e)
		}()
	}
	fns := make([]func() error, len(d.reg.appCreateAsync))
	for i, h := range d.reg.appCreateAsync {
		h := h
		fns[i] = func() error { return h.PostApplicationCreateAsync(ctx, e) }
	}
	d.runAsyncGroup("post_application_create_async", fns)
}

func (d *hookDispatcher) firePreRunExecuteCall(ctx context.Context, e PreRunExecuteCallEvent) {
	for _, h := range d.reg.preExecute {
		func() {
			defer d.recoverInto("pre_run_execute_call", nil)
			h.PreRunExecuteCall(ctx, e)
		}()
	}
	fns := make([]func() error, len(d.reg.preExecuteAsync))
	for i, h := range d.reg.preExecuteAsync {
		h := h
		fns[i] = func() error { return h.PreRunExecuteCallAsync(ctx, e) }
	}
	d.runAsyncGroup("pre_run_execute_call_async", fns)
}

func (d *hookDispatcher) firePostRunExecuteCall(ctx context.Context, e PostRunExecuteCallEvent) {
	for _, h := range d.reg.postExecute {
		func() {
			defer d.recoverInto("post_run_execute_call", nil)
			h.PostRunExecuteCall(ctx, e)
		}()
	}
	fns := make([]func() error, len(d.reg.postExecuteAsync))
	for i, h := range d.reg.postExecuteAsync {
		h := h
		fns[i] = func() error { return h.PostRunExecuteCallAsync(ctx, e) }
	}
	d.runAsyncGroup("post_run_execute_call_async", fns)
}

func (d *hookDispatcher) firePreRunStep(ctx context.Context, e PreRunStepEvent) {
	for _, h := range d.reg.preStep {
		func() {
			defer d.recoverInto("pre_run_step", nil)
			h.PreRunStep(ctx, e)
		}()
	}
	fns := make([]func() error, len(d.reg.preStepAsync))
	for i, h := range d.reg.preStepAsync {
		h := h
		fns[i] = func() error { return h.PreRunStepAsync(ctx, e) }
	}
	d.runAsyncGroup("pre_run_step_async", fns)
}

func (d *hookDispatcher) firePostRunStep(ctx context.Context, e PostRunStepEvent) {
	for _, h := range d.reg.postStep {
		func() {
			defer d.recoverInto("post_run_step", nil)
			h.PostRunStep(ctx, e)
		}()
	}
	fns := make([]func() error, len(d.reg.postStepAsync))
	for i, h := range d.reg.postStepAsync {
		h := h
		fns[i] = func() error { return h.PostRunStepAsync(ctx, e) }
	}
	d.runAsyncGroup("post_run_step_async", fns)
}

func (d *hookDispatcher) firePreStartSpan(ctx context.Context, e PreStartSpanEvent) {
	for _, h := range d.reg.preSpan {
		func() {
			defer d.recoverInto("pre_start_span", nil)
			h.PreStartSpan(ctx, e)
		}()
	}
	fns := make([]func() error, len(d.reg.preSpanAsync))
	for i, h := range d.reg.preSpanAsync {
		h := h
		fns[i] = func() error { return h.PreStartSpanAsync(ctx, e) }
	}
	d.runAsyncGroup("pre_start_span_async", fns)
}

func (d *hookDispatcher) firePostEndSpan(ctx context.Context, e PostEndSpanEvent) {
	for _, h := range d.reg.postSpan {
		func() {
			defer d.recoverInto("post_end_span", nil)
			h.PostEndSpan(ctx, e)
		}()
	}
	fns := make([]func() error, len(d.reg.postSpanAsync))
	for i, h := range d.reg.postSpanAsync {
		h := h
		fns[i] = func() error { return h.PostEndSpanAsync(ctx, e) }
	}
	d.runAsyncGroup("post_end_span_async", fns)
}

func (d *hookDispatcher) fireDoLogAttributes(ctx context.Context, e LogAttributesEvent) {
	for _, h := range d.reg.logAttrs {
		func() {
			defer d.recoverInto("do_log_attributes", nil)
			h.DoLogAttributes(ctx, e)
		}()
	}
	fns := make([]func() error, len(d.reg.logAttrsAsync))
	for i, h := range d.reg.logAttrsAsync {
		h := h
		fns[i] = func() error { return h.DoLogAttributesAsync(ctx, e) }
	}
	d.runAsyncGroup("do_log_attributes_async", fns)
}

func (d *hookDispatcher) firePreStartStream(ctx context.Context, e PreStartStreamEvent) {
	for _, h := range d.reg.preStream {
		func() {
			defer d.recoverInto("pre_start_stream", nil)
			h.PreStartStream(ctx, e)
		}()
	}
	fns := make([]func() error, len(d.reg.preStreamAsync))
	for i, h := range d.reg.preStreamAsync {
		h := h
		fns[i] = func() error { return h.PreStartStreamAsync(ctx, e) }
	}
	d.runAsyncGroup("pre_start_stream_async", fns)
}

func (d *hookDispatcher) firePostStreamItem(ctx context.Context, e PostStreamItemEvent) {
	for _, h := range d.reg.streamItem {
		func() {
			defer d.recoverInto("post_stream_item", nil)
			h.PostStreamItem(ctx, e)
		}()
	}
	fns := make([]func() error, len(d.reg.streamItemAsync))
	for i, h := range d.reg.streamItemAsync {
		h := h
		fns[i] = func() error { return h.PostStreamItemAsync(ctx, e) }
	}
	d.runAsyncGroup("post_stream_item_async", fns)
}

func (d *hookDispatcher) firePostEndStream(ctx context.Context, e PostEndStreamEvent) {
	for _, h := range d.reg.postStream {
		func() {
			defer d.recoverInto("post_end_stream", nil)
			h.PostEndStream(ctx, e)
		}()
	}
	fns := make([]func() error, len(d.reg.postStreamAsync))
	for i, h := range d.reg.postStreamAsync {
		h := h
		fns[i] = func() error { return h.PostEndStreamAsync(ctx, e) }
	}
	d.runAsyncGroup("post_end_stream_async", fns)
}
