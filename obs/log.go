// Package obs holds the concrete lifecycle-hook adapters that bridge a
// flow.Application to external observability systems: structured logging,
// OpenTelemetry tracing, and Prometheus metrics. Each adapter implements a
// narrow subset of the flow hook interfaces and is registered with
// flow.Builder.WithHooks like any other adapter; none of them is imported
// by the flow package itself.
package obs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/flowcraft/stategraph/flow"
)

// LogEmitter implements the pre_run_step/post_run_step/do_log_attributes
// hook interfaces by writing structured log lines to a writer, grounded on
// the reference architecture's emit.LogEmitter. It is the
// zero-configuration default observability collaborator: attach it to see
// every step an Application takes without wiring a tracing backend.
//
// Text mode produces human-readable "[event] key=value ..." lines; JSON
// mode produces one JSON object per line, suited to log aggregation.
type LogEmitter struct {
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter returns a LogEmitter writing to w (os.Stdout if nil) in
// either text (jsonMode=false) or JSON-lines (jsonMode=true) mode.
func NewLogEmitter(w io.Writer, jsonMode bool) *LogEmitter {
	if w == nil {
		w = os.Stdout
	}
	return &LogEmitter{writer: w, jsonMode: jsonMode}
}

type logRecord struct {
	Event        string `json:"event"`
	AppID        string `json:"app_id,omitempty"`
	PartitionKey string `json:"partition_key,omitempty"`
	SequenceID   int    `json:"sequence_id,omitempty"`
	Action       string `json:"action,omitempty"`
	Err          string `json:"error,omitempty"`
}

func (l *LogEmitter) write(rec logRecord) {
	if l.jsonMode {
		data, err := json.Marshal(rec)
		if err != nil {
			fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal log record: %v\"}\n", err)
			return
		}
		fmt.Fprintln(l.writer, string(data))
		return
	}
	line := fmt.Sprintf("[%s] app_id=%s partition_key=%s sequence_id=%d action=%s",
		rec.Event, rec.AppID, rec.PartitionKey, rec.SequenceID, rec.Action)
	if rec.Err != "" {
		line += " error=" + rec.Err
	}
	fmt.Fprintln(l.writer, line)
}

// PreRunStep implements flow.PreRunStepHook.
func (l *LogEmitter) PreRunStep(_ context.Context, e flow.PreRunStepEvent) {
	l.write(logRecord{Event: "pre_run_step", AppID: e.AppID, PartitionKey: e.PartitionKey, SequenceID: e.SequenceID, Action: e.Action})
}

// PostRunStep implements flow.PostRunStepHook.
func (l *LogEmitter) PostRunStep(_ context.Context, e flow.PostRunStepEvent) {
	rec := logRecord{Event: "post_run_step", AppID: e.AppID, PartitionKey: e.PartitionKey, SequenceID: e.SequenceID, Action: e.Action}
	if e.Err != nil {
		rec.Err = e.Err.Error()
	}
	l.write(rec)
}

// DoLogAttributes implements flow.DoLogAttributesHook, logging an
// attribute attached to the current span (or action, if no span is open).
func (l *LogEmitter) DoLogAttributes(_ context.Context, e flow.LogAttributesEvent) {
	span := ""
	if e.Span != nil {
		span = e.Span.UID()
	}
	if l.jsonMode {
		data, err := json.Marshal(map[string]any{
			"event": "log_attribute", "span": span, "name": e.Name, "value": e.Value,
		})
		if err != nil {
			fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal attribute: %v\"}\n", err)
			return
		}
		fmt.Fprintln(l.writer, string(data))
		return
	}
	fmt.Fprintf(l.writer, "[log_attribute] span=%s %s=%v\n", span, e.Name, e.Value)
}
