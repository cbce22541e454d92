package obs

import (
	"context"
	"sync"
	"time"

	"github.com/flowcraft/stategraph/flow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PromHook exposes Prometheus metrics for a running Application, grounded on
// the reference architecture's PrometheusMetrics. It implements
// pre_run_step/post_run_step to track in-flight actions and step latency,
// and pre_run_execute_call/post_run_execute_call to track top-level call
// latency and error counts per entry point.
//
// All metrics are namespaced "stategraph_" and registered against the
// Registerer passed to NewPromHook; pass a dedicated prometheus.NewRegistry
// to avoid colliding with other collectors sharing the process.
type PromHook struct {
	inflightSteps prometheus.Gauge
	stepLatency   *prometheus.HistogramVec
	stepErrors    *prometheus.CounterVec
	callLatency   *prometheus.HistogramVec

	mu         sync.Mutex
	stepStarts map[string]time.Time
	callStarts map[string]time.Time
}

// NewPromHook creates and registers every metric with registry (the global
// prometheus.DefaultRegisterer if nil).
func NewPromHook(registry prometheus.Registerer) *PromHook {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PromHook{
		inflightSteps: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "stategraph",
			Name:      "inflight_steps",
			Help:      "Current number of actions executing concurrently across all applications",
		}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stategraph",
			Name:      "step_latency_ms",
			Help:      "Action execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"action", "status"}),
		stepErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stategraph",
			Name:      "step_errors_total",
			Help:      "Cumulative count of actions that returned an error",
		}, []string{"action"}),
		callLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stategraph",
			Name:      "call_latency_ms",
			Help:      "Top-level entry point (Step/Run/Iterate/StreamResult) duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000},
		}, []string{"method", "status"}),
		stepStarts: make(map[string]time.Time),
		callStarts: make(map[string]time.Time),
	}
}

// PreRunStep implements flow.PreRunStepHook.
func (p *PromHook) PreRunStep(_ context.Context, e flow.PreRunStepEvent) {
	p.inflightSteps.Inc()
	p.mu.Lock()
	p.stepStarts[stepKey(e.AppID, e.PartitionKey, e.SequenceID)] = time.Now()
	p.mu.Unlock()
}

// PostRunStep implements flow.PostRunStepHook.
func (p *PromHook) PostRunStep(_ context.Context, e flow.PostRunStepEvent) {
	p.inflightSteps.Dec()
	key := stepKey(e.AppID, e.PartitionKey, e.SequenceID)

	p.mu.Lock()
	start, ok := p.stepStarts[key]
	if ok {
		delete(p.stepStarts, key)
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	status := "success"
	if e.Err != nil {
		status = "error"
		p.stepErrors.WithLabelValues(e.Action).Inc()
	}
	p.stepLatency.WithLabelValues(e.Action, status).Observe(float64(time.Since(start).Milliseconds()))
}

// PreRunExecuteCall implements flow.PreRunExecuteCallHook.
func (p *PromHook) PreRunExecuteCall(_ context.Context, e flow.PreRunExecuteCallEvent) {
	p.mu.Lock()
	p.callStarts[callKey(e.AppID, e.PartitionKey, e.Method)] = time.Now()
	p.mu.Unlock()
}

// PostRunExecuteCall implements flow.PostRunExecuteCallHook.
func (p *PromHook) PostRunExecuteCall(_ context.Context, e flow.PostRunExecuteCallEvent) {
	key := callKey(e.AppID, e.PartitionKey, e.Method)

	p.mu.Lock()
	start, ok := p.callStarts[key]
	if ok {
		delete(p.callStarts, key)
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	status := "success"
	if e.Err != nil {
		status = "error"
	}
	p.callLatency.WithLabelValues(string(e.Method), status).Observe(float64(time.Since(start).Milliseconds()))
}

func callKey(appID, partitionKey string, method flow.ExecuteMethod) string {
	return partitionKey + "/" + appID + "/" + string(method)
}
