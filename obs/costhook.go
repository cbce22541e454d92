package obs

import (
	"context"
	"fmt"
	"sync"

	"github.com/flowcraft/stategraph/flow"
)

// ModelPricing is the USD cost per 1M input/output tokens for one model,
// grounded on the reference architecture's graph.ModelPricing.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// DefaultModelPricing is the static pricing table CostHook falls back to
// when NewCostHook is called with nil, carried over from the reference
// architecture's defaultModelPricing (USD per 1M tokens, as of 2025-01-01;
// update as providers change pricing).
var DefaultModelPricing = map[string]ModelPricing{
	"gpt-4o":                     {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":                {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4-turbo":                {InputPer1M: 10.00, OutputPer1M: 30.00},
	"gpt-3.5-turbo":              {InputPer1M: 0.50, OutputPer1M: 1.50},
	"claude-sonnet-4-5-20250929": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-opus-20240229":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-3-haiku-20240307":    {InputPer1M: 0.25, OutputPer1M: 1.25},
	"gemini-1.5-pro":             {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash":           {InputPer1M: 0.075, OutputPer1M: 0.30},
	"gemini-2.5-flash":           {InputPer1M: 0.075, OutputPer1M: 0.30},
}

// LLMCall is one priced model invocation CostHook recorded.
type LLMCall struct {
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Action       string
}

// CostHook accumulates LLM token-cost attribution by listening for the
// "tokens_in"/"tokens_out"/"model" attributes a ChatModel-calling Action
// logs via flow.LogAttribute against its current span. It implements
// flow.DoLogAttributesHook, grounded on the reference architecture's
// CostTracker (graph/cost.go), adapted from an explicit RecordLLMCall API
// into a passive hook so cost tracking needs no change to action code
// beyond the three LogAttribute calls every provider-calling action
// already has reason to make for tracing.
//
// Tokens for a single model call are expected under one span: CostHook
// buffers partial attributes per span UID and prices the call once all
// three of "tokens_in", "tokens_out", and "model" have arrived for that
// span.
type CostHook struct {
	pricing map[string]ModelPricing

	mu      sync.Mutex
	pending map[string]*pendingUsage
	calls   []LLMCall
	total   float64
}

type pendingUsage struct {
	tokensIn  int
	tokensOut int
	model     string
	haveIn    bool
	haveOut   bool
	haveModel bool
}

// NewCostHook returns a CostHook priced from pricing, or DefaultModelPricing
// if pricing is nil.
func NewCostHook(pricing map[string]ModelPricing) *CostHook {
	if pricing == nil {
		pricing = DefaultModelPricing
	}
	return &CostHook{pricing: pricing, pending: make(map[string]*pendingUsage)}
}

// DoLogAttributes implements flow.DoLogAttributesHook.
func (h *CostHook) DoLogAttributes(_ context.Context, e flow.LogAttributesEvent) {
	if e.Span == nil {
		return
	}
	switch e.Name {
	case "tokens_in", "tokens_out", "model":
	default:
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	uid := e.Span.UID()
	p, ok := h.pending[uid]
	if !ok {
		p = &pendingUsage{}
		h.pending[uid] = p
	}

	switch e.Name {
	case "tokens_in":
		if n, ok := toInt(e.Value); ok {
			p.tokensIn, p.haveIn = n, true
		}
	case "tokens_out":
		if n, ok := toInt(e.Value); ok {
			p.tokensOut, p.haveOut = n, true
		}
	case "model":
		if s, ok := e.Value.(string); ok {
			p.model, p.haveModel = s, true
		}
	}

	if !p.haveIn || !p.haveOut || !p.haveModel {
		return
	}
	delete(h.pending, uid)

	pricing, known := h.pricing[p.model]
	cost := (float64(p.tokensIn)/1_000_000.0)*pricing.InputPer1M + (float64(p.tokensOut)/1_000_000.0)*pricing.OutputPer1M
	if !known {
		cost = 0
	}
	h.total += cost
	h.calls = append(h.calls, LLMCall{
		Model: p.model, InputTokens: p.tokensIn, OutputTokens: p.tokensOut,
		CostUSD: cost, Action: e.Span.Action(),
	})
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// Total returns the cumulative USD cost of every priced call recorded so
// far.
func (h *CostHook) Total() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

// Calls returns a copy of every priced call recorded so far, in recording
// order.
func (h *CostHook) Calls() []LLMCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]LLMCall, len(h.calls))
	copy(out, h.calls)
	return out
}

// String implements fmt.Stringer with a CostTracker-style summary line.
func (h *CostHook) String() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fmt.Sprintf("CostHook{calls: %d, total: $%.4f}", len(h.calls), h.total)
}
