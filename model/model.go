// Package model declares a small provider-agnostic chat-model interface,
// grounded on the reference architecture's own model.ChatModel. It exists
// so that an Action whose body calls an LLM is a first-class, testable
// citizen: a ChatModel is exactly the kind of external collaborator an
// action's run/run_and_update closure captures — the flow package never
// references it directly.
package model

import "context"

// ChatModel abstracts a provider's chat-completion endpoint. Implementations
// translate Message/ToolSpec into provider-specific request shapes and
// provider responses back into ChatOut.
type ChatModel interface {
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// Message is one turn of a conversation.
type Message struct {
	Role    string
	Content string
}

// Standard roles shared across providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolSpec describes a function-calling tool available to the model.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ChatOut is a provider's response: free text, tool calls, or both, plus
// the token usage the provider reported for the call (zero when a provider
// response carries no usage block).
type ChatOut struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
}

// Usage reports the token counts a provider billed for one Chat call.
// Actions that want cost attribution log these through flow.LogAttribute
// under the "tokens_in"/"tokens_out"/"model" names obs.CostHook recognizes.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ToolCall is one invocation the model requested.
type ToolCall struct {
	Name  string
	Input map[string]any
}
