// Package tool declares the function-calling surface an Action can expose
// to a model.ChatModel, grounded on the reference architecture's own
// tool.Tool.
package tool

import "context"

// Tool is one callable function an LLM may invoke. Name must match the
// corresponding model.ToolSpec.Name.
type Tool interface {
	Name() string
	Call(ctx context.Context, input map[string]any) (map[string]any, error)
}
