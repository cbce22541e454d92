package anthropic

import (
	"context"
	"errors"
	"testing"

	"github.com/flowcraft/stategraph/model"
)

type mockClient struct {
	response  string
	toolCalls []model.ToolCall
	usage     model.Usage
	err       error

	callCount    int
	lastSystem   string
	lastMessages []model.Message
}

func (c *mockClient) createMessage(_ context.Context, systemPrompt string, messages []model.Message, _ []model.ToolSpec) (model.ChatOut, error) {
	c.callCount++
	c.lastSystem = systemPrompt
	c.lastMessages = messages
	if c.err != nil {
		return model.ChatOut{}, c.err
	}
	return model.ChatOut{Text: c.response, ToolCalls: c.toolCalls, Usage: c.usage}, nil
}

func TestNewChatModelDefaultsModelName(t *testing.T) {
	m := NewChatModel("key", "")
	if m.modelName == "" {
		t.Fatal("expected a default model name")
	}
}

func TestChatReturnsText(t *testing.T) {
	mc := &mockClient{response: "hello"}
	m := &ChatModel{client: mc, modelName: "claude-test"}

	out, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if out.Text != "hello" {
		t.Errorf("text = %q, want hello", out.Text)
	}
	if mc.callCount != 1 {
		t.Errorf("callCount = %d, want 1", mc.callCount)
	}
}

func TestChatExtractsSystemPromptBeforeCall(t *testing.T) {
	mc := &mockClient{response: "ok"}
	m := &ChatModel{client: mc, modelName: "claude-test"}

	messages := []model.Message{
		{Role: model.RoleSystem, Content: "be terse"},
		{Role: model.RoleUser, Content: "hi"},
	}
	if _, err := m.Chat(context.Background(), messages, nil); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if mc.lastSystem != "be terse" {
		t.Errorf("lastSystem = %q, want %q", mc.lastSystem, "be terse")
	}
	if len(mc.lastMessages) != 1 || mc.lastMessages[0].Role != model.RoleUser {
		t.Errorf("lastMessages = %+v, want just the user message", mc.lastMessages)
	}
}

func TestChatPropagatesToolCalls(t *testing.T) {
	mc := &mockClient{toolCalls: []model.ToolCall{{Name: "search", Input: map[string]any{"q": "go"}}}}
	m := &ChatModel{client: mc, modelName: "claude-test"}

	out, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "search go"}},
		[]model.ToolSpec{{Name: "search"}})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if len(out.ToolCalls) != 1 || out.ToolCalls[0].Name != "search" {
		t.Fatalf("toolCalls = %+v", out.ToolCalls)
	}
}

func TestChatPropagatesUsage(t *testing.T) {
	mc := &mockClient{response: "hi", usage: model.Usage{InputTokens: 12, OutputTokens: 34}}
	m := &ChatModel{client: mc, modelName: "claude-test"}

	out, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if out.Usage.InputTokens != 12 || out.Usage.OutputTokens != 34 {
		t.Errorf("usage = %+v, want {12 34}", out.Usage)
	}
}

func TestChatPropagatesClientError(t *testing.T) {
	mc := &mockClient{err: errors.New("rate limited")}
	m := &ChatModel{client: mc, modelName: "claude-test"}

	_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "hi"}}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestChatRejectsCancelledContext(t *testing.T) {
	mc := &mockClient{response: "should not be reached"}
	m := &ChatModel{client: mc, modelName: "claude-test"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Chat(ctx, []model.Message{{Role: model.RoleUser, Content: "hi"}}, nil)
	if err == nil {
		t.Fatal("expected context error")
	}
	if mc.callCount != 0 {
		t.Errorf("expected client not called when ctx is already cancelled, callCount = %d", mc.callCount)
	}
}

func TestConvertToolInputWrapsNonMapValues(t *testing.T) {
	got := convertToolInput(42)
	if got["_raw"] != 42 {
		t.Errorf("convertToolInput(42) = %+v, want wrapped _raw", got)
	}
	if convertToolInput(nil) != nil {
		t.Errorf("convertToolInput(nil) should be nil")
	}
	m := map[string]any{"a": 1}
	if got := convertToolInput(m); got["a"] != 1 {
		t.Errorf("convertToolInput(map) should pass through, got %+v", got)
	}
}
