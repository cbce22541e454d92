package google

import (
	"context"
	"errors"
	"testing"

	"github.com/flowcraft/stategraph/model"
	"github.com/google/generative-ai-go/genai"
)

type mockClient struct {
	out       model.ChatOut
	err       error
	callCount int
}

func (c *mockClient) generateContent(_ context.Context, _ []model.Message, _ []model.ToolSpec) (model.ChatOut, error) {
	c.callCount++
	if c.err != nil {
		return model.ChatOut{}, c.err
	}
	return c.out, nil
}

func TestNewChatModelDefaultsModelName(t *testing.T) {
	m := NewChatModel("key", "")
	if m.modelName != "gemini-2.5-flash" {
		t.Errorf("modelName = %q, want gemini-2.5-flash", m.modelName)
	}
}

func TestChatReturnsTextAndToolCalls(t *testing.T) {
	mc := &mockClient{out: model.ChatOut{
		Text:      "paris",
		ToolCalls: []model.ToolCall{{Name: "lookup", Input: map[string]any{"city": "paris"}}},
	}}
	m := &ChatModel{client: mc, modelName: "gemini-test"}

	out, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "capital of France?"}}, nil)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if out.Text != "paris" {
		t.Errorf("text = %q, want paris", out.Text)
	}
	if len(out.ToolCalls) != 1 || out.ToolCalls[0].Name != "lookup" {
		t.Errorf("toolCalls = %+v", out.ToolCalls)
	}
}

func TestChatPropagatesUsage(t *testing.T) {
	mc := &mockClient{out: model.ChatOut{Text: "paris", Usage: model.Usage{InputTokens: 7, OutputTokens: 3}}}
	m := &ChatModel{client: mc, modelName: "gemini-test"}

	out, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "capital of France?"}}, nil)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if out.Usage.InputTokens != 7 || out.Usage.OutputTokens != 3 {
		t.Errorf("usage = %+v, want {7 3}", out.Usage)
	}
}

func TestChatTranslatesSafetyFilterError(t *testing.T) {
	mc := &mockClient{err: &SafetyFilterError{reason: "SAFETY", category: "HARM_CATEGORY_HATE_SPEECH"}}
	m := &ChatModel{client: mc, modelName: "gemini-test"}

	_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "hi"}}, nil)
	var safetyErr *SafetyFilterError
	if !errors.As(err, &safetyErr) {
		t.Fatalf("expected SafetyFilterError, got %v", err)
	}
	if safetyErr.Category() != "HARM_CATEGORY_HATE_SPEECH" {
		t.Errorf("category = %q", safetyErr.Category())
	}
}

func TestChatPropagatesOtherErrors(t *testing.T) {
	mc := &mockClient{err: errors.New("network down")}
	m := &ChatModel{client: mc, modelName: "gemini-test"}

	_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "hi"}}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestChatRejectsCancelledContext(t *testing.T) {
	mc := &mockClient{out: model.ChatOut{Text: "unreached"}}
	m := &ChatModel{client: mc, modelName: "gemini-test"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Chat(ctx, []model.Message{{Role: model.RoleUser, Content: "hi"}}, nil)
	if err == nil {
		t.Fatal("expected context error")
	}
	if mc.callCount != 0 {
		t.Errorf("expected client not called when ctx is cancelled, callCount = %d", mc.callCount)
	}
}

func TestConvertSchemaExtractsPropertiesAndRequired(t *testing.T) {
	schema := map[string]any{
		"properties": map[string]any{
			"city": map[string]any{"type": "string", "description": "city name"},
		},
		"required": []interface{}{"city"},
	}
	got := convertSchema(schema)
	if got.Type != genai.TypeObject {
		t.Fatalf("expected object type")
	}
	if len(got.Required) != 1 || got.Required[0] != "city" {
		t.Errorf("required = %+v", got.Required)
	}
	if _, ok := got.Properties["city"]; !ok {
		t.Errorf("properties missing city")
	}
}

func TestConvertSchemaNilIsNil(t *testing.T) {
	if convertSchema(nil) != nil {
		t.Error("convertSchema(nil) should be nil")
	}
}
