package openai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flowcraft/stategraph/model"
)

type mockClient struct {
	responses []model.ChatOut
	errs      []error
	calls     int
}

func (c *mockClient) createChatCompletion(_ context.Context, _ []model.Message, _ []model.ToolSpec) (model.ChatOut, error) {
	i := c.calls
	c.calls++
	if i < len(c.errs) && c.errs[i] != nil {
		return model.ChatOut{}, c.errs[i]
	}
	if i < len(c.responses) {
		return c.responses[i], nil
	}
	return model.ChatOut{}, errors.New("mockClient: ran out of scripted responses")
}

func TestNewChatModelDefaultsModelName(t *testing.T) {
	m := NewChatModel("key", "")
	if m.modelName != "gpt-4o" {
		t.Errorf("modelName = %q, want gpt-4o", m.modelName)
	}
}

func TestChatReturnsTextOnFirstSuccess(t *testing.T) {
	mc := &mockClient{responses: []model.ChatOut{{Text: "hi there"}}}
	m := &ChatModel{client: mc, modelName: "gpt-4o", maxRetries: 3, retryDelay: time.Millisecond}

	out, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if out.Text != "hi there" {
		t.Errorf("text = %q", out.Text)
	}
	if mc.calls != 1 {
		t.Errorf("calls = %d, want 1", mc.calls)
	}
}

func TestChatPropagatesUsage(t *testing.T) {
	mc := &mockClient{responses: []model.ChatOut{{Text: "hi", Usage: model.Usage{InputTokens: 5, OutputTokens: 9}}}}
	m := &ChatModel{client: mc, modelName: "gpt-4o", maxRetries: 3, retryDelay: time.Millisecond}

	out, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if out.Usage.InputTokens != 5 || out.Usage.OutputTokens != 9 {
		t.Errorf("usage = %+v, want {5 9}", out.Usage)
	}
}

func TestChatRetriesTransientErrorsThenSucceeds(t *testing.T) {
	mc := &mockClient{
		errs:      []error{errors.New("connection reset"), nil},
		responses: []model.ChatOut{{}, {Text: "recovered"}},
	}
	m := &ChatModel{client: mc, modelName: "gpt-4o", maxRetries: 3, retryDelay: time.Millisecond}

	out, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if out.Text != "recovered" {
		t.Errorf("text = %q, want recovered", out.Text)
	}
	if mc.calls != 2 {
		t.Errorf("calls = %d, want 2", mc.calls)
	}
}

func TestChatDoesNotRetryNonTransientErrors(t *testing.T) {
	mc := &mockClient{errs: []error{errors.New("invalid api key")}}
	m := &ChatModel{client: mc, modelName: "gpt-4o", maxRetries: 3, retryDelay: time.Millisecond}

	_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "hi"}}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if mc.calls != 1 {
		t.Errorf("calls = %d, want 1 (non-transient errors must not retry)", mc.calls)
	}
}

func TestChatGivesUpAfterMaxRetries(t *testing.T) {
	mc := &mockClient{errs: []error{
		errors.New("timeout"), errors.New("timeout"), errors.New("timeout"), errors.New("timeout"),
	}}
	m := &ChatModel{client: mc, modelName: "gpt-4o", maxRetries: 3, retryDelay: time.Millisecond}

	_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "hi"}}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if mc.calls != 4 {
		t.Errorf("calls = %d, want 4 (1 initial + 3 retries)", mc.calls)
	}
}

func TestParseToolInputParsesJSON(t *testing.T) {
	got := parseToolInput(`{"query":"go"}`)
	if got["query"] != "go" {
		t.Errorf("parseToolInput = %+v, want query=go", got)
	}
}

func TestParseToolInputFallsBackOnInvalidJSON(t *testing.T) {
	got := parseToolInput("not json")
	if got["_raw"] != "not json" {
		t.Errorf("parseToolInput fallback = %+v", got)
	}
}

func TestParseToolInputEmptyStringIsNil(t *testing.T) {
	if got := parseToolInput(""); got != nil {
		t.Errorf("parseToolInput(\"\") = %+v, want nil", got)
	}
}
