package httptool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestName(t *testing.T) {
	tool := New()
	if tool.Name() != "http_request" {
		t.Errorf("Name() = %q, want http_request", tool.Name())
	}
}

func TestCallGETSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	tool := New()
	result, err := tool.Call(context.Background(), map[string]any{"url": server.URL})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if result["status_code"] != 200 {
		t.Errorf("status_code = %v, want 200", result["status_code"])
	}
	if result["body"] != `{"ok":true}` {
		t.Errorf("body = %v", result["body"])
	}
}

func TestCallPOSTSendsBody(t *testing.T) {
	var receivedBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		receivedBody = string(buf)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	tool := New()
	_, err := tool.Call(context.Background(), map[string]any{
		"url": server.URL, "method": "post", "body": `{"x":1}`,
	})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if receivedBody != `{"x":1}` {
		t.Errorf("receivedBody = %q", receivedBody)
	}
}

func TestCallSendsCustomHeaders(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer server.Close()

	tool := New()
	_, err := tool.Call(context.Background(), map[string]any{
		"url":     server.URL,
		"headers": map[string]any{"Authorization": "Bearer tok"},
	})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization header = %q", gotAuth)
	}
}

func TestCallMissingURLErrors(t *testing.T) {
	tool := New()
	_, err := tool.Call(context.Background(), map[string]any{})
	if err == nil {
		t.Fatal("expected error for missing url")
	}
}

func TestCallUnsupportedMethodErrors(t *testing.T) {
	tool := New()
	_, err := tool.Call(context.Background(), map[string]any{"url": "http://example.com", "method": "DELETE"})
	if err == nil {
		t.Fatal("expected error for unsupported method")
	}
}

func TestCallPropagatesContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	tool := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tool.Call(ctx, map[string]any{"url": server.URL})
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
