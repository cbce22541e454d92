// Package httptool implements tool.Tool against a plain HTTP endpoint,
// grounded on the reference architecture's tool.HTTPTool. It deliberately
// uses net/http rather than a third-party client: a single-call JSON/text
// round trip needs nothing a stdlib client doesn't already provide, and
// none of the example repos in the retrieval pack reach for a dedicated
// HTTP client library for this shape of call.
package httptool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Tool makes a single HTTP request per call. Input keys: "url" (required),
// "method" (defaults to GET), "headers" (map[string]any of string values),
// "body" (string, for POST). Output keys: "status_code", "headers", "body".
type Tool struct {
	client *http.Client
}

// New returns an HTTP tool using http.DefaultClient's defaults; per-call
// deadlines come from ctx, not a fixed client timeout.
func New() *Tool {
	return &Tool{client: &http.Client{}}
}

// Name implements tool.Tool.
func (t *Tool) Name() string { return "http_request" }

// Call implements tool.Tool.
func (t *Tool) Call(ctx context.Context, input map[string]any) (map[string]any, error) {
	urlStr, ok := input["url"].(string)
	if !ok || urlStr == "" {
		return nil, fmt.Errorf("flow/tool/httptool: url parameter required (string)")
	}

	method := "GET"
	if m, ok := input["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	if method != "GET" && method != "POST" {
		return nil, fmt.Errorf("flow/tool/httptool: unsupported method %q (supported: GET, POST)", method)
	}

	var body io.Reader
	if bodyStr, ok := input["body"].(string); ok && bodyStr != "" {
		body = bytes.NewBufferString(bodyStr)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return nil, fmt.Errorf("flow/tool/httptool: build request: %w", err)
	}
	if headers, ok := input["headers"].(map[string]any); ok {
		for key, value := range headers {
			if s, ok := value.(string); ok {
				req.Header.Set(key, s)
			}
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("flow/tool/httptool: execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("flow/tool/httptool: read response body: %w", err)
	}

	respHeaders := make(map[string]any, len(resp.Header))
	for key, values := range resp.Header {
		if len(values) == 1 {
			respHeaders[key] = values[0]
		} else {
			respHeaders[key] = values
		}
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"headers":     respHeaders,
		"body":        string(respBody),
	}, nil
}
