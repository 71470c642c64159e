package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAdapterBuildsRequestAndAttributionHeaders(t *testing.T) {
	var (
		received map[string]any
		headers  http.Header
	)
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		headers = request.Header.Clone()
		if err := json.NewDecoder(request.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		completionHandler(t, "meta:\n  title: x", "stop")(writer, request)
	}))
	defer server.Close()

	adapter := Adapter{
		Client: Client{
			HTTPBaseURL: server.URL + "/",
			APIKey:      "secret",
			HTTPReferer: "https://example.com",
			AppTitle:    "genbatch",
		},
		DefaultModel:  "anthropic/claude-sonnet-4",
		DefaultTokens: 4000,
	}

	reply, err := adapter.Call(context.Background(), Call{
		SystemPrompt: " system ",
		UserPrompt:   "user",
		Temperature:  0.7,
	})
	if err != nil {
		t.Fatalf("adapter call: %v", err)
	}
	if reply.Text != "meta:\n  title: x" || reply.Usage.TotalTokens != 18 {
		t.Fatalf("unexpected reply %+v", reply)
	}

	if received["model"] != "anthropic/claude-sonnet-4" {
		t.Fatalf("default model not applied: %v", received["model"])
	}
	if received["max_tokens"] != float64(4000) {
		t.Fatalf("default max tokens not applied: %v", received["max_tokens"])
	}
	if received["temperature"] != 0.7 {
		t.Fatalf("temperature not sent: %v", received["temperature"])
	}
	messages, ok := received["messages"].([]any)
	if !ok || len(messages) != 2 {
		t.Fatalf("expected two messages, got %v", received["messages"])
	}
	if system := messages[0].(map[string]any); system["content"] != "system" {
		t.Fatalf("system prompt not trimmed: %v", system["content"])
	}

	if headers.Get("Authorization") != "Bearer secret" {
		t.Fatalf("missing bearer token")
	}
	if headers.Get("HTTP-Referer") != "https://example.com" || headers.Get("X-Title") != "genbatch" {
		t.Fatalf("missing attribution headers: %v", headers)
	}
}

func TestAdapterOmitsZeroTemperature(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if err := json.NewDecoder(request.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		completionHandler(t, "ok", "stop")(writer, request)
	}))
	defer server.Close()

	adapter := Adapter{Client: Client{HTTPBaseURL: server.URL}, DefaultModel: "m"}
	if _, err := adapter.Call(context.Background(), Call{UserPrompt: "u"}); err != nil {
		t.Fatalf("adapter call: %v", err)
	}
	if _, present := received["temperature"]; present {
		t.Fatalf("temperature should be omitted, got %v", received["temperature"])
	}
}
