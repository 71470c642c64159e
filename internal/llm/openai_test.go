package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
)

func completionHandler(t *testing.T, content any, finishReason string) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		payload := map[string]any{
			"choices": []any{
				map[string]any{
					"message": map[string]any{
						"content": content,
						"role":    "assistant",
					},
					"finish_reason": finishReason,
				},
			},
			"usage": map[string]any{
				"prompt_tokens":     11,
				"completion_tokens": 7,
				"total_tokens":      18,
			},
		}
		if err := json.NewEncoder(writer).Encode(payload); err != nil {
			t.Errorf("encode: %v", err)
		}
	}
}

func TestCreateChatCompletionSuccess(t *testing.T) {
	server := httptest.NewServer(completionHandler(t, "  result  ", "stop"))
	defer server.Close()

	client := Client{HTTPBaseURL: server.URL, APIKey: "test"}
	result, err := client.CreateChatCompletion(context.Background(), ChatCompletionRequest{Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "result" {
		t.Fatalf("expected result trimmed, got %q", result.Text)
	}
	if result.Usage.TotalTokens != 18 || result.Usage.PromptTokens != 11 {
		t.Fatalf("unexpected usage %+v", result.Usage)
	}
}

func TestCreateChatCompletionStructuredContent(t *testing.T) {
	content := []any{
		map[string]any{
			"type": "output_text",
			"text": []any{map[string]any{"type": "text", "text": "alpha"}},
		},
		map[string]any{"type": "output_text", "text": "beta"},
	}
	server := httptest.NewServer(completionHandler(t, content, "stop"))
	defer server.Close()

	client := Client{HTTPBaseURL: server.URL, APIKey: "test"}
	result, err := client.CreateChatCompletion(context.Background(), ChatCompletionRequest{Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "alpha\nbeta" {
		t.Fatalf("expected flattened text, got %q", result.Text)
	}
}

func TestCreateChatCompletionEmptyMessageIsRetryable(t *testing.T) {
	server := httptest.NewServer(completionHandler(t, "", "length"))
	defer server.Close()

	client := Client{HTTPBaseURL: server.URL, APIKey: "test"}
	_, err := client.CreateChatCompletion(context.Background(), ChatCompletionRequest{Model: "m"})

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected *TransportError, got %v", err)
	}
	if !transportErr.Retryable || transportErr.RateLimited {
		t.Fatalf("unexpected classification %+v", transportErr)
	}
	if transportErr.Usage.TotalTokens != 18 {
		t.Fatalf("usage should survive a failed call, got %+v", transportErr.Usage)
	}
}

func TestCreateChatCompletionStatusClassification(t *testing.T) {
	testCases := []struct {
		name        string
		status      int
		retryAfter  string
		rateLimited bool
		retryable   bool
		wait        time.Duration
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, retryAfter: "3", rateLimited: true, retryable: true, wait: 3 * time.Second},
		{name: "unavailable", status: http.StatusServiceUnavailable, retryable: true},
		{name: "request timeout", status: http.StatusRequestTimeout, retryable: true},
		{name: "bad request", status: http.StatusBadRequest},
		{name: "unauthorized", status: http.StatusUnauthorized},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
				if testCase.retryAfter != "" {
					writer.Header().Set("Retry-After", testCase.retryAfter)
				}
				writer.WriteHeader(testCase.status)
				_, _ = writer.Write([]byte(`{"error":"nope"}`))
			}))
			defer server.Close()

			client := Client{HTTPBaseURL: server.URL, APIKey: "test"}
			_, err := client.CreateChatCompletion(context.Background(), ChatCompletionRequest{Model: "m"})

			var transportErr *TransportError
			if !errors.As(err, &transportErr) {
				t.Fatalf("expected *TransportError, got %v", err)
			}
			if transportErr.StatusCode != testCase.status {
				t.Fatalf("status %d, want %d", transportErr.StatusCode, testCase.status)
			}
			if transportErr.RateLimited != testCase.rateLimited || transportErr.Retryable != testCase.retryable {
				t.Fatalf("classification %+v", transportErr)
			}
			if transportErr.RetryAfter != testCase.wait {
				t.Fatalf("retry after %s, want %s", transportErr.RetryAfter, testCase.wait)
			}
		})
	}
}

func TestCreateChatCompletionNetworkErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := Client{HTTPBaseURL: url, APIKey: "test"}
	_, err := client.CreateChatCompletion(context.Background(), ChatCompletionRequest{Model: "m"})

	var transportErr *TransportError
	if !errors.As(err, &transportErr) || !transportErr.Retryable {
		t.Fatalf("expected retryable transport error, got %v", err)
	}
}
