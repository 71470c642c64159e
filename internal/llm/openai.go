package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Client talks to an OpenAI-compatible chat completions endpoint
// (OpenAI, OpenRouter).
type Client struct {
	HTTPBaseURL string
	APIKey      string
	// HTTPReferer and AppTitle are sent as OpenRouter attribution headers when set.
	HTTPReferer string
	AppTitle    string
	HTTPClient  *http.Client
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatCompletionRequest struct {
	Model               string        `json:"model"`
	Messages            []ChatMessage `json:"messages"`
	MaxCompletionTokens int           `json:"max_tokens,omitempty"`
	Temperature         *float64      `json:"temperature,omitempty"`
}

type chatMessageResponse struct {
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	Refusal   json.RawMessage `json:"refusal,omitempty"`
	ToolCalls json.RawMessage `json:"tool_calls,omitempty"`
}

type chatCompletionChoice struct {
	Message      chatMessageResponse `json:"message"`
	FinishReason string              `json:"finish_reason"`
}

// Usage is the token accounting block of a completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type ChatCompletionResponse struct {
	Choices []chatCompletionChoice `json:"choices"`
	Usage   Usage                  `json:"usage"`
}

// Completion is the extracted text plus the usage the server reported.
type Completion struct {
	Text  string
	Usage Usage
}

// TransportError classifies a failed call for the retry loop.
type TransportError struct {
	StatusCode  int
	RateLimited bool
	Retryable   bool
	RetryAfter  time.Duration
	// Usage is whatever the server still reported for a failed call.
	Usage Usage
	Err   error
}

func (e *TransportError) Error() string {
	switch {
	case e.RateLimited:
		return fmt.Sprintf("rate limited (status %d): %v", e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("llm http error %d: %v", e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("llm transport error: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

func truncateForLog(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}

func (c Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c Client) CreateChatCompletion(ctx context.Context, requestPayload ChatCompletionRequest) (Completion, error) {
	requestBytes, marshalErr := json.Marshal(requestPayload)
	if marshalErr != nil {
		return Completion{}, &TransportError{Err: errors.Wrap(marshalErr, "encode request")}
	}
	endpoint := strings.TrimRight(c.HTTPBaseURL, "/") + "/chat/completions"
	httpRequest, buildErr := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(requestBytes))
	if buildErr != nil {
		return Completion{}, &TransportError{Err: buildErr}
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Authorization", "Bearer "+c.APIKey)
	if c.HTTPReferer != "" {
		httpRequest.Header.Set("HTTP-Referer", c.HTTPReferer)
	}
	if c.AppTitle != "" {
		httpRequest.Header.Set("X-Title", c.AppTitle)
	}

	httpResponse, httpErr := c.httpClient().Do(httpRequest)
	if httpErr != nil {
		return Completion{}, &TransportError{Retryable: true, Err: httpErr}
	}
	defer func(closer io.ReadCloser) { _ = closer.Close() }(httpResponse.Body)

	bodyBytes, readErr := io.ReadAll(httpResponse.Body)
	if readErr != nil {
		return Completion{}, &TransportError{StatusCode: httpResponse.StatusCode, Retryable: true, Err: readErr}
	}
	bodyPreview := truncateForLog(string(bodyBytes), 512)

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode >= 300 {
		return Completion{}, statusError(httpResponse, bodyPreview)
	}

	var completion ChatCompletionResponse
	if decodeErr := json.Unmarshal(bodyBytes, &completion); decodeErr != nil {
		return Completion{}, &TransportError{
			StatusCode: httpResponse.StatusCode,
			Retryable:  true,
			Err:        errors.Wrapf(decodeErr, "decode chat completion (body=%s)", bodyPreview),
		}
	}
	if len(completion.Choices) == 0 {
		return Completion{}, &TransportError{
			StatusCode: httpResponse.StatusCode,
			Retryable:  true,
			Usage:      completion.Usage,
			Err:        errors.Newf("chat completion returned no choices (body=%s)", bodyPreview),
		}
	}

	choice := completion.Choices[0]
	content, extractErr := extractMessageContent(choice.Message)
	if extractErr != nil {
		return Completion{}, &TransportError{StatusCode: httpResponse.StatusCode, Usage: completion.Usage, Err: extractErr}
	}

	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return Completion{}, &TransportError{
			StatusCode: httpResponse.StatusCode,
			Retryable:  true,
			Usage:      completion.Usage,
			Err:        errors.Newf("chat completion returned empty message (finish_reason=%s)", choice.FinishReason),
		}
	}
	return Completion{Text: trimmed, Usage: completion.Usage}, nil
}

func statusError(response *http.Response, bodyPreview string) *TransportError {
	transportErr := &TransportError{StatusCode: response.StatusCode, Err: errors.New(bodyPreview)}
	switch {
	case response.StatusCode == http.StatusTooManyRequests:
		transportErr.RateLimited = true
		transportErr.Retryable = true
		transportErr.RetryAfter = parseRetryAfter(response.Header.Get("Retry-After"))
	case response.StatusCode == http.StatusRequestTimeout, response.StatusCode >= 500:
		transportErr.Retryable = true
	}
	return transportErr
}

func parseRetryAfter(value string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func extractMessageContent(message chatMessageResponse) (string, error) {
	if len(message.Content) == 0 || string(message.Content) == "null" {
		if refusal := decodeRefusal(message.Refusal); refusal != "" {
			return "", errors.Newf("chat completion refusal: %s", refusal)
		}
		return "", nil
	}

	var asString string
	if err := json.Unmarshal(message.Content, &asString); err == nil {
		return asString, nil
	}
	if text, ok := extractRichText(message.Content); ok {
		return text, nil
	}
	if refusal := decodeRefusal(message.Refusal); refusal != "" {
		return "", errors.Newf("chat completion refusal: %s", refusal)
	}
	if len(message.ToolCalls) > 0 && string(message.ToolCalls) != "null" {
		return "", errors.Newf("chat completion produced tool_calls: %s", truncateForLog(string(message.ToolCalls), 240))
	}
	return "", errors.Newf("unsupported message content: %s", truncateForLog(string(message.Content), 240))
}

// extractRichText joins the text parts of array-style message content.
func extractRichText(raw json.RawMessage) (string, bool) {
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", false
	}
	combined := strings.TrimSpace(strings.Join(flattenText(data), "\n"))
	return combined, combined != ""
}

func flattenText(value any) []string {
	switch v := value.(type) {
	case string:
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return []string{trimmed}
		}
		return nil
	case []any:
		var collected []string
		for _, item := range v {
			collected = append(collected, flattenText(item)...)
		}
		return collected
	case map[string]any:
		for _, field := range []string{"text", "content", "value"} {
			if nested, ok := v[field]; ok {
				return flattenText(nested)
			}
		}
		return nil
	default:
		return nil
	}
}

func decodeRefusal(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var refusalString string
	if err := json.Unmarshal(raw, &refusalString); err == nil {
		return strings.TrimSpace(refusalString)
	}
	if text, ok := extractRichText(raw); ok {
		return text
	}
	return strings.TrimSpace(truncateForLog(string(raw), 200))
}
