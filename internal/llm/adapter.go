package llm

import (
	"context"
	"strings"
)

// Call is one rendered prompt ready to send.
type Call struct {
	SystemPrompt string
	UserPrompt   string
	Model        string
	Temperature  float64
	MaxTokens    int
}

// Reply is the generator's text and token usage.
type Reply struct {
	Text  string
	Usage Usage
}

// Transport performs a single generation call. Failures are *TransportError.
type Transport interface {
	Call(ctx context.Context, call Call) (Reply, error)
}

// Adapter adapts Call to the concrete HTTP client, filling model defaults.
type Adapter struct {
	Client        Client
	DefaultModel  string
	DefaultTemp   float64
	DefaultTokens int
}

func (a Adapter) Call(ctx context.Context, call Call) (Reply, error) {
	model := call.Model
	if strings.TrimSpace(model) == "" {
		model = a.DefaultModel
	}

	request := ChatCompletionRequest{
		Model: model,
		Messages: []ChatMessage{
			{Role: "system", Content: strings.TrimSpace(call.SystemPrompt)},
			{Role: "user", Content: strings.TrimSpace(call.UserPrompt)},
		},
		MaxCompletionTokens: chooseInt(call.MaxTokens, a.DefaultTokens),
	}
	// A zero temperature means "server default".
	if resolvedTemp := chooseFloat(call.Temperature, a.DefaultTemp); resolvedTemp > 0 {
		request.Temperature = &resolvedTemp
	}

	completion, err := a.Client.CreateChatCompletion(ctx, request)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: completion.Text, Usage: completion.Usage}, nil
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, call Call) (Reply, error)

func (f TransportFunc) Call(ctx context.Context, call Call) (Reply, error) { return f(ctx, call) }

func chooseInt(a, b int) int {
	if a > 0 {
		return a
	}
	return b
}

func chooseFloat(a, b float64) float64 {
	if a > 0 {
		return a
	}
	return b
}
