package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Backend is one chat-completion endpoint the remediation agents can talk to.
type Backend interface {
	Name() string
	Complete(ctx context.Context, system, user string) (string, error)
	Stream(ctx context.Context, system, user string, onDelta func(string)) error
}

// OpenAIBackend speaks to any OpenAI-compatible endpoint (FastRouter-style
// routers, local Ollama) using the configured base URL and model.
type OpenAIBackend struct {
	name        string
	client      *openai.Client
	model       string
	temperature float32
}

// NewOpenAIBackend constructs a backend for the given endpoint.
func NewOpenAIBackend(name, baseURL, apiKey, model string, temperature float32, timeout time.Duration) *OpenAIBackend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}
	if temperature == 0 {
		temperature = 0.2
	}
	return &OpenAIBackend{
		name:        name,
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: temperature,
	}
}

// Name identifies the endpoint in logs and errors.
func (b *OpenAIBackend) Name() string { return b.name }

// Complete sends a system+user prompt and returns the response text.
func (b *OpenAIBackend) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       b.model,
		Temperature: b.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%s completion: %w", b.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s completion: empty choice list", b.name)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Stream forwards incremental response fragments to onDelta as they arrive.
func (b *OpenAIBackend) Stream(ctx context.Context, system, user string, onDelta func(string)) error {
	stream, err := b.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       b.model,
		Temperature: b.temperature,
		Stream:      true,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return fmt.Errorf("%s stream open: %w", b.name, err)
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s stream recv: %w", b.name, err)
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			onDelta(chunk.Choices[0].Delta.Content)
		}
	}
}
