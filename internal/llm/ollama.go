package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// OllamaClient talks to a local Ollama server through its native chat API.
// It satisfies the same gateway surface as Client, so either backend can
// drive the continuation loop.
type OllamaClient struct {
	Model  string
	client *api.Client
}

// NewOllamaClient creates a client for the Ollama server at baseURL.
func NewOllamaClient(baseURL, model string) (*OllamaClient, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base URL: %w", err)
	}
	return &OllamaClient{
		Model:  model,
		client: api.NewClient(base, http.DefaultClient),
	}, nil
}

// Complete sends the full conversation and returns the call's generated text.
func (c *OllamaClient) Complete(ctx context.Context, messages []Message, maxTokens int) (string, error) {
	stream := false
	req := &api.ChatRequest{
		Model:    c.Model,
		Messages: toOllamaMessages(messages),
		Stream:   &stream,
		Options: map[string]any{
			"num_predict": maxTokens,
		},
	}

	var sb strings.Builder
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		sb.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat failed: %w", err)
	}

	return sb.String(), nil
}

// StreamComplete sends the full conversation with streaming enabled and
// calls fn for each non-empty fragment as it arrives.
func (c *OllamaClient) StreamComplete(ctx context.Context, messages []Message, maxTokens int, fn func(fragment string) error) error {
	stream := true
	req := &api.ChatRequest{
		Model:    c.Model,
		Messages: toOllamaMessages(messages),
		Stream:   &stream,
		Options: map[string]any{
			"num_predict": maxTokens,
		},
	}

	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		if resp.Message.Content == "" {
			return nil
		}
		return fn(resp.Message.Content)
	})
	if err != nil {
		return fmt.Errorf("ollama chat stream failed: %w", err)
	}

	return nil
}

// toOllamaMessages converts the shared message type to the Ollama API type.
func toOllamaMessages(messages []Message) []api.Message {
	out := make([]api.Message, len(messages))
	for i, m := range messages {
		out[i] = api.Message{Role: m.Role, Content: m.Content}
	}
	return out
}
