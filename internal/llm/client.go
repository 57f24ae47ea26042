// Package llm provides chat model client interfaces and implementations.
package llm

import (
	"context"

	"github.com/docuchat/docuchat/internal/config"
)

// StreamCallback is called for each text delta during streaming. Returning
// an error stops consumption; the upstream call is abandoned, not retried.
type StreamCallback func(delta string, index int) error

// CompletionRequest represents a completion request. Parameters a backend
// does not support are ignored, not errors.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
	TopP        float64
}

// ChatMessage represents a chat message for the model.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for chat model providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// CompleteStream sends a streaming completion request, invoking the
	// callback once per delta. A callback error cancels the stream.
	CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []string
}

// New creates a chat model client from its discriminated configuration.
func New(cfg config.ChatModelConfig) (Client, error) {
	switch cfg.Type {
	case config.ChatModelAnthropic:
		if cfg.Anthropic == nil {
			return nil, config.NewConfigurationError("chat_model", "anthropic configuration is required")
		}
		return NewAnthropicClient(cfg.Anthropic.APIKey, cfg.Anthropic.Model)
	case config.ChatModelOpenAI:
		if cfg.OpenAI == nil {
			return nil, config.NewConfigurationError("chat_model", "openai configuration is required")
		}
		return NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
	case config.ChatModelOllama:
		if cfg.Ollama == nil {
			return nil, config.NewConfigurationError("chat_model", "ollama configuration is required")
		}
		return NewOllamaClient(cfg.Ollama.BaseURL, cfg.Ollama.Model), nil
	default:
		return nil, config.NewConfigurationError("chat_model", "unknown chat model type %q", cfg.Type)
	}
}
