// Package embedding provides text embedding provider interfaces and
// implementations.
package embedding

import (
	"context"

	"github.com/docuchat/docuchat/internal/config"
)

// Provider turns text into fixed-dimension float vectors. Dimension is fixed
// per provider instance and must match the vector store's configured
// dimension; the mismatch is checked at wiring time.
type Provider interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in input order.
	// It exists purely for throughput.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// Name returns the provider name.
	Name() string
}

// New creates an embedding provider from its discriminated-union
// configuration, wrapped with bounded retry.
func New(cfg config.EmbedderConfig) (Provider, error) {
	var (
		p   Provider
		err error
	)
	switch cfg.Type {
	case config.EmbedderOpenAI:
		if cfg.OpenAI == nil {
			return nil, config.NewConfigurationError("embedder", "openai configuration missing")
		}
		p, err = NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
	case config.EmbedderOllama:
		if cfg.Ollama == nil {
			return nil, config.NewConfigurationError("embedder", "ollama configuration missing")
		}
		p, err = NewOllamaProvider(cfg.Ollama.BaseURL, cfg.Ollama.Model, cfg.Ollama.Dimension)
	default:
		return nil, config.NewConfigurationError("embedder", "unknown embedder type %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return WithRetry(p, defaultMaxAttempts), nil
}
