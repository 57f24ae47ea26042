package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/docuchat/docuchat/internal/config"
)

// openaiDimensions maps OpenAI embedding models to their vector dimension.
var openaiDimensions = map[string]int{
	"text-embedding-ada-002": 1536,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
}

// OpenAIProvider generates embeddings via the OpenAI API.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	dim    int
}

// NewOpenAIProvider creates a new OpenAI embedding provider.
func NewOpenAIProvider(apiKey, model string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, config.NewConfigurationError("embedder", "OpenAI API key is required")
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	dim, ok := openaiDimensions[model]
	if !ok {
		return nil, config.NewConfigurationError("embedder", "unknown OpenAI embedding model %q", model)
	}

	return &OpenAIProvider{
		client: openai.NewClient(apiKey),
		model:  model,
		dim:    dim,
	}, nil
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return fmt.Sprintf("openai/%s", p.model)
}

// Dimension returns the embedding vector dimension.
func (p *OpenAIProvider) Dimension() int {
	return p.dim
}

// Embed generates an embedding for a single text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in a single API call.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(p.model),
		Input: texts,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 && apiErr.HTTPStatusCode != 429 {
			// Bad credentials or invalid request; retrying cannot help.
			return nil, permanent(fmt.Errorf("openai embeddings: %w", err))
		}
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	// The API tags each vector with its input index; order by it so the
	// batch result matches input order.
	vecs := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(vecs) {
			return nil, fmt.Errorf("openai embeddings: index %d out of range", item.Index)
		}
		vecs[item.Index] = item.Embedding
	}
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("openai embeddings: missing vector for input %d", i)
		}
		if len(v) != p.dim {
			return nil, permanent(fmt.Errorf("openai embeddings: got dimension %d, want %d", len(v), p.dim))
		}
	}

	return vecs, nil
}
