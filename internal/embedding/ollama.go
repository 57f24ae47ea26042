package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/docuchat/docuchat/internal/config"
)

// OllamaProvider generates embeddings via a local Ollama server.
type OllamaProvider struct {
	baseURL string
	model   string
	dim     int
	client  *http.Client
}

// NewOllamaProvider creates a new Ollama embedding provider. The dimension is
// declared by configuration because Ollama does not expose it before the
// first call; a mismatch surfaces on the first embedding.
func NewOllamaProvider(baseURL, model string, dimension int) (*OllamaProvider, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	if dimension <= 0 {
		return nil, config.NewConfigurationError("embedder", "ollama embedding dimension must be positive, got %d", dimension)
	}
	return &OllamaProvider{
		baseURL: baseURL,
		model:   model,
		dim:     dimension,
		client:  &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Name returns the provider name.
func (p *OllamaProvider) Name() string {
	return fmt.Sprintf("ollama/%s", p.model)
}

// Dimension returns the embedding vector dimension.
func (p *OllamaProvider) Dimension() int {
	return p.dim
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed generates an embedding for a single text.
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: p.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest {
		return nil, permanent(fmt.Errorf("ollama returned status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	var embedResp ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	if len(embedResp.Embedding) != p.dim {
		return nil, permanent(fmt.Errorf("ollama embedding has dimension %d, configured %d", len(embedResp.Embedding), p.dim))
	}

	return embedResp.Embedding, nil
}

// EmbedBatch generates embeddings sequentially; Ollama has no batch endpoint.
func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		vecs[i] = vec
	}
	return vecs, nil
}
