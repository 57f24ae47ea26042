package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaProviderEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)

		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)

		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer server.Close()

	p, err := NewOllamaProvider(server.URL, "test-model", 3)
	require.NoError(t, err)

	vec, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestOllamaProviderDimensionMismatchIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{0.1, 0.2}})
	}))
	defer server.Close()

	p, err := NewOllamaProvider(server.URL, "test-model", 3)
	require.NoError(t, err)

	// Wrapped with retry, a dimension mismatch must still fail on the first
	// attempt instead of being retried.
	calls := 0
	counting := &countingProvider{inner: p, calls: &calls}
	_, err = WithRetry(counting, 3).Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

type countingProvider struct {
	inner Provider
	calls *int
}

func (c *countingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	*c.calls++
	return c.inner.Embed(ctx, text)
}

func (c *countingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return c.inner.EmbedBatch(ctx, texts)
}

func (c *countingProvider) Dimension() int { return c.inner.Dimension() }
func (c *countingProvider) Name() string   { return c.inner.Name() }

func TestOllamaProviderEmbedBatchOrder(t *testing.T) {
	// Echo a vector derived from the prompt so ordering is observable.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode(ollamaEmbedResponse{
			Embedding: []float32{float32(len(req.Prompt))},
		})
	}))
	defer server.Close()

	p, err := NewOllamaProvider(server.URL, "test-model", 1)
	require.NoError(t, err)

	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for i, vec := range vecs {
		assert.Equal(t, float32(i+1), vec[0], fmt.Sprintf("vector %d out of order", i))
	}
}

func TestOllamaProviderServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	p, err := NewOllamaProvider(server.URL, "missing-model", 3)
	require.NoError(t, err)

	_, err = p.Embed(context.Background(), "hello")
	assert.Error(t, err)
}
