package retrieval

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/docuchat/docuchat/internal/config"
	"github.com/docuchat/docuchat/internal/embedding"
	"github.com/docuchat/docuchat/internal/model"
	"github.com/docuchat/docuchat/internal/vectorstore"
	"github.com/docuchat/docuchat/pkg/metrics"
)

// Error wraps any failure inside the retrieval path. Callers treat it as a
// signal to degrade to a non-augmented answer rather than fail the request.
type Error struct {
	Stage string
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("retrieval %s failed: %v", e.Stage, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Service embeds queries and searches the vector store for relevant context.
type Service struct {
	provider  embedding.Provider
	store     vectorstore.Store
	topK      int
	threshold float64
	logger    *zap.Logger
}

// New composes an embedding provider and a vector store into a retrieval
// service. The provider and store dimensions must agree.
func New(provider embedding.Provider, store vectorstore.Store, topK int, threshold float64, logger *zap.Logger) (*Service, error) {
	if provider == nil {
		return nil, config.NewConfigurationError("retrieval", "embedding provider is required")
	}
	if store == nil {
		return nil, config.NewConfigurationError("retrieval", "vector store is required")
	}
	if pd, sd := provider.Dimension(), store.Dimension(); pd != sd {
		return nil, config.NewConfigurationError("retrieval",
			"embedder %s produces %d-dimensional vectors but vector store %s expects %d",
			provider.Name(), pd, store.Name(), sd)
	}
	if topK <= 0 {
		return nil, config.NewConfigurationError("retrieval", "top_k must be positive, got %d", topK)
	}
	if threshold < 0 || threshold > 1 {
		return nil, config.NewConfigurationError("retrieval", "threshold must be in [0,1], got %g", threshold)
	}
	return &Service{
		provider:  provider,
		store:     store,
		topK:      topK,
		threshold: threshold,
		logger:    logger,
	}, nil
}

// Retrieve embeds the query once and returns matching chunks sorted by score.
// topK and threshold override the configured defaults when positive.
func (s *Service) Retrieve(ctx context.Context, query string, topK int, threshold float64, filter map[string]any) ([]model.SearchResult, error) {
	if topK <= 0 {
		topK = s.topK
	}
	if threshold <= 0 {
		threshold = s.threshold
	}

	start := time.Now()

	embedded, err := s.provider.Embed(ctx, query)
	if err != nil {
		metrics.RecordRetrieval(s.store.Name(), "error", time.Since(start).Seconds())
		return nil, &Error{Stage: "embed", Cause: err}
	}

	results, err := s.store.Search(ctx, embedded, topK, threshold, filter)
	if err != nil {
		metrics.RecordRetrieval(s.store.Name(), "error", time.Since(start).Seconds())
		return nil, &Error{Stage: "search", Cause: err}
	}

	metrics.RecordRetrieval(s.store.Name(), "ok", time.Since(start).Seconds())
	s.logger.Debug("retrieval completed",
		zap.Int("results", len(results)),
		zap.Int("top_k", topK),
		zap.Float64("threshold", threshold),
		zap.Duration("duration", time.Since(start)))
	return results, nil
}

// Index embeds and upserts document chunks.
func (s *Service) Index(ctx context.Context, documentID string, chunks []model.Chunk) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	embeddings, err := s.provider.EmbedBatch(ctx, texts)
	if err != nil {
		return &Error{Stage: "embed", Cause: err}
	}

	for i := range chunks {
		chunks[i].DocumentID = documentID
		chunks[i].Embedding = embeddings[i]
		if err := s.store.Upsert(ctx, chunks[i]); err != nil {
			return &Error{Stage: "upsert", Cause: err}
		}
	}
	return nil
}

// DeleteDocument removes a document's chunks from the store.
func (s *Service) DeleteDocument(ctx context.Context, documentID string) error {
	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return &Error{Stage: "delete", Cause: err}
	}
	return nil
}

// EmbedderName reports the embedding backend for health output.
func (s *Service) EmbedderName() string { return s.provider.Name() }

// StoreName reports the vector store backend for health output.
func (s *Service) StoreName() string { return s.store.Name() }

// Close releases the underlying vector store.
func (s *Service) Close() error { return s.store.Close() }
