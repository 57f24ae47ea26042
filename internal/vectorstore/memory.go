package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/docuchat/docuchat/internal/config"
	"github.com/docuchat/docuchat/internal/model"
)

// MemoryStore is an in-memory vector store using brute-force cosine
// similarity. Native score is cosine similarity in [-1,1], normalized to
// [0,1] via (s+1)/2.
type MemoryStore struct {
	mu     sync.RWMutex
	dim    int
	chunks map[string]model.Chunk
	docs   map[string]map[string]struct{} // documentID -> chunkIDs
}

// NewMemoryStore creates a new in-memory vector store.
func NewMemoryStore(dimension int) (*MemoryStore, error) {
	if dimension <= 0 {
		return nil, config.NewConfigurationError("vector_db", "memory store dimension must be positive, got %d", dimension)
	}
	return &MemoryStore{
		dim:    dimension,
		chunks: make(map[string]model.Chunk),
		docs:   make(map[string]map[string]struct{}),
	}, nil
}

// Name returns the backend name.
func (s *MemoryStore) Name() string { return "memory" }

// Dimension returns the configured vector dimension.
func (s *MemoryStore) Dimension() int { return s.dim }

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// Upsert inserts or replaces a chunk by ChunkID.
func (s *MemoryStore) Upsert(ctx context.Context, chunk model.Chunk) error {
	if len(chunk.Embedding) != s.dim {
		return fmt.Errorf("chunk %s has dimension %d, store expects %d", chunk.ChunkID, len(chunk.Embedding), s.dim)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// A re-upserted chunk may have moved to another document.
	if old, ok := s.chunks[chunk.ChunkID]; ok && old.DocumentID != chunk.DocumentID {
		delete(s.docs[old.DocumentID], chunk.ChunkID)
	}

	s.chunks[chunk.ChunkID] = chunk
	if s.docs[chunk.DocumentID] == nil {
		s.docs[chunk.DocumentID] = make(map[string]struct{})
	}
	s.docs[chunk.DocumentID][chunk.ChunkID] = struct{}{}
	return nil
}

// Search scans all chunks and ranks them by normalized cosine similarity.
func (s *MemoryStore) Search(ctx context.Context, embedding []float32, topK int, threshold float64, filter map[string]any) ([]model.SearchResult, error) {
	if len(embedding) != s.dim {
		return nil, fmt.Errorf("query has dimension %d, store expects %d", len(embedding), s.dim)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]model.SearchResult, 0, len(s.chunks))
	for _, chunk := range s.chunks {
		if filter != nil && !matchesFilter(chunk.Metadata, filter) {
			continue
		}
		score := clampScore((cosineSimilarity(embedding, chunk.Embedding) + 1) / 2)
		if score < threshold {
			continue
		}
		results = append(results, model.SearchResult{
			ChunkID:    chunk.ChunkID,
			DocumentID: chunk.DocumentID,
			Content:    chunk.Content,
			Score:      score,
			Metadata:   chunk.Metadata,
		})
	}

	sortResults(results)
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// DeleteDocument removes all chunks for a document.
func (s *MemoryStore) DeleteDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for chunkID := range s.docs[documentID] {
		delete(s.chunks, chunkID)
	}
	delete(s.docs, documentID)
	return nil
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
