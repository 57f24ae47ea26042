// Package vectorstore provides vector similarity search backends.
//
// Backends differ in their native metric: the in-memory store computes cosine
// similarity, pgvector returns cosine distance and the SQLite store computes
// Euclidean distance. Every backend normalizes its raw score into one
// ascending scale in [0,1] before thresholds are applied, so callers never
// see a native metric.
package vectorstore

import (
	"context"
	"sort"

	"github.com/docuchat/docuchat/internal/config"
	"github.com/docuchat/docuchat/internal/model"
)

// Store persists and searches embedded chunks.
type Store interface {
	// Upsert inserts or replaces a chunk, keyed by ChunkID.
	Upsert(ctx context.Context, chunk model.Chunk) error

	// Search returns up to topK results with normalized score >= threshold,
	// ordered by descending score; ties are broken by ChunkID ascending.
	Search(ctx context.Context, embedding []float32, topK int, threshold float64, filter map[string]any) ([]model.SearchResult, error)

	// DeleteDocument removes all chunks for a document. Deleting an unknown
	// document is not an error.
	DeleteDocument(ctx context.Context, documentID string) error

	// Dimension returns the configured vector dimension.
	Dimension() int

	// Name returns the backend name.
	Name() string

	// Close releases backend resources.
	Close() error
}

// New creates a vector store from its discriminated-union configuration.
func New(ctx context.Context, cfg config.VectorDBConfig) (Store, error) {
	switch cfg.Type {
	case config.VectorDBMemory:
		if cfg.Memory == nil {
			return nil, config.NewConfigurationError("vector_db", "memory configuration missing")
		}
		return NewMemoryStore(cfg.Memory.Dimension)
	case config.VectorDBPgvector:
		if cfg.Pgvector == nil {
			return nil, config.NewConfigurationError("vector_db", "pgvector configuration missing")
		}
		return NewPgvectorStore(ctx, *cfg.Pgvector)
	case config.VectorDBSQLite:
		if cfg.SQLite == nil {
			return nil, config.NewConfigurationError("vector_db", "sqlite configuration missing")
		}
		return NewSQLiteStore(*cfg.SQLite)
	default:
		return nil, config.NewConfigurationError("vector_db", "unknown vector store type %q", cfg.Type)
	}
}

// clampScore forces a normalized score into [0,1]. Floating point drift can
// push converted scores marginally outside the range.
func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// sortResults orders results by descending score, ChunkID ascending on ties.
func sortResults(results []model.SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
}

// matchesFilter reports whether chunk metadata satisfies an equality filter.
func matchesFilter(metadata map[string]any, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := metadata[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}
