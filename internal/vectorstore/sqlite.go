package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	_ "github.com/mattn/go-sqlite3"

	"github.com/docuchat/docuchat/internal/config"
	"github.com/docuchat/docuchat/internal/model"
)

// SQLiteStore persists chunks in a SQLite file and searches with a
// brute-force scan. Native score is Euclidean distance in [0,inf),
// normalized to (0,1] via 1/(1+d).
type SQLiteStore struct {
	db  *sql.DB
	dim int
}

// NewSQLiteStore opens the SQLite database and ensures the chunk table.
func NewSQLiteStore(cfg config.SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, config.NewConfigurationError("vector_db", "sqlite path is required")
	}
	if cfg.Dimension <= 0 {
		return nil, config.NewConfigurationError("vector_db", "sqlite dimension must be positive, got %d", cfg.Dimension)
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	s := &SQLiteStore{db: db, dim: cfg.Dimension}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) ensureSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS chunks (
		chunk_id    TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		content     TEXT NOT NULL,
		embedding   BLOB NOT NULL,
		metadata    TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS chunks_document_id_idx ON chunks (document_id);`)
	if err != nil {
		return fmt.Errorf("creating chunks table: %w", err)
	}
	return nil
}

// Name returns the backend name.
func (s *SQLiteStore) Name() string { return "sqlite" }

// Dimension returns the configured vector dimension.
func (s *SQLiteStore) Dimension() int { return s.dim }

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Upsert inserts or replaces a chunk by ChunkID.
func (s *SQLiteStore) Upsert(ctx context.Context, chunk model.Chunk) error {
	if len(chunk.Embedding) != s.dim {
		return fmt.Errorf("chunk %s has dimension %d, store expects %d", chunk.ChunkID, len(chunk.Embedding), s.dim)
	}

	metadata, err := json.Marshal(chunk.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO chunks (chunk_id, document_id, content, embedding, metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (chunk_id) DO UPDATE
		SET document_id = excluded.document_id,
		    content     = excluded.content,
		    embedding   = excluded.embedding,
		    metadata    = excluded.metadata`,
		chunk.ChunkID, chunk.DocumentID, chunk.Content, encodeVector(chunk.Embedding), string(metadata))
	if err != nil {
		return fmt.Errorf("upserting chunk %s: %w", chunk.ChunkID, err)
	}
	return nil
}

// Search scans all stored chunks, computes Euclidean distance in Go and
// applies the normalized threshold.
func (s *SQLiteStore) Search(ctx context.Context, embedding []float32, topK int, threshold float64, filter map[string]any) ([]model.SearchResult, error) {
	if len(embedding) != s.dim {
		return nil, fmt.Errorf("query has dimension %d, store expects %d", len(embedding), s.dim)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT chunk_id, document_id, content, embedding, metadata FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("scanning chunks: %w", err)
	}
	defer rows.Close()

	var results []model.SearchResult
	for rows.Next() {
		var (
			chunkID, documentID, content, metadataJSON string
			blob                                       []byte
		)
		if err := rows.Scan(&chunkID, &documentID, &content, &blob, &metadataJSON); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		vec, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for chunk %s: %w", chunkID, err)
		}
		if len(vec) != s.dim {
			continue
		}

		var metadata map[string]any
		if err := json.Unmarshal([]byte(metadataJSON), &metadata); err != nil {
			return nil, fmt.Errorf("parsing metadata for chunk %s: %w", chunkID, err)
		}
		if filter != nil && !matchesFilter(metadata, filter) {
			continue
		}

		score := clampScore(1 / (1 + euclideanDistance(embedding, vec)))
		if score < threshold {
			continue
		}
		results = append(results, model.SearchResult{
			ChunkID:    chunkID,
			DocumentID: documentID,
			Content:    content,
			Score:      score,
			Metadata:   metadata,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}

	sortResults(results)
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// DeleteDocument removes all chunks for a document.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("deleting document %s: %w", documentID, err)
	}
	return nil
}

// encodeVector packs a vector as little-endian float32 bytes.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}

func euclideanDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
