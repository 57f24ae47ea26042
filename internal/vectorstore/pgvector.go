package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/docuchat/docuchat/internal/config"
	"github.com/docuchat/docuchat/internal/model"
)

var identifierRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// querier is the subset of pgxpool.Pool the store issues statements through.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PgvectorStore persists chunks in Postgres with the pgvector extension.
// Native score is cosine distance in [0,2] from the <=> operator, normalized
// to [0,1] via 1 - d/2.
type PgvectorStore struct {
	db    querier
	pool  *pgxpool.Pool
	table string
	dim   int
}

// NewPgvectorStore connects to Postgres and ensures the chunk table exists.
func NewPgvectorStore(ctx context.Context, cfg config.PgvectorConfig) (*PgvectorStore, error) {
	if cfg.DSN == "" {
		return nil, config.NewConfigurationError("vector_db", "pgvector DSN is required")
	}
	if cfg.Dimension <= 0 {
		return nil, config.NewConfigurationError("vector_db", "pgvector dimension must be positive, got %d", cfg.Dimension)
	}
	table := cfg.Table
	if table == "" {
		table = "chunks"
	}
	if !identifierRe.MatchString(table) {
		return nil, config.NewConfigurationError("vector_db", "invalid pgvector table name %q", table)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, config.NewConfigurationError("vector_db", "invalid pgvector DSN: %v", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	s := &PgvectorStore{db: pool, pool: pool, table: table, dim: cfg.Dimension}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PgvectorStore) ensureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("creating vector extension: %w", err)
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		chunk_id    text PRIMARY KEY,
		document_id text NOT NULL,
		content     text NOT NULL,
		embedding   vector(%d) NOT NULL,
		metadata    jsonb NOT NULL DEFAULT '{}'::jsonb
	)`, s.table, s.dim)
	if _, err := s.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("creating table %s: %w", s.table, err)
	}
	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_document_id_idx ON %s (document_id)`, s.table, s.table)
	if _, err := s.db.Exec(ctx, idx); err != nil {
		return fmt.Errorf("creating document index: %w", err)
	}
	return nil
}

// Name returns the backend name.
func (s *PgvectorStore) Name() string { return "pgvector" }

// Dimension returns the configured vector dimension.
func (s *PgvectorStore) Dimension() int { return s.dim }

// Close releases the connection pool.
func (s *PgvectorStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Upsert inserts or replaces a chunk by ChunkID.
func (s *PgvectorStore) Upsert(ctx context.Context, chunk model.Chunk) error {
	if len(chunk.Embedding) != s.dim {
		return fmt.Errorf("chunk %s has dimension %d, store expects %d", chunk.ChunkID, len(chunk.Embedding), s.dim)
	}

	metadata, err := json.Marshal(chunk.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (chunk_id, document_id, content, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (chunk_id) DO UPDATE
		SET document_id = EXCLUDED.document_id,
		    content     = EXCLUDED.content,
		    embedding   = EXCLUDED.embedding,
		    metadata    = EXCLUDED.metadata`, s.table)

	_, err = s.db.Exec(ctx, query,
		chunk.ChunkID, chunk.DocumentID, chunk.Content,
		pgvector.NewVector(chunk.Embedding), metadata,
	)
	if err != nil {
		return fmt.Errorf("upserting chunk %s: %w", chunk.ChunkID, err)
	}
	return nil
}

// Search ranks chunks by cosine distance in SQL and converts to the
// normalized score before applying the threshold.
func (s *PgvectorStore) Search(ctx context.Context, embedding []float32, topK int, threshold float64, filter map[string]any) ([]model.SearchResult, error) {
	if len(embedding) != s.dim {
		return nil, fmt.Errorf("query has dimension %d, store expects %d", len(embedding), s.dim)
	}

	var filterJSON []byte
	if len(filter) > 0 {
		var err error
		filterJSON, err = json.Marshal(filter)
		if err != nil {
			return nil, fmt.Errorf("marshaling filter: %w", err)
		}
	}

	query := fmt.Sprintf(`SELECT chunk_id, document_id, content, metadata,
			1 - (embedding <=> $1) / 2 AS score
		FROM %s
		WHERE $2::jsonb IS NULL OR metadata @> $2
		ORDER BY score DESC, chunk_id ASC
		LIMIT $3`, s.table)

	rows, err := s.db.Query(ctx, query, pgvector.NewVector(embedding), filterJSON, topK)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	defer rows.Close()

	var results []model.SearchResult
	for rows.Next() {
		var (
			r        model.SearchResult
			metadata []byte
		)
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.Content, &metadata, &r.Score); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
				return nil, fmt.Errorf("parsing metadata for chunk %s: %w", r.ChunkID, err)
			}
		}
		r.Score = clampScore(r.Score)
		if r.Score < threshold {
			continue
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating results: %w", err)
	}
	return results, nil
}

// DeleteDocument removes all chunks for a document.
func (s *PgvectorStore) DeleteDocument(ctx context.Context, documentID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE document_id = $1`, s.table)
	if _, err := s.db.Exec(ctx, query, documentID); err != nil {
		return fmt.Errorf("deleting document %s: %w", documentID, err)
	}
	return nil
}
