package model

// Chunk is an embedded segment of a source document. Chunks are produced by
// the ingestion collaborator and are immutable once embedded; this service
// only reads them.
type Chunk struct {
	ChunkID    string         `json:"chunk_id"`
	DocumentID string         `json:"document_id"`
	Content    string         `json:"content"`
	Embedding  []float32      `json:"embedding"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// SearchResult is a chunk ranked against a query. Score is always the
// normalized "higher is better" similarity in [0,1], regardless of the
// vector store backend's native metric. Results are ephemeral and never
// persisted.
type SearchResult struct {
	ChunkID    string         `json:"chunk_id"`
	DocumentID string         `json:"document_id"`
	Content    string         `json:"content"`
	Score      float64        `json:"score"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
