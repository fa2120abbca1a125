// Package storage persists chunk rows independently of the vector index so
// the index can be rebuilt from them.
package storage

import (
	"context"
	"time"
)

// ChunkRow is the durable form of a chunk.
// Embedding may be nil when the row was stored without its vector.
type ChunkRow struct {
	ID         string         // UUID
	DocumentID string         // Scoping key
	ChunkIndex int            // Position in document (0, 1, 2...)
	PageNumber int            // 1-based source page
	Text       string         // Chunk text
	CharCount  int            // Characters in Text
	WordCount  int            // Whitespace-separated words in Text
	Embedding  []float32      // Unit vector, or nil
	Metadata   map[string]any // Source metadata copied onto every chunk
	CreatedAt  time.Time
}

// ChunkStore is the durable row store behind the orchestrator.
// Missing rows are not errors: GetByDocument returns an empty slice and
// DeleteByDocument returns 0, unknown IDs are skipped by Delete.
type ChunkStore interface {
	Put(ctx context.Context, rows []ChunkRow) error
	Get(ctx context.Context, id string) (ChunkRow, error)
	GetByDocument(ctx context.Context, documentID string) ([]ChunkRow, error)
	DeleteByDocument(ctx context.Context, documentID string) (int, error)
	Delete(ctx context.Context, ids []string) (int, error)
	Count(ctx context.Context) (int, error)
	DocumentIDs(ctx context.Context) ([]string, error)
	Health(ctx context.Context) error
	Close() error
}
