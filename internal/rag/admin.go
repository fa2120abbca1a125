package rag

import (
	"context"
	"fmt"
	"time"

	"github.com/bull/docrag/internal/embedding"
	"github.com/bull/docrag/internal/storage"
	"github.com/bull/docrag/internal/vectorstore"
)

// DeleteResult reports what DeleteDocument removed. Missing rows or vectors
// count as zero.
type DeleteResult struct {
	DocumentID     string `json:"document_id"`
	ChunksDeleted  int    `json:"chunks_deleted"`
	VectorsRemoved int    `json:"vectors_removed"`
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`
}

// DeleteDocument tombstones the document's vectors and deletes its chunk rows.
func (o *Orchestrator) DeleteDocument(ctx context.Context, documentID string) DeleteResult {
	o.ingestMu.RLock()
	defer o.ingestMu.RUnlock()
	unlock := o.docLocks.Lock(documentID)
	defer unlock()

	result := DeleteResult{DocumentID: documentID}
	result.VectorsRemoved = o.Index().RemoveDocument(documentID)

	deleted, err := o.store.DeleteByDocument(ctx, documentID)
	if err != nil {
		o.logger.Error("Failed to delete chunk rows", "document_id", documentID, "error", err)
		result.Error = err.Error()
		return result
	}
	result.ChunksDeleted = deleted
	result.Success = true

	o.logger.Info("Deleted document",
		"document_id", documentID, "chunks", result.ChunksDeleted, "vectors", result.VectorsRemoved)
	return result
}

// Stats describes the index, the chunk store and the embedding model.
type Stats struct {
	VectorStore vectorstore.Stats `json:"vector_store"`
	Database    DatabaseStats     `json:"database"`
	Embedding   EmbeddingStats    `json:"embedding"`
}

// DatabaseStats summarizes the chunk store.
type DatabaseStats struct {
	TotalChunks    int      `json:"total_chunks"`
	TotalDocuments int      `json:"total_documents"`
	Documents      []string `json:"documents"`
}

// EmbeddingStats names the embedding model in use.
type EmbeddingStats struct {
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
}

// Stats gathers counts from the index and the chunk store.
func (o *Orchestrator) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{
		VectorStore: o.Index().Stats(),
		Embedding: EmbeddingStats{
			Model:     o.embedder.ModelName(),
			Dimension: o.embedder.Dimension(),
		},
	}

	total, err := o.store.Count(ctx)
	if err != nil {
		return stats, fmt.Errorf("count chunks: %w", err)
	}
	docs, err := o.store.DocumentIDs(ctx)
	if err != nil {
		return stats, fmt.Errorf("list documents: %w", err)
	}
	stats.Database = DatabaseStats{
		TotalChunks:    total,
		TotalDocuments: len(docs),
		Documents:      docs,
	}
	return stats, nil
}

// RebuildResult reports the outcome of RebuildIndex.
type RebuildResult struct {
	Documents      int     `json:"documents"`
	Rows           int     `json:"rows"`
	ReEmbedded     int     `json:"re_embedded"`
	VectorsAdded   int     `json:"vectors_added"`
	ZeroEmbeddings int     `json:"zero_embeddings"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// RebuildIndex replaces the index with one built from the chunk store. Rows
// stored without an embedding, or with one of the wrong dimension, are
// embedded again and written back. Ingestion is blocked while it runs.
func (o *Orchestrator) RebuildIndex(ctx context.Context, batchSize int) (RebuildResult, error) {
	start := time.Now()
	o.ingestMu.Lock()
	defer o.ingestMu.Unlock()

	var result RebuildResult
	docs, err := o.store.DocumentIDs(ctx)
	if err != nil {
		return result, fmt.Errorf("list documents: %w", err)
	}

	dim := o.embedder.Dimension()
	fresh := vectorstore.New(dim, o.Index().Options()...)

	for _, documentID := range docs {
		rows, err := o.store.GetByDocument(ctx, documentID)
		if err != nil {
			return result, fmt.Errorf("load rows of %s: %w", documentID, err)
		}
		result.Documents++
		result.Rows += len(rows)

		reembedded, err := o.fillEmbeddings(ctx, rows, dim, batchSize)
		if err != nil {
			return result, err
		}
		result.ReEmbedded += reembedded

		var vectors [][]float32
		var records []vectorstore.Record
		for _, row := range rows {
			if len(row.Embedding) != dim || embedding.IsZero(row.Embedding) {
				result.ZeroEmbeddings++
				continue
			}
			vectors = append(vectors, row.Embedding)
			records = append(records, recordFor(row))
		}
		positions, err := fresh.Add(vectors, records)
		if err != nil {
			return result, fmt.Errorf("index %s: %w", documentID, err)
		}
		result.VectorsAdded += len(positions)
	}

	o.swapIndex(fresh)
	result.ElapsedSeconds = time.Since(start).Seconds()
	o.logger.Info("Rebuilt index from chunk store",
		"documents", result.Documents,
		"vectors", result.VectorsAdded,
		"re_embedded", result.ReEmbedded,
		"duration", time.Since(start),
	)
	return result, nil
}

// fillEmbeddings embeds rows whose stored embedding is missing or has the
// wrong dimension, persists the ones that succeeded and returns their count.
func (o *Orchestrator) fillEmbeddings(ctx context.Context, rows []storage.ChunkRow, dim, batchSize int) (int, error) {
	var missing []int
	for i, row := range rows {
		if len(row.Embedding) != dim {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		return 0, nil
	}

	texts := make([]string, len(missing))
	for i, pos := range missing {
		texts[i] = rows[pos].Text
	}
	vectors, err := o.embedder.EmbedBatch(ctx, texts, batchSize)
	if err != nil {
		return 0, err
	}

	var updated []storage.ChunkRow
	for i, pos := range missing {
		if embedding.IsZero(vectors[i]) {
			rows[pos].Embedding = nil
			continue
		}
		rows[pos].Embedding = vectors[i]
		updated = append(updated, rows[pos])
	}
	if err := o.store.Put(ctx, updated); err != nil {
		return 0, fmt.Errorf("store re-embedded rows: %w", err)
	}
	return len(updated), nil
}

// CompactIndex drops tombstoned entries. Positions are renumbered, so it is
// only exposed as an offline maintenance step.
func (o *Orchestrator) CompactIndex() vectorstore.Stats {
	o.ingestMu.Lock()
	defer o.ingestMu.Unlock()

	before := o.Index()
	compacted := before.Compact()
	o.swapIndex(compacted)

	stats := compacted.Stats()
	o.logger.Info("Compacted index", "dropped", before.Stats().DeletedVectors, "vectors", stats.TotalVectors)
	return stats
}

// SaveSnapshot writes the index to path (.vec and .meta files).
func (o *Orchestrator) SaveSnapshot(path string) error {
	if err := o.Index().Save(path); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	o.logger.Debug("Saved index snapshot", "path", path)
	return nil
}

// LoadSnapshot replaces the index with the snapshot at path. It reports false
// without error when no snapshot exists.
func (o *Orchestrator) LoadSnapshot(path string) (bool, error) {
	if !vectorstore.SnapshotExists(path) {
		return false, nil
	}

	o.ingestMu.Lock()
	defer o.ingestMu.Unlock()

	idx, err := vectorstore.Load(path, o.Index().Options()...)
	if err != nil {
		return false, fmt.Errorf("load snapshot: %w", err)
	}
	if idx.Dimension() != o.embedder.Dimension() {
		return false, fmt.Errorf("%w: snapshot has %d, model %s has %d",
			ErrDimensionMismatch, idx.Dimension(), o.embedder.ModelName(), o.embedder.Dimension())
	}
	o.swapIndex(idx)

	stats := idx.Stats()
	o.logger.Info("Loaded index snapshot", "path", path, "vectors", stats.ActiveVectors, "documents", stats.DocumentCount)
	return true, nil
}

// Health checks the chunk store.
func (o *Orchestrator) Health(ctx context.Context) error {
	return o.store.Health(ctx)
}

// GetChunk returns one stored chunk row.
func (o *Orchestrator) GetChunk(ctx context.Context, chunkID string) (storage.ChunkRow, error) {
	return o.store.Get(ctx, chunkID)
}
