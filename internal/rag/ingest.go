package rag

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/bull/docrag/internal/chunker"
	"github.com/bull/docrag/internal/document"
	"github.com/bull/docrag/internal/embedding"
	"github.com/bull/docrag/internal/storage"
	"github.com/bull/docrag/internal/vectorstore"
)

// Stage is a step of document ingestion.
type Stage string

const (
	StageChunking  Stage = "chunking"
	StageEmbedding Stage = "embedding"
	StageStoring   Stage = "storing"
	StageIndexed   Stage = "indexed"
	StageFailed    Stage = "failed"
)

const discardTimeout = 10 * time.Second

// ProcessingResult reports how far ingestion of one document got.
// On failure, Stage is StageFailed, FailedStage names the step that failed
// and the counts reflect the work completed before it.
type ProcessingResult struct {
	DocumentID          string        `json:"document_id"`
	Success             bool          `json:"success"`
	Stage               Stage         `json:"stage"`
	FailedStage         Stage         `json:"failed_stage,omitempty"`
	PagesLoaded         int           `json:"pages_loaded"`
	ChunksCreated       int           `json:"chunks_created"`
	EmbeddingsGenerated int           `json:"embeddings_generated"`
	ZeroEmbeddings      int           `json:"zero_embeddings"`
	VectorsAdded        int           `json:"vectors_added"`
	VectorsReplaced     int           `json:"vectors_replaced"`
	RowsStored          int           `json:"rows_stored"`
	Elapsed             time.Duration `json:"-"`
	ElapsedSeconds      float64       `json:"elapsed_seconds"`
	Error               string        `json:"error,omitempty"`
}

func (r *ProcessingResult) fail(stage Stage, err error) *ProcessingResult {
	r.Stage = StageFailed
	r.FailedStage = stage
	r.Error = err.Error()
	return r
}

// ProcessDocument ingests src under documentID: Chunking, Embedding, Storing,
// then Indexed. Earlier vectors and rows of the same document are replaced,
// so ingesting twice yields the same search results as ingesting once.
// Non-positive batchSize uses the embedder default.
func (o *Orchestrator) ProcessDocument(ctx context.Context, documentID string, src document.Source, batchSize int) *ProcessingResult {
	start := time.Now()
	result := &ProcessingResult{DocumentID: documentID, Stage: StageChunking}
	defer func() {
		result.Elapsed = time.Since(start)
		result.ElapsedSeconds = result.Elapsed.Seconds()
	}()

	if documentID == "" {
		return result.fail(StageChunking, fmt.Errorf("document id is required"))
	}

	o.ingestMu.RLock()
	defer o.ingestMu.RUnlock()
	unlock := o.docLocks.Lock(documentID)
	defer unlock()

	// Chunking
	pages, err := o.loader.Load(src)
	if err != nil {
		o.logger.Warn("Failed to load document", "document_id", documentID, "source", src.Describe(), "error", err)
		return result.fail(StageChunking, err)
	}
	result.PagesLoaded = len(pages)

	chunks := o.chunker.ChunkPages(documentID, pages)
	result.ChunksCreated = len(chunks)
	if len(chunks) == 0 {
		return result.fail(StageChunking, ErrNoChunks)
	}
	o.logger.Debug("Chunked document", "document_id", documentID, "pages", len(pages), "chunks", len(chunks))

	// Embedding
	result.Stage = StageEmbedding
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := o.embedder.EmbedBatch(ctx, texts, batchSize)
	if err != nil {
		return result.fail(StageEmbedding, err)
	}
	for _, v := range vectors {
		if embedding.IsZero(v) {
			result.ZeroEmbeddings++
		}
	}
	result.EmbeddingsGenerated = len(vectors) - result.ZeroEmbeddings
	if result.ZeroEmbeddings > 0 {
		o.logger.Warn("Some passages could not be embedded",
			"document_id", documentID, "zero_vectors", result.ZeroEmbeddings, "chunks", len(chunks))
	}

	// Storing
	result.Stage = StageStoring
	if err := ctx.Err(); err != nil {
		return result.fail(StageStoring, err)
	}

	// The new rows are written before the previous ones are removed, so a
	// failed write leaves the previous version searchable.
	previous, err := o.store.GetByDocument(ctx, documentID)
	if err != nil {
		return result.fail(StageStoring, fmt.Errorf("read previous rows: %w", err))
	}

	rows, addVectors, records := buildRows(chunks, vectors, src)
	if err := o.store.Put(ctx, rows); err != nil {
		o.discardRows(documentID, rows)
		return result.fail(StageStoring, fmt.Errorf("store rows: %w", err))
	}

	if len(previous) > 0 {
		ids := make([]string, len(previous))
		for i, row := range previous {
			ids[i] = row.ID
		}
		if _, err := o.store.Delete(ctx, ids); err != nil {
			o.discardRows(documentID, rows)
			return result.fail(StageStoring, fmt.Errorf("delete previous rows: %w", err))
		}
	}
	result.RowsStored = len(rows)

	index := o.Index()
	result.VectorsReplaced = index.RemoveDocument(documentID)
	positions, err := index.Add(addVectors, records)
	if err != nil {
		return result.fail(StageStoring, fmt.Errorf("index vectors: %w", err))
	}
	result.VectorsAdded = len(positions)

	result.Stage = StageIndexed
	result.Success = true
	o.logger.Info("Indexed document",
		"document_id", documentID,
		"chunks", result.ChunksCreated,
		"vectors", result.VectorsAdded,
		"replaced", result.VectorsReplaced,
		"duration", time.Since(start),
	)
	return result
}

// discardRows removes rows written by a storing stage that did not complete.
// It runs without the request context, which may already be cancelled.
func (o *Orchestrator) discardRows(documentID string, rows []storage.ChunkRow) {
	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	ctx, cancel := context.WithTimeout(context.Background(), discardTimeout)
	defer cancel()
	if _, err := o.store.Delete(ctx, ids); err != nil {
		o.logger.Error("Failed to discard new rows",
			"document_id", documentID, "rows", len(ids), "error", err)
	}
}

// buildRows pairs chunks with their vectors. Every chunk gets a row; rows
// whose vector is zero are stored without an embedding and kept out of the
// index so a later rebuild can embed them.
func buildRows(chunks []chunker.Chunk, vectors [][]float32, src document.Source) ([]storage.ChunkRow, [][]float32, []vectorstore.Record) {
	now := time.Now().UTC()
	rows := make([]storage.ChunkRow, len(chunks))
	var addVectors [][]float32
	var records []vectorstore.Record

	for i, c := range chunks {
		meta := chunkMetadata(src)
		row := storage.ChunkRow{
			ID:         uuid.New().String(),
			DocumentID: c.DocumentID,
			ChunkIndex: c.ChunkIndex,
			PageNumber: c.PageNumber,
			Text:       c.Text,
			CharCount:  c.CharCount,
			WordCount:  c.WordCount,
			Metadata:   meta,
			CreatedAt:  now,
		}
		if !embedding.IsZero(vectors[i]) {
			row.Embedding = vectors[i]
			addVectors = append(addVectors, vectors[i])
			records = append(records, recordFor(row))
		}
		rows[i] = row
	}
	return rows, addVectors, records
}

func chunkMetadata(src document.Source) map[string]any {
	if len(src.Metadata) == 0 && src.Path == "" {
		return nil
	}
	meta := maps.Clone(src.Metadata)
	if meta == nil {
		meta = make(map[string]any)
	}
	if src.Path != "" {
		meta["source_path"] = src.Path
	}
	return meta
}

func recordFor(row storage.ChunkRow) vectorstore.Record {
	return vectorstore.Record{
		ChunkID:    row.ID,
		DocumentID: row.DocumentID,
		Text:       row.Text,
		PageNumber: row.PageNumber,
		ChunkIndex: row.ChunkIndex,
		Metadata:   row.Metadata,
	}
}
