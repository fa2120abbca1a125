package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/docrag/internal/document"
	"github.com/bull/docrag/internal/generation"
	"github.com/bull/docrag/internal/rag"
	"github.com/bull/docrag/internal/storage"
	"github.com/bull/docrag/internal/vectorstore"
)

const maxTopK = 50

// Service is the RAG surface the tools call; *rag.Orchestrator implements it.
type Service interface {
	SearchDocuments(ctx context.Context, query string, topK int, documentID string) ([]vectorstore.SearchResult, error)
	Answer(ctx context.Context, query string, gen generation.Generator, opts rag.AnswerOptions) *rag.Answer
	ProcessDocument(ctx context.Context, documentID string, src document.Source, batchSize int) *rag.ProcessingResult
	DeleteDocument(ctx context.Context, documentID string) rag.DeleteResult
	Stats(ctx context.Context) (rag.Stats, error)
	GetChunk(ctx context.Context, chunkID string) (storage.ChunkRow, error)
}

func clampTopK(topK, fallback int) int {
	if topK <= 0 {
		return fallback
	}
	return min(topK, maxTopK)
}

// makeSearchHandler creates the search_documents tool handler.
func makeSearchHandler(svc Service, defaultTopK int) func(
	context.Context, *mcp.CallToolRequest, SearchDocumentsInput,
) (*mcp.CallToolResult, SearchDocumentsOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SearchDocumentsInput) (
		*mcp.CallToolResult, SearchDocumentsOutput, error,
	) {
		results, err := svc.SearchDocuments(ctx, input.Query, clampTopK(input.TopK, defaultTopK), input.DocumentID)
		if err != nil {
			return nil, SearchDocumentsOutput{}, fmt.Errorf("search failed: %w", err)
		}

		if len(results) == 0 {
			return nil, SearchDocumentsOutput{
				Results: []Passage{},
				Message: "No matching passages found. Ingest documents first or try broader search terms.",
			}, nil
		}

		passages := make([]Passage, len(results))
		for i, r := range results {
			passages[i] = Passage{
				ChunkID:    r.ChunkID,
				DocumentID: r.DocumentID,
				Text:       r.Text,
				PageNumber: r.PageNumber,
				ChunkIndex: r.ChunkIndex,
				Score:      r.Score,
				Metadata:   r.Metadata,
			}
		}
		return nil, SearchDocumentsOutput{Results: passages}, nil
	}
}

// makeAskHandler creates the ask_documents tool handler. Generation failures
// come back as an apology with success=false, not as tool errors.
func makeAskHandler(svc Service, gen generation.Generator, defaultTopK, defaultMaxTokens int, logger *slog.Logger) func(
	context.Context, *mcp.CallToolRequest, AskDocumentsInput,
) (*mcp.CallToolResult, AskDocumentsOutput, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req *mcp.CallToolRequest, input AskDocumentsInput) (
		*mcp.CallToolResult, AskDocumentsOutput, error,
	) {
		if gen == nil {
			return nil, AskDocumentsOutput{}, errors.New("answer generation is disabled on this server; use search_documents instead")
		}

		maxTokens := input.MaxTokens
		if maxTokens <= 0 {
			maxTokens = defaultMaxTokens
		}
		answer := svc.Answer(ctx, input.Question, gen, rag.AnswerOptions{
			DocumentID: input.DocumentID,
			TopK:       clampTopK(input.TopK, defaultTopK),
			MaxTokens:  maxTokens,
		})
		if answer.Error != nil {
			logger.Warn("ask_documents failed", "error", answer.Error)
		}

		sources := make([]Source, len(answer.Sources))
		for i, s := range answer.Sources {
			sources[i] = Source{
				Page:       s.Page,
				Excerpt:    s.Excerpt,
				Similarity: s.Similarity,
				DocumentID: s.DocumentID,
			}
		}
		return nil, AskDocumentsOutput{
			Response:    answer.Response,
			Sources:     sources,
			HasContext:  answer.HasContext,
			SourceCount: answer.SourceCount,
			Success:     answer.Success,
		}, nil
	}
}

// makeIngestHandler creates the ingest_document tool handler. persist runs
// after every successful ingestion.
func makeIngestHandler(svc Service, allowFiles bool, batchSize int, persist func() error) func(
	context.Context, *mcp.CallToolRequest, IngestDocumentInput,
) (*mcp.CallToolResult, IngestDocumentOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input IngestDocumentInput) (
		*mcp.CallToolResult, IngestDocumentOutput, error,
	) {
		if strings.TrimSpace(input.DocumentID) == "" {
			return nil, IngestDocumentOutput{}, errors.New("document_id is required")
		}
		if (input.Text == "") == (input.Path == "") {
			return nil, IngestDocumentOutput{}, errors.New("exactly one of text and path must be set")
		}
		if input.Path != "" && !allowFiles {
			return nil, IngestDocumentOutput{}, errors.New("file ingestion is disabled on this server; send the text instead")
		}

		src := document.Source{
			Text:     input.Text,
			Path:     input.Path,
			Format:   input.Format,
			Metadata: input.Metadata,
		}
		res := svc.ProcessDocument(ctx, input.DocumentID, src, batchSize)
		if res.Success && persist != nil {
			if err := persist(); err != nil {
				return nil, IngestDocumentOutput{}, fmt.Errorf("document indexed but snapshot failed: %w", err)
			}
		}

		return nil, IngestDocumentOutput{
			DocumentID:          res.DocumentID,
			Success:             res.Success,
			Stage:               string(res.Stage),
			FailedStage:         string(res.FailedStage),
			ChunksCreated:       res.ChunksCreated,
			EmbeddingsGenerated: res.EmbeddingsGenerated,
			VectorsAdded:        res.VectorsAdded,
			ElapsedSeconds:      res.ElapsedSeconds,
			Error:               res.Error,
		}, nil
	}
}

// makeDeleteHandler creates the delete_document tool handler.
func makeDeleteHandler(svc Service, persist func() error) func(
	context.Context, *mcp.CallToolRequest, DeleteDocumentInput,
) (*mcp.CallToolResult, DeleteDocumentOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input DeleteDocumentInput) (
		*mcp.CallToolResult, DeleteDocumentOutput, error,
	) {
		res := svc.DeleteDocument(ctx, input.DocumentID)
		if !res.Success {
			return nil, DeleteDocumentOutput{}, fmt.Errorf("delete failed: %s", res.Error)
		}
		if res.VectorsRemoved > 0 && persist != nil {
			if err := persist(); err != nil {
				return nil, DeleteDocumentOutput{}, fmt.Errorf("document deleted but snapshot failed: %w", err)
			}
		}
		return nil, DeleteDocumentOutput{
			DocumentID:     res.DocumentID,
			ChunksDeleted:  res.ChunksDeleted,
			VectorsRemoved: res.VectorsRemoved,
			Success:        true,
		}, nil
	}
}

// makeStatsHandler creates the get_rag_stats tool handler.
func makeStatsHandler(svc Service) func(
	context.Context, *mcp.CallToolRequest, GetStatsInput,
) (*mcp.CallToolResult, GetStatsOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input GetStatsInput) (
		*mcp.CallToolResult, GetStatsOutput, error,
	) {
		stats, err := svc.Stats(ctx)
		if err != nil {
			return nil, GetStatsOutput{}, fmt.Errorf("failed to get stats: %w", err)
		}
		documents := stats.Database.Documents
		if documents == nil {
			documents = []string{}
		}
		return nil, GetStatsOutput{
			TotalVectors:      stats.VectorStore.TotalVectors,
			ActiveVectors:     stats.VectorStore.ActiveVectors,
			DeletedVectors:    stats.VectorStore.DeletedVectors,
			Dimension:         stats.VectorStore.Dimension,
			DocumentCount:     stats.VectorStore.DocumentCount,
			ChunksPerDocument: stats.VectorStore.ChunksPerDocument,
			TotalChunks:       stats.Database.TotalChunks,
			Documents:         documents,
			EmbeddingModel:    stats.Embedding.Model,
		}, nil
	}
}

// makeGetChunkHandler creates the get_chunk tool handler.
func makeGetChunkHandler(svc Service) func(
	context.Context, *mcp.CallToolRequest, GetChunkInput,
) (*mcp.CallToolResult, GetChunkOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input GetChunkInput) (
		*mcp.CallToolResult, GetChunkOutput, error,
	) {
		row, err := svc.GetChunk(ctx, input.ChunkID)
		if err != nil {
			if errors.Is(err, storage.ErrChunkNotFound) {
				return nil, GetChunkOutput{Found: false, ChunkID: input.ChunkID}, nil
			}
			return nil, GetChunkOutput{}, fmt.Errorf("failed to get chunk: %w", err)
		}
		return nil, GetChunkOutput{
			Found:      true,
			ChunkID:    row.ID,
			DocumentID: row.DocumentID,
			Text:       row.Text,
			PageNumber: row.PageNumber,
			ChunkIndex: row.ChunkIndex,
			WordCount:  row.WordCount,
			Metadata:   row.Metadata,
		}, nil
	}
}
