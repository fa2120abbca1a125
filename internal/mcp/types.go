// Package mcp exposes the document RAG operations as MCP tools.
package mcp

// SearchDocumentsInput defines the input parameters for the search_documents tool.
type SearchDocumentsInput struct {
	// Query is the semantic search query.
	Query string `json:"query" jsonschema:"The natural-language query to search the ingested documents for"`
	// TopK is the maximum number of passages to return.
	TopK int `json:"top_k,omitempty" jsonschema:"Maximum number of passages to return (1-50, default 5)"`
	// DocumentID restricts the search to one document.
	DocumentID string `json:"document_id,omitempty" jsonschema:"Only search passages of this document"`
}

// SearchDocumentsOutput contains the ranked passages.
type SearchDocumentsOutput struct {
	Results []Passage `json:"results"`
	// Message provides informational context (e.g., "No matching passages found").
	Message string `json:"message,omitempty"`
}

// Passage is one retrieved chunk.
type Passage struct {
	ChunkID    string         `json:"chunk_id"`
	DocumentID string         `json:"document_id"`
	Text       string         `json:"text"`
	PageNumber int            `json:"page_number"`
	ChunkIndex int            `json:"chunk_index"`
	Score      float64        `json:"score"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// AskDocumentsInput defines the input parameters for the ask_documents tool.
type AskDocumentsInput struct {
	Question   string `json:"question" jsonschema:"The question to answer from the ingested documents"`
	DocumentID string `json:"document_id,omitempty" jsonschema:"Only use passages of this document as context"`
	TopK       int    `json:"top_k,omitempty" jsonschema:"Number of passages given to the model as context (default 5)"`
	MaxTokens  int    `json:"max_tokens,omitempty" jsonschema:"Maximum answer length in tokens (default 500)"`
}

// AskDocumentsOutput is a grounded answer with its cited sources.
type AskDocumentsOutput struct {
	Response    string   `json:"response"`
	Sources     []Source `json:"sources"`
	HasContext  bool     `json:"has_context"`
	SourceCount int      `json:"source_count"`
	Success     bool     `json:"success"`
}

// Source is a passage cited by an answer.
type Source struct {
	Page       int     `json:"page"`
	Excerpt    string  `json:"text_excerpt"`
	Similarity float64 `json:"similarity"`
	DocumentID string  `json:"document_id"`
}

// IngestDocumentInput defines the input parameters for the ingest_document tool.
// Exactly one of Text and Path must be set.
type IngestDocumentInput struct {
	DocumentID string         `json:"document_id" jsonschema:"Identifier to store the document under; re-ingesting an id replaces it"`
	Text       string         `json:"text,omitempty" jsonschema:"Raw document text; form feeds separate pages"`
	Path       string         `json:"path,omitempty" jsonschema:"Path of a .txt or .md file on the server (only when file ingestion is enabled)"`
	Format     string         `json:"format,omitempty" jsonschema:"text or markdown; inferred from the path when omitted"`
	Metadata   map[string]any `json:"metadata,omitempty" jsonschema:"Extra metadata copied onto every passage"`
}

// IngestDocumentOutput reports the ingestion outcome.
type IngestDocumentOutput struct {
	DocumentID          string  `json:"document_id"`
	Success             bool    `json:"success"`
	Stage               string  `json:"stage"`
	FailedStage         string  `json:"failed_stage,omitempty"`
	ChunksCreated       int     `json:"chunks_created"`
	EmbeddingsGenerated int     `json:"embeddings_generated"`
	VectorsAdded        int     `json:"vectors_added"`
	ElapsedSeconds      float64 `json:"elapsed_seconds"`
	Error               string  `json:"error,omitempty"`
}

// DeleteDocumentInput defines the input parameters for the delete_document tool.
type DeleteDocumentInput struct {
	DocumentID string `json:"document_id" jsonschema:"Identifier of the document to remove"`
}

// DeleteDocumentOutput reports what was removed.
type DeleteDocumentOutput struct {
	DocumentID     string `json:"document_id"`
	ChunksDeleted  int    `json:"chunks_deleted"`
	VectorsRemoved int    `json:"vectors_removed"`
	Success        bool   `json:"success"`
}

// GetStatsInput takes no parameters.
type GetStatsInput struct{}

// GetStatsOutput summarizes the index, chunk store and embedding model.
type GetStatsOutput struct {
	TotalVectors      int            `json:"total_vectors"`
	ActiveVectors     int            `json:"active_vectors"`
	DeletedVectors    int            `json:"deleted_vectors"`
	Dimension         int            `json:"dimension"`
	DocumentCount     int            `json:"document_count"`
	ChunksPerDocument map[string]int `json:"chunks_per_document"`
	TotalChunks       int            `json:"total_chunks"`
	Documents         []string       `json:"documents"`
	EmbeddingModel    string         `json:"embedding_model"`
}

// GetChunkInput defines the input parameters for the get_chunk tool.
type GetChunkInput struct {
	ChunkID string `json:"chunk_id" jsonschema:"Chunk identifier returned by search_documents"`
}

// GetChunkOutput is one stored passage.
type GetChunkOutput struct {
	Found      bool           `json:"found"`
	ChunkID    string         `json:"chunk_id"`
	DocumentID string         `json:"document_id,omitempty"`
	Text       string         `json:"text,omitempty"`
	PageNumber int            `json:"page_number,omitempty"`
	ChunkIndex int            `json:"chunk_index"`
	WordCount  int            `json:"word_count,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
