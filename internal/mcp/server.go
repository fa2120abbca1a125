package mcp

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/docrag/internal/generation"
	"github.com/bull/docrag/internal/rag"
)

// Server wraps the MCP server with dependencies.
type Server struct {
	server *mcp.Server
	logger *slog.Logger
}

// Config holds server dependencies.
type Config struct {
	Service   Service
	Generator generation.Generator // nil disables ask_documents answers

	// Persist is called after a document is ingested or deleted, typically to
	// save the index snapshot. Optional.
	Persist func() error

	// AllowFileIngest lets ingest_document read paths on the server.
	AllowFileIngest bool

	DefaultTopK      int
	DefaultMaxTokens int
	BatchSize        int
	Version          string
	Logger           *slog.Logger
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	topK := cfg.DefaultTopK
	if topK <= 0 {
		topK = rag.DefaultTopK
	}
	maxTokens := cfg.DefaultMaxTokens
	if maxTokens <= 0 {
		maxTokens = rag.DefaultMaxTokens
	}
	version := cfg.Version
	if version == "" {
		version = "v0.1.0"
	}

	server := mcp.NewServer(&mcp.Implementation{Name: "docrag", Version: version}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_documents",
		Description: "Semantic search over the ingested documents. Returns the most similar passages with their document, page and score.",
	}, makeSearchHandler(cfg.Service, topK))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ask_documents",
		Description: "Answer a question using only passages retrieved from the ingested documents. The answer cites its sources by number.",
	}, makeAskHandler(cfg.Service, cfg.Generator, topK, maxTokens, logger))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ingest_document",
		Description: "Chunk, embed and index a document. Re-ingesting an existing document_id replaces its passages.",
	}, makeIngestHandler(cfg.Service, cfg.AllowFileIngest, cfg.BatchSize, cfg.Persist))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_document",
		Description: "Remove a document's passages from the index and the chunk store.",
	}, makeDeleteHandler(cfg.Service, cfg.Persist))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_rag_stats",
		Description: "Report vector index, chunk store and embedding model statistics.",
	}, makeStatsHandler(cfg.Service))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_chunk",
		Description: "Retrieve one stored passage by the chunk_id returned from search_documents.",
	}, makeGetChunkHandler(cfg.Service))

	return &Server{server: server, logger: logger}
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
// Used by transport handlers that need to wrap the server.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
