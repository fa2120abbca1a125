package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docrag/internal/chunker"
	"github.com/bull/docrag/internal/embedding"
	"github.com/bull/docrag/internal/rag"
	"github.com/bull/docrag/internal/storage"
	"github.com/bull/docrag/internal/vectorstore"
)

const sampleText = "Qdrant stores the chunk rows.\n\nSQLite also stores the chunk rows locally.\n\nThe hashing model runs offline."

type echoGenerator struct{ err error }

func (g echoGenerator) Name() string { return "echo" }
func (g echoGenerator) Generate(context.Context, string, int) (string, error) {
	return "According to Source 1, rows are stored.", g.err
}

func newService(t *testing.T) *rag.Orchestrator {
	t.Helper()
	ch, err := chunker.New(chunker.Config{ChunkSize: 60, ChunkOverlap: 0, MinChunkSize: 5}, nil)
	require.NoError(t, err)
	emb := embedding.NewEmbedder(embedding.NewHashingModel(256), embedding.DefaultConfig(), nil)
	t.Cleanup(emb.Close)
	return rag.New(ch, emb, vectorstore.New(256), storage.NewMemoryStore(), nil, nil)
}

func ingest(t *testing.T, svc Service, id string) {
	t.Helper()
	_, out, err := makeIngestHandler(svc, false, 0, nil)(context.Background(), nil, IngestDocumentInput{DocumentID: id, Text: sampleText})
	require.NoError(t, err)
	require.True(t, out.Success, out.Error)
}

func TestIngestHandler(t *testing.T) {
	svc := newService(t)
	persisted := 0
	persist := func() error { persisted++; return nil }
	handler := makeIngestHandler(svc, false, 0, persist)
	ctx := context.Background()

	_, out, err := handler(ctx, nil, IngestDocumentInput{DocumentID: "guide", Text: sampleText})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "indexed", out.Stage)
	assert.Equal(t, 3, out.ChunksCreated)
	assert.Equal(t, 3, out.VectorsAdded)
	assert.Equal(t, 1, persisted)

	_, out, err = handler(ctx, nil, IngestDocumentInput{DocumentID: "blank", Text: "   "})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, "chunking", out.FailedStage)
	assert.Equal(t, 1, persisted)

	_, _, err = handler(ctx, nil, IngestDocumentInput{Text: sampleText})
	assert.Error(t, err)
	_, _, err = handler(ctx, nil, IngestDocumentInput{DocumentID: "x", Text: "a", Path: "/etc/hosts"})
	assert.Error(t, err)
	_, _, err = handler(ctx, nil, IngestDocumentInput{DocumentID: "x", Path: "/etc/hosts"})
	assert.ErrorContains(t, err, "file ingestion is disabled")
}

func TestIngestHandler_FilesAndPersistFailure(t *testing.T) {
	svc := newService(t)
	path := filepath.Join(t.TempDir(), "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("# Notes\n\nThe hashing model runs offline."), 0o644))

	handler := makeIngestHandler(svc, true, 0, func() error { return errors.New("disk full") })
	_, _, err := handler(context.Background(), nil, IngestDocumentInput{DocumentID: "notes", Path: path})
	assert.ErrorContains(t, err, "disk full")
}

func TestSearchHandler(t *testing.T) {
	svc := newService(t)
	ingest(t, svc, "guide")
	handler := makeSearchHandler(svc, 5)
	ctx := context.Background()

	_, out, err := handler(ctx, nil, SearchDocumentsInput{Query: "hashing model offline", TopK: 1})
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "guide", out.Results[0].DocumentID)
	assert.Contains(t, out.Results[0].Text, "hashing model")
	assert.NotEmpty(t, out.Results[0].ChunkID)

	_, out, err = handler(ctx, nil, SearchDocumentsInput{Query: "chunk rows", DocumentID: "missing"})
	require.NoError(t, err)
	assert.Empty(t, out.Results)
	assert.NotEmpty(t, out.Message)

	_, _, err = handler(ctx, nil, SearchDocumentsInput{Query: " "})
	assert.ErrorIs(t, err, rag.ErrEmptyQuery)
}

func TestAskHandler(t *testing.T) {
	svc := newService(t)
	ingest(t, svc, "guide")
	ctx := context.Background()

	_, out, err := makeAskHandler(svc, echoGenerator{}, 5, 500, nil)(ctx, nil, AskDocumentsInput{Question: "Where are chunk rows stored?", TopK: 2})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.True(t, out.HasContext)
	assert.Equal(t, 2, out.SourceCount)
	assert.Len(t, out.Sources, 2)

	_, out, err = makeAskHandler(svc, echoGenerator{err: errors.New("quota")}, 5, 500, nil)(ctx, nil, AskDocumentsInput{Question: "Where?"})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.NotContains(t, out.Response, "quota")

	_, _, err = makeAskHandler(svc, nil, 5, 500, nil)(ctx, nil, AskDocumentsInput{Question: "Where?"})
	assert.ErrorContains(t, err, "disabled")
}

func TestDeleteAndStatsHandlers(t *testing.T) {
	svc := newService(t)
	ingest(t, svc, "a")
	ingest(t, svc, "b")
	ctx := context.Background()

	_, stats, err := makeStatsHandler(svc)(ctx, nil, GetStatsInput{})
	require.NoError(t, err)
	assert.Equal(t, 6, stats.ActiveVectors)
	assert.Equal(t, 6, stats.TotalChunks)
	assert.Equal(t, []string{"a", "b"}, stats.Documents)
	assert.Equal(t, "hashing-256", stats.EmbeddingModel)

	persisted := 0
	del := makeDeleteHandler(svc, func() error { persisted++; return nil })
	_, out, err := del(ctx, nil, DeleteDocumentInput{DocumentID: "a"})
	require.NoError(t, err)
	assert.Equal(t, 3, out.ChunksDeleted)
	assert.Equal(t, 3, out.VectorsRemoved)
	assert.Equal(t, 1, persisted)

	_, out, err = del(ctx, nil, DeleteDocumentInput{DocumentID: "a"})
	require.NoError(t, err)
	assert.Zero(t, out.VectorsRemoved)
	assert.Equal(t, 1, persisted)

	_, stats, err = makeStatsHandler(svc)(ctx, nil, GetStatsInput{})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.ActiveVectors)
	assert.Equal(t, 3, stats.DeletedVectors)
	assert.Equal(t, []string{"b"}, stats.Documents)
}

func TestGetChunkHandler(t *testing.T) {
	svc := newService(t)
	ingest(t, svc, "guide")
	ctx := context.Background()

	_, found, err := makeSearchHandler(svc, 1)(ctx, nil, SearchDocumentsInput{Query: "sqlite"})
	require.NoError(t, err)
	require.Len(t, found.Results, 1)

	_, out, err := makeGetChunkHandler(svc)(ctx, nil, GetChunkInput{ChunkID: found.Results[0].ChunkID})
	require.NoError(t, err)
	assert.True(t, out.Found)
	assert.Equal(t, found.Results[0].Text, out.Text)

	_, out, err = makeGetChunkHandler(svc)(ctx, nil, GetChunkInput{ChunkID: "nope"})
	require.NoError(t, err)
	assert.False(t, out.Found)
}

type fakeChecker struct{ err error }

func (f fakeChecker) Health(context.Context) error { return f.err }

func TestHealthHandler(t *testing.T) {
	for _, tt := range []struct {
		name   string
		err    error
		status int
		want   string
	}{
		{"healthy", nil, http.StatusOK, "connected"},
		{"unhealthy", errors.New("connection refused"), http.StatusServiceUnavailable, "disconnected"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewHealthHandler(fakeChecker{tt.err})(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.status, rec.Code)
			var body HealthResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.want, body.ChunkStore)
			assert.NotEmpty(t, body.Timestamp)
		})
	}
}

func TestLandingHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewLandingHandler()(rec, httptest.NewRequest(http.MethodGet, "http://docs.example.com/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http://docs.example.com/mcp")
	assert.Contains(t, rec.Body.String(), "ask_documents")

	rec = httptest.NewRecorder()
	NewLandingHandler()(rec, httptest.NewRequest(http.MethodGet, "/other", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ListsTools(t *testing.T) {
	svc := newService(t)
	server := NewServer(&Config{Service: svc, Generator: echoGenerator{}})
	ctx := context.Background()

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := server.MCPServer().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer serverSession.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer session.Close()

	tools, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, toolNames, names)
}
