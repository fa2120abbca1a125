package rag

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docrag/internal/chunker"
	"github.com/bull/docrag/internal/document"
	"github.com/bull/docrag/internal/embedding"
	"github.com/bull/docrag/internal/storage"
	"github.com/bull/docrag/internal/vectorstore"
)

const twoParagraphs = "Paragraph one is short.\n\nParagraph two is also fairly short here."

type fakeGenerator struct {
	mu      sync.Mutex
	prompts []string
	reply   string
	err     error
}

func (g *fakeGenerator) Name() string { return "fake" }

func (g *fakeGenerator) Generate(_ context.Context, prompt string, _ int) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

func (g *fakeGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

// flakyStore fails Put or Delete on demand.
type flakyStore struct {
	*storage.MemoryStore
	mu         sync.Mutex
	failPut    bool
	failDelete bool
}

func (s *flakyStore) Put(ctx context.Context, rows []storage.ChunkRow) error {
	s.mu.Lock()
	fail := s.failPut
	s.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return s.MemoryStore.Put(ctx, rows)
}

func (s *flakyStore) Delete(ctx context.Context, ids []string) (int, error) {
	s.mu.Lock()
	fail := s.failDelete
	s.failDelete = false
	s.mu.Unlock()
	if fail {
		return 0, errors.New("connection reset")
	}
	return s.MemoryStore.Delete(ctx, ids)
}

func (s *flakyStore) set(failPut, failDelete bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPut, s.failDelete = failPut, failDelete
}

func newTestOrchestrator(t *testing.T, store storage.ChunkStore, dim int) *Orchestrator {
	t.Helper()
	ch, err := chunker.New(chunker.Config{ChunkSize: 50, ChunkOverlap: 10, MinChunkSize: 5}, nil)
	require.NoError(t, err)

	emb := embedding.NewEmbedder(embedding.NewHashingModel(dim), embedding.DefaultConfig(), nil)
	t.Cleanup(emb.Close)

	return New(ch, emb, vectorstore.New(dim), store, &fakeGenerator{reply: "ok"}, nil)
}

func TestProcessDocument_TwoParagraphs(t *testing.T) {
	o := newTestOrchestrator(t, storage.NewMemoryStore(), embedding.DefaultHashingDimension)
	ctx := context.Background()

	result := o.ProcessDocument(ctx, "doc-1", document.TextSource(twoParagraphs), 32)
	require.True(t, result.Success, result.Error)
	assert.Equal(t, StageIndexed, result.Stage)
	assert.Equal(t, 1, result.PagesLoaded)
	assert.Equal(t, 2, result.ChunksCreated)
	assert.Equal(t, 2, result.EmbeddingsGenerated)
	assert.Equal(t, 2, result.VectorsAdded)
	assert.Equal(t, 2, result.RowsStored)
	assert.Zero(t, result.VectorsReplaced)

	all, err := o.SearchDocuments(ctx, "short paragraph", 2, "")
	require.NoError(t, err)
	require.Len(t, all, 2)

	top, err := o.SearchDocuments(ctx, "short paragraph", 1, "")
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "doc-1", top[0].DocumentID)
	assert.Equal(t, all[0].ChunkID, top[0].ChunkID)
	assert.GreaterOrEqual(t, top[0].Score, all[1].Score)
}

func TestProcessDocument_ReingestReplaces(t *testing.T) {
	store := storage.NewMemoryStore()
	o := newTestOrchestrator(t, store, embedding.DefaultHashingDimension)
	ctx := context.Background()

	first := o.ProcessDocument(ctx, "doc-1", document.TextSource(twoParagraphs), 0)
	require.True(t, first.Success)
	before, err := o.SearchDocuments(ctx, "paragraph two", 10, "")
	require.NoError(t, err)

	second := o.ProcessDocument(ctx, "doc-1", document.TextSource(twoParagraphs), 0)
	require.True(t, second.Success)
	assert.Equal(t, 2, second.VectorsReplaced)

	after, err := o.SearchDocuments(ctx, "paragraph two", 10, "")
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].Text, after[i].Text)
		assert.InDelta(t, before[i].Score, after[i].Score, 1e-9)
	}

	stats := o.Index().Stats()
	assert.Equal(t, 2, stats.ActiveVectors)
	assert.Equal(t, 2, stats.DeletedVectors)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestProcessDocument_ConcurrentReingest(t *testing.T) {
	store := storage.NewMemoryStore()
	o := newTestOrchestrator(t, store, 64)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.ProcessDocument(ctx, "doc-1", document.TextSource(twoParagraphs), 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, o.Index().Stats().ActiveVectors)
	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestProcessDocument_FailedStoreKeepsPreviousVersion(t *testing.T) {
	store := &flakyStore{MemoryStore: storage.NewMemoryStore()}
	o := newTestOrchestrator(t, store, 64)
	ctx := context.Background()

	first := o.ProcessDocument(ctx, "doc-1", document.TextSource(twoParagraphs), 0)
	require.True(t, first.Success, first.Error)
	before, err := store.GetByDocument(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, before, 2)

	replacement := document.TextSource("A different first paragraph.\n\nAnd a different second one.")
	for _, tc := range []struct {
		name       string
		failPut    bool
		failDelete bool
	}{
		{"put fails", true, false},
		{"delete of previous rows fails", false, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			store.set(tc.failPut, tc.failDelete)
			defer store.set(false, false)

			result := o.ProcessDocument(ctx, "doc-1", replacement, 0)
			assert.False(t, result.Success)
			assert.Equal(t, StageStoring, result.FailedStage)
			assert.Zero(t, result.RowsStored)

			rows, err := store.GetByDocument(ctx, "doc-1")
			require.NoError(t, err)
			assert.Equal(t, before, rows)

			results, err := o.SearchDocuments(ctx, "paragraph two", 10, "doc-1")
			require.NoError(t, err)
			assert.Len(t, results, 2)
			assert.Equal(t, 2, o.Index().Stats().ActiveVectors)
		})
	}

	third := o.ProcessDocument(ctx, "doc-1", replacement, 0)
	require.True(t, third.Success, third.Error)
	rows, err := store.GetByDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.NotEqual(t, before[0].ID, rows[0].ID)
}

func TestProcessDocument_Failures(t *testing.T) {
	o := newTestOrchestrator(t, storage.NewMemoryStore(), 64)
	ctx := context.Background()

	empty := o.ProcessDocument(ctx, "empty", document.TextSource("   \n\n  "), 0)
	assert.False(t, empty.Success)
	assert.Equal(t, StageFailed, empty.Stage)
	assert.Equal(t, StageChunking, empty.FailedStage)
	assert.Equal(t, ErrNoChunks.Error(), empty.Error)

	missing := o.ProcessDocument(ctx, "missing", document.FileSource(filepath.Join(t.TempDir(), "nope.txt")), 0)
	assert.False(t, missing.Success)
	assert.Equal(t, StageChunking, missing.FailedStage)

	noID := o.ProcessDocument(ctx, "", document.TextSource(twoParagraphs), 0)
	assert.False(t, noID.Success)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	stopped := o.ProcessDocument(cancelled, "doc", document.TextSource(twoParagraphs), 0)
	assert.False(t, stopped.Success)
	assert.Equal(t, StageEmbedding, stopped.FailedStage)
	assert.Equal(t, 2, stopped.ChunksCreated)
	assert.Zero(t, o.Index().Len())
}

func TestProcessDocument_SourceMetadata(t *testing.T) {
	o := newTestOrchestrator(t, storage.NewMemoryStore(), 64)
	ctx := context.Background()

	src := document.TextSource(twoParagraphs)
	src.Metadata = map[string]any{"url": "https://example.com/doc"}
	require.True(t, o.ProcessDocument(ctx, "doc-1", src, 0).Success)

	results, err := o.SearchDocuments(ctx, "paragraph one", 1, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "https://example.com/doc", results[0].Metadata["url"])

	row, err := o.GetChunk(ctx, results[0].ChunkID)
	require.NoError(t, err)
	assert.Equal(t, results[0].Text, row.Text)
	assert.Equal(t, "https://example.com/doc", row.Metadata["url"])
	assert.Len(t, row.Embedding, 64)
}

func TestSearchDocuments_InvalidInput(t *testing.T) {
	o := newTestOrchestrator(t, storage.NewMemoryStore(), 64)
	ctx := context.Background()

	_, err := o.SearchDocuments(ctx, "  ", 5, "")
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = o.SearchDocuments(ctx, "query", 0, "")
	assert.ErrorIs(t, err, vectorstore.ErrInvalidTopK)

	// Punctuation only: no tokens, zero vector, no matches.
	require.True(t, o.ProcessDocument(ctx, "doc", document.TextSource(twoParagraphs), 0).Success)
	results, err := o.SearchDocuments(ctx, "?!", 5, "")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchDocuments_DocumentFilter(t *testing.T) {
	o := newTestOrchestrator(t, storage.NewMemoryStore(), embedding.DefaultHashingDimension)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.True(t, o.ProcessDocument(ctx, id, document.TextSource(twoParagraphs), 0).Success)
	}

	results, err := o.SearchDocuments(ctx, "short paragraph", 2, "b")
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, "b", r.DocumentID)
	}

	none, err := o.SearchDocuments(ctx, "short paragraph", 2, "unknown")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDeleteDocument(t *testing.T) {
	store := storage.NewMemoryStore()
	o := newTestOrchestrator(t, store, 64)
	ctx := context.Background()

	require.True(t, o.ProcessDocument(ctx, "keep", document.TextSource(twoParagraphs), 0).Success)
	require.True(t, o.ProcessDocument(ctx, "drop", document.TextSource(twoParagraphs), 0).Success)

	res := o.DeleteDocument(ctx, "drop")
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.ChunksDeleted)
	assert.Equal(t, 2, res.VectorsRemoved)

	results, err := o.SearchDocuments(ctx, "paragraph", 10, "")
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, "keep", r.DocumentID)
	}

	scoped, err := o.SearchDocuments(ctx, "paragraph", 10, "drop")
	require.NoError(t, err)
	assert.Empty(t, scoped)

	again := o.DeleteDocument(ctx, "drop")
	assert.True(t, again.Success)
	assert.Zero(t, again.ChunksDeleted)
	assert.Zero(t, again.VectorsRemoved)
}

func TestAnswer_WithContext(t *testing.T) {
	o := newTestOrchestrator(t, storage.NewMemoryStore(), embedding.DefaultHashingDimension)
	ctx := context.Background()
	require.True(t, o.ProcessDocument(ctx, "doc-1", document.TextSource(twoParagraphs), 0).Success)

	gen := &fakeGenerator{reply: "  According to Source 1, it is short.  "}
	answer := o.Answer(ctx, "Which paragraph is short?", gen, AnswerOptions{TopK: 2})

	require.True(t, answer.Success)
	assert.NoError(t, answer.Error)
	assert.True(t, answer.HasContext)
	assert.Equal(t, "According to Source 1, it is short.", answer.Response)
	assert.Equal(t, 2, answer.SourceCount)
	require.Len(t, answer.Sources, 2)
	assert.Equal(t, "doc-1", answer.Sources[0].DocumentID)
	assert.Equal(t, 1, answer.Sources[0].Page)
	assert.GreaterOrEqual(t, answer.Sources[0].Similarity, answer.Sources[1].Similarity)

	prompt := gen.lastPrompt()
	assert.Contains(t, prompt, "CONTEXT FROM DOCUMENTS:")
	assert.Contains(t, prompt, "[Source 1 - Page 1, Score: ")
	assert.Contains(t, prompt, "[Source 2 - Page 1, Score: ")
	assert.Contains(t, prompt, "USER QUESTION: Which paragraph is short?")
	assert.True(t, strings.HasSuffix(prompt, "ANSWER:"))
}

func TestAnswer_NoContext(t *testing.T) {
	o := newTestOrchestrator(t, storage.NewMemoryStore(), 64)
	gen := &fakeGenerator{reply: "I don't know."}

	answer := o.Answer(context.Background(), "anything at all", gen, AnswerOptions{})
	require.True(t, answer.Success)
	assert.False(t, answer.HasContext)
	assert.Empty(t, answer.Sources)
	assert.Zero(t, answer.SourceCount)
	assert.Contains(t, gen.lastPrompt(), "I don't have any relevant information in the uploaded documents")
}

func TestAnswer_GeneratorFailure(t *testing.T) {
	o := newTestOrchestrator(t, storage.NewMemoryStore(), 64)
	ctx := context.Background()
	require.True(t, o.ProcessDocument(ctx, "doc-1", document.TextSource(twoParagraphs), 0).Success)

	boom := errors.New("upstream 500")
	answer := o.Answer(ctx, "paragraph", &fakeGenerator{err: boom}, AnswerOptions{})
	assert.False(t, answer.Success)
	assert.Equal(t, apology, answer.Response)
	assert.ErrorIs(t, answer.Error, boom)
	assert.NotContains(t, answer.Response, "upstream")
}

func TestAnswer_DefaultGeneratorAndMissingGenerator(t *testing.T) {
	o := newTestOrchestrator(t, storage.NewMemoryStore(), 64)
	answer := o.Answer(context.Background(), "hello", nil, AnswerOptions{})
	assert.True(t, answer.Success)
	assert.Equal(t, "ok", answer.Response)

	o.generator = nil
	answer = o.Answer(context.Background(), "hello", nil, AnswerOptions{})
	assert.False(t, answer.Success)
	assert.ErrorIs(t, answer.Error, ErrNoGenerator)

	answer = o.Answer(context.Background(), " ", &fakeGenerator{}, AnswerOptions{})
	assert.False(t, answer.Success)
	assert.ErrorIs(t, answer.Error, ErrEmptyQuery)
}

func TestExcerpt(t *testing.T) {
	short := "short text"
	assert.Equal(t, short, excerpt(short))

	long := strings.Repeat("é", 250)
	got := excerpt(long)
	assert.Equal(t, strings.Repeat("é", 200)+"...", got)
}

func TestStats(t *testing.T) {
	o := newTestOrchestrator(t, storage.NewMemoryStore(), 64)
	ctx := context.Background()
	require.True(t, o.ProcessDocument(ctx, "a", document.TextSource(twoParagraphs), 0).Success)
	require.True(t, o.ProcessDocument(ctx, "b", document.TextSource("A single line of text here."), 0).Success)

	stats, err := o.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.VectorStore.ActiveVectors)
	assert.Equal(t, 2, stats.VectorStore.DocumentCount)
	assert.Equal(t, map[string]int{"a": 2, "b": 1}, stats.VectorStore.ChunksPerDocument)
	assert.Equal(t, 3, stats.Database.TotalChunks)
	assert.Equal(t, []string{"a", "b"}, stats.Database.Documents)
	assert.Equal(t, "hashing-64", stats.Embedding.Model)
	assert.Equal(t, 64, stats.Embedding.Dimension)
}

func TestRebuildIndex_FromStoredRows(t *testing.T) {
	store := storage.NewMemoryStore()
	o := newTestOrchestrator(t, store, embedding.DefaultHashingDimension)
	ctx := context.Background()

	require.True(t, o.ProcessDocument(ctx, "a", document.TextSource(twoParagraphs), 0).Success)
	require.True(t, o.ProcessDocument(ctx, "a", document.TextSource(twoParagraphs), 0).Success)
	before, err := o.SearchDocuments(ctx, "paragraph one", 2, "")
	require.NoError(t, err)

	// A row written without an embedding must be embedded during rebuild.
	require.NoError(t, store.Put(ctx, []storage.ChunkRow{{
		ID: "11111111-1111-1111-1111-111111111111", DocumentID: "b", Text: "Orphan row about llamas.", PageNumber: 1,
	}}))

	result, err := o.RebuildIndex(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Documents)
	assert.Equal(t, 3, result.Rows)
	assert.Equal(t, 1, result.ReEmbedded)
	assert.Equal(t, 3, result.VectorsAdded)

	stats := o.Index().Stats()
	assert.Equal(t, 3, stats.TotalVectors)
	assert.Zero(t, stats.DeletedVectors)

	row, err := store.Get(ctx, "11111111-1111-1111-1111-111111111111")
	require.NoError(t, err)
	assert.Len(t, row.Embedding, embedding.DefaultHashingDimension)

	after, err := o.SearchDocuments(ctx, "paragraph one", 2, "a")
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, before[0].ChunkID, after[0].ChunkID)
	assert.InDelta(t, before[0].Score, after[0].Score, 1e-6)

	llamas, err := o.SearchDocuments(ctx, "llamas", 1, "")
	require.NoError(t, err)
	require.Len(t, llamas, 1)
	assert.Equal(t, "b", llamas[0].DocumentID)
}

func TestCompactIndex(t *testing.T) {
	o := newTestOrchestrator(t, storage.NewMemoryStore(), 64)
	ctx := context.Background()
	require.True(t, o.ProcessDocument(ctx, "a", document.TextSource(twoParagraphs), 0).Success)
	require.True(t, o.ProcessDocument(ctx, "b", document.TextSource(twoParagraphs), 0).Success)
	o.DeleteDocument(ctx, "a")

	stats := o.CompactIndex()
	assert.Equal(t, 2, stats.TotalVectors)
	assert.Zero(t, stats.DeletedVectors)
	assert.Equal(t, []string{"b"}, o.Index().DocumentIDs())
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := storage.NewMemoryStore()
	o := newTestOrchestrator(t, store, 64)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index")

	loaded, err := o.LoadSnapshot(path)
	require.NoError(t, err)
	assert.False(t, loaded)

	require.True(t, o.ProcessDocument(ctx, "a", document.TextSource(twoParagraphs), 0).Success)
	o.DeleteDocument(ctx, "a")
	require.True(t, o.ProcessDocument(ctx, "b", document.TextSource(twoParagraphs), 0).Success)
	want, err := o.SearchDocuments(ctx, "fairly short", 3, "")
	require.NoError(t, err)
	require.NoError(t, o.SaveSnapshot(path))

	fresh := newTestOrchestrator(t, store, 64)
	loaded, err = fresh.LoadSnapshot(path)
	require.NoError(t, err)
	require.True(t, loaded)

	got, err := fresh.SearchDocuments(ctx, "fairly short", 3, "")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	other := newTestOrchestrator(t, store, 32)
	_, err = other.LoadSnapshot(path)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 32, other.Index().Dimension())
}

func TestHealth(t *testing.T) {
	o := newTestOrchestrator(t, storage.NewMemoryStore(), 64)
	assert.NoError(t, o.Health(context.Background()))
}

func TestKeyedMutex_ReleasesEntries(t *testing.T) {
	var k keyedMutex
	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	assert.Len(t, k.locks, 2)
	unlockA()
	unlockB()
	assert.Empty(t, k.locks)
}
