package vectorstore

import (
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unit(dim, axis int) []float32 {
	v := make([]float32, dim)
	v[axis] = 1
	return v
}

func records(docID string, n int) []Record {
	out := make([]Record, n)
	for i := range out {
		out[i] = Record{
			ChunkID:    fmt.Sprintf("%s-%d", docID, i),
			DocumentID: docID,
			Text:       fmt.Sprintf("chunk %d of %s", i, docID),
			PageNumber: 1,
			ChunkIndex: i,
		}
	}
	return out
}

func TestAdd_ContiguousPositions(t *testing.T) {
	idx := New(3)

	pos, err := idx.Add([][]float32{unit(3, 0), unit(3, 1)}, records("a", 2))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, pos)

	pos, err = idx.Add([][]float32{unit(3, 2)}, records("b", 1))
	require.NoError(t, err)
	assert.Equal(t, []int{2}, pos)
}

func TestAdd_RejectsMismatchWithoutMutation(t *testing.T) {
	idx := New(3)

	_, err := idx.Add([][]float32{unit(3, 0)}, records("a", 2))
	assert.ErrorIs(t, err, ErrLengthMismatch)

	_, err = idx.Add([][]float32{unit(3, 0), {1, 2}}, records("a", 2))
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	assert.Equal(t, 0, idx.Len())
	assert.Equal(t, 0, idx.Stats().DocumentCount)
}

func TestAdd_StoresMetadataInJSONForm(t *testing.T) {
	idx := New(2)
	recs := records("a", 1)
	recs[0].Metadata = map[string]any{"size": 3, "ok": true}
	_, err := idx.Add([][]float32{{1, 0}}, recs)
	require.NoError(t, err)

	results, err := idx.Search([]float32{1, 0}, 1, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, map[string]any{"size": float64(3), "ok": true}, results[0].Metadata)
	assert.Equal(t, 3, recs[0].Metadata["size"], "caller's map is left untouched")

	bad := records("b", 1)
	bad[0].Metadata = map[string]any{"ch": make(chan int)}
	_, err = idx.Add([][]float32{{0, 1}}, bad)
	assert.ErrorIs(t, err, ErrInvalidMetadata)
	assert.Equal(t, 1, idx.Len())
}

func TestAdd_NormalizesVectors(t *testing.T) {
	idx := New(2)
	_, err := idx.Add([][]float32{{3, 4}}, records("a", 1))
	require.NoError(t, err)

	results, err := idx.Search([]float32{3, 4}, 1, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestSearch_RankedAndBounded(t *testing.T) {
	idx := New(2)
	vecs := [][]float32{{1, 0}, {0.8, 0.6}, {0, 1}, {0.6, 0.8}}
	_, err := idx.Add(vecs, records("a", 4))
	require.NoError(t, err)

	results, err := idx.Search([]float32{1, 0}, 2, "")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a-0", results[0].ChunkID)
	assert.Equal(t, "a-1", results[1].ChunkID)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)

	results, err = idx.Search([]float32{1, 0}, 10, "")
	require.NoError(t, err)
	assert.Len(t, results, 4)
}

func TestSearch_InvalidInput(t *testing.T) {
	idx := New(2)

	_, err := idx.Search([]float32{1, 0}, 0, "")
	assert.ErrorIs(t, err, ErrInvalidTopK)

	_, err = idx.Search([]float32{1, 0, 0}, 1, "")
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestSearch_HugeTopKReturnsEveryMatch(t *testing.T) {
	idx := New(2)
	_, err := idx.Add([][]float32{{1, 0}, {0, 1}}, records("a", 2))
	require.NoError(t, err)
	_, err = idx.Add([][]float32{{0.6, 0.8}}, records("b", 1))
	require.NoError(t, err)

	results, err := idx.Search([]float32{1, 0}, math.MaxInt, "")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "a-0", results[0].ChunkID)

	for _, k := range []int{math.MaxInt, math.MaxInt/3 + 1} {
		results, err = idx.Search([]float32{1, 0}, k, "a")
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "a-0", results[0].ChunkID)
		assert.Equal(t, "a-1", results[1].ChunkID)
	}
}

func TestSearch_EmptyIndex(t *testing.T) {
	idx := New(2)

	results, err := idx.Search([]float32{1, 0}, 5, "")
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = idx.Search([]float32{1, 0}, 5, "missing")
	require.NoError(t, err)
	assert.Empty(t, results)
}

// TestSearch_DocumentFilterOnDominatedIndex tests that a document-scoped query
// finds all topK matches even when other documents crowd the over-fetch window.
func TestSearch_DocumentFilterOnDominatedIndex(t *testing.T) {
	idx := New(2)

	// 100 entries of "noise" almost identical to the query.
	noise := make([][]float32, 100)
	for i := range noise {
		noise[i] = []float32{1, 0.01 * float32(i%5)}
	}
	_, err := idx.Add(noise, records("noise", 100))
	require.NoError(t, err)

	// 5 entries of "target" far from the query.
	target := [][]float32{{0.1, 1}, {0.2, 1}, {0.3, 1}, {0.4, 1}, {0.5, 1}}
	_, err = idx.Add(target, records("target", 5))
	require.NoError(t, err)

	results, err := idx.Search([]float32{1, 0}, 5, "target")
	require.NoError(t, err)
	require.Len(t, results, 5)
	for _, r := range results {
		assert.Equal(t, "target", r.DocumentID)
	}
	assert.Equal(t, "target-4", results[0].ChunkID, "closest target entry ranks first")

	results, err = idx.Search([]float32{1, 0}, 3, "target")
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestSearch_TiesBrokenByPosition(t *testing.T) {
	idx := New(2)
	_, err := idx.Add([][]float32{{1, 0}, {1, 0}, {1, 0}}, records("a", 3))
	require.NoError(t, err)

	results, err := idx.Search([]float32{1, 0}, 3, "")
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, i, r.Position)
	}
}

func TestRemoveDocument_Tombstones(t *testing.T) {
	idx := New(2)
	_, err := idx.Add([][]float32{{1, 0}, {0.9, 0.1}}, records("a", 2))
	require.NoError(t, err)
	_, err = idx.Add([][]float32{{0.5, 0.5}}, records("b", 1))
	require.NoError(t, err)

	assert.Equal(t, 2, idx.RemoveDocument("a"))
	assert.Equal(t, 0, idx.RemoveDocument("a"))
	assert.Equal(t, 0, idx.RemoveDocument("never-added"))

	for _, filter := range []string{"", "a"} {
		results, err := idx.Search([]float32{1, 0}, 10, filter)
		require.NoError(t, err)
		for _, r := range results {
			assert.NotEqual(t, "a", r.DocumentID)
		}
	}

	stats := idx.Stats()
	assert.Equal(t, 3, stats.TotalVectors)
	assert.Equal(t, 1, stats.ActiveVectors)
	assert.Equal(t, 2, stats.DeletedVectors)
	assert.Equal(t, 1, stats.DocumentCount)
	assert.Equal(t, map[string]int{"b": 1}, stats.ChunksPerDocument)

	// Positions are never reused.
	pos, err := idx.Add([][]float32{{1, 0}}, records("a", 1))
	require.NoError(t, err)
	assert.Equal(t, []int{3}, pos)
}

func TestCompact_DropsTombstones(t *testing.T) {
	idx := New(2)
	_, err := idx.Add([][]float32{{1, 0}, {0, 1}}, records("a", 2))
	require.NoError(t, err)
	_, err = idx.Add([][]float32{{0.7, 0.7}}, records("b", 1))
	require.NoError(t, err)
	idx.RemoveDocument("a")

	compacted := idx.Compact()
	assert.Equal(t, 1, compacted.Len())
	assert.Equal(t, 3, idx.Len(), "original is untouched")

	results, err := compacted.Search([]float32{1, 0}, 5, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b-0", results[0].ChunkID)
	assert.Equal(t, 0, results[0].Position)
}

func TestIndex_ConcurrentAddSearchRemove(t *testing.T) {
	idx := New(4)
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			doc := fmt.Sprintf("doc-%d", w)
			for i := 0; i < 50; i++ {
				_, err := idx.Add([][]float32{{1, float32(w), float32(i), 0}}, records(doc, 1))
				assert.NoError(t, err)
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				results, err := idx.Search([]float32{1, 0, 0, 0}, 5, "")
				assert.NoError(t, err)
				assert.LessOrEqual(t, len(results), 5)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			idx.RemoveDocument("doc-0")
		}
	}()
	wg.Wait()

	idx.RemoveDocument("doc-0")
	stats := idx.Stats()
	assert.Equal(t, 200, stats.TotalVectors)
	assert.Equal(t, 150, stats.ActiveVectors)

	seen := make(map[int]bool)
	results, err := idx.Search([]float32{1, 0, 0, 0}, 200, "")
	require.NoError(t, err)
	for _, r := range results {
		assert.False(t, seen[r.Position], "position %d returned twice", r.Position)
		seen[r.Position] = true
		assert.NotEqual(t, "doc-0", r.DocumentID)
	}
}
