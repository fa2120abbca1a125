package vectorstore

import (
	"container/heap"
	"fmt"
	"sort"
)

type candidate struct {
	pos   int
	score float64
}

// better orders by score, then by position so results are deterministic.
func better(a, b candidate) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	return a.pos < b.pos
}

// worstFirst is a min-heap under better: the root is the weakest kept candidate.
type worstFirst []candidate

func (h worstFirst) Len() int           { return len(h) }
func (h worstFirst) Less(i, j int) bool { return better(h[j], h[i]) }
func (h worstFirst) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *worstFirst) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *worstFirst) Pop() any {
	old := *h
	c := old[len(old)-1]
	*h = old[:len(old)-1]
	return c
}

// selectTop returns the n best candidates, best first.
func selectTop(cands []candidate, n int) []candidate {
	n = min(n, len(cands))
	if n <= 0 {
		return nil
	}
	h := make(worstFirst, 0, n)
	for _, c := range cands {
		if h.Len() < n {
			heap.Push(&h, c)
			continue
		}
		if better(c, h[0]) {
			h[0] = c
			heap.Fix(&h, 0)
		}
	}
	sort.Slice(h, func(i, j int) bool { return better(h[i], h[j]) })
	return h
}

// Search returns up to topK live entries ranked by similarity to query.
//
// With a documentID filter, the top topK*overFetch candidates across the whole
// index (at most every live entry) are taken first and then filtered. If fewer than topK belong to the
// document, the candidate window doubles until enough are found or every live
// entry has been considered, so a document with at least topK live entries
// always yields topK results.
func (idx *Index) Search(query []float32, topK int, documentID string) ([]SearchResult, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTopK, topK)
	}
	if len(query) != idx.dim {
		return nil, fmt.Errorf("%w: query has dimension %d, index has %d", ErrDimensionMismatch, len(query), idx.dim)
	}
	q := normalize(query)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if documentID != "" && len(idx.byDocument[documentID]) == 0 {
		return []SearchResult{}, nil
	}

	live := make([]candidate, 0, len(idx.entries)-idx.deleted)
	for i := range idx.entries {
		if idx.entries[i].Deleted {
			continue
		}
		live = append(live, candidate{pos: i, score: dot(q, idx.entries[i].Vector)})
	}

	if documentID == "" {
		return idx.results(selectTop(live, topK)), nil
	}

	fetch := min(min(topK, len(live))*idx.overFetch, len(live))
	for {
		var matches []candidate
		for _, c := range selectTop(live, fetch) {
			if idx.entries[c.pos].DocumentID == documentID {
				matches = append(matches, c)
			}
		}
		if len(matches) >= topK || fetch >= len(live) {
			if len(matches) > topK {
				matches = matches[:topK]
			}
			return idx.results(matches), nil
		}
		idx.logger.Debug("Widening document-scoped search",
			"document_id", documentID, "fetched", fetch, "matches", len(matches))
		fetch = min(fetch*2, len(live))
	}
}

func (idx *Index) results(cands []candidate) []SearchResult {
	out := make([]SearchResult, len(cands))
	for i, c := range cands {
		e := idx.entries[c.pos]
		out[i] = SearchResult{
			Position:   e.Position,
			ChunkID:    e.ChunkID,
			DocumentID: e.DocumentID,
			Text:       e.Text,
			PageNumber: e.PageNumber,
			ChunkIndex: e.ChunkIndex,
			Score:      c.score,
			Metadata:   e.Metadata,
		}
	}
	return out
}
