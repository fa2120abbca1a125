// Package vectorstore is an in-memory flat vector index with tombstone
// deletion and on-disk snapshots.
//
// Entries live in a dense arena. A position, once assigned, is never reused
// or renumbered; removing a document only flags its entries as deleted.
// Compact builds a fresh index holding the live entries when the arena has
// accumulated too many tombstones.
package vectorstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
)

// DefaultOverFetch is the initial candidate multiplier for document-scoped search.
const DefaultOverFetch = 3

// Record is the metadata stored alongside a vector.
type Record struct {
	ChunkID    string         `json:"chunk_id"`
	DocumentID string         `json:"document_id"`
	Text       string         `json:"chunk_text"`
	PageNumber int            `json:"page_number"`
	ChunkIndex int            `json:"chunk_index"`
	// Metadata is stored in its JSON form: numbers come back as float64,
	// nested values as map[string]any and []any, both before and after a
	// snapshot round trip.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Entry is one slot of the arena.
type Entry struct {
	Position int
	Vector   []float32
	Record
	Deleted bool
}

// SearchResult is a ranked hit. Score is the dot product of the unit query
// and the unit entry vector, in [-1, 1].
type SearchResult struct {
	Position   int            `json:"position"`
	ChunkID    string         `json:"chunk_id"`
	DocumentID string         `json:"document_id"`
	Text       string         `json:"text"`
	PageNumber int            `json:"page_number"`
	ChunkIndex int            `json:"chunk_index"`
	Score      float64        `json:"similarity_score"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Stats summarizes the index.
type Stats struct {
	TotalVectors      int            `json:"total_vectors"`
	ActiveVectors     int            `json:"active_vectors"`
	DeletedVectors    int            `json:"deleted_vectors"`
	Dimension         int            `json:"dimension"`
	DocumentCount     int            `json:"document_count"`
	ChunksPerDocument map[string]int `json:"chunks_per_document"`
}

// Option configures an Index.
type Option func(*Index)

// WithOverFetch sets the initial candidate multiplier for document-scoped search.
func WithOverFetch(factor int) Option {
	return func(idx *Index) {
		if factor > 0 {
			idx.overFetch = factor
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(idx *Index) {
		if logger != nil {
			idx.logger = logger
		}
	}
}

// Index is safe for concurrent use: searches share a read lock, while Add,
// RemoveDocument and Save-vs-writers are serialized by the write lock.
type Index struct {
	mu         sync.RWMutex
	dim        int
	entries    []Entry
	byDocument map[string][]int // live positions per document
	deleted    int

	overFetch int
	logger    *slog.Logger
}

// New creates an empty index for vectors of dimension dim.
func New(dim int, opts ...Option) *Index {
	idx := &Index{
		dim:        dim,
		byDocument: make(map[string][]int),
		overFetch:  DefaultOverFetch,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Options returns options that reproduce this index's settings, for building
// a replacement index (rebuild, snapshot load).
func (idx *Index) Options() []Option {
	return []Option{WithOverFetch(idx.overFetch), WithLogger(idx.logger)}
}

// Dimension returns the vector size accepted by the index.
func (idx *Index) Dimension() int { return idx.dim }

// Len returns the number of arena slots, tombstoned ones included.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Add appends vectors with their records and returns the assigned positions,
// contiguous and in input order. Inputs are validated before anything is
// written, so a failed Add leaves the index unchanged.
func (idx *Index) Add(vectors [][]float32, records []Record) ([]int, error) {
	if len(vectors) != len(records) {
		return nil, fmt.Errorf("%w: %d vectors, %d records", ErrLengthMismatch, len(vectors), len(records))
	}
	for i, v := range vectors {
		if len(v) != idx.dim {
			return nil, fmt.Errorf("%w: vector %d has dimension %d, index has %d",
				ErrDimensionMismatch, i, len(v), idx.dim)
		}
	}

	normalized := make([][]float32, len(vectors))
	for i, v := range vectors {
		normalized[i] = normalize(v)
	}
	stored := make([]Record, len(records))
	for i, r := range records {
		meta, err := jsonMetadata(r.Metadata)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrInvalidMetadata, i, err)
		}
		r.Metadata = meta
		stored[i] = r
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	base := len(idx.entries)
	positions := make([]int, len(vectors))
	for i := range vectors {
		pos := base + i
		idx.entries = append(idx.entries, Entry{
			Position: pos,
			Vector:   normalized[i],
			Record:   stored[i],
		})
		idx.byDocument[records[i].DocumentID] = append(idx.byDocument[records[i].DocumentID], pos)
		positions[i] = pos
	}
	return positions, nil
}

// RemoveDocument tombstones every live entry of documentID and returns how
// many were marked. Unknown documents return 0.
func (idx *Index) RemoveDocument(documentID string) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	positions := idx.byDocument[documentID]
	for _, pos := range positions {
		idx.entries[pos].Deleted = true
	}
	delete(idx.byDocument, documentID)
	idx.deleted += len(positions)

	if len(positions) > 0 {
		idx.logger.Debug("Tombstoned document vectors", "document_id", documentID, "count", len(positions))
	}
	return len(positions)
}

// HasDocument reports whether documentID has live entries.
func (idx *Index) HasDocument(documentID string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.byDocument[documentID]) > 0
}

// Stats returns counts for the index.
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	perDoc := make(map[string]int, len(idx.byDocument))
	for id, positions := range idx.byDocument {
		perDoc[id] = len(positions)
	}
	return Stats{
		TotalVectors:      len(idx.entries),
		ActiveVectors:     len(idx.entries) - idx.deleted,
		DeletedVectors:    idx.deleted,
		Dimension:         idx.dim,
		DocumentCount:     len(idx.byDocument),
		ChunksPerDocument: perDoc,
	}
}

// DocumentIDs returns the documents with live entries, sorted.
func (idx *Index) DocumentIDs() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	ids := make([]string, 0, len(idx.byDocument))
	for id := range idx.byDocument {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Compact returns a new index holding only the live entries, renumbered from
// zero in their original order. The receiver is not modified.
func (idx *Index) Compact() *Index {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := New(idx.dim, idx.Options()...)
	out.entries = make([]Entry, 0, len(idx.entries)-idx.deleted)
	for _, e := range idx.entries {
		if e.Deleted {
			continue
		}
		pos := len(out.entries)
		out.entries = append(out.entries, Entry{Position: pos, Vector: e.Vector, Record: e.Record})
		out.byDocument[e.DocumentID] = append(out.byDocument[e.DocumentID], pos)
	}
	return out
}

func normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return out
	}
	n := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// jsonMetadata converts m to the values a JSON decode would produce, so a
// loaded snapshot returns the same metadata as the index it was saved from.
func jsonMetadata(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
