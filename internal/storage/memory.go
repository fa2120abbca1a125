package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local ChunkStore.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]ChunkRow
}

var _ ChunkStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]ChunkRow)}
}

// Put stores or replaces rows by ID.
func (s *MemoryStore) Put(_ context.Context, rows []ChunkRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		if row.CreatedAt.IsZero() {
			row.CreatedAt = time.Now().UTC()
		}
		s.rows[row.ID] = row
	}
	return nil
}

// Get returns a row by ID or ErrChunkNotFound.
func (s *MemoryStore) Get(_ context.Context, id string) (ChunkRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[id]
	if !ok {
		return ChunkRow{}, ErrChunkNotFound
	}
	return row, nil
}

// GetByDocument returns a document's rows ordered by chunk index.
func (s *MemoryStore) GetByDocument(_ context.Context, documentID string) ([]ChunkRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []ChunkRow{}
	for _, row := range s.rows {
		if row.DocumentID == documentID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

// DeleteByDocument removes a document's rows and returns how many were removed.
func (s *MemoryStore) DeleteByDocument(_ context.Context, documentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, row := range s.rows {
		if row.DocumentID == documentID {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

// Delete removes rows by ID and returns how many existed.
func (s *MemoryStore) Delete(_ context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, id := range ids {
		if _, ok := s.rows[id]; ok {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

// Count returns the total number of rows.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows), nil
}

// DocumentIDs returns the distinct document IDs, sorted.
func (s *MemoryStore) DocumentIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, row := range s.rows {
		seen[row.DocumentID] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Health always succeeds.
func (s *MemoryStore) Health(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
