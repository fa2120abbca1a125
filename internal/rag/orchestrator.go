// Package rag ties chunking, embedding, the vector index and the chunk store
// together: it ingests documents and answers questions grounded in them.
package rag

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/bull/docrag/internal/chunker"
	"github.com/bull/docrag/internal/document"
	"github.com/bull/docrag/internal/embedding"
	"github.com/bull/docrag/internal/generation"
	"github.com/bull/docrag/internal/storage"
	"github.com/bull/docrag/internal/vectorstore"
)

const (
	// DefaultTopK is the number of passages retrieved per question.
	DefaultTopK = 5

	// DefaultMaxTokens bounds generated answers.
	DefaultMaxTokens = 500

	// excerptChars is the length of the source excerpt returned with answers.
	excerptChars = 200
)

var (
	ErrEmptyQuery        = errors.New("query is empty")
	ErrNoChunks          = errors.New("no chunks created from document")
	ErrNoGenerator       = errors.New("no answer generator configured")
	ErrDimensionMismatch = errors.New("index dimension does not match embedding model")
)

// Orchestrator owns the process-wide vector index and the pipeline around it.
type Orchestrator struct {
	loader    *document.Loader
	chunker   *chunker.Chunker
	embedder  *embedding.Embedder
	store     storage.ChunkStore
	generator generation.Generator
	logger    *slog.Logger

	// indexMu guards the index pointer, which rebuild and snapshot load replace.
	indexMu sync.RWMutex
	index   *vectorstore.Index

	// ingestMu is held shared by ingest and delete, exclusively by operations
	// that replace the index, so no write lands in an index being swapped out.
	ingestMu sync.RWMutex
	docLocks keyedMutex
}

// New creates an Orchestrator with the given components. generator may be nil,
// in which case Answer requires one per call.
func New(
	ch *chunker.Chunker,
	embedder *embedding.Embedder,
	index *vectorstore.Index,
	store storage.ChunkStore,
	generator generation.Generator,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		loader:    document.NewLoader(),
		chunker:   ch,
		embedder:  embedder,
		store:     store,
		generator: generator,
		logger:    logger,
		index:     index,
	}
}

// Index returns the current vector index.
func (o *Orchestrator) Index() *vectorstore.Index {
	o.indexMu.RLock()
	defer o.indexMu.RUnlock()
	return o.index
}

func (o *Orchestrator) swapIndex(idx *vectorstore.Index) {
	o.indexMu.Lock()
	o.index = idx
	o.indexMu.Unlock()
}

// keyedMutex serializes work per key. Entries are dropped once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

// Lock acquires the lock for key and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
