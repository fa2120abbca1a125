// Package bootstrap wires the docrag components together from a Config.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bull/docrag/internal/chunker"
	"github.com/bull/docrag/internal/config"
	"github.com/bull/docrag/internal/embedding"
	"github.com/bull/docrag/internal/generation"
	"github.com/bull/docrag/internal/rag"
	"github.com/bull/docrag/internal/storage"
	"github.com/bull/docrag/internal/vectorstore"
)

// App is a fully wired docrag instance.
type App struct {
	Config       config.Config
	Orchestrator *rag.Orchestrator
	Store        storage.ChunkStore
	Embedder     *embedding.Embedder
	Generator    generation.Generator // nil when generation is disabled

	logger *slog.Logger
}

// New builds the application and loads the index snapshot if one exists.
// Call Close when done.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var openaiClient *embedding.Client
	if cfg.Embedding.Provider == config.ProviderOpenAI || cfg.Generation.Provider == config.ProviderOpenAI {
		c, err := embedding.NewClient(embedding.ClientConfig{APIKey: cfg.Embedding.APIKey, BaseURL: cfg.Embedding.BaseURL})
		if err != nil {
			return nil, fmt.Errorf("create OpenAI client: %w", err)
		}
		openaiClient = c
	}

	model, err := newModel(cfg.Embedding, openaiClient)
	if err != nil {
		return nil, err
	}

	generator, err := newGenerator(cfg.Generation, cfg.Embedding.OllamaURL, openaiClient, logger)
	if err != nil {
		return nil, err
	}

	ch, err := chunker.New(cfg.Chunker, logger)
	if err != nil {
		return nil, err
	}

	store, err := newStore(ctx, cfg.Storage, cfg.Embedding.Dimension)
	if err != nil {
		return nil, err
	}

	embedder := embedding.NewEmbedder(model, cfg.Embedding.Dispatch, logger)
	index := vectorstore.New(cfg.Embedding.Dimension,
		vectorstore.WithOverFetch(cfg.Index.OverFetch),
		vectorstore.WithLogger(logger),
	)

	app := &App{
		Config:       cfg,
		Orchestrator: rag.New(ch, embedder, index, store, generator, logger),
		Store:        store,
		Embedder:     embedder,
		Generator:    generator,
		logger:       logger,
	}

	if cfg.Index.SnapshotPath != "" {
		if _, err := app.Orchestrator.LoadSnapshot(cfg.Index.SnapshotPath); err != nil {
			app.Close()
			return nil, err
		}
	}

	logger.Debug("Application ready",
		"embedding", embedder.ModelName(),
		"dimension", embedder.Dimension(),
		"storage", cfg.Storage.Driver,
		"generation", cfg.Generation.Provider,
	)
	return app, nil
}

// SaveSnapshot persists the index when a snapshot path is configured.
func (a *App) SaveSnapshot() error {
	path := a.Config.Index.SnapshotPath
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	return a.Orchestrator.SaveSnapshot(path)
}

// Close stops the embedding workers and closes the chunk store.
func (a *App) Close() error {
	a.Embedder.Close()
	return a.Store.Close()
}

func newModel(cfg config.EmbeddingConfig, client *embedding.Client) (embedding.Model, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return embedding.NewOpenAIModel(client, cfg.Model, cfg.Dimension), nil
	case config.ProviderOllama:
		m, err := embedding.NewOllamaModel(cfg.OllamaURL, cfg.Model, cfg.Dimension)
		if err != nil {
			return nil, fmt.Errorf("create Ollama embedding model: %w", err)
		}
		return m, nil
	case config.ProviderHashing:
		return embedding.NewHashingModel(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", config.ErrInvalid, cfg.Provider)
	}
}

func newGenerator(cfg config.GenerationConfig, ollamaURL string, client *embedding.Client, logger *slog.Logger) (generation.Generator, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return generation.NewOpenAIGenerator(client.Client(), cfg.Model, cfg.MaxPromptTokens, logger), nil
	case config.ProviderOllama:
		g, err := generation.NewOllamaGenerator(ollamaURL, cfg.Model, cfg.MaxPromptTokens, logger)
		if err != nil {
			return nil, fmt.Errorf("create Ollama generator: %w", err)
		}
		return g, nil
	case config.ProviderNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unknown generation provider %q", config.ErrInvalid, cfg.Provider)
	}
}

func newStore(ctx context.Context, cfg config.StorageConfig, dim int) (storage.ChunkStore, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return storage.NewMemoryStore(), nil
	case config.DriverSQLite:
		s, err := storage.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	case config.DriverQdrant:
		s, err := storage.NewQdrantStore(ctx, storage.QdrantConfig{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			Collection: cfg.Collection,
			Dimension:  dim,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to Qdrant at %s:%d: %w", cfg.QdrantHost, cfg.QdrantPort, err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown storage driver %q", config.ErrInvalid, cfg.Driver)
	}
}

// ErrNoGenerator is returned by RequireGenerator when generation is disabled.
var ErrNoGenerator = errors.New("answer generation is disabled; set generation.provider to openai or ollama")

// RequireGenerator returns the configured generator or ErrNoGenerator.
func (a *App) RequireGenerator() (generation.Generator, error) {
	if a.Generator == nil {
		return nil, ErrNoGenerator
	}
	return a.Generator, nil
}
