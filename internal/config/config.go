// Package config loads docrag settings from an optional YAML file and the
// environment.
package config

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bull/docrag/internal/chunker"
	"github.com/bull/docrag/internal/embedding"
	"github.com/bull/docrag/internal/generation"
	"github.com/bull/docrag/internal/storage"
	"github.com/bull/docrag/internal/vectorstore"
)

// Providers and drivers.
const (
	ProviderOpenAI  = "openai"
	ProviderOllama  = "ollama"
	ProviderHashing = "hashing"
	ProviderNone    = "none"

	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverQdrant = "qdrant"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Chunker    chunker.Config   `yaml:"chunker"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Storage    StorageConfig    `yaml:"storage"`
	Index      IndexConfig      `yaml:"index"`
	Search     SearchConfig     `yaml:"search"`
	Server     ServerConfig     `yaml:"server"`
	GitHub     GitHubConfig     `yaml:"github"`
}

type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"-"`
	OllamaURL string `yaml:"ollama_url"`

	Dispatch embedding.Config `yaml:"dispatch"`
}

type GenerationConfig struct {
	Provider        string `yaml:"provider"`
	Model           string `yaml:"model"`
	MaxPromptTokens int    `yaml:"max_prompt_tokens"`
}

type StorageConfig struct {
	Driver     string `yaml:"driver"`
	SQLitePath string `yaml:"sqlite_path"`
	QdrantHost string `yaml:"qdrant_host"`
	QdrantPort int    `yaml:"qdrant_port"`
	Collection string `yaml:"collection"`
}

type IndexConfig struct {
	// SnapshotPath is the base path of the .vec/.meta pair. Empty disables snapshots.
	SnapshotPath string `yaml:"snapshot_path"`
	OverFetch    int    `yaml:"over_fetch"`
}

type SearchConfig struct {
	TopK      int `yaml:"top_k"`
	MaxTokens int `yaml:"max_tokens"`
}

type ServerConfig struct {
	Transport string        `yaml:"transport"` // "stdio" or "http"
	Port      string        `yaml:"port"`
	Timeout   time.Duration `yaml:"timeout"`
}

type GitHubConfig struct {
	Token string `yaml:"-"`
}

// Default returns a configuration that runs fully offline: hashing
// embeddings, a SQLite chunk store and no answer generator.
func Default() Config {
	return Config{
		Chunker: chunker.DefaultConfig(),
		Embedding: EmbeddingConfig{
			Provider:  ProviderHashing,
			OllamaURL: embedding.DefaultOllamaHost,
			Dispatch:  embedding.DefaultConfig(),
		},
		Generation: GenerationConfig{
			Provider:        ProviderNone,
			MaxPromptTokens: generation.DefaultMaxPromptTokens,
		},
		Storage: StorageConfig{
			Driver:     DriverSQLite,
			SQLitePath: "data/docrag.db",
			QdrantHost: "localhost",
			QdrantPort: 6334,
			Collection: storage.DefaultQdrantCollection,
		},
		Index: IndexConfig{
			SnapshotPath: "data/index",
			OverFetch:    vectorstore.DefaultOverFetch,
		},
		Search: SearchConfig{
			TopK:      5,
			MaxTokens: 500,
		},
		Server: ServerConfig{
			Transport: "stdio",
			Port:      "8080",
			Timeout:   60 * time.Second,
		},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	cfg.fillModelDefaults()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Embedding.Provider, "DOCRAG_EMBEDDING_PROVIDER")
	setString(&c.Embedding.Model, "DOCRAG_EMBEDDING_MODEL")
	setString(&c.Embedding.BaseURL, "OPENAI_BASE_URL")
	setString(&c.Embedding.APIKey, "OPENAI_API_KEY")
	setString(&c.Embedding.OllamaURL, "OLLAMA_HOST")
	setString(&c.Generation.Provider, "DOCRAG_GENERATION_PROVIDER")
	setString(&c.Generation.Model, "DOCRAG_GENERATION_MODEL")
	setString(&c.Storage.Driver, "DOCRAG_STORAGE_DRIVER")
	setString(&c.Storage.SQLitePath, "DOCRAG_SQLITE_PATH")
	setString(&c.Storage.QdrantHost, "QDRANT_HOST")
	setString(&c.Storage.Collection, "DOCRAG_QDRANT_COLLECTION")
	setString(&c.Index.SnapshotPath, "DOCRAG_SNAPSHOT_PATH")
	setString(&c.Server.Transport, "MCP_TRANSPORT")
	setString(&c.Server.Port, "PORT")
	setString(&c.GitHub.Token, "GITHUB_TOKEN")

	ints := []struct {
		dst *int
		key string
	}{
		{&c.Embedding.Dimension, "DOCRAG_EMBEDDING_DIMENSION"},
		{&c.Embedding.Dispatch.BatchSize, "DOCRAG_BATCH_SIZE"},
		{&c.Embedding.Dispatch.Workers, "DOCRAG_EMBED_WORKERS"},
		{&c.Chunker.ChunkSize, "DOCRAG_CHUNK_SIZE"},
		{&c.Chunker.ChunkOverlap, "DOCRAG_CHUNK_OVERLAP"},
		{&c.Chunker.MinChunkSize, "DOCRAG_MIN_CHUNK_SIZE"},
		{&c.Storage.QdrantPort, "QDRANT_PORT"},
		{&c.Search.TopK, "DOCRAG_TOP_K"},
	}
	for _, e := range ints {
		if err := setInt(e.dst, e.key); err != nil {
			return err
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, key, v)
	}
	*dst = n
	return nil
}

// fillModelDefaults picks a model name and dimension for the chosen provider
// when none was configured.
func (c *Config) fillModelDefaults() {
	e := &c.Embedding
	switch e.Provider {
	case ProviderOpenAI:
		e.Model = cmp.Or(e.Model, embedding.DefaultOpenAIModel)
		e.Dimension = cmp.Or(e.Dimension, embedding.DefaultOpenAIDimension)
	case ProviderOllama:
		e.Model = cmp.Or(e.Model, embedding.DefaultOllamaModel)
		e.Dimension = cmp.Or(e.Dimension, embedding.DefaultOllamaDimension)
	case ProviderHashing:
		e.Dimension = cmp.Or(e.Dimension, embedding.DefaultHashingDimension)
	}

	g := &c.Generation
	switch g.Provider {
	case ProviderOpenAI:
		g.Model = cmp.Or(g.Model, generation.DefaultOpenAIModel)
	case ProviderOllama:
		g.Model = cmp.Or(g.Model, generation.DefaultOllamaModel)
	}
}

// Validate rejects settings the components cannot run with.
func (c Config) Validate() error {
	if err := c.Chunker.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	switch c.Embedding.Provider {
	case ProviderOpenAI:
		if c.Embedding.APIKey == "" {
			return fmt.Errorf("%w: embedding provider openai requires OPENAI_API_KEY", ErrInvalid)
		}
	case ProviderOllama, ProviderHashing:
	default:
		return fmt.Errorf("%w: unknown embedding provider %q", ErrInvalid, c.Embedding.Provider)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("%w: embedding dimension must be positive, got %d", ErrInvalid, c.Embedding.Dimension)
	}
	if c.Embedding.Dispatch.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalid, c.Embedding.Dispatch.BatchSize)
	}

	switch c.Generation.Provider {
	case ProviderOpenAI:
		if c.Embedding.APIKey == "" {
			return fmt.Errorf("%w: generation provider openai requires OPENAI_API_KEY", ErrInvalid)
		}
	case ProviderOllama, ProviderNone:
	default:
		return fmt.Errorf("%w: unknown generation provider %q", ErrInvalid, c.Generation.Provider)
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("%w: sqlite driver requires sqlite_path", ErrInvalid)
		}
	case DriverQdrant:
		if c.Storage.QdrantHost == "" || c.Storage.QdrantPort <= 0 {
			return fmt.Errorf("%w: qdrant driver requires host and port", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown storage driver %q", ErrInvalid, c.Storage.Driver)
	}

	if c.Search.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalid, c.Search.TopK)
	}
	switch c.Server.Transport {
	case "stdio", "http":
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalid, c.Server.Transport)
	}
	return nil
}
