package embedding

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
)

const (
	// DefaultOllamaHost is the local Ollama endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel produces 768-dimensional vectors.
	DefaultOllamaModel = "nomic-embed-text"

	// DefaultOllamaDimension matches DefaultOllamaModel.
	DefaultOllamaDimension = 768
)

// OllamaModel wraps the Ollama API for embedding generation.
type OllamaModel struct {
	client    *api.Client
	model     string
	dimension int
}

// NewOllamaModel creates a Model connected to an Ollama server.
func NewOllamaModel(host, model string, dimension int) (*OllamaModel, error) {
	if host == "" {
		host = DefaultOllamaHost
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	if dimension <= 0 {
		dimension = DefaultOllamaDimension
	}

	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("parse ollama host: %w", err)
	}

	return &OllamaModel{
		client:    api.NewClient(u, http.DefaultClient),
		model:     model,
		dimension: dimension,
	}, nil
}

// Name returns the model identifier.
func (m *OllamaModel) Name() string { return m.model }

// Dimension returns the configured vector size.
func (m *OllamaModel) Dimension() int { return m.dimension }

// Encode embeds all texts in one Embed call; the API accepts a list of inputs.
func (m *OllamaModel) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := m.client.Embed(ctx, &api.EmbedRequest{
		Model: m.model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

// Available checks if Ollama is reachable.
func (m *OllamaModel) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_, err := m.client.Version(ctx)
	return err == nil
}
