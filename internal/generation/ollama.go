package generation

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// DefaultOllamaModel is the local model used for answers.
const DefaultOllamaModel = "llama3.2"

// OllamaGenerator answers prompts with a local Ollama model.
type OllamaGenerator struct {
	client          *api.Client
	model           string
	maxPromptTokens int
	logger          *slog.Logger
}

// NewOllamaGenerator creates a generator connected to an Ollama server.
func NewOllamaGenerator(host, model string, maxPromptTokens int, logger *slog.Logger) (*OllamaGenerator, error) {
	if model == "" {
		model = DefaultOllamaModel
	}
	if maxPromptTokens <= 0 {
		maxPromptTokens = DefaultMaxPromptTokens
	}
	if logger == nil {
		logger = slog.Default()
	}

	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("parse ollama host: %w", err)
	}

	return &OllamaGenerator{
		client:          api.NewClient(u, http.DefaultClient),
		model:           model,
		maxPromptTokens: maxPromptTokens,
		logger:          logger,
	}, nil
}

// Name returns the model name.
func (g *OllamaGenerator) Name() string { return g.model }

// Generate runs a non-streaming completion.
func (g *OllamaGenerator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	stream := false
	req := &api.GenerateRequest{
		Model:  g.model,
		Prompt: truncatePrompt(prompt, g.maxPromptTokens, g.logger),
		Stream: &stream,
	}
	if maxTokens > 0 {
		req.Options = map[string]any{"num_predict": maxTokens}
	}

	var out strings.Builder
	err := g.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		out.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	if out.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return out.String(), nil
}
