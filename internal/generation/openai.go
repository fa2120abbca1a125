package generation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
)

// DefaultOpenAIModel is the chat model used for answers.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIGenerator answers prompts with OpenAI chat completions.
type OpenAIGenerator struct {
	client          *openai.Client
	model           string
	maxPromptTokens int
	logger          *slog.Logger
}

// NewOpenAIGenerator creates a generator with the given OpenAI client.
// Empty model and non-positive maxPromptTokens use the defaults.
func NewOpenAIGenerator(client *openai.Client, model string, maxPromptTokens int, logger *slog.Logger) *OpenAIGenerator {
	if model == "" {
		model = DefaultOpenAIModel
	}
	if maxPromptTokens <= 0 {
		maxPromptTokens = DefaultMaxPromptTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIGenerator{
		client:          client,
		model:           model,
		maxPromptTokens: maxPromptTokens,
		logger:          logger,
	}
}

// Name returns the chat model name.
func (g *OpenAIGenerator) Name() string { return g.model }

// Generate sends prompt as a single user message.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(truncatePrompt(prompt, g.maxPromptTokens, g.logger)),
		},
		Model: openai.ChatModel(g.model),
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}
