package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
)

const (
	// DefaultOpenAIModel is the OpenAI model used for generating embeddings.
	DefaultOpenAIModel = "text-embedding-3-small"

	// DefaultOpenAIDimension is the native dimension of text-embedding-3-small.
	DefaultOpenAIDimension = 1536
)

// OpenAIModel generates embeddings with the OpenAI embeddings endpoint.
// It retries with exponential backoff on rate limit errors.
type OpenAIModel struct {
	client     *Client
	model      string
	dimensions int
}

// NewOpenAIModel creates an OpenAI-backed Model. The dimensions value is sent
// with every request so text-embedding-3 models return vectors of that size.
func NewOpenAIModel(client *Client, model string, dimensions int) *OpenAIModel {
	if model == "" {
		model = DefaultOpenAIModel
	}
	if dimensions <= 0 {
		dimensions = DefaultOpenAIDimension
	}
	return &OpenAIModel{
		client:     client,
		model:      model,
		dimensions: dimensions,
	}
}

// Name returns the model identifier.
func (m *OpenAIModel) Name() string { return m.model }

// Dimension returns the requested vector size.
func (m *OpenAIModel) Dimension() int { return m.dimensions }

// Encode embeds texts in a single request.
func (m *OpenAIModel) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return m.embedBatchWithRetry(ctx, texts)
}

// embedBatchWithRetry generates embeddings for a single batch with retry logic.
// Retries with exponential backoff on rate limit errors (HTTP 429).
// Other errors are treated as permanent and fail immediately.
func (m *OpenAIModel) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var embeddings [][]float32

	operation := func() error {
		resp, err := m.client.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
			Model:      openai.EmbeddingModel(m.model),
			Dimensions: openai.Int(int64(m.dimensions)),
		})
		if err != nil {
			if isRateLimitError(err) {
				return err
			}
			return backoff.Permanent(err)
		}

		if len(resp.Data) != len(texts) {
			return backoff.Permanent(fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data)))
		}

		// Data carries its input position; do not assume response order.
		embeddings = make([][]float32, len(texts))
		for i, data := range resp.Data {
			pos := int(data.Index)
			if pos < 0 || pos >= len(texts) {
				pos = i
			}
			embeddings[pos] = toFloat32(data.Embedding)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	return embeddings, nil
}

// isRateLimitError checks if the error is a rate limit error (HTTP 429).
func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// toFloat32 converts []float64 to []float32.
// OpenAI API returns float64, but the index stores float32.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
