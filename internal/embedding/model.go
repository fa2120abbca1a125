// Package embedding maps text to fixed-dimension, unit-normalized vectors.
//
// A Model is the raw numeric capability (OpenAI, Ollama or the offline
// hashing model). The Embedder wraps a Model with the ingestion policy:
// blank text never reaches the model, model failures degrade to zero
// vectors, and every call runs on a worker Pool off the caller's goroutine.
package embedding

import "context"

// Model encodes texts into vectors of a fixed dimension.
// Implementations must return exactly one vector per input text, in order.
type Model interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Name() string
}
