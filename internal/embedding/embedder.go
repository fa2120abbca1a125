package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultBatchSize is the maximum number of texts sent to the model per call.
	DefaultBatchSize = 32

	// DefaultWorkers is the number of concurrent model calls.
	DefaultWorkers = 2

	// DefaultCallTimeout bounds a single model call.
	DefaultCallTimeout = 60 * time.Second
)

// Config controls how the Embedder dispatches model calls.
type Config struct {
	BatchSize   int           `yaml:"batch_size"`
	Workers     int           `yaml:"workers"`
	QueueSize   int           `yaml:"queue_size"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// DefaultConfig returns the default dispatch settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:   DefaultBatchSize,
		Workers:     DefaultWorkers,
		QueueSize:   DefaultQueueSize,
		CallTimeout: DefaultCallTimeout,
	}
}

// Embedder turns text into unit vectors using a Model.
// Blank text maps to the zero vector without a model call, and model failures
// are logged and replaced by zero vectors. The only errors returned are
// cancellation and deadline errors from the caller's context.
type Embedder struct {
	model  Model
	pool   *Pool
	cfg    Config
	logger *slog.Logger
}

// NewEmbedder creates an Embedder and starts its worker pool.
// Call Close to stop the workers.
func NewEmbedder(model Model, cfg Config, logger *slog.Logger) *Embedder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Embedder{
		model:  model,
		pool:   NewPool(cfg.Workers, cfg.QueueSize),
		cfg:    cfg,
		logger: logger,
	}
}

// Close stops the worker pool.
func (e *Embedder) Close() {
	e.pool.Close()
}

// ModelName returns the underlying model's name.
func (e *Embedder) ModelName() string { return e.model.Name() }

// Dimension returns the vector size produced by this Embedder.
func (e *Embedder) Dimension() int { return e.model.Dimension() }

// EmbedOne embeds a single text on the query lane.
func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	dim := e.model.Dimension()
	if strings.TrimSpace(text) == "" {
		return Zero(dim), nil
	}

	fut, err := Submit(ctx, e.pool, LaneQuery, func(ctx context.Context) ([][]float32, error) {
		return e.encode(ctx, []string{text})
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Warn("Embedding dispatch failed, using zero vector", "error", err)
		return Zero(dim), nil
	}

	vecs, err := fut.Wait(ctx)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		e.logger.Warn("Embedding failed, using zero vector", "model", e.model.Name(), "error", err)
		return Zero(dim), nil
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in sub-batches of at most batchSize, preserving
// input order. Non-positive batchSize uses the configured default. Sub-batches
// run concurrently on the batch lane.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = e.cfg.BatchSize
	}
	dim := e.model.Dimension()
	out := make([][]float32, len(texts))

	// Positions of texts that reach the model.
	var live []int
	for i, t := range texts {
		if strings.TrimSpace(t) != "" {
			live = append(live, i)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(live); start += batchSize {
		positions := live[start:min(start+batchSize, len(live))]
		batch := make([]string, len(positions))
		for j, pos := range positions {
			batch[j] = texts[pos]
		}

		fut, err := Submit(gctx, e.pool, LaneBatch, func(ctx context.Context) ([][]float32, error) {
			return e.encode(ctx, batch)
		})
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			e.logger.Warn("Embedding dispatch failed, using zero vectors",
				"batch_start", positions[0], "size", len(batch), "error", err)
			continue
		}

		g.Go(func() error {
			vecs, err := fut.Wait(gctx)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				e.logger.Warn("Embedding batch failed, using zero vectors",
					"model", e.model.Name(), "batch_start", positions[0], "size", len(batch), "error", err)
				return nil
			}
			for j, pos := range positions {
				out[pos] = vecs[j]
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if out[i] == nil {
			out[i] = Zero(dim)
		}
	}
	return out, nil
}

// encode runs one model call under the per-call timeout and normalizes the result.
func (e *Embedder) encode(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	vecs, err := e.model.Encode(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("model %s returned %d vectors for %d texts", e.model.Name(), len(vecs), len(texts))
	}

	dim := e.model.Dimension()
	out := make([][]float32, len(vecs))
	for i, v := range vecs {
		if len(v) != dim {
			return nil, fmt.Errorf("model %s returned dimension %d, want %d", e.model.Name(), len(v), dim)
		}
		out[i] = Normalize(v)
	}
	return out, nil
}
