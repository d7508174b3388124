package providers

import (
	"context"
	"fmt"

	"ragpipe/internal/metrics"
	"ragpipe/internal/util"
)

const DefaultEmbedBatchSize = 32

// BatchClient splits inputs into fixed-size provider calls. The first failing batch aborts
// the whole operation.
type BatchClient struct {
	provider  EmbeddingProvider
	batchSize int
	dimension int
	metrics   *metrics.Metrics
}

func NewBatchClient(p EmbeddingProvider, batchSize, dimension int, m *metrics.Metrics) *BatchClient {
	if batchSize <= 0 {
		batchSize = DefaultEmbedBatchSize
	}
	return &BatchClient{provider: p, batchSize: batchSize, dimension: dimension, metrics: m}
}

func (c *BatchClient) Dimension() int { return c.dimension }

// EmbedBatches calls fn once per batch, in order, with the offset of the batch's first input.
func (c *BatchClient) EmbedBatches(ctx context.Context, op string, texts []string, fn func(start int, vectors [][]float32) error) error {
	for start, batch := 0, 0; start < len(texts); start, batch = start+c.batchSize, batch+1 {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, _, err := c.provider.Embed(ctx, EmbedRequest{Operation: op, Inputs: texts[start:end], Dimension: c.dimension})
		if err == nil && len(vectors) != end-start {
			err = fmt.Errorf("provider returned %d vectors for %d inputs", len(vectors), end-start)
		}
		if err != nil {
			c.metrics.EmbedBatch("error", string(ClassifyError(err)))
			return &util.ProviderError{Op: op, Batch: batch, Err: err}
		}
		c.metrics.EmbedBatch("ok", "")
		if err := fn(start, vectors); err != nil {
			return err
		}
	}
	return nil
}

// Embed returns one vector per text in input order.
func (c *BatchClient) Embed(ctx context.Context, op string, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	err := c.EmbedBatches(ctx, op, texts, func(start int, vectors [][]float32) error {
		copy(out[start:], vectors)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BatchClient) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vectors, _, err := c.provider.Embed(ctx, EmbedRequest{Operation: "query", Inputs: []string{query}, Dimension: c.dimension})
	if err == nil && len(vectors) != 1 {
		err = fmt.Errorf("provider returned %d vectors for 1 input", len(vectors))
	}
	if err != nil {
		c.metrics.EmbedBatch("error", string(ClassifyError(err)))
		return nil, &util.ProviderError{Op: "query", Batch: -1, Err: err}
	}
	c.metrics.EmbedBatch("ok", "")
	return vectors[0], nil
}
