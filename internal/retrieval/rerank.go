package retrieval

import (
	"context"
	"math"

	"ragpipe/internal/models"
)

const rerankBatchSize = 20

type TextEmbedder interface {
	Embed(ctx context.Context, op string, texts []string) ([][]float32, error)
}

// EmbeddingReranker embeds each candidate together with the query and scores how close the
// pair lands to the query alone. The final score averages that with first-pass similarity.
type EmbeddingReranker struct {
	embedder TextEmbedder
}

func NewEmbeddingReranker(e TextEmbedder) *EmbeddingReranker {
	return &EmbeddingReranker{embedder: e}
}

func (r *EmbeddingReranker) Rerank(ctx context.Context, query string, queryVec []float32, candidates []models.RetrievedChunk) ([]models.RetrievedChunk, error) {
	out := make([]models.RetrievedChunk, len(candidates))
	copy(out, candidates)
	for start := 0; start < len(out); start += rerankBatchSize {
		end := min(start+rerankBatchSize, len(out))
		pairs := make([]string, 0, end-start)
		for _, c := range out[start:end] {
			pairs = append(pairs, query+"\n\n"+c.Content)
		}
		vectors, err := r.embedder.Embed(ctx, "rerank", pairs)
		if err != nil {
			return nil, err
		}
		for i, v := range vectors {
			c := &out[start+i]
			c.RerankScore = (c.Similarity + cosine(queryVec, v)) / 2
			c.Score = c.RerankScore
		}
	}
	return out, nil
}

func cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
