package retrieval

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"ragpipe/internal/models"
)

type pairEmbedder struct{ batches []int }

// relevant pairs embed close to the query direction
func (p *pairEmbedder) Embed(_ context.Context, _ string, texts []string) ([][]float32, error) {
	p.batches = append(p.batches, len(texts))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if strings.Contains(t, "relevant") {
			out[i] = []float32{1, 0}
		} else {
			out[i] = []float32{0, 1}
		}
	}
	return out, nil
}

func TestEmbeddingRerankerPromotesRelevantPairs(t *testing.T) {
	in := make([]models.RetrievedChunk, 0, 45)
	for i := 0; i < 45; i++ {
		text := fmt.Sprintf("filler %d", i)
		if i == 44 {
			text = "the relevant passage"
		}
		in = append(in, models.RetrievedChunk{ID: fmt.Sprint(i), Content: text, Similarity: 0.8, Score: 0.8})
	}
	emb := &pairEmbedder{}
	out, err := NewEmbeddingReranker(emb).Rerank(context.Background(), "query", []float32{1, 0}, in)
	require.NoError(t, err)
	require.Equal(t, []int{20, 20, 5}, emb.batches)
	require.Len(t, out, 45)
	require.InDelta(t, 0.9, out[44].RerankScore, 1e-9)
	require.InDelta(t, 0.4, out[0].RerankScore, 1e-9)
	require.Equal(t, 0.8, in[0].Score)
}
