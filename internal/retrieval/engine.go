package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"ragpipe/internal/config"
	"ragpipe/internal/metrics"
	"ragpipe/internal/models"
	"ragpipe/internal/util"
	"ragpipe/internal/vector"
)

const (
	DefaultTopK             = 8
	DefaultOversampleFactor = 3
	DefaultHardCap          = 50
)

type Options struct {
	TopK                int     `json:"top_k"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	UseReranking        bool    `json:"use_reranking"`
	DiversityPenalty    float64 `json:"diversity_penalty"`
	OversampleFactor    int     `json:"oversample_factor"`
}

func OptionsFromPreset(p config.RetrievalPreset) Options {
	return Options{
		TopK:                p.TopK,
		SimilarityThreshold: p.SimilarityThreshold,
		UseReranking:        p.UseReranking,
		DiversityPenalty:    p.DiversityPenalty,
		OversampleFactor:    p.OversampleFactor,
	}
}

type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// Reranker rescores candidates against the query. It sets RerankScore and Score and may
// reorder; it must not drop candidates.
type Reranker interface {
	Rerank(ctx context.Context, query string, queryVec []float32, candidates []models.RetrievedChunk) ([]models.RetrievedChunk, error)
}

type Engine struct {
	embedder QueryEmbedder
	index    vector.Index
	reranker Reranker
	hardCap  int
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewEngine(embedder QueryEmbedder, index vector.Index, reranker Reranker, hardCap int, logger *slog.Logger, m *metrics.Metrics) *Engine {
	if hardCap <= 0 {
		hardCap = DefaultHardCap
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		embedder: embedder,
		index:    index,
		reranker: reranker,
		hardCap:  hardCap,
		logger:   logger.With("component", "retrieval"),
		metrics:  m,
	}
}

// Retrieve returns at most TopK chunks of the collection in final score order. No match is an
// empty result, not an error.
func (e *Engine) Retrieve(ctx context.Context, query, collectionID string, opts Options) ([]models.RetrievedChunk, error) {
	start := time.Now()
	out, err := e.retrieve(ctx, query, collectionID, opts)
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case len(out) == 0:
		outcome = "empty"
	}
	e.metrics.Retrieval(outcome, time.Since(start), len(out))
	return out, err
}

func (e *Engine) retrieve(ctx context.Context, query, collectionID string, opts Options) ([]models.RetrievedChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, util.Invalid("query", "required")
	}
	if collectionID == "" {
		return nil, util.Invalid("collection_id", "required")
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.OversampleFactor <= 0 {
		opts.OversampleFactor = DefaultOversampleFactor
	}

	queryVec, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	matches, err := e.index.Query(ctx, queryVec, min(opts.TopK*opts.OversampleFactor, e.hardCap), vector.Filter{CollectionID: collectionID})
	if err != nil {
		return nil, &util.ProviderError{Op: "vector query", Batch: -1, Err: err}
	}

	candidates := make([]models.RetrievedChunk, 0, len(matches))
	for _, m := range matches {
		if m.Similarity < opts.SimilarityThreshold {
			continue
		}
		candidates = append(candidates, models.RetrievedChunk{
			ID:         m.ID,
			Content:    m.Metadata.Text,
			Similarity: m.Similarity,
			Score:      m.Similarity,
			DocumentID: m.Metadata.DocumentID,
			SourceName: m.Metadata.SourceName,
			ChunkIndex: m.Metadata.ChunkIndex,
		})
	}
	if len(candidates) == 0 {
		return []models.RetrievedChunk{}, nil
	}
	sortByScore(candidates)

	if opts.UseReranking && e.reranker != nil && len(candidates) > opts.TopK {
		reranked, err := e.reranker.Rerank(ctx, query, queryVec, candidates)
		if err != nil {
			e.logger.Warn("rerank failed, keeping similarity order", "error", err)
		} else {
			candidates = reranked
			sortByScore(candidates)
		}
	}
	if opts.DiversityPenalty > 0 {
		candidates = ApplyDiversityPenalty(candidates, opts.DiversityPenalty)
	}
	if len(candidates) > opts.TopK {
		candidates = candidates[:opts.TopK]
	}
	return candidates, nil
}

// ApplyDiversityPenalty walks the ranked list and scales the k-th repeat of a document
// (k counted from zero) by max(0, 1 - k*penalty), then re-sorts. The input is not modified.
func ApplyDiversityPenalty(chunks []models.RetrievedChunk, penalty float64) []models.RetrievedChunk {
	out := make([]models.RetrievedChunk, len(chunks))
	copy(out, chunks)
	seen := make(map[string]int, len(out))
	for i := range out {
		k := seen[out[i].DocumentID]
		out[i].Score *= max(0, 1-float64(k)*penalty)
		seen[out[i].DocumentID] = k + 1
	}
	sortByScore(out)
	return out
}

func sortByScore(c []models.RetrievedChunk) {
	sort.SliceStable(c, func(i, j int) bool { return c[i].Score > c[j].Score })
}
