package config

import "strings"

const (
	PresetMaximumQuality = "maximum_quality"
	PresetBalanced       = "balanced"
	PresetFast           = "fast"
)

// RetrievalPreset holds the query-time knobs a caller may start from.
type RetrievalPreset struct {
	TopK                int     `json:"top_k"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	UseReranking        bool    `json:"use_reranking"`
	DiversityPenalty    float64 `json:"diversity_penalty"`
	OversampleFactor    int     `json:"oversample_factor"`
}

var retrievalPresets = map[string]RetrievalPreset{
	PresetMaximumQuality: {TopK: 12, SimilarityThreshold: 0.60, UseReranking: true, DiversityPenalty: 0.25, OversampleFactor: 4},
	PresetBalanced:       {TopK: 8, SimilarityThreshold: 0.65, UseReranking: true, DiversityPenalty: 0.20, OversampleFactor: 3},
	PresetFast:           {TopK: 5, SimilarityThreshold: 0.70, UseReranking: false, DiversityPenalty: 0.10, OversampleFactor: 1},
}

// Preset returns the named preset, falling back to balanced.
func Preset(name string) RetrievalPreset {
	if p, ok := retrievalPresets[strings.ToLower(strings.TrimSpace(name))]; ok {
		return p
	}
	return retrievalPresets[PresetBalanced]
}

// ChunkProfile is the window size and overlap used for one family of content types.
type ChunkProfile struct {
	Size    int
	Overlap int
}

// ChunkProfileFor picks the chunk profile for a MIME type or file extension.
func ChunkProfileFor(contentType string) ChunkProfile {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "csv"):
		return ChunkProfile{Size: 600, Overlap: 100}
	case strings.Contains(ct, "pdf"):
		return ChunkProfile{Size: 1000, Overlap: 250}
	default:
		return ChunkProfile{Size: 800, Overlap: 200}
	}
}
