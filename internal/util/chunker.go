package util

import "strings"

// ChunkOptions is the per call site chunking policy.
type ChunkOptions struct {
	Size          int
	Overlap       int
	MaxChunks     int
	MaxInputChars int
}

// Chunk normalizes raw text and splits it into at most MaxChunks overlapping windows.
// The same input and options always produce the same windows.
func Chunk(raw string, opts ChunkOptions) []string {
	maxInput := opts.MaxInputChars
	if maxInput <= 0 {
		maxInput = DefaultMaxInputChars
	}
	windows := ChunkText(NormalizeText(raw, maxInput), opts.Size, opts.Overlap)
	if opts.MaxChunks > 0 && len(windows) > opts.MaxChunks {
		windows = windows[:opts.MaxChunks]
	}
	return windows
}

// ChunkText cuts text into windows of chunkSize runes, each starting chunkSize-overlap runes
// after the previous one. An overlap that would stall the walk is ignored. Windows are kept
// verbatim; only windows that are blank after trimming are dropped.
func ChunkText(text string, chunkSize, overlap int) []string {
	if chunkSize <= 0 {
		chunkSize = 800
	}
	step := chunkSize - overlap
	if overlap < 0 || overlap >= chunkSize {
		step = chunkSize
	}
	runes := []rune(text)
	out := make([]string, 0, len(runes)/step+1)
	for i := 0; i < len(runes); i += step {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		part := string(runes[i:end])
		if strings.TrimSpace(part) != "" {
			out = append(out, part)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}
