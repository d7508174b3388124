package retrieval

import (
	"context"
	"fmt"
	"strings"

	"ragpipe/internal/models"
)

const (
	DefaultMaxContextChars = 16000
	NoContext              = "No relevant context found in documents."
)

// BuildContext retrieves and renders a context window grouped by source. Any retrieval failure
// degrades to NoContext so the caller can still answer.
func (e *Engine) BuildContext(ctx context.Context, query, collectionID string, opts Options, maxChars int) (string, []models.RetrievedChunk) {
	chunks, err := e.Retrieve(ctx, query, collectionID, opts)
	if err != nil {
		e.logger.Warn("retrieval unavailable, answering without context", "collection_id", collectionID, "error", err)
		return NoContext, nil
	}
	return RenderContext(chunks, maxChars), chunks
}

// RenderContext groups chunks under "=== From <source> ===" headers in first-seen order and
// stops adding excerpts once maxChars would be exceeded.
func RenderContext(chunks []models.RetrievedChunk, maxChars int) string {
	if len(chunks) == 0 {
		return NoContext
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxContextChars
	}
	var order []string
	groups := map[string][]models.RetrievedChunk{}
	for _, c := range chunks {
		name := c.SourceName
		if name == "" {
			name = c.DocumentID
		}
		if _, ok := groups[name]; !ok {
			order = append(order, name)
		}
		groups[name] = append(groups[name], c)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found relevant information from %d document(s):\n\n", len(order))
	for _, name := range order {
		header := "=== From " + name + " ===\n"
		if b.Len()+len(header) > maxChars {
			break
		}
		b.WriteString(header)
		for i, c := range groups[name] {
			line := fmt.Sprintf("[Excerpt %d] %s\n", i+1, c.Content)
			if b.Len()+len(line) > maxChars {
				return strings.TrimRight(b.String(), "\n")
			}
			b.WriteString(line)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
