package vector

import (
	"context"
	"fmt"
	"log/slog"

	"ragpipe/internal/metrics"
	"ragpipe/internal/util"
)

const DefaultBatchSize = 100

// Writer is the only path that mutates the index. Upserts and id deletes go out in
// bounded batches.
type Writer struct {
	index     Index
	batchSize int
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func NewWriter(index Index, batchSize int, logger *slog.Logger, m *metrics.Metrics) *Writer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{index: index, batchSize: batchSize, logger: logger.With("component", "vector_writer"), metrics: m}
}

func (w *Writer) Index() Index { return w.index }

// Upsert returns how many records reached the index before any error.
func (w *Writer) Upsert(ctx context.Context, records []Record) (int, error) {
	written := 0
	for start, batch := 0, 0; start < len(records); start, batch = start+w.batchSize, batch+1 {
		end := min(start+w.batchSize, len(records))
		if err := w.index.Upsert(ctx, records[start:end]); err != nil {
			return written, &util.ProviderError{Op: "vector upsert", Batch: batch, Err: err}
		}
		written += end - start
		w.metrics.Upserted(end - start)
	}
	return written, nil
}

func (w *Writer) DeleteByIDs(ctx context.Context, ids []string) error {
	deleted := 0
	for start, batch := 0, 0; start < len(ids); start, batch = start+w.batchSize, batch+1 {
		end := min(start+w.batchSize, len(ids))
		if err := w.index.DeleteByIDs(ctx, ids[start:end]); err != nil {
			w.logger.Error("vector delete batch failed", "batch", batch, "size", end-start, "deleted", deleted, "total", len(ids), "error", err)
			return &util.ProviderError{Op: "vector delete", Batch: batch, Err: err}
		}
		deleted += end - start
		w.logger.Info("vector delete batch", "batch", batch, "size", end-start, "deleted", deleted, "total", len(ids))
	}
	w.metrics.Deleted("ids")
	return nil
}

func (w *Writer) DeleteByDocument(ctx context.Context, documentID string) error {
	if documentID == "" {
		return util.Invalid("document_id", "required")
	}
	if err := w.index.DeleteByFilter(ctx, Filter{DocumentID: documentID}); err != nil {
		return &util.ProviderError{Op: "vector delete document " + documentID, Batch: -1, Err: err}
	}
	w.metrics.Deleted("document_filter")
	return nil
}

func (w *Writer) DeleteByCollection(ctx context.Context, collectionID string) error {
	if collectionID == "" {
		return util.Invalid("collection_id", "required")
	}
	if err := w.index.DeleteByFilter(ctx, Filter{CollectionID: collectionID}); err != nil {
		return &util.ProviderError{Op: fmt.Sprintf("vector delete collection %s", collectionID), Batch: -1, Err: err}
	}
	w.metrics.Deleted("collection_filter")
	return nil
}
