package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/cenkalti/backoff/v4"

	"ragpipe/internal/config"
	"ragpipe/internal/extract"
	"ragpipe/internal/metrics"
	"ragpipe/internal/models"
	"ragpipe/internal/objectstore"
	"ragpipe/internal/util"
	"ragpipe/internal/vector"
)

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeAborted   Outcome = "aborted"
)

const (
	DefaultMaxChunks        = 1000
	DefaultPreviewMaxChunks = 32
	noTextMessage           = "no text content"
)

type DocumentStore interface {
	Get(ctx context.Context, id string) (models.Document, error)
	ClaimProcessing(ctx context.Context, id string, from models.DocumentStatus, owner string) (bool, error)
	TransitionStatus(ctx context.Context, id string, from, to models.DocumentStatus, message string) (bool, error)
	Complete(ctx context.Context, id string, chunks []models.Chunk, message string) error
}

type CleanupEnqueuer interface {
	Enqueue(ctx context.Context, job models.CleanupJob) (models.CleanupJob, error)
}

type Embedder interface {
	Embed(ctx context.Context, op string, texts []string) ([][]float32, error)
	EmbedBatches(ctx context.Context, op string, texts []string, fn func(start int, vectors [][]float32) error) error
}

type VectorWriter interface {
	Upsert(ctx context.Context, records []vector.Record) (int, error)
	DeleteByIDs(ctx context.Context, ids []string) error
	DeleteByDocument(ctx context.Context, documentID string) error
}

type Result struct {
	DocumentID string                `json:"document_id"`
	Outcome    Outcome               `json:"outcome"`
	Status     models.DocumentStatus `json:"status"`
	ChunkCount int                   `json:"chunk_count"`
	Message    string                `json:"message,omitempty"`
}

type PreviewChunk struct {
	Index     int       `json:"index"`
	Content   string    `json:"content"`
	Chars     int       `json:"chars"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// Pipeline drives a document from pending to completed or failed. The status row is the only
// shared state; every transition is a conditional update on it.
type Pipeline struct {
	docs     DocumentStore
	cleanup  CleanupEnqueuer
	objects  objectstore.Store
	embedder Embedder
	writer   VectorWriter

	maxInputChars    int
	maxChunks        int
	previewMaxChunks int
	profile          func(contentType string) config.ChunkProfile
	newBackOff       func() backoff.BackOff
	logger           *slog.Logger
	metrics          *metrics.Metrics
}

type Option func(*Pipeline)

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithLimits(maxInputChars, maxChunks, previewMaxChunks int) Option {
	return func(p *Pipeline) {
		if maxInputChars > 0 {
			p.maxInputChars = maxInputChars
		}
		if maxChunks > 0 {
			p.maxChunks = maxChunks
		}
		if previewMaxChunks > 0 {
			p.previewMaxChunks = previewMaxChunks
		}
	}
}

// WithChunkProfile pins one window size for every content type.
func WithChunkProfile(size, overlap int) Option {
	return func(p *Pipeline) {
		p.profile = func(string) config.ChunkProfile { return config.ChunkProfile{Size: size, Overlap: overlap} }
	}
}

func WithRollbackBackOff(f func() backoff.BackOff) Option {
	return func(p *Pipeline) { p.newBackOff = f }
}

func New(docs DocumentStore, cleanup CleanupEnqueuer, objects objectstore.Store, embedder Embedder, writer VectorWriter, opts ...Option) *Pipeline {
	p := &Pipeline{
		docs:             docs,
		cleanup:          cleanup,
		objects:          objects,
		embedder:         embedder,
		writer:           writer,
		maxInputChars:    util.DefaultMaxInputChars,
		maxChunks:        DefaultMaxChunks,
		previewMaxChunks: DefaultPreviewMaxChunks,
		profile:          config.ChunkProfileFor,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 10 * time.Second
			return b
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "ingest")
	return p
}

// BeginProcessing claims the document and runs the pipeline. A document that is already
// processing or completed yields util.ErrAlreadyProcessing or util.ErrAlreadyCompleted.
func (p *Pipeline) BeginProcessing(ctx context.Context, documentID string) (Result, error) {
	doc, err := p.Claim(ctx, documentID)
	if err != nil {
		return Result{DocumentID: documentID}, err
	}
	return p.Run(ctx, doc)
}

// Retry re-runs a failed document through the same guard.
func (p *Pipeline) Retry(ctx context.Context, documentID string) (Result, error) {
	return p.BeginProcessing(ctx, documentID)
}

// Claim performs the single conditional pending|failed -> processing update.
func (p *Pipeline) Claim(ctx context.Context, documentID string) (models.Document, error) {
	return p.ClaimAs(ctx, documentID, "")
}

// ClaimAs is Claim with an owner token recorded on the row. A processing document already
// owned by the same non-empty token is returned as claimed, so a retried claim whose first
// attempt committed is not mistaken for a concurrent run.
func (p *Pipeline) ClaimAs(ctx context.Context, documentID, owner string) (models.Document, error) {
	doc, err := p.docs.Get(ctx, documentID)
	if err != nil {
		return models.Document{}, err
	}
	if doc.Content == "" && doc.StoragePath == "" && doc.Source.Text() == "" {
		return models.Document{}, util.Invalid("content", "document has neither content nor a storage path")
	}
	if ownedBy(doc, owner) {
		p.logger.Info("claim already held", "document_id", doc.ID, "owner", owner)
		return doc, nil
	}
	if err := noopFor(doc); err != nil {
		return models.Document{}, err
	}
	ok, err := p.docs.ClaimProcessing(ctx, doc.ID, doc.Status, owner)
	if err != nil {
		return models.Document{}, err
	}
	if !ok {
		// lost the race; report what the winner left behind
		current, err := p.docs.Get(ctx, documentID)
		if err != nil {
			return models.Document{}, err
		}
		if ownedBy(current, owner) {
			return current, nil
		}
		if err := noopFor(current); err != nil {
			return models.Document{}, err
		}
		return models.Document{}, fmt.Errorf("claim document %s: status moved from %s to %s", documentID, doc.Status, current.Status)
	}
	doc.Status = models.StatusProcessing
	doc.ErrorMessage = ""
	doc.ClaimedBy = owner
	return doc, nil
}

func ownedBy(doc models.Document, owner string) bool {
	return owner != "" && doc.Status == models.StatusProcessing && doc.ClaimedBy == owner
}

func noopFor(doc models.Document) error {
	switch doc.Status {
	case models.StatusProcessing:
		return fmt.Errorf("document %s: %w", doc.ID, util.ErrAlreadyProcessing)
	case models.StatusCompleted:
		return fmt.Errorf("document %s: %w", doc.ID, util.ErrAlreadyCompleted)
	}
	return nil
}

// Run executes chunk, embed, vector write and chunk-row persistence for a claimed document.
// On failure the document ends failed with its vectors rolled back, and the returned error
// carries the cause.
func (p *Pipeline) Run(ctx context.Context, doc models.Document) (Result, error) {
	done := p.metrics.IngestStarted()
	logger := p.logger.With("document_id", doc.ID, "collection_id", doc.CollectionID)
	res := Result{DocumentID: doc.ID}

	text, err := p.loadText(ctx, doc)
	if err != nil {
		done(string(OutcomeFailed))
		return p.fail(ctx, logger, doc, nil, err)
	}
	profile := p.profile(doc.ContentType + " " + fileName(doc))
	chunks := util.Chunk(text, util.ChunkOptions{
		Size:          profile.Size,
		Overlap:       profile.Overlap,
		MaxChunks:     p.maxChunks,
		MaxInputChars: p.maxInputChars,
	})
	if len(chunks) == 0 {
		if err := p.docs.Complete(ctx, doc.ID, nil, noTextMessage); err != nil {
			if errors.Is(err, util.ErrNotFound) {
				done(string(OutcomeAborted))
				return p.abort(logger, doc), nil
			}
			done(string(OutcomeFailed))
			return p.fail(ctx, logger, doc, nil, err)
		}
		logger.Info("document has no text content")
		done(string(OutcomeCompleted))
		res.Outcome, res.Status, res.Message = OutcomeCompleted, models.StatusCompleted, noTextMessage
		return res, nil
	}

	var attempted []string
	err = p.embedder.EmbedBatches(ctx, "ingest", chunks, func(start int, vectors [][]float32) error {
		records := make([]vector.Record, len(vectors))
		for i, v := range vectors {
			idx := start + i
			records[i] = vector.Record{ID: models.ChunkID(doc.ID, idx), Vector: v, Metadata: metadataFor(doc, idx, chunks[idx])}
			attempted = append(attempted, records[i].ID)
		}
		n, err := p.writer.Upsert(ctx, records)
		logger.Debug("vector batch upserted", "start", start, "written", n, "size", len(records))
		return err
	})
	if err != nil {
		done(string(OutcomeFailed))
		return p.fail(ctx, logger, doc, attempted, err)
	}

	rows := make([]models.Chunk, len(chunks))
	for i, c := range chunks {
		rows[i] = models.Chunk{
			ID:           models.ChunkID(doc.ID, i),
			DocumentID:   doc.ID,
			CollectionID: doc.CollectionID,
			ChunkIndex:   i,
			Content:      c,
			ContentHash:  util.SHA256Hex([]byte(c)),
		}
	}
	if err := p.docs.Complete(ctx, doc.ID, rows, ""); err != nil {
		if errors.Is(err, util.ErrNotFound) {
			_ = p.rollback(context.WithoutCancel(ctx), logger, doc, attempted)
			done(string(OutcomeAborted))
			return p.abort(logger, doc), nil
		}
		done(string(OutcomeFailed))
		return p.fail(ctx, logger, doc, attempted, &util.PartialWriteError{DocumentID: doc.ID, Written: len(attempted), Err: err})
	}
	p.metrics.AddChunks(len(rows))
	done(string(OutcomeCompleted))
	logger.Info("document ingested", "chunks", len(rows))
	res.Outcome, res.Status, res.ChunkCount = OutcomeCompleted, models.StatusCompleted, len(rows)
	return res, nil
}

func (p *Pipeline) abort(logger *slog.Logger, doc models.Document) Result {
	logger.Warn("document deleted during ingestion")
	return Result{DocumentID: doc.ID, Outcome: OutcomeAborted, Message: "document deleted during ingestion"}
}

// fail rolls back vectors, then records processing -> failed with the cause.
func (p *Pipeline) fail(ctx context.Context, logger *slog.Logger, doc models.Document, attempted []string, cause error) (Result, error) {
	ctx = context.WithoutCancel(ctx)
	logger.Error("ingestion failed", "error", cause, "vectors_attempted", len(attempted))
	_ = p.rollback(ctx, logger, doc, attempted)

	msg := util.ErrorMessage(cause)
	ok, err := p.docs.TransitionStatus(ctx, doc.ID, models.StatusProcessing, models.StatusFailed, msg)
	if err != nil {
		return Result{DocumentID: doc.ID}, fmt.Errorf("mark document failed after %v: %w", cause, err)
	}
	if !ok {
		logger.Warn("document left processing before it could be marked failed")
	}
	return Result{DocumentID: doc.ID, Outcome: OutcomeFailed, Status: models.StatusFailed, Message: msg}, cause
}

// rollback deletes the given vector ids with bounded retries. When that still fails the ids
// go to the cleanup queue.
func (p *Pipeline) rollback(ctx context.Context, logger *slog.Logger, doc models.Document, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	attempt := 0
	op := func() error {
		attempt++
		return p.writer.DeleteByIDs(ctx, ids)
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("vector rollback attempt failed", "attempt", attempt, "retry_in", wait, "error", err)
	}
	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(p.newBackOff(), 3), ctx), notify)
	if err == nil {
		p.metrics.Rollback("ok")
		logger.Info("vectors rolled back", "count", len(ids), "attempts", attempt)
		return nil
	}
	p.metrics.Rollback("failed")
	pwe := &util.PartialWriteError{DocumentID: doc.ID, Written: len(ids), Err: err}
	logger.Error("partial write", "error", pwe, "vector_ids", len(ids))
	job, qerr := p.cleanup.Enqueue(ctx, models.CleanupJob{
		Reason:       models.ReasonIngestRollback,
		TenantID:     doc.TenantID,
		CollectionID: doc.CollectionID,
		DocumentIDs:  []string{doc.ID},
		VectorIDs:    ids,
	})
	if qerr != nil {
		logger.Error("enqueue rollback cleanup failed", "error", qerr)
		return pwe
	}
	logger.Info("rollback handed to cleanup queue", "job_id", job.ID)
	return pwe
}

// Fail records a failure for a run that died without reaching its own failure path. It removes
// the document's vectors by filter since the written ids are unknown.
func (p *Pipeline) Fail(ctx context.Context, documentID, message string) error {
	doc, err := p.docs.Get(ctx, documentID)
	if errors.Is(err, util.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	logger := p.logger.With("document_id", doc.ID, "collection_id", doc.CollectionID)
	if err := p.writer.DeleteByDocument(ctx, doc.ID); err != nil {
		logger.Error("vector delete by document failed", "error", err)
		if _, qerr := p.cleanup.Enqueue(ctx, models.CleanupJob{
			Reason:       models.ReasonIngestRollback,
			TenantID:     doc.TenantID,
			CollectionID: doc.CollectionID,
			DocumentIDs:  []string{doc.ID},
		}); qerr != nil {
			logger.Error("enqueue rollback cleanup failed", "error", qerr)
		}
	}
	if _, err := p.docs.TransitionStatus(ctx, doc.ID, models.StatusProcessing, models.StatusFailed, message); err != nil {
		return err
	}
	return nil
}

// Preview chunks and embeds text without persisting anything.
func (p *Pipeline) Preview(ctx context.Context, text, contentType string) ([]PreviewChunk, error) {
	profile := p.profile(contentType)
	chunks := util.Chunk(text, util.ChunkOptions{
		Size:          profile.Size,
		Overlap:       profile.Overlap,
		MaxChunks:     p.previewMaxChunks,
		MaxInputChars: p.maxInputChars,
	})
	if len(chunks) == 0 {
		return nil, util.Invalid("content", noTextMessage)
	}
	vectors, err := p.embedder.Embed(ctx, "preview", chunks)
	if err != nil {
		return nil, err
	}
	out := make([]PreviewChunk, len(chunks))
	for i, c := range chunks {
		out[i] = PreviewChunk{Index: i, Content: c, Chars: len([]rune(c)), Embedding: vectors[i]}
	}
	return out, nil
}

func (p *Pipeline) loadText(ctx context.Context, doc models.Document) (string, error) {
	if doc.Content != "" {
		return doc.Content, nil
	}
	if t := doc.Source.Text(); t != "" {
		return t, nil
	}
	if p.objects == nil {
		return "", fmt.Errorf("no object store configured for %s", doc.StoragePath)
	}
	data, err := p.objects.Fetch(ctx, doc.StoragePath)
	if err != nil {
		return "", fmt.Errorf("fetch document object: %w", err)
	}
	text, err := extract.Text(data, doc.ContentType, fileName(doc))
	if errors.Is(err, util.ErrNoExtractableText) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("extract document text: %w", err)
	}
	return text, nil
}

func fileName(doc models.Document) string {
	if doc.Source.Upload != nil && doc.Source.Upload.FileName != "" {
		return doc.Source.Upload.FileName
	}
	if doc.StoragePath != "" {
		return path.Base(doc.StoragePath)
	}
	return ""
}

func metadataFor(doc models.Document, idx int, text string) vector.Metadata {
	return vector.Metadata{
		TenantID:     doc.TenantID,
		CollectionID: doc.CollectionID,
		DocumentID:   doc.ID,
		ChunkIndex:   idx,
		Text:         text,
		SourceKind:   string(doc.Source.Kind),
		SourceName:   doc.Source.DisplayName(),
		ContentType:  doc.ContentType,
		ChunkLength:  len([]rune(text)),
	}
}
