package activities

import (
	"context"
	"errors"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"ragpipe/internal/cleanup"
	"ragpipe/internal/ingest"
	"ragpipe/internal/models"
	"ragpipe/internal/util"
)

type FailedLister interface {
	ListFailed(ctx context.Context, collectionID string) ([]models.Document, error)
}

// Activities are thin adapters; all state lives in the pipeline and sweeper.
type Activities struct {
	pipeline *ingest.Pipeline
	docs     FailedLister
	sweeper  *cleanup.Sweeper
}

func New(pipeline *ingest.Pipeline, docs FailedLister, sweeper *cleanup.Sweeper) *Activities {
	return &Activities{pipeline: pipeline, docs: docs, sweeper: sweeper}
}

func (a *Activities) ClaimDocumentActivity(ctx context.Context, in ClaimDocumentInput) (ClaimDocumentOutput, error) {
	doc, err := a.pipeline.ClaimAs(ctx, in.DocumentID, in.Owner)
	switch {
	case errors.Is(err, util.ErrAlreadyProcessing):
		return ClaimDocumentOutput{Noop: string(models.StatusProcessing)}, nil
	case errors.Is(err, util.ErrAlreadyCompleted):
		return ClaimDocumentOutput{Noop: string(models.StatusCompleted)}, nil
	case errors.Is(err, util.ErrValidation):
		return ClaimDocumentOutput{}, temporal.NewNonRetryableApplicationError(err.Error(), "validation", err)
	case errors.Is(err, util.ErrNotFound):
		return ClaimDocumentOutput{}, temporal.NewNonRetryableApplicationError(err.Error(), "not_found", err)
	case err != nil:
		return ClaimDocumentOutput{}, err
	}
	return ClaimDocumentOutput{Claimed: true, Document: doc}, nil
}

// RunIngestionActivity returns the recorded outcome without an error when the pipeline has
// already marked the document failed.
func (a *Activities) RunIngestionActivity(ctx context.Context, in RunIngestionInput) (ingest.Result, error) {
	res, err := a.pipeline.Run(ctx, in.Document)
	if err != nil && res.Outcome == ingest.OutcomeFailed {
		activity.GetLogger(ctx).Warn("document ingestion failed", "document_id", in.Document.ID, "error", err)
		return res, nil
	}
	return res, err
}

func (a *Activities) FailDocumentActivity(ctx context.Context, in FailDocumentInput) error {
	return a.pipeline.Fail(ctx, in.DocumentID, util.TruncateRunes(in.Message, util.MaxErrorMessageLen))
}

func (a *Activities) ListFailedDocumentsActivity(ctx context.Context, in ListFailedDocumentsInput) (ListFailedDocumentsOutput, error) {
	docs, err := a.docs.ListFailed(ctx, in.CollectionID)
	if err != nil {
		return ListFailedDocumentsOutput{}, err
	}
	out := ListFailedDocumentsOutput{DocumentIDs: make([]string, 0, len(docs))}
	for _, d := range docs {
		out.DocumentIDs = append(out.DocumentIDs, d.ID)
	}
	return out, nil
}

func (a *Activities) SweepCleanupActivity(ctx context.Context, in SweepCleanupInput) (cleanup.SweepReport, error) {
	report, err := a.sweeper.Sweep(ctx)
	if err != nil {
		return cleanup.SweepReport{}, err
	}
	activity.GetLogger(ctx).Info("cleanup sweep", "trigger", in.Trigger, "claimed", report.Claimed, "failed", report.Failed, "unrecorded", report.Unrecorded)
	return report, nil
}
