package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"ragpipe/internal/activities"
	"ragpipe/internal/cleanup"
	"ragpipe/internal/ingest"
)

const (
	QueryGetIngestStatus = "GetIngestStatus"
	QueryGetProgress     = "GetProgress"

	StatusNoopProcessing = "already_processing"
	StatusNoopCompleted  = "already_completed"
)

// IngestWorkflowID keeps one ingestion per document in flight.
func IngestWorkflowID(documentID string) string {
	return "ingest-" + documentID
}

func DocumentIngestWorkflow(ctx workflow.Context, input DocumentIngestInput) (string, error) {
	status := IngestStatus{DocumentID: input.DocumentID, CurrentStep: "init", Status: "pending"}
	if err := workflow.SetQueryHandler(ctx, QueryGetIngestStatus, func() (IngestStatus, error) {
		return status, nil
	}); err != nil {
		return "", err
	}
	logger := workflow.GetLogger(ctx)

	claimCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    3,
		},
	})
	// the pipeline rolls back and records its own failures; a second attempt would only
	// find the document failed
	runCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	status.CurrentStep = "claim"
	// the run id marks the claim as ours, so a retried claim after a lost result still counts
	owner := workflow.GetInfo(ctx).WorkflowExecution.RunID
	var claim activities.ClaimDocumentOutput
	if err := workflow.ExecuteActivity(claimCtx, "ClaimDocumentActivity", activities.ClaimDocumentInput{
		DocumentID: input.DocumentID,
		Owner:      owner,
	}).Get(ctx, &claim); err != nil {
		status.Status = "rejected"
		status.FailReason = err.Error()
		return "", err
	}
	if !claim.Claimed {
		status.CurrentStep = "done"
		status.Status = "already_" + claim.Noop
		logger.Info("ingestion skipped", "document_id", input.DocumentID, "status", claim.Noop)
		return status.Status, nil
	}

	status.CurrentStep = "run"
	status.Status = "processing"
	var res ingest.Result
	if err := workflow.ExecuteActivity(runCtx, "RunIngestionActivity", activities.RunIngestionInput{Document: claim.Document}).Get(ctx, &res); err != nil {
		status.CurrentStep = "fail"
		status.Status = string(ingest.OutcomeFailed)
		status.FailReason = err.Error()
		logger.Error("ingestion activity died", "document_id", input.DocumentID, "error", err)
		if ferr := workflow.ExecuteActivity(claimCtx, "FailDocumentActivity", activities.FailDocumentInput{
			DocumentID: input.DocumentID,
			Message:    err.Error(),
		}).Get(ctx, nil); ferr != nil {
			return "", ferr
		}
		return status.Status, nil
	}
	status.CurrentStep = "done"
	status.Status = string(res.Outcome)
	status.ChunkCount = res.ChunkCount
	status.FailReason = res.Message
	return status.Status, nil
}

// RetryFailedDocumentsWorkflow re-runs every failed document of a collection as child ingest
// workflows, a bounded number at a time.
func RetryFailedDocumentsWorkflow(ctx workflow.Context, input RetryFailedInput) (RetryFailedProgress, error) {
	progress := RetryFailedProgress{CollectionID: input.CollectionID, PerDocument: map[string]string{}}
	if err := workflow.SetQueryHandler(ctx, QueryGetProgress, func() (RetryFailedProgress, error) {
		return progress, nil
	}); err != nil {
		return progress, err
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    3,
		},
	})
	var failed activities.ListFailedDocumentsOutput
	if err := workflow.ExecuteActivity(ctx, "ListFailedDocumentsActivity", activities.ListFailedDocumentsInput{CollectionID: input.CollectionID}).Get(ctx, &failed); err != nil {
		return progress, err
	}
	ids := failed.DocumentIDs
	progress.Total = len(ids)
	maxChildren := input.MaxConcurrentChildren
	if maxChildren <= 0 {
		maxChildren = 3
	}

	for i := 0; i < len(ids); i += maxChildren {
		end := min(i+maxChildren, len(ids))
		futures := make([]workflow.ChildWorkflowFuture, 0, end-i)
		for _, id := range ids[i:end] {
			progress.PerDocument[id] = "processing"
			childCtx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{WorkflowID: IngestWorkflowID(id)})
			futures = append(futures, workflow.ExecuteChildWorkflow(childCtx, DocumentIngestWorkflow, DocumentIngestInput{DocumentID: id}))
		}
		for idx, f := range futures {
			id := ids[i+idx]
			var out string
			if err := f.Get(ctx, &out); err != nil {
				progress.Failed++
				progress.PerDocument[id] = "failed"
				continue
			}
			if out == string(ingest.OutcomeFailed) {
				progress.Failed++
			}
			progress.Done++
			progress.PerDocument[id] = out
		}
	}
	return progress, nil
}

// CleanupSweepWorkflow runs one sweep. The worker schedules it as a cron workflow.
func CleanupSweepWorkflow(ctx workflow.Context, input CleanupSweepInput) (cleanup.SweepReport, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: 5 * time.Second,
			MaximumAttempts: 2,
		},
	})
	var report cleanup.SweepReport
	if err := workflow.ExecuteActivity(ctx, "SweepCleanupActivity", activities.SweepCleanupInput{Trigger: input.Trigger}).Get(ctx, &report); err != nil {
		return cleanup.SweepReport{}, err
	}
	return report, nil
}
