package cleanup

import (
	"context"
	"time"

	"ragpipe/internal/models"
	"ragpipe/internal/util"
)

type JobStore interface {
	Enqueue(ctx context.Context, job models.CleanupJob) (models.CleanupJob, error)
	ClaimDue(ctx context.Context, grace time.Duration, limit int) ([]models.CleanupJob, error)
	MarkCompleted(ctx context.Context, id string, outcomes map[string]string, at time.Time) error
	MarkFailed(ctx context.Context, id, message string, outcomes map[string]string, at time.Time) error
	PurgeFinished(ctx context.Context, cutoff time.Time) (int64, error)
	List(ctx context.Context, status models.JobStatus, limit int) ([]models.CleanupJob, error)
}

// Queue is the write side used outside the delete transactions, plus operator listing.
type Queue struct {
	store JobStore
}

func NewQueue(store JobStore) *Queue {
	return &Queue{store: store}
}

func (q *Queue) Enqueue(ctx context.Context, job models.CleanupJob) (models.CleanupJob, error) {
	if job.CollectionID == "" {
		return models.CleanupJob{}, util.Invalid("collection_id", "required")
	}
	switch job.Reason {
	case models.ReasonDocumentDeleted, models.ReasonCollectionDeleted, models.ReasonIngestRollback:
	default:
		return models.CleanupJob{}, util.Invalid("reason", "unknown cleanup reason "+string(job.Reason))
	}
	return q.store.Enqueue(ctx, job)
}

func (q *Queue) List(ctx context.Context, status models.JobStatus, limit int) ([]models.CleanupJob, error) {
	switch status {
	case "", models.JobPending, models.JobProcessing, models.JobCompleted, models.JobFailed:
	default:
		return nil, util.Invalid("status", "unknown job status "+string(status))
	}
	return q.store.List(ctx, status, limit)
}
