package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"ragpipe/internal/models"
	"ragpipe/internal/util"
)

type CleanupRepo struct {
	db *DB
}

func NewCleanupRepo(db *DB) *CleanupRepo {
	return &CleanupRepo{db: db}
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const cleanupColumns = `id::text, reason, COALESCE(tenant_id,''), collection_id, document_ids, vector_ids, status,
       COALESCE(error_message,''), outcomes, created_at, processed_at`

func scanCleanupJob(row pgx.Row) (models.CleanupJob, error) {
	var (
		j        models.CleanupJob
		outcomes []byte
	)
	if err := row.Scan(&j.ID, &j.Reason, &j.TenantID, &j.CollectionID, &j.DocumentIDs, &j.VectorIDs, &j.Status,
		&j.ErrorMessage, &outcomes, &j.CreatedAt, &j.ProcessedAt); err != nil {
		return models.CleanupJob{}, err
	}
	if len(outcomes) > 0 {
		if err := json.Unmarshal(outcomes, &j.Outcomes); err != nil {
			return models.CleanupJob{}, fmt.Errorf("decode cleanup outcomes: %w", err)
		}
	}
	return j, nil
}

func insertCleanupJob(ctx context.Context, q queryRower, j models.CleanupJob) (models.CleanupJob, error) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.DocumentIDs == nil {
		j.DocumentIDs = []string{}
	}
	if j.VectorIDs == nil {
		j.VectorIDs = []string{}
	}
	j.Status = models.JobPending
	err := q.QueryRow(ctx, `
INSERT INTO vector_cleanup_queue (id, reason, tenant_id, collection_id, document_ids, vector_ids, status)
VALUES ($1, $2, NULLIF($3,''), $4, $5, $6, $7)
RETURNING created_at`,
		j.ID, j.Reason, j.TenantID, j.CollectionID, j.DocumentIDs, j.VectorIDs, j.Status,
	).Scan(&j.CreatedAt)
	if err != nil {
		return models.CleanupJob{}, fmt.Errorf("enqueue cleanup job: %w", err)
	}
	return j, nil
}

func (r *CleanupRepo) Enqueue(ctx context.Context, j models.CleanupJob) (models.CleanupJob, error) {
	return insertCleanupJob(ctx, r.db.Pool, j)
}

// ClaimDue flips up to limit pending jobs older than grace to processing and returns them.
// The cutoff uses the database clock, the same one that stamped created_at. Concurrent
// sweepers never claim the same job.
func (r *CleanupRepo) ClaimDue(ctx context.Context, grace time.Duration, limit int) ([]models.CleanupJob, error) {
	rows, err := r.db.Pool.Query(ctx, `
UPDATE vector_cleanup_queue
SET status='processing'
WHERE id IN (
  SELECT id FROM vector_cleanup_queue
  WHERE status='pending' AND created_at <= NOW() - make_interval(secs => $1::double precision)
  ORDER BY created_at ASC
  LIMIT $2
  FOR UPDATE SKIP LOCKED
)
RETURNING `+cleanupColumns, grace.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("claim cleanup jobs: %w", err)
	}
	defer rows.Close()
	out := make([]models.CleanupJob, 0, limit)
	for rows.Next() {
		j, err := scanCleanupJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed cleanup job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *CleanupRepo) MarkCompleted(ctx context.Context, id string, outcomes map[string]string, at time.Time) error {
	return r.finish(ctx, id, models.JobCompleted, "", outcomes, at)
}

func (r *CleanupRepo) MarkFailed(ctx context.Context, id, message string, outcomes map[string]string, at time.Time) error {
	return r.finish(ctx, id, models.JobFailed, message, outcomes, at)
}

func (r *CleanupRepo) finish(ctx context.Context, id string, status models.JobStatus, message string, outcomes map[string]string, at time.Time) error {
	raw, err := json.Marshal(outcomes)
	if err != nil {
		return fmt.Errorf("encode cleanup outcomes: %w", err)
	}
	tag, err := r.db.Pool.Exec(ctx, `
UPDATE vector_cleanup_queue
SET status=$2, error_message=NULLIF($3,''), outcomes=$4, processed_at=$5
WHERE id=$1::uuid AND status='processing'`,
		id, status, util.TruncateRunes(message, util.MaxErrorMessageLen), raw, at)
	if err != nil {
		return fmt.Errorf("finish cleanup job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cleanup job %s: %w", id, util.ErrNotFound)
	}
	return nil
}

// PurgeFinished drops completed and failed jobs processed before cutoff.
func (r *CleanupRepo) PurgeFinished(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `
DELETE FROM vector_cleanup_queue
WHERE status IN ('completed','failed') AND processed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge cleanup jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *CleanupRepo) List(ctx context.Context, status models.JobStatus, limit int) ([]models.CleanupJob, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Pool.Query(ctx, `
SELECT `+cleanupColumns+`
FROM vector_cleanup_queue
WHERE ($1 = '' OR status = $1)
ORDER BY created_at DESC
LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list cleanup jobs: %w", err)
	}
	defer rows.Close()
	out := make([]models.CleanupJob, 0)
	for rows.Next() {
		j, err := scanCleanupJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cleanup job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

const (
	recentFailureLimit   = 10
	stuckProcessingAfter = time.Hour
)

// Stats aggregates jobs created within window in one statement. Stuck jobs are counted
// regardless of window: processing rows older than an hour that no sweep finished.
func (r *CleanupRepo) Stats(ctx context.Context, window time.Duration) (models.CleanupStats, error) {
	var pending, processing, completed, failed int
	var failures []byte
	stats := models.CleanupStats{WindowHours: window.Hours()}
	err := r.db.Pool.QueryRow(ctx, `
WITH recent AS (
  SELECT id, reason, collection_id, status, error_message, created_at, processed_at
  FROM vector_cleanup_queue
  WHERE created_at >= NOW() - make_interval(secs => $1::double precision)
)
SELECT
  COUNT(*) FILTER (WHERE status='pending'),
  COUNT(*) FILTER (WHERE status='processing'),
  COUNT(*) FILTER (WHERE status='completed'),
  COUNT(*) FILTER (WHERE status='failed'),
  COALESCE(AVG(EXTRACT(EPOCH FROM processed_at - created_at)) FILTER (WHERE processed_at IS NOT NULL), 0)::float8,
  (SELECT COUNT(*) FROM vector_cleanup_queue
    WHERE status='processing' AND created_at < NOW() - make_interval(secs => $2::double precision)),
  COALESCE((
    SELECT json_agg(f ORDER BY f.processed_at DESC NULLS LAST)
    FROM (
      SELECT id::text AS id, reason, collection_id, COALESCE(error_message,'') AS error_message, processed_at
      FROM recent WHERE status='failed'
      ORDER BY processed_at DESC NULLS LAST
      LIMIT $3
    ) f
  ), '[]'::json)
FROM recent`, window.Seconds(), stuckProcessingAfter.Seconds(), recentFailureLimit).
		Scan(&pending, &processing, &completed, &failed, &stats.AvgProcessingSeconds, &stats.StuckProcessing, &failures)
	if err != nil {
		return models.CleanupStats{}, fmt.Errorf("cleanup stats: %w", err)
	}
	stats.Counts = map[models.JobStatus]int{
		models.JobPending:    pending,
		models.JobProcessing: processing,
		models.JobCompleted:  completed,
		models.JobFailed:     failed,
	}
	if err := json.Unmarshal(failures, &stats.RecentFailures); err != nil {
		return models.CleanupStats{}, fmt.Errorf("decode recent cleanup failures: %w", err)
	}
	return stats, nil
}
