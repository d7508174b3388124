package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"ragpipe/internal/metrics"
	"ragpipe/internal/models"
	"ragpipe/internal/util"
)

const (
	DefaultGrace       = 5 * time.Minute
	DefaultRetention   = 7 * 24 * time.Hour
	DefaultSweepBatch  = 10
	DefaultConcurrency = 4
	idBatchSize        = 100

	collectionScope = "collection"
)

type DocumentStatusReader interface {
	Status(ctx context.Context, id string) (models.DocumentStatus, bool, error)
}

type VectorDeleter interface {
	DeleteByIDs(ctx context.Context, ids []string) error
	DeleteByDocument(ctx context.Context, documentID string) error
	DeleteByCollection(ctx context.Context, collectionID string) error
}

type JobReport struct {
	JobID    string            `json:"job_id"`
	Status   models.JobStatus  `json:"status"`
	Outcomes map[string]string `json:"outcomes"`
	Error    string            `json:"error,omitempty"`
}

// SweepReport counts claimed jobs by outcome. Unrecorded jobs ran but their outcome
// could not be written, so their rows are still processing.
type SweepReport struct {
	Purged     int64       `json:"purged"`
	Claimed    int         `json:"claimed"`
	Completed  int         `json:"completed"`
	Failed     int         `json:"failed"`
	Unrecorded int         `json:"unrecorded"`
	Jobs       []JobReport `json:"jobs"`
}

type Sweeper struct {
	store       JobStore
	docs        DocumentStatusReader
	vectors     VectorDeleter
	grace       time.Duration
	retention   time.Duration
	batch       int
	concurrency int
	now         func() time.Time
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

type SweeperOption func(*Sweeper)

func WithGrace(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.grace = d }
}

func WithRetention(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.retention = d }
}

func WithBatch(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.batch = n
		}
	}
}

func WithConcurrency(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

func WithLogger(l *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) SweeperOption {
	return func(s *Sweeper) { s.metrics = m }
}

func NewSweeper(store JobStore, docs DocumentStatusReader, vectors VectorDeleter, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		store:       store,
		docs:        docs,
		vectors:     vectors,
		grace:       DefaultGrace,
		retention:   DefaultRetention,
		batch:       DefaultSweepBatch,
		concurrency: DefaultConcurrency,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "cleanup_sweeper")
	return s
}

// Sweep purges old finished jobs, then claims pending jobs past the grace window and deletes
// their vectors. Failed jobs stay failed; nothing here re-claims them.
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveSweep(time.Since(start)) }()

	var report SweepReport
	now := s.now()
	purged, err := s.store.PurgeFinished(ctx, now.Add(-s.retention))
	if err != nil {
		s.logger.Warn("purge finished cleanup jobs", "error", err)
	}
	report.Purged = purged

	jobs, err := s.store.ClaimDue(ctx, s.grace, s.batch)
	if err != nil {
		return report, err
	}
	report.Claimed = len(jobs)
	for _, job := range jobs {
		jr := s.runJob(ctx, job)
		report.Jobs = append(report.Jobs, jr)
		switch jr.Status {
		case models.JobCompleted:
			report.Completed++
		case models.JobFailed:
			report.Failed++
		default:
			report.Unrecorded++
		}
	}
	if report.Claimed > 0 || report.Purged > 0 {
		s.logger.Info("cleanup sweep finished", "claimed", report.Claimed, "completed", report.Completed,
			"failed", report.Failed, "unrecorded", report.Unrecorded, "purged", report.Purged)
	}
	return report, nil
}

func (s *Sweeper) runJob(ctx context.Context, job models.CleanupJob) JobReport {
	logger := s.logger.With("job_id", job.ID, "reason", job.Reason, "collection_id", job.CollectionID)
	outcomes, failures := s.process(ctx, logger, job)
	jr := JobReport{JobID: job.ID, Outcomes: outcomes}

	if len(failures) == 0 {
		if err := s.store.MarkCompleted(ctx, job.ID, outcomes, s.now()); err != nil {
			return s.unrecorded(logger, jr, "record completion", err)
		}
		jr.Status = models.JobCompleted
		s.metrics.CleanupJob(string(models.JobCompleted))
		logger.Info("cleanup job completed", "documents", len(outcomes))
		return jr
	}
	msg := fmt.Sprintf("%d of %d scopes failed: %s", len(failures), len(outcomes), strings.Join(failures, "; "))
	if err := s.store.MarkFailed(ctx, job.ID, util.TruncateRunes(msg, util.MaxErrorMessageLen), outcomes, s.now()); err != nil {
		return s.unrecorded(logger, jr, "record failure ("+msg+")", err)
	}
	jr.Status, jr.Error = models.JobFailed, msg
	s.metrics.CleanupJob(string(models.JobFailed))
	logger.Error("cleanup job failed", "error", msg)
	return jr
}

// unrecorded reports a job whose row is still processing because its outcome write failed.
// Such jobs show up in List(processing) and in the stuck count of the cleanup stats.
func (s *Sweeper) unrecorded(logger *slog.Logger, jr JobReport, what string, err error) JobReport {
	jr.Status = models.JobProcessing
	jr.Error = what + ": " + err.Error()
	s.metrics.CleanupJob(string(models.JobProcessing))
	logger.Error("cleanup job outcome not recorded", "error", err)
	return jr
}

// process deletes each document's vectors independently and returns per-scope outcomes
// plus the failure messages.
func (s *Sweeper) process(ctx context.Context, logger *slog.Logger, job models.CleanupJob) (map[string]string, []string) {
	outcomes := map[string]string{}
	byDoc := groupByDocument(job.DocumentIDs, job.VectorIDs)
	if len(byDoc) == 0 {
		if err := s.vectors.DeleteByCollection(ctx, job.CollectionID); err != nil {
			outcomes[collectionScope] = "failed: " + err.Error()
			return outcomes, []string{collectionScope + ": " + err.Error()}
		}
		outcomes[collectionScope] = "deleted"
		return outcomes, nil
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	record := func(docID, outcome string) {
		mu.Lock()
		outcomes[docID] = outcome
		mu.Unlock()
	}
	pool, err := ants.NewPool(s.concurrency)
	if err != nil {
		logger.Warn("cleanup pool unavailable, running serially", "error", err)
	} else {
		defer pool.Release()
	}
	for docID, ids := range byDoc {
		task := func() {
			defer wg.Done()
			record(docID, s.processDocument(ctx, logger, job, docID, ids))
		}
		wg.Add(1)
		if pool == nil || pool.Submit(task) != nil {
			task()
		}
	}
	wg.Wait()

	var failures []string
	for docID, outcome := range outcomes {
		if strings.HasPrefix(outcome, "failed") {
			failures = append(failures, docID+": "+strings.TrimPrefix(outcome, "failed: "))
		}
	}
	sort.Strings(failures)
	return outcomes, failures
}

func (s *Sweeper) processDocument(ctx context.Context, logger *slog.Logger, job models.CleanupJob, docID string, ids []string) string {
	logger = logger.With("document_id", docID)
	if job.Reason == models.ReasonIngestRollback {
		// a rollback job must not delete vectors a later run rewrote
		status, exists, err := s.docs.Status(ctx, docID)
		if err != nil {
			return "failed: " + err.Error()
		}
		if exists && (status == models.StatusProcessing || status == models.StatusCompleted) {
			logger.Info("skipping rollback for live document", "status", status)
			return "skipped: document " + string(status)
		}
	}
	if len(ids) == 0 {
		if err := s.vectors.DeleteByDocument(ctx, docID); err != nil {
			logger.Error("vector delete by document failed", "error", err)
			return "failed: " + err.Error()
		}
		logger.Info("vectors deleted by document filter")
		return "deleted"
	}
	deleted := 0
	for start, batch := 0, 0; start < len(ids); start, batch = start+idBatchSize, batch+1 {
		end := min(start+idBatchSize, len(ids))
		if err := s.vectors.DeleteByIDs(ctx, ids[start:end]); err != nil {
			logger.Error("vector id batch delete failed", "batch", batch, "size", end-start, "deleted", deleted, "total", len(ids), "error", err)
			return fmt.Sprintf("failed: %d of %d deleted: %v", deleted, len(ids), err)
		}
		deleted += end - start
		logger.Info("vector id batch deleted", "batch", batch, "size", end-start, "deleted", deleted, "total", len(ids))
	}
	return "deleted"
}

// groupByDocument keys vector ids "<documentID>-<index>" by their document. Documents
// without known ids map to nil.
func groupByDocument(documentIDs, vectorIDs []string) map[string][]string {
	out := make(map[string][]string, len(documentIDs))
	for _, d := range documentIDs {
		out[d] = nil
	}
	for _, id := range vectorIDs {
		i := strings.LastIndex(id, "-")
		if i <= 0 {
			continue
		}
		doc := id[:i]
		out[doc] = append(out[doc], id)
	}
	return out
}
