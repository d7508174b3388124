package cleanup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ragpipe/internal/models"
	"ragpipe/internal/vector"
)

type memJobs struct {
	mu   sync.Mutex
	jobs map[string]*models.CleanupJob
	seq  int
	now  func() time.Time
}

func newMemJobs(now func() time.Time) *memJobs {
	return &memJobs{jobs: map[string]*models.CleanupJob{}, now: now}
}

func (m *memJobs) Enqueue(_ context.Context, j models.CleanupJob) (models.CleanupJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	j.ID = fmt.Sprintf("job-%d", m.seq)
	j.Status = models.JobPending
	j.CreatedAt = m.now()
	m.jobs[j.ID] = &j
	return j, nil
}

func (m *memJobs) ClaimDue(_ context.Context, grace time.Duration, limit int) ([]models.CleanupJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-grace)
	ids := make([]string, 0)
	for id, j := range m.jobs {
		if j.Status == models.JobPending && !j.CreatedAt.After(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := []models.CleanupJob{}
	for _, id := range ids {
		if len(out) == limit {
			break
		}
		m.jobs[id].Status = models.JobProcessing
		out = append(out, *m.jobs[id])
	}
	return out, nil
}

func (m *memJobs) finish(id string, status models.JobStatus, msg string, outcomes map[string]string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[id]
	j.Status, j.ErrorMessage, j.Outcomes, j.ProcessedAt = status, msg, outcomes, &at
	return nil
}

func (m *memJobs) MarkCompleted(_ context.Context, id string, outcomes map[string]string, at time.Time) error {
	return m.finish(id, models.JobCompleted, "", outcomes, at)
}

func (m *memJobs) MarkFailed(_ context.Context, id, msg string, outcomes map[string]string, at time.Time) error {
	return m.finish(id, models.JobFailed, msg, outcomes, at)
}

func (m *memJobs) PurgeFinished(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, j := range m.jobs {
		if j.ProcessedAt != nil && j.ProcessedAt.Before(cutoff) {
			delete(m.jobs, id)
			n++
		}
	}
	return n, nil
}

func (m *memJobs) List(_ context.Context, status models.JobStatus, _ int) ([]models.CleanupJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.CleanupJob{}
	for _, j := range m.jobs {
		if status == "" || j.Status == status {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (m *memJobs) get(id string) models.CleanupJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

type statusMap map[string]models.DocumentStatus

func (s statusMap) Status(_ context.Context, id string) (models.DocumentStatus, bool, error) {
	st, ok := s[id]
	return st, ok, nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

// failingDocIndex refuses deletes for one document.
type failingDocIndex struct {
	vector.Index
	badDoc string
}

func (f failingDocIndex) DeleteByFilter(ctx context.Context, filter vector.Filter) error {
	if filter.DocumentID == f.badDoc {
		return errors.New("index timeout")
	}
	return f.Index.DeleteByFilter(ctx, filter)
}

func seed(t *testing.T, idx vector.Index, docID string, n int) []string {
	t.Helper()
	recs := make([]vector.Record, n)
	ids := make([]string, n)
	for i := range recs {
		ids[i] = models.ChunkID(docID, i)
		recs[i] = vector.Record{
			ID:     ids[i],
			Vector: []float32{1, float32(i%7 + 1), 0.25},
			Metadata: vector.Metadata{
				TenantID: "t1", CollectionID: "c1", DocumentID: docID, ChunkIndex: i, Text: ids[i],
			},
		}
	}
	require.NoError(t, idx.Upsert(context.Background(), recs))
	return ids
}

func remaining(t *testing.T, idx vector.Index, f vector.Filter) int {
	t.Helper()
	got, err := idx.Query(context.Background(), []float32{1, 1, 0.25}, 1000, f)
	require.NoError(t, err)
	return len(got)
}

func TestSweepDeletedDocumentAfterGrace(t *testing.T) {
	idx, err := vector.NewChromemIndex("")
	require.NoError(t, err)
	ids := seed(t, idx, "doc1", 40)
	seed(t, idx, "doc2", 3)

	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	jobs := newMemJobs(c.now)
	q := NewQueue(jobs)
	job, err := q.Enqueue(context.Background(), models.CleanupJob{
		Reason: models.ReasonDocumentDeleted, TenantID: "t1", CollectionID: "c1",
		DocumentIDs: []string{"doc1"}, VectorIDs: ids,
	})
	require.NoError(t, err)
	require.Equal(t, models.JobPending, job.Status)

	s := NewSweeper(jobs, statusMap{}, vector.NewWriter(idx, 100, nil, nil), WithClock(c.now))

	c.advance(4*time.Minute + 59*time.Second)
	report, err := s.Sweep(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.Claimed)
	require.Equal(t, models.JobPending, jobs.get(job.ID).Status)
	require.Equal(t, 40, remaining(t, idx, vector.Filter{DocumentID: "doc1"}))

	c.advance(time.Second)
	report, err = s.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Completed)
	done := jobs.get(job.ID)
	require.Equal(t, models.JobCompleted, done.Status)
	require.NotNil(t, done.ProcessedAt)
	require.Equal(t, "deleted", done.Outcomes["doc1"])
	require.Zero(t, remaining(t, idx, vector.Filter{DocumentID: "doc1"}))
	require.Equal(t, 3, remaining(t, idx, vector.Filter{DocumentID: "doc2"}))

	report, err = s.Sweep(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.Claimed)
}

func TestSweepCollectionDocumentsIndependently(t *testing.T) {
	mem, err := vector.NewChromemIndex("")
	require.NoError(t, err)
	seed(t, mem, "a", 5)
	seed(t, mem, "b", 5)
	seed(t, mem, "c", 5)

	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	jobs := newMemJobs(c.now)
	job, err := jobs.Enqueue(context.Background(), models.CleanupJob{
		Reason: models.ReasonCollectionDeleted, CollectionID: "c1", DocumentIDs: []string{"a", "b", "c"},
	})
	require.NoError(t, err)

	idx := failingDocIndex{Index: mem, badDoc: "b"}
	s := NewSweeper(jobs, statusMap{}, vector.NewWriter(idx, 100, nil, nil), WithClock(c.now), WithConcurrency(2))
	c.advance(DefaultGrace)
	report, err := s.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Failed)

	got := jobs.get(job.ID)
	require.Equal(t, models.JobFailed, got.Status)
	require.Contains(t, got.ErrorMessage, "b: ")
	require.Equal(t, "deleted", got.Outcomes["a"])
	require.Equal(t, "deleted", got.Outcomes["c"])
	require.Contains(t, got.Outcomes["b"], "failed")
	require.Zero(t, remaining(t, mem, vector.Filter{DocumentID: "a"}))
	require.Equal(t, 5, remaining(t, mem, vector.Filter{DocumentID: "b"}))
	require.Zero(t, remaining(t, mem, vector.Filter{DocumentID: "c"}))

	// failed jobs stay failed
	c.advance(time.Hour)
	report, err = s.Sweep(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.Claimed)
	require.Equal(t, models.JobFailed, jobs.get(job.ID).Status)
}

func TestSweepEmptyCollectionUsesFilter(t *testing.T) {
	mem, err := vector.NewChromemIndex("")
	require.NoError(t, err)
	seed(t, mem, "stray", 4)
	c := &clock{t: time.Now()}
	jobs := newMemJobs(c.now)
	job, _ := jobs.Enqueue(context.Background(), models.CleanupJob{Reason: models.ReasonCollectionDeleted, CollectionID: "c1"})

	s := NewSweeper(jobs, statusMap{}, vector.NewWriter(mem, 100, nil, nil), WithClock(c.now), WithGrace(0))
	_, err = s.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, "deleted", jobs.get(job.ID).Outcomes["collection"])
	require.Zero(t, remaining(t, mem, vector.Filter{CollectionID: "c1"}))
}

func TestRollbackJobSkipsLiveDocument(t *testing.T) {
	mem, err := vector.NewChromemIndex("")
	require.NoError(t, err)
	live := seed(t, mem, "live", 3)
	dead := seed(t, mem, "dead", 3)
	c := &clock{t: time.Now()}
	jobs := newMemJobs(c.now)
	_, _ = jobs.Enqueue(context.Background(), models.CleanupJob{
		Reason: models.ReasonIngestRollback, CollectionID: "c1", DocumentIDs: []string{"live"}, VectorIDs: live,
	})
	_, _ = jobs.Enqueue(context.Background(), models.CleanupJob{
		Reason: models.ReasonIngestRollback, CollectionID: "c1", DocumentIDs: []string{"dead"}, VectorIDs: dead,
	})

	statuses := statusMap{"live": models.StatusCompleted, "dead": models.StatusFailed}
	s := NewSweeper(jobs, statuses, vector.NewWriter(mem, 100, nil, nil), WithClock(c.now), WithGrace(0))
	report, err := s.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.Completed)
	require.Equal(t, 3, remaining(t, mem, vector.Filter{DocumentID: "live"}))
	require.Zero(t, remaining(t, mem, vector.Filter{DocumentID: "dead"}))
}

func TestSweepPurgesOldJobsAndCapsBatch(t *testing.T) {
	mem, err := vector.NewChromemIndex("")
	require.NoError(t, err)
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	jobs := newMemJobs(c.now)
	for i := 0; i < 12; i++ {
		_, _ = jobs.Enqueue(context.Background(), models.CleanupJob{
			Reason: models.ReasonDocumentDeleted, CollectionID: "c1", DocumentIDs: []string{fmt.Sprintf("d%d", i)},
		})
	}
	s := NewSweeper(jobs, statusMap{}, vector.NewWriter(mem, 100, nil, nil), WithClock(c.now))
	c.advance(DefaultGrace)
	report, err := s.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, DefaultSweepBatch, report.Claimed)

	c.advance(8 * 24 * time.Hour)
	report, err = s.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(10), report.Purged)
	require.Equal(t, 2, report.Claimed)
}

func TestGroupByDocument(t *testing.T) {
	got := groupByDocument([]string{"9b2e-aa", "empty"}, []string{"9b2e-aa-0", "9b2e-aa-1", "other-3"})
	require.Equal(t, []string{"9b2e-aa-0", "9b2e-aa-1"}, got["9b2e-aa"])
	require.Nil(t, got["empty"])
	require.Equal(t, []string{"other-3"}, got["other"])
}

func TestQueueValidates(t *testing.T) {
	q := NewQueue(newMemJobs(time.Now))
	_, err := q.Enqueue(context.Background(), models.CleanupJob{Reason: "bogus", CollectionID: "c"})
	require.Error(t, err)
	_, err = q.Enqueue(context.Background(), models.CleanupJob{Reason: models.ReasonDocumentDeleted})
	require.Error(t, err)
	_, err = q.List(context.Background(), "weird", 10)
	require.Error(t, err)
}

// brokenLedger runs jobs but cannot write their outcome.
type brokenLedger struct {
	*memJobs
}

func (b brokenLedger) MarkCompleted(context.Context, string, map[string]string, time.Time) error {
	return errors.New("conn reset")
}

func (b brokenLedger) MarkFailed(context.Context, string, string, map[string]string, time.Time) error {
	return errors.New("conn reset")
}

func TestSweepReportsOutcomeWriteFailure(t *testing.T) {
	mem, err := vector.NewChromemIndex("")
	require.NoError(t, err)
	ids := seed(t, mem, "doc1", 3)
	c := &clock{t: time.Now()}
	jobs := newMemJobs(c.now)
	job, err := jobs.Enqueue(context.Background(), models.CleanupJob{
		Reason: models.ReasonDocumentDeleted, CollectionID: "c1", DocumentIDs: []string{"doc1"}, VectorIDs: ids,
	})
	require.NoError(t, err)

	s := NewSweeper(brokenLedger{jobs}, statusMap{}, vector.NewWriter(mem, 100, nil, nil), WithClock(c.now), WithGrace(0))
	report, err := s.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Claimed)
	require.Zero(t, report.Completed)
	require.Equal(t, 1, report.Unrecorded)
	require.Equal(t, models.JobProcessing, report.Jobs[0].Status)
	require.Contains(t, report.Jobs[0].Error, "record completion: conn reset")

	stuck, err := NewQueue(jobs).List(context.Background(), models.JobProcessing, 10)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	require.Equal(t, job.ID, stuck[0].ID)
}

// graceRecorder remembers the grace window each claim asked for.
type graceRecorder struct {
	*memJobs
	graces []time.Duration
}

func (g *graceRecorder) ClaimDue(ctx context.Context, grace time.Duration, limit int) ([]models.CleanupJob, error) {
	g.graces = append(g.graces, grace)
	return g.memJobs.ClaimDue(ctx, grace, limit)
}

func TestSweepGraceFollowsStoreClock(t *testing.T) {
	mem, err := vector.NewChromemIndex("")
	require.NoError(t, err)
	store := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	jobs := &graceRecorder{memJobs: newMemJobs(store.now)}
	job, err := jobs.Enqueue(context.Background(), models.CleanupJob{
		Reason: models.ReasonDocumentDeleted, CollectionID: "c1", DocumentIDs: []string{"doc1"},
	})
	require.NoError(t, err)

	// The sweeper's clock runs an hour ahead of the store's.
	skewed := func() time.Time { return store.now().Add(time.Hour) }
	s := NewSweeper(jobs, statusMap{}, vector.NewWriter(mem, 100, nil, nil), WithClock(skewed))

	store.advance(time.Minute)
	report, err := s.Sweep(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.Claimed)
	require.Equal(t, models.JobPending, jobs.get(job.ID).Status)

	store.advance(DefaultGrace)
	report, err = s.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Completed)
	require.Equal(t, []time.Duration{DefaultGrace, DefaultGrace}, jobs.graces)
}
