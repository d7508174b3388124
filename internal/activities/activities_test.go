package activities

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.temporal.io/sdk/testsuite"

	"ragpipe/internal/ingest"
	"ragpipe/internal/models"
	"ragpipe/internal/util"
)

type stubDocs struct {
	docs map[string]models.Document
}

func (s *stubDocs) Get(_ context.Context, id string) (models.Document, error) {
	d, ok := s.docs[id]
	if !ok {
		return models.Document{}, fmt.Errorf("document %s: %w", id, util.ErrNotFound)
	}
	return d, nil
}

func (s *stubDocs) TransitionStatus(_ context.Context, id string, from, to models.DocumentStatus, msg string) (bool, error) {
	d, ok := s.docs[id]
	if !ok || d.Status != from {
		return false, nil
	}
	d.Status = to
	d.ErrorMessage = msg
	s.docs[id] = d
	return true, nil
}

func (s *stubDocs) ClaimProcessing(_ context.Context, id string, from models.DocumentStatus, owner string) (bool, error) {
	d, ok := s.docs[id]
	if !ok || d.Status != from {
		return false, nil
	}
	d.Status, d.ErrorMessage, d.ClaimedBy = models.StatusProcessing, "", owner
	s.docs[id] = d
	return true, nil
}

func (s *stubDocs) Complete(context.Context, string, []models.Chunk, string) error {
	return errors.New("not used")
}

func (s *stubDocs) ListFailed(_ context.Context, collectionID string) ([]models.Document, error) {
	var out []models.Document
	for _, d := range s.docs {
		if d.CollectionID == collectionID && d.Status == models.StatusFailed {
			out = append(out, d)
		}
	}
	return out, nil
}

func newTestActivities(docs ...models.Document) (*Activities, *stubDocs) {
	store := &stubDocs{docs: map[string]models.Document{}}
	for _, d := range docs {
		store.docs[d.ID] = d
	}
	pipe := ingest.New(store, nil, nil, nil, nil)
	return New(pipe, store, nil), store
}

func TestClaimDocumentActivityClaimsPending(t *testing.T) {
	a, store := newTestActivities(models.Document{ID: "d1", CollectionID: "c", Content: "hello", Status: models.StatusPending})
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	env.RegisterActivity(a)

	val, err := env.ExecuteActivity(a.ClaimDocumentActivity, ClaimDocumentInput{DocumentID: "d1"})
	if err != nil {
		t.Fatal(err)
	}
	var out ClaimDocumentOutput
	if err := val.Get(&out); err != nil {
		t.Fatal(err)
	}
	if !out.Claimed || out.Document.Status != models.StatusProcessing {
		t.Fatalf("unexpected claim %+v", out)
	}
	if store.docs["d1"].Status != models.StatusProcessing {
		t.Fatalf("expected stored status processing, got %s", store.docs["d1"].Status)
	}
}

func TestClaimDocumentActivityRetryBySameOwnerStaysClaimed(t *testing.T) {
	a, store := newTestActivities(models.Document{ID: "d1", CollectionID: "c", Content: "hello", Status: models.StatusPending})
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	env.RegisterActivity(a)

	// the first attempt commits; its result is never delivered and the activity runs again
	for attempt := 1; attempt <= 2; attempt++ {
		val, err := env.ExecuteActivity(a.ClaimDocumentActivity, ClaimDocumentInput{DocumentID: "d1", Owner: "run-1"})
		if err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}
		var out ClaimDocumentOutput
		if err := val.Get(&out); err != nil {
			t.Fatal(err)
		}
		if !out.Claimed || out.Noop != "" {
			t.Fatalf("attempt %d: expected claimed, got %+v", attempt, out)
		}
	}

	val, err := env.ExecuteActivity(a.ClaimDocumentActivity, ClaimDocumentInput{DocumentID: "d1", Owner: "run-2"})
	if err != nil {
		t.Fatal(err)
	}
	var other ClaimDocumentOutput
	if err := val.Get(&other); err != nil {
		t.Fatal(err)
	}
	if other.Claimed || other.Noop != string(models.StatusProcessing) {
		t.Fatalf("expected a different run to see a noop, got %+v", other)
	}
	if store.docs["d1"].ClaimedBy != "run-1" {
		t.Fatalf("expected owner run-1, got %q", store.docs["d1"].ClaimedBy)
	}
}

func TestClaimDocumentActivityReportsNoop(t *testing.T) {
	a, _ := newTestActivities(models.Document{ID: "d1", CollectionID: "c", Content: "hello", Status: models.StatusCompleted})
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	env.RegisterActivity(a)

	val, err := env.ExecuteActivity(a.ClaimDocumentActivity, ClaimDocumentInput{DocumentID: "d1"})
	if err != nil {
		t.Fatal(err)
	}
	var out ClaimDocumentOutput
	if err := val.Get(&out); err != nil {
		t.Fatal(err)
	}
	if out.Claimed || out.Noop != string(models.StatusCompleted) {
		t.Fatalf("expected completed noop, got %+v", out)
	}
}

func TestClaimDocumentActivityMissingDocumentIsNonRetryable(t *testing.T) {
	a, _ := newTestActivities()
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	env.RegisterActivity(a)

	_, err := env.ExecuteActivity(a.ClaimDocumentActivity, ClaimDocumentInput{DocumentID: "missing"})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestListFailedDocumentsActivity(t *testing.T) {
	a, _ := newTestActivities(
		models.Document{ID: "f1", CollectionID: "c", Status: models.StatusFailed},
		models.Document{ID: "ok", CollectionID: "c", Status: models.StatusCompleted},
		models.Document{ID: "f2", CollectionID: "other", Status: models.StatusFailed},
	)
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	env.RegisterActivity(a)

	val, err := env.ExecuteActivity(a.ListFailedDocumentsActivity, ListFailedDocumentsInput{CollectionID: "c"})
	if err != nil {
		t.Fatal(err)
	}
	var out ListFailedDocumentsOutput
	if err := val.Get(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.DocumentIDs) != 1 || out.DocumentIDs[0] != "f1" {
		t.Fatalf("unexpected ids %v", out.DocumentIDs)
	}
}
