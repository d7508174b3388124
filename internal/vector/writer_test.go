package vector

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"ragpipe/internal/util"
)

type countingIndex struct {
	Index
	upserts   []int
	deletes   []int
	failAfter int
}

func (c *countingIndex) Upsert(ctx context.Context, records []Record) error {
	if c.failAfter >= 0 && len(c.upserts) == c.failAfter {
		return errors.New("index unavailable")
	}
	c.upserts = append(c.upserts, len(records))
	return c.Index.Upsert(ctx, records)
}

func (c *countingIndex) DeleteByIDs(ctx context.Context, ids []string) error {
	c.deletes = append(c.deletes, len(ids))
	return c.Index.DeleteByIDs(ctx, ids)
}

func records(docID string, n int) []Record {
	out := make([]Record, n)
	for i := range out {
		out[i] = Record{
			ID:     fmt.Sprintf("%s-%d", docID, i),
			Vector: []float32{1, float32(i + 1), 0.5},
			Metadata: Metadata{
				TenantID: "t1", CollectionID: "c1", DocumentID: docID, ChunkIndex: i,
				Text: fmt.Sprintf("chunk %d", i), ChunkLength: 7,
			},
		}
	}
	return out
}

func newMemIndex(t *testing.T) *ChromemIndex {
	t.Helper()
	idx, err := NewChromemIndex("")
	require.NoError(t, err)
	return idx
}

func TestWriterUpsertBatches(t *testing.T) {
	idx := &countingIndex{Index: newMemIndex(t), failAfter: -1}
	w := NewWriter(idx, 100, nil, nil)
	n, err := w.Upsert(context.Background(), records("d1", 250))
	require.NoError(t, err)
	require.Equal(t, 250, n)
	require.Equal(t, []int{100, 100, 50}, idx.upserts)
}

func TestWriterUpsertReportsPartialProgress(t *testing.T) {
	idx := &countingIndex{Index: newMemIndex(t), failAfter: 1}
	w := NewWriter(idx, 100, nil, nil)
	n, err := w.Upsert(context.Background(), records("d1", 250))
	require.ErrorIs(t, err, util.ErrProvider)
	require.Equal(t, 100, n)
}

func TestWriterDeleteByIDsChunks(t *testing.T) {
	mem := newMemIndex(t)
	idx := &countingIndex{Index: mem, failAfter: -1}
	w := NewWriter(idx, 100, nil, nil)
	recs := records("d1", 240)
	_, err := w.Upsert(context.Background(), recs)
	require.NoError(t, err)

	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	require.NoError(t, w.DeleteByIDs(context.Background(), ids))
	require.Equal(t, []int{100, 100, 40}, idx.deletes)

	got, err := mem.Query(context.Background(), []float32{1, 1, 0.5}, 10, Filter{CollectionID: "c1"})
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestWriterDeleteByDocumentAndCollection(t *testing.T) {
	mem := newMemIndex(t)
	w := NewWriter(mem, 0, nil, nil)
	ctx := context.Background()
	_, err := w.Upsert(ctx, append(records("d1", 3), records("d2", 2)...))
	require.NoError(t, err)

	require.NoError(t, w.DeleteByDocument(ctx, "d1"))
	got, err := mem.Query(ctx, []float32{1, 1, 0.5}, 10, Filter{CollectionID: "c1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, m := range got {
		require.Equal(t, "d2", m.Metadata.DocumentID)
	}

	require.NoError(t, w.DeleteByCollection(ctx, "c1"))
	got, err = mem.Query(ctx, []float32{1, 1, 0.5}, 10, Filter{CollectionID: "c1"})
	require.NoError(t, err)
	require.Empty(t, got)

	require.ErrorIs(t, w.DeleteByDocument(ctx, ""), util.ErrValidation)
}
