package vector

import (
	"context"
	"errors"
	"fmt"

	chromem "github.com/philippgille/chromem-go"
)

const chromemCollection = "chunks"

// ChromemIndex is an embedded index for single-node deployments and tests.
type ChromemIndex struct {
	col *chromem.Collection
}

// NewChromemIndex opens a persistent index at path, or an in-memory one when path is empty.
func NewChromemIndex(path string) (*ChromemIndex, error) {
	db := chromem.NewDB()
	if path != "" {
		var err error
		db, err = chromem.NewPersistentDB(path, true)
		if err != nil {
			return nil, fmt.Errorf("open chromem db: %w", err)
		}
	}
	col, err := db.GetOrCreateCollection(chromemCollection, map[string]string{"hnsw:space": "cosine"}, nil)
	if err != nil {
		return nil, fmt.Errorf("open chromem collection: %w", err)
	}
	return &ChromemIndex{col: col}, nil
}

func (c *ChromemIndex) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	ids := make([]string, len(records))
	embeddings := make([][]float32, len(records))
	metadatas := make([]map[string]string, len(records))
	contents := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
		// chromem normalizes in place
		embeddings[i] = append([]float32(nil), r.Vector...)
		metadatas[i] = r.Metadata.Map()
		contents[i] = r.Metadata.Text
	}
	if err := c.col.Add(ctx, ids, embeddings, metadatas, contents); err != nil {
		return fmt.Errorf("upsert chromem vectors: %w", err)
	}
	return nil
}

func (c *ChromemIndex) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error) {
	total := c.col.Count()
	if total == 0 || topK <= 0 {
		return nil, nil
	}
	if topK > total {
		topK = total
	}
	var where map[string]string
	if !filter.Empty() {
		where = filter.Map()
	}
	res, err := c.col.QueryEmbedding(ctx, append([]float32(nil), vector...), topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("query chromem: %w", err)
	}
	out := make([]Match, 0, len(res))
	for _, r := range res {
		out = append(out, Match{
			ID:         r.ID,
			Similarity: float64(r.Similarity),
			Metadata:   MetadataFromMap(r.Metadata, r.Content),
		})
	}
	return out, nil
}

func (c *ChromemIndex) DeleteByIDs(ctx context.Context, ids []string) error {
	present := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := c.col.GetByID(ctx, id); err == nil {
			present = append(present, id)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := c.col.Delete(ctx, nil, nil, present...); err != nil {
		return fmt.Errorf("delete chromem vectors by id: %w", err)
	}
	return nil
}

func (c *ChromemIndex) DeleteByFilter(ctx context.Context, filter Filter) error {
	if filter.Empty() {
		return errors.New("refusing to delete vectors with an empty filter")
	}
	if c.col.Count() == 0 {
		return nil
	}
	if err := c.col.Delete(ctx, filter.Map(), nil); err != nil {
		return fmt.Errorf("delete chromem vectors by filter: %w", err)
	}
	return nil
}
