package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type Queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PGIndex keeps vectors in the chunk_vectors table and ranks by pgvector cosine distance.
type PGIndex struct {
	q Queryer
}

func NewPGIndex(q Queryer) *PGIndex {
	return &PGIndex{q: q}
}

func (p *PGIndex) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := p.q.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx upsert vectors: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	batch := &pgx.Batch{}
	for _, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("encode vector metadata %s: %w", r.ID, err)
		}
		batch.Queue(`
INSERT INTO chunk_vectors (id, tenant_id, collection_id, document_id, chunk_index, content, metadata, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::vector)
ON CONFLICT (id)
DO UPDATE SET
  tenant_id = EXCLUDED.tenant_id,
  collection_id = EXCLUDED.collection_id,
  document_id = EXCLUDED.document_id,
  chunk_index = EXCLUDED.chunk_index,
  content = EXCLUDED.content,
  metadata = EXCLUDED.metadata,
  embedding = EXCLUDED.embedding`,
			r.ID, r.Metadata.TenantID, r.Metadata.CollectionID, r.Metadata.DocumentID, r.Metadata.ChunkIndex,
			r.Metadata.Text, meta, ToLiteral(r.Vector),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert vectors: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit vectors tx: %w", err)
	}
	return nil
}

func (p *PGIndex) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error) {
	if topK <= 0 {
		topK = 8
	}
	where, args := filterSQL(filter, 3)
	args = append([]any{ToLiteral(vector), topK}, args...)
	query := `
SELECT id, metadata, content, 1 - (embedding <=> $1::vector) AS similarity
FROM chunk_vectors
WHERE ` + where + `
ORDER BY embedding <=> $1::vector
LIMIT $2`

	rows, err := p.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query vector search: %w", err)
	}
	defer rows.Close()

	out := make([]Match, 0, topK)
	for rows.Next() {
		var (
			m    Match
			raw  []byte
			text string
		)
		if err := rows.Scan(&m.ID, &raw, &text, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scan vector match: %w", err)
		}
		if err := json.Unmarshal(raw, &m.Metadata); err != nil {
			return nil, fmt.Errorf("decode vector metadata %s: %w", m.ID, err)
		}
		m.Metadata.Text = text
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vector matches: %w", err)
	}
	return out, nil
}

func (p *PGIndex) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := p.q.Exec(ctx, `DELETE FROM chunk_vectors WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("delete vectors by id: %w", err)
	}
	return nil
}

func (p *PGIndex) DeleteByFilter(ctx context.Context, filter Filter) error {
	if filter.Empty() {
		return errors.New("refusing to delete vectors with an empty filter")
	}
	where, args := filterSQL(filter, 1)
	if _, err := p.q.Exec(ctx, `DELETE FROM chunk_vectors WHERE `+where, args...); err != nil {
		return fmt.Errorf("delete vectors by filter: %w", err)
	}
	return nil
}

// filterSQL numbers its placeholders from first.
func filterSQL(f Filter, first int) (string, []any) {
	clauses := []string{"TRUE"}
	args := []any{}
	add := func(col, v string) {
		if v == "" {
			return
		}
		clauses = append(clauses, fmt.Sprintf("%s = $%d", col, first+len(args)))
		args = append(args, v)
	}
	add("tenant_id", f.TenantID)
	add("collection_id", f.CollectionID)
	add("document_id", f.DocumentID)
	return strings.Join(clauses, " AND "), args
}

func ToLiteral(v []float32) string {
	parts := make([]string, 0, len(v))
	for _, x := range v {
		parts = append(parts, fmt.Sprintf("%f", x))
	}
	return "[" + strings.Join(parts, ",") + "]"
}
