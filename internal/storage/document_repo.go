package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"ragpipe/internal/models"
	"ragpipe/internal/util"
)

type DocumentRepo struct {
	db *DB
}

func NewDocumentRepo(db *DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

const documentColumns = `id::text, tenant_id, collection_id, source, COALESCE(content,''), COALESCE(storage_path,''),
       COALESCE(content_type,''), size_bytes, embedding_status, COALESCE(error_message,''), COALESCE(claimed_by,''), chunk_count,
       created_at, updated_at`

func scanDocument(row pgx.Row) (models.Document, error) {
	var (
		d      models.Document
		source []byte
	)
	if err := row.Scan(&d.ID, &d.TenantID, &d.CollectionID, &source, &d.Content, &d.StoragePath,
		&d.ContentType, &d.SizeBytes, &d.Status, &d.ErrorMessage, &d.ClaimedBy, &d.ChunkCount, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return models.Document{}, err
	}
	if err := json.Unmarshal(source, &d.Source); err != nil {
		return models.Document{}, fmt.Errorf("decode document source: %w", err)
	}
	return d, nil
}

func (r *DocumentRepo) Create(ctx context.Context, d models.Document) (models.Document, error) {
	if err := d.Source.Validate(); err != nil {
		return models.Document{}, err
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.Status = models.StatusPending
	source, err := json.Marshal(d.Source)
	if err != nil {
		return models.Document{}, fmt.Errorf("encode document source: %w", err)
	}
	err = r.db.Pool.QueryRow(ctx, `
INSERT INTO documents (id, tenant_id, collection_id, source, content, storage_path, content_type, size_bytes, embedding_status)
VALUES ($1, $2, $3, $4, NULLIF($5,''), NULLIF($6,''), NULLIF($7,''), $8, $9)
RETURNING created_at, updated_at`,
		d.ID, d.TenantID, d.CollectionID, source, d.Content, d.StoragePath, d.ContentType, d.SizeBytes, d.Status,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return models.Document{}, fmt.Errorf("insert document: %w", err)
	}
	return d, nil
}

func (r *DocumentRepo) Get(ctx context.Context, id string) (models.Document, error) {
	d, err := scanDocument(r.db.Pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1::uuid`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Document{}, fmt.Errorf("document %s: %w", id, util.ErrNotFound)
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("get document: %w", err)
	}
	return d, nil
}

// TransitionStatus moves a document from one status to another only if it still holds from.
// It reports false when another writer got there first.
func (r *DocumentRepo) TransitionStatus(ctx context.Context, id string, from, to models.DocumentStatus, message string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
UPDATE documents
SET embedding_status=$3, error_message=NULLIF($4,''), updated_at=NOW()
WHERE id=$1::uuid AND embedding_status=$2`, id, from, to, util.TruncateRunes(message, util.MaxErrorMessageLen))
	if err != nil {
		return false, fmt.Errorf("transition document status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimProcessing is the from -> processing transition that also records the claim owner.
func (r *DocumentRepo) ClaimProcessing(ctx context.Context, id string, from models.DocumentStatus, owner string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
UPDATE documents
SET embedding_status='processing', claimed_by=NULLIF($3,''), error_message=NULL, updated_at=NOW()
WHERE id=$1::uuid AND embedding_status=$2`, id, from, owner)
	if err != nil {
		return false, fmt.Errorf("claim document: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Complete persists every chunk row and flips processing to completed in one transaction.
// It returns util.ErrNotFound when the document was deleted while processing.
func (r *DocumentRepo) Complete(ctx context.Context, id string, chunks []models.Chunk, message string) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx complete document: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// the status update locks the row, so a concurrent delete waits for this commit
	tag, err := tx.Exec(ctx, `
UPDATE documents
SET embedding_status='completed', chunk_count=$2, error_message=NULLIF($3,''), updated_at=NOW()
WHERE id=$1::uuid AND embedding_status='processing'`, id, len(chunks), message)
	if err != nil {
		return fmt.Errorf("complete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var status string
		err := tx.QueryRow(ctx, `SELECT embedding_status FROM documents WHERE id=$1::uuid`, id).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("document %s: %w", id, util.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("read document status: %w", err)
		}
		return fmt.Errorf("complete document %s: status is %s, not processing", id, status)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM document_chunks WHERE document_id=$1::uuid`, id); err != nil {
		return fmt.Errorf("clear document chunks: %w", err)
	}
	if len(chunks) > 0 {
		docUUID, err := uuid.Parse(id)
		if err != nil {
			return util.Invalid("document_id", err.Error())
		}
		rows := make([][]any, 0, len(chunks))
		for _, c := range chunks {
			rows = append(rows, []any{c.ID, docUUID, c.CollectionID, int32(c.ChunkIndex), c.Content, c.ContentHash})
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"document_chunks"},
			[]string{"id", "document_id", "collection_id", "chunk_index", "content", "content_hash"},
			pgx.CopyFromRows(rows),
		)
		if isForeignKeyViolation(err) {
			return fmt.Errorf("document %s: %w", id, util.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("copy document chunks: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit complete document: %w", err)
	}
	return nil
}

func (r *DocumentRepo) ListFailed(ctx context.Context, collectionID string) ([]models.Document, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE collection_id=$1 AND embedding_status='failed'
ORDER BY updated_at DESC`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("list failed documents: %w", err)
	}
	defer rows.Close()
	out := make([]models.Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan failed document: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Status reports the current status; ok is false when the document no longer exists.
func (r *DocumentRepo) Status(ctx context.Context, id string) (models.DocumentStatus, bool, error) {
	var s models.DocumentStatus
	err := r.db.Pool.QueryRow(ctx, `SELECT embedding_status FROM documents WHERE id=$1::uuid`, id).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read document status: %w", err)
	}
	return s, true, nil
}

// DeleteDocument removes the document (chunk rows cascade) and enqueues its vector cleanup in
// the same transaction.
func (r *DocumentRepo) DeleteDocument(ctx context.Context, id string) (models.CleanupJob, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return models.CleanupJob{}, fmt.Errorf("begin tx delete document: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var tenantID, collectionID string
	err = tx.QueryRow(ctx, `SELECT tenant_id, collection_id FROM documents WHERE id=$1::uuid FOR UPDATE`, id).
		Scan(&tenantID, &collectionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.CleanupJob{}, fmt.Errorf("document %s: %w", id, util.ErrNotFound)
	}
	if err != nil {
		return models.CleanupJob{}, fmt.Errorf("lock document: %w", err)
	}
	vectorIDs, err := chunkIDs(ctx, tx, []string{id})
	if err != nil {
		return models.CleanupJob{}, err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE id=$1::uuid`, id); err != nil {
		return models.CleanupJob{}, fmt.Errorf("delete document: %w", err)
	}
	job, err := insertCleanupJob(ctx, tx, models.CleanupJob{
		Reason:       models.ReasonDocumentDeleted,
		TenantID:     tenantID,
		CollectionID: collectionID,
		DocumentIDs:  []string{id},
		VectorIDs:    vectorIDs,
	})
	if err != nil {
		return models.CleanupJob{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.CleanupJob{}, fmt.Errorf("commit delete document: %w", err)
	}
	return job, nil
}

// DeleteCollection removes every document of a collection and enqueues one cleanup job for all
// of them. The job is enqueued even for an empty collection so stray vectors still go.
func (r *DocumentRepo) DeleteCollection(ctx context.Context, collectionID string) (models.CleanupJob, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return models.CleanupJob{}, fmt.Errorf("begin tx delete collection: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	rows, err := tx.Query(ctx, `SELECT id::text, tenant_id FROM documents WHERE collection_id=$1 FOR UPDATE`, collectionID)
	if err != nil {
		return models.CleanupJob{}, fmt.Errorf("lock collection documents: %w", err)
	}
	var (
		docIDs   []string
		tenantID string
	)
	for rows.Next() {
		var id, tenant string
		if err := rows.Scan(&id, &tenant); err != nil {
			rows.Close()
			return models.CleanupJob{}, fmt.Errorf("scan collection document: %w", err)
		}
		docIDs = append(docIDs, id)
		tenantID = tenant
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return models.CleanupJob{}, fmt.Errorf("iterate collection documents: %w", err)
	}

	vectorIDs, err := chunkIDs(ctx, tx, docIDs)
	if err != nil {
		return models.CleanupJob{}, err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE collection_id=$1`, collectionID); err != nil {
		return models.CleanupJob{}, fmt.Errorf("delete collection documents: %w", err)
	}
	job, err := insertCleanupJob(ctx, tx, models.CleanupJob{
		Reason:       models.ReasonCollectionDeleted,
		TenantID:     tenantID,
		CollectionID: collectionID,
		DocumentIDs:  docIDs,
		VectorIDs:    vectorIDs,
	})
	if err != nil {
		return models.CleanupJob{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.CleanupJob{}, fmt.Errorf("commit delete collection: %w", err)
	}
	return job, nil
}

func chunkIDs(ctx context.Context, tx pgx.Tx, documentIDs []string) ([]string, error) {
	if len(documentIDs) == 0 {
		return nil, nil
	}
	rows, err := tx.Query(ctx, `
SELECT id FROM document_chunks
WHERE document_id = ANY($1::text[]::uuid[])
ORDER BY document_id, chunk_index`, documentIDs)
	if err != nil {
		return nil, fmt.Errorf("list chunk ids: %w", err)
	}
	defer rows.Close()
	out := make([]string, 0, 64)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chunk id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
