package models

import (
	"fmt"
	"time"
)

type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

type Document struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id"`
	CollectionID string         `json:"collection_id"`
	Source       Source         `json:"source"`
	Content      string         `json:"content,omitempty"`
	StoragePath  string         `json:"storage_path,omitempty"`
	ContentType  string         `json:"content_type,omitempty"`
	SizeBytes    int64          `json:"size_bytes"`
	Status       DocumentStatus `json:"embedding_status"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ClaimedBy    string         `json:"claimed_by,omitempty"`
	ChunkCount   int            `json:"chunk_count"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Chunk is one persisted window of a document. ID doubles as the vector id.
type Chunk struct {
	ID           string    `json:"id"`
	DocumentID   string    `json:"document_id"`
	CollectionID string    `json:"collection_id"`
	ChunkIndex   int       `json:"chunk_index"`
	Content      string    `json:"content"`
	ContentHash  string    `json:"content_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s-%d", documentID, index)
}

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

type CleanupReason string

const (
	ReasonDocumentDeleted   CleanupReason = "document_deleted"
	ReasonCollectionDeleted CleanupReason = "collection_deleted"
	ReasonIngestRollback    CleanupReason = "ingest_rollback"
)

// CleanupJob is a durable request to remove vectors. DocumentIDs may be empty for a
// collection-wide job; VectorIDs is empty when the ids were never recorded.
type CleanupJob struct {
	ID           string            `json:"id"`
	Reason       CleanupReason     `json:"reason"`
	TenantID     string            `json:"tenant_id,omitempty"`
	CollectionID string            `json:"collection_id"`
	DocumentIDs  []string          `json:"document_ids"`
	VectorIDs    []string          `json:"vector_ids"`
	Status       JobStatus         `json:"status"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Outcomes     map[string]string `json:"outcomes,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	ProcessedAt  *time.Time        `json:"processed_at,omitempty"`
}

// CleanupStats summarizes the cleanup queue over a trailing window.
type CleanupStats struct {
	WindowHours          float64           `json:"window_hours"`
	Counts               map[JobStatus]int `json:"counts"`
	AvgProcessingSeconds float64           `json:"avg_processing_seconds"`
	StuckProcessing      int               `json:"stuck_processing"`
	RecentFailures       []CleanupFailure  `json:"recent_failures"`
}

type CleanupFailure struct {
	ID           string        `json:"id"`
	Reason       CleanupReason `json:"reason"`
	CollectionID string        `json:"collection_id"`
	ErrorMessage string        `json:"error_message"`
	ProcessedAt  *time.Time    `json:"processed_at,omitempty"`
}

// RetrievedChunk exists only for the lifetime of a query.
type RetrievedChunk struct {
	ID          string  `json:"id"`
	Content     string  `json:"content"`
	Similarity  float64 `json:"similarity"`
	RerankScore float64 `json:"rerank_score,omitempty"`
	Score       float64 `json:"score"`
	DocumentID  string  `json:"document_id"`
	SourceName  string  `json:"source_name"`
	ChunkIndex  int     `json:"chunk_index"`
}
