package vector

import (
	"context"
	"strconv"
)

// Metadata travels with every vector so retrieval never needs the relational store.
type Metadata struct {
	TenantID     string `json:"tenant_id"`
	CollectionID string `json:"collection_id"`
	DocumentID   string `json:"document_id"`
	ChunkIndex   int    `json:"chunk_index"`
	Text         string `json:"text"`
	SourceKind   string `json:"source_kind,omitempty"`
	SourceName   string `json:"source_name,omitempty"`
	ContentType  string `json:"content_type,omitempty"`
	ChunkLength  int    `json:"chunk_length"`
}

// Map flattens metadata for stores that only hold string maps. Text is kept out; those
// stores hold it as the document content.
func (m Metadata) Map() map[string]string {
	return map[string]string{
		"tenant_id":     m.TenantID,
		"collection_id": m.CollectionID,
		"document_id":   m.DocumentID,
		"chunk_index":   strconv.Itoa(m.ChunkIndex),
		"source_kind":   m.SourceKind,
		"source_name":   m.SourceName,
		"content_type":  m.ContentType,
		"chunk_length":  strconv.Itoa(m.ChunkLength),
	}
}

func MetadataFromMap(in map[string]string, text string) Metadata {
	idx, _ := strconv.Atoi(in["chunk_index"])
	length, _ := strconv.Atoi(in["chunk_length"])
	return Metadata{
		TenantID:     in["tenant_id"],
		CollectionID: in["collection_id"],
		DocumentID:   in["document_id"],
		ChunkIndex:   idx,
		Text:         text,
		SourceKind:   in["source_kind"],
		SourceName:   in["source_name"],
		ContentType:  in["content_type"],
		ChunkLength:  length,
	}
}

type Record struct {
	ID       string
	Vector   []float32
	Metadata Metadata
}

// Filter matches on every non-empty field.
type Filter struct {
	TenantID     string
	CollectionID string
	DocumentID   string
}

func (f Filter) Empty() bool {
	return f.TenantID == "" && f.CollectionID == "" && f.DocumentID == ""
}

func (f Filter) Map() map[string]string {
	out := map[string]string{}
	if f.TenantID != "" {
		out["tenant_id"] = f.TenantID
	}
	if f.CollectionID != "" {
		out["collection_id"] = f.CollectionID
	}
	if f.DocumentID != "" {
		out["document_id"] = f.DocumentID
	}
	return out
}

type Match struct {
	ID         string
	Similarity float64
	Metadata   Metadata
}

// Index is the vector index service. Upsert overwrites records with the same id.
type Index interface {
	Upsert(ctx context.Context, records []Record) error
	Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error)
	DeleteByIDs(ctx context.Context, ids []string) error
	DeleteByFilter(ctx context.Context, filter Filter) error
}
