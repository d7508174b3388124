package activities

import "ragpipe/internal/models"

type ClaimDocumentInput struct {
	DocumentID string `json:"document_id"`
	Owner      string `json:"owner"`
}

type ClaimDocumentOutput struct {
	Claimed  bool            `json:"claimed"`
	Noop     string          `json:"noop,omitempty"`
	Document models.Document `json:"document"`
}

type RunIngestionInput struct {
	Document models.Document `json:"document"`
}

type FailDocumentInput struct {
	DocumentID string `json:"document_id"`
	Message    string `json:"message"`
}

type ListFailedDocumentsInput struct {
	CollectionID string `json:"collection_id"`
}

type ListFailedDocumentsOutput struct {
	DocumentIDs []string `json:"document_ids"`
}

type SweepCleanupInput struct {
	Trigger string `json:"trigger,omitempty"`
}
