package workflows

type DocumentIngestInput struct {
	DocumentID string `json:"document_id"`
}

type IngestStatus struct {
	DocumentID  string `json:"document_id"`
	CurrentStep string `json:"current_step"`
	Status      string `json:"status"`
	ChunkCount  int    `json:"chunk_count"`
	FailReason  string `json:"fail_reason,omitempty"`
}

type RetryFailedInput struct {
	CollectionID          string `json:"collection_id"`
	MaxConcurrentChildren int    `json:"max_concurrent_children"`
}

type RetryFailedProgress struct {
	CollectionID string            `json:"collection_id"`
	Total        int               `json:"total"`
	Done         int               `json:"done"`
	Failed       int               `json:"failed"`
	PerDocument  map[string]string `json:"per_document"`
}

type CleanupSweepInput struct {
	Trigger string `json:"trigger,omitempty"`
}
