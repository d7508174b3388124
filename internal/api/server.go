package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	tclient "go.temporal.io/sdk/client"

	"ragpipe/internal/config"
	"ragpipe/internal/ingest"
	"ragpipe/internal/models"
	"ragpipe/internal/retrieval"
	"ragpipe/internal/util"
	"ragpipe/internal/workflows"
)

type DocumentStore interface {
	Create(ctx context.Context, d models.Document) (models.Document, error)
	Get(ctx context.Context, id string) (models.Document, error)
	DeleteDocument(ctx context.Context, id string) (models.CleanupJob, error)
	DeleteCollection(ctx context.Context, collectionID string) (models.CleanupJob, error)
}

type ChunkLister interface {
	ListByDocument(ctx context.Context, documentID string) ([]models.Chunk, error)
}

type Previewer interface {
	Preview(ctx context.Context, text, contentType string) ([]ingest.PreviewChunk, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, query, collectionID string, opts retrieval.Options) ([]models.RetrievedChunk, error)
}

type JobLister interface {
	List(ctx context.Context, status models.JobStatus, limit int) ([]models.CleanupJob, error)
}

type CleanupStatsReader interface {
	Stats(ctx context.Context, window time.Duration) (models.CleanupStats, error)
}

// Deps are the collaborators the HTTP layer calls into. Metrics and Ping may be nil.
type Deps struct {
	Documents DocumentStore
	Chunks    ChunkLister
	Preview   Previewer
	Retriever Retriever
	Jobs      JobLister
	Stats     CleanupStatsReader
	Temporal  tclient.Client
	Metrics   http.Handler
	Ping      func(ctx context.Context) error
	Logger    *slog.Logger
}

type Server struct {
	cfg  config.Config
	deps Deps
	log  *slog.Logger
}

func NewServer(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, deps: deps, log: logger.With("component", "api")}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("POST /documents", s.handleCreateDocument)
	mux.HandleFunc("GET /documents/{id}", s.handleGetDocument)
	mux.HandleFunc("GET /documents/{id}/chunks", s.handleListChunks)
	mux.HandleFunc("POST /documents/{id}/process", s.handleProcess)
	mux.HandleFunc("POST /documents/{id}/retry", s.handleRetry)
	mux.HandleFunc("DELETE /documents/{id}", s.handleDeleteDocument)
	mux.HandleFunc("DELETE /collections/{id}", s.handleDeleteCollection)
	mux.HandleFunc("POST /collections/{id}/retry-failed", s.handleRetryFailed)
	mux.HandleFunc("GET /collections/{id}/retry-failed", s.handleRetryFailedProgress)
	mux.HandleFunc("POST /preview", s.handlePreview)
	mux.HandleFunc("POST /retrieve", s.handleRetrieve)
	mux.HandleFunc("POST /cleanup/sweep", s.handleSweep)
	mux.HandleFunc("GET /cleanup/jobs", s.handleListJobs)
	mux.HandleFunc("GET /cleanup/stats", s.handleCleanupStats)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics)
	}
	return withCORS(mux)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ping != nil {
		if err := s.deps.Ping(r.Context()); err != nil {
			s.log.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type createDocumentRequest struct {
	TenantID     string        `json:"tenant_id"`
	CollectionID string        `json:"collection_id"`
	Source       models.Source `json:"source"`
	Content      string        `json:"content"`
	StoragePath  string        `json:"storage_path"`
	ContentType  string        `json:"content_type"`
	SizeBytes    int64         `json:"size_bytes"`
	Process      bool          `json:"process"`
}

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var req createDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	req.CollectionID = strings.TrimSpace(req.CollectionID)
	if req.CollectionID == "" {
		writeErr(w, http.StatusBadRequest, util.Invalid("collection_id", "is required"))
		return
	}
	if req.Source.Upload != nil {
		if req.StoragePath == "" {
			req.StoragePath = req.Source.Upload.StoragePath
		}
		if req.ContentType == "" {
			req.ContentType = req.Source.Upload.ContentType
		}
		if req.SizeBytes == 0 {
			req.SizeBytes = req.Source.Upload.SizeBytes
		}
	}
	doc, err := s.deps.Documents.Create(r.Context(), models.Document{
		TenantID:     strings.TrimSpace(req.TenantID),
		CollectionID: req.CollectionID,
		Source:       req.Source,
		Content:      req.Content,
		StoragePath:  req.StoragePath,
		ContentType:  req.ContentType,
		SizeBytes:    req.SizeBytes,
	})
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	out := map[string]any{"document": doc}
	if req.Process {
		we, err := s.startIngest(r.Context(), doc.ID)
		if err != nil {
			writeErr(w, statusFor(err), err)
			return
		}
		out["workflow_id"] = we.GetID()
		out["run_id"] = we.GetRunID()
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.deps.Documents.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleListChunks(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.deps.Documents.Get(r.Context(), id); err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	chunks, err := s.deps.Chunks.ListByDocument(r.Context(), id)
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chunks": chunks})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	s.triggerIngest(w, r, models.StatusPending, models.StatusFailed)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	s.triggerIngest(w, r, models.StatusFailed)
}

// triggerIngest starts the ingest workflow when the document is in one of the allowed states.
// A document already processing or completed is reported as a no-op, not an error.
func (s *Server) triggerIngest(w http.ResponseWriter, r *http.Request, allowed ...models.DocumentStatus) {
	doc, err := s.deps.Documents.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	switch doc.Status {
	case models.StatusProcessing:
		writeJSON(w, http.StatusOK, map[string]any{"document_id": doc.ID, "noop": workflows.StatusNoopProcessing})
		return
	case models.StatusCompleted:
		writeJSON(w, http.StatusOK, map[string]any{"document_id": doc.ID, "noop": workflows.StatusNoopCompleted})
		return
	}
	ok := false
	for _, st := range allowed {
		if doc.Status == st {
			ok = true
		}
	}
	if !ok {
		writeErr(w, http.StatusConflict, fmt.Errorf("document %s is %s", doc.ID, doc.Status))
		return
	}
	we, err := s.startIngest(r.Context(), doc.ID)
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"document_id": doc.ID, "workflow_id": we.GetID(), "run_id": we.GetRunID()})
}

func (s *Server) startIngest(ctx context.Context, documentID string) (tclient.WorkflowRun, error) {
	return s.deps.Temporal.ExecuteWorkflow(ctx, tclient.StartWorkflowOptions{
		ID:                                       workflows.IngestWorkflowID(documentID),
		TaskQueue:                                s.cfg.TemporalTaskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, workflows.DocumentIngestWorkflow, workflows.DocumentIngestInput{DocumentID: documentID})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Documents.DeleteDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"cleanup_job": job})
}

func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Documents.DeleteCollection(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"cleanup_job": job})
}

func retryFailedWorkflowID(collectionID string) string {
	return "retry-failed-" + collectionID
}

func (s *Server) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	collectionID := r.PathValue("id")
	we, err := s.deps.Temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
		ID:                                       retryFailedWorkflowID(collectionID),
		TaskQueue:                                s.cfg.TemporalTaskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, workflows.RetryFailedDocumentsWorkflow, workflows.RetryFailedInput{
		CollectionID:          collectionID,
		MaxConcurrentChildren: s.cfg.RetryMaxChildren,
	})
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"workflow_id": we.GetID(), "run_id": we.GetRunID()})
}

func (s *Server) handleRetryFailedProgress(w http.ResponseWriter, r *http.Request) {
	resp, err := s.deps.Temporal.QueryWorkflow(r.Context(), retryFailedWorkflowID(r.PathValue("id")), "", workflows.QueryGetProgress)
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	var prog workflows.RetryFailedProgress
	if err := resp.Get(&prog); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, prog)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text        string `json:"text"`
		ContentType string `json:"content_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	chunks, err := s.deps.Preview.Preview(r.Context(), req.Text, req.ContentType)
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chunks": chunks, "count": len(chunks)})
}

const snippetRunes = 420

type retrievedView struct {
	models.RetrievedChunk
	Snippet string `json:"snippet"`
}

type retrieveRequest struct {
	Query               string   `json:"query"`
	CollectionID        string   `json:"collection_id"`
	Preset              string   `json:"preset"`
	TopK                *int     `json:"top_k"`
	SimilarityThreshold *float64 `json:"similarity_threshold"`
	UseReranking        *bool    `json:"use_reranking"`
	DiversityPenalty    *float64 `json:"diversity_penalty"`
	MaxContextChars     int      `json:"max_context_chars"`
}

// options starts from the named preset and applies any explicit overrides.
func (req retrieveRequest) options(defaultPreset string) retrieval.Options {
	name := req.Preset
	if name == "" {
		name = defaultPreset
	}
	opts := retrieval.OptionsFromPreset(config.Preset(name))
	if req.TopK != nil {
		opts.TopK = *req.TopK
	}
	if req.SimilarityThreshold != nil {
		opts.SimilarityThreshold = *req.SimilarityThreshold
	}
	if req.UseReranking != nil {
		opts.UseReranking = *req.UseReranking
	}
	if req.DiversityPenalty != nil {
		opts.DiversityPenalty = *req.DiversityPenalty
	}
	return opts
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	chunks, err := s.deps.Retriever.Retrieve(r.Context(), req.Query, req.CollectionID, req.options(s.cfg.RetrievalPreset))
	if errors.Is(err, util.ErrValidation) {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		// callers answer without context rather than fail
		s.log.Warn("retrieval unavailable, answering without context", "collection_id", req.CollectionID, "error", err)
		writeJSON(w, http.StatusOK, map[string]any{
			"chunks":   []retrievedView{},
			"count":    0,
			"context":  retrieval.NoContext,
			"degraded": true,
		})
		return
	}
	maxChars := req.MaxContextChars
	if maxChars <= 0 {
		maxChars = s.cfg.MaxContextChars
	}
	views := make([]retrievedView, 0, len(chunks))
	for _, c := range chunks {
		views = append(views, retrievedView{RetrievedChunk: c, Snippet: util.EvidenceSnippet(c.Content, req.Query, snippetRunes)})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chunks":  views,
		"count":   len(chunks),
		"context": retrieval.RenderContext(chunks, maxChars),
	})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	we, err := s.deps.Temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
		ID:        "cleanup-sweep-manual-" + uuid.NewString(),
		TaskQueue: s.cfg.TemporalTaskQueue,
	}, workflows.CleanupSweepWorkflow, workflows.CleanupSweepInput{Trigger: "api"})
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"workflow_id": we.GetID(), "run_id": we.GetRunID()})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeErr(w, http.StatusBadRequest, util.Invalid("limit", "must be a positive integer"))
			return
		}
		limit = n
	}
	jobs, err := s.deps.Jobs.List(r.Context(), models.JobStatus(r.URL.Query().Get("status")), limit)
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleCleanupStats(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 24*30 {
			writeErr(w, http.StatusBadRequest, util.Invalid("hours", "must be between 1 and 720"))
			return
		}
		hours = n
	}
	stats, err := s.deps.Stats.Stats(r.Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func statusFor(err error) int {
	var started *serviceerror.WorkflowExecutionAlreadyStarted
	switch {
	case errors.Is(err, util.ErrValidation), errors.Is(err, util.ErrUnsupportedType):
		return http.StatusBadRequest
	case errors.Is(err, util.ErrNotFound):
		return http.StatusNotFound
	case util.IsNoop(err), errors.As(err, &started):
		return http.StatusConflict
	case errors.Is(err, util.ErrProvider):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

type apiError struct {
	Code    string
	Message string
}

func toAPIError(status int, err error) apiError {
	msg := "Request failed."
	code := "RP-API-4000"
	raw := ""
	if err != nil {
		raw = strings.ToLower(err.Error())
	}

	switch {
	case status >= 500 && status != http.StatusBadGateway:
		switch {
		case strings.Contains(raw, "relation") && strings.Contains(raw, "does not exist"):
			return apiError{
				Code:    "RP-DB-5001",
				Message: "Database schema is not initialized. Run migrations and retry.",
			}
		case strings.Contains(raw, "connect"), strings.Contains(raw, "dial tcp"), strings.Contains(raw, "connection refused"):
			return apiError{
				Code:    "RP-DB-5002",
				Message: "Database connection is unavailable. Check local services and retry.",
			}
		default:
			return apiError{
				Code:    "RP-API-5000",
				Message: "Internal server error. Please retry or check service logs.",
			}
		}
	case status == http.StatusBadRequest:
		code = "RP-API-4001"
		msg = "Invalid request. Check inputs and retry."
	case status == http.StatusNotFound:
		code = "RP-API-4004"
		msg = "Requested resource was not found."
	case status == http.StatusConflict:
		code = "RP-API-4009"
		msg = "Operation conflicts with current state. Retry after checking status."
	case status == http.StatusBadGateway:
		code = "RP-API-5020"
		msg = "Upstream provider unavailable. Retry shortly."
	}

	// validation messages name the field and are safe to echo
	var verr *util.ValidationError
	if status == http.StatusBadRequest && errors.As(err, &verr) {
		msg = verr.Error()
	}
	if status == http.StatusBadRequest && strings.Contains(raw, "invalid json") {
		msg = "Malformed JSON request body."
	}

	return apiError{Code: code, Message: msg}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
