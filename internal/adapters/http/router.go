package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mkropachev/ragpipe/internal/core/domain"
	"github.com/mkropachev/ragpipe/internal/core/ports"
	"github.com/mkropachev/ragpipe/internal/core/usecase"
	"github.com/mkropachev/ragpipe/internal/observability/metrics"
)

const (
	tenantHeader = "X-Tenant-Id"
	tierHeader   = "X-Tenant-Tier"
)

type Router struct {
	configs *usecase.ConfigService
	ingest  *usecase.IngestUseCase
	query   *usecase.QueryUseCase
	status  *usecase.TaskStatusUseCase
	docs    ports.DocumentRepository
	metrics *metrics.HTTPServerMetrics
	logger  *slog.Logger
	service string
}

func NewRouter(
	configs *usecase.ConfigService,
	ingest *usecase.IngestUseCase,
	query *usecase.QueryUseCase,
	status *usecase.TaskStatusUseCase,
	docs ports.DocumentRepository,
	httpMetrics *metrics.HTTPServerMetrics,
	logger *slog.Logger,
	service string,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		configs: configs,
		ingest:  ingest,
		query:   query,
		status:  status,
		docs:    docs,
		metrics: httpMetrics,
		logger:  logger,
		service: service,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/configs/validate", rt.validateConfig)
	mux.HandleFunc("/v1/configs", rt.saveConfig)
	mux.HandleFunc("/v1/documents", rt.uploadDocument)
	mux.HandleFunc("/v1/documents/", rt.documentSubtree)
	mux.HandleFunc("/v1/query", rt.runQuery)
	mux.HandleFunc("/v1/tasks/", rt.taskSubtree)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = accessLogMiddleware(rt.logger, handler)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(rt.service, handler)
	}
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) validateConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	cfg, ok := decodeConfig(w, r)
	if !ok {
		return
	}
	result, err := rt.configs.Validate(r.Context(), cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) saveConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req struct {
		Config       domain.PipelineConfig `json:"config"`
		ConfirmToken string                `json:"confirm_token,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	req.Config.TenantID = tenantFrom(r)

	result, saved, err := rt.configs.Save(r.Context(), req.Config, req.ConfirmToken)
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]any{
			"error":      err.Error(),
			"validation": result,
		})
		return
	}
	if saved == nil {
		status := http.StatusUnprocessableEntity
		if confirmationRequired(result) {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]any{
			"confirmation_required": confirmationRequired(result),
			"validation":            result,
		})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"config":     saved,
		"validation": result,
	})
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	task, err := rt.ingest.Upload(
		r.Context(),
		tenantFrom(r),
		r.FormValue("chatbot_id"),
		r.Header.Get(tierHeader),
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		file,
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, task)
}

func (rt *Router) documentSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/documents/")
	switch {
	case strings.HasSuffix(rest, "/reingest") && r.Method == http.MethodPost:
		documentID := strings.TrimSuffix(rest, "/reingest")
		task, err := rt.ingest.Reingest(r.Context(), tenantFrom(r), documentID, r.Header.Get(tierHeader))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, task)
	case !strings.Contains(rest, "/") && r.Method == http.MethodGet:
		doc, err := rt.docs.GetByID(r.Context(), rest)
		if err != nil {
			writeError(w, err)
			return
		}
		if doc.TenantID != tenantFrom(r) {
			writeError(w, domain.ErrDocumentNotFound)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	default:
		methodNotAllowed(w)
	}
}

func (rt *Router) runQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req domain.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	req.TenantID = tenantFrom(r)
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}
	if req.ChatbotID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "chatbot_id is required"})
		return
	}

	start := time.Now()
	result, err := rt.query.Query(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordQuery(rt.service, result.Mode, len(result.Candidates), result.Degraded, time.Since(start))
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) taskSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/tasks/")
	switch {
	case strings.HasSuffix(rest, "/cancel") && r.Method == http.MethodPost:
		taskID := strings.TrimSuffix(rest, "/cancel")
		if err := rt.status.Cancel(r.Context(), tenantFrom(r), taskID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancel requested"})
	case !strings.Contains(rest, "/") && r.Method == http.MethodGet:
		task, err := rt.status.Status(r.Context(), rest)
		if err != nil {
			writeError(w, err)
			return
		}
		if task.TenantID != tenantFrom(r) {
			writeError(w, domain.ErrTaskNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"task":     task,
			"progress": task.ProgressPercentage(),
		})
	default:
		methodNotAllowed(w)
	}
}

func decodeConfig(w http.ResponseWriter, r *http.Request) (domain.PipelineConfig, bool) {
	var cfg domain.PipelineConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return cfg, false
	}
	cfg.TenantID = tenantFrom(r)
	return cfg, true
}

func confirmationRequired(result domain.ValidationResult) bool {
	for _, fieldErr := range result.Errors {
		if fieldErr.Code == "confirmation_required" {
			return true
		}
	}
	return false
}

func tenantFrom(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(tenantHeader))
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
