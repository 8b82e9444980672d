package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mkropachev/ragpipe/internal/core/domain"
	"github.com/mkropachev/ragpipe/internal/core/ports"
	"github.com/mkropachev/ragpipe/internal/core/usecase"
	"github.com/mkropachev/ragpipe/internal/observability/logging"
	"github.com/mkropachev/ragpipe/internal/observability/metrics"
	"github.com/mkropachev/ragpipe/internal/strategy"
)

type memConfigs struct {
	mu     sync.Mutex
	active map[string]*domain.PipelineConfig
}

func (r *memConfigs) Save(_ context.Context, cfg *domain.PipelineConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *cfg
	r.active[cfg.ChatbotID] = &clone
	return nil
}

func (r *memConfigs) GetActive(_ context.Context, chatbotID string) (*domain.PipelineConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.active[chatbotID]
	if !ok {
		return nil, domain.ErrConfigNotFound
	}
	clone := *cfg
	return &clone, nil
}

func (r *memConfigs) IngestedCorpus(context.Context, string) (int, int64, error) {
	return 0, 0, nil
}

type memDocs struct {
	mu   sync.Mutex
	docs map[string]*domain.Document
}

func (r *memDocs) Create(_ context.Context, doc *domain.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *doc
	r.docs[doc.ID] = &clone
	return nil
}

func (r *memDocs) GetByID(_ context.Context, id string) (*domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	clone := *doc
	return &clone, nil
}

func (r *memDocs) UpdateStatus(_ context.Context, id string, status domain.DocumentStatus, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if doc, ok := r.docs[id]; ok {
		doc.Status = status
		doc.Error = errMsg
	}
	return nil
}

func (r *memDocs) SetExtractedSize(context.Context, string, int64) error { return nil }

func (r *memDocs) AdvanceActiveGeneration(_ context.Context, id string, gen int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return 0, domain.ErrDocumentNotFound
	}
	if gen > doc.ActiveGeneration {
		doc.ActiveGeneration = gen
	}
	return doc.ActiveGeneration, nil
}

func (r *memDocs) ActiveGenerations(_ context.Context, tenantID, chatbotID string) (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	generations := make(map[string]int64)
	for _, doc := range r.docs {
		if doc.TenantID == tenantID && doc.ChatbotID == chatbotID && doc.ActiveGeneration > 0 {
			generations[doc.ID] = doc.ActiveGeneration
		}
	}
	return generations, nil
}

type memTasks struct {
	mu      sync.Mutex
	tasks   map[string]*domain.Task
	nextGen map[string]int64
}

func (r *memTasks) Create(_ context.Context, task *domain.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *task
	r.tasks[task.ID] = &clone
	return nil
}

func (r *memTasks) GetByID(_ context.Context, id string) (*domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	clone := *task
	return &clone, nil
}

func (r *memTasks) Claim(_ context.Context, id string) (*domain.Task, error) {
	return nil, domain.ErrTaskNotClaimable
}

func (r *memTasks) UpdateState(_ context.Context, id string, state domain.TaskState, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if task, ok := r.tasks[id]; ok {
		task.State = state
		task.LastError = lastError
	}
	return nil
}

func (r *memTasks) RecordProgress(context.Context, string, string, int, int) error { return nil }

func (r *memTasks) IncrementRetry(context.Context, string) (int, error) { return 0, nil }

func (r *memTasks) RequestCancel(_ context.Context, tenantID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok || task.TenantID != tenantID {
		return domain.ErrTaskNotFound
	}
	task.CancelRequested = true
	return nil
}

func (r *memTasks) NextGeneration(_ context.Context, docID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextGen[docID]++
	return r.nextGen[docID], nil
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (s *memStore) Save(_ context.Context, key string, data io.Reader) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = raw
	return nil
}

func (s *memStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.objects[key]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

type memQueue struct {
	mu       sync.Mutex
	messages []ports.TaskMessage
}

func (q *memQueue) Enqueue(_ context.Context, msg ports.TaskMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, msg)
	return nil
}

func (q *memQueue) Dequeue(ctx context.Context) (ports.TaskMessage, error) {
	<-ctx.Done()
	return ports.TaskMessage{}, ctx.Err()
}

func (q *memQueue) Ack(context.Context, ports.TaskMessage) error        { return nil }
func (q *memQueue) Nack(context.Context, ports.TaskMessage) error       { return nil }
func (q *memQueue) DeadLetter(context.Context, ports.TaskMessage) error { return nil }

type staticCreds struct{}

func (staticCreds) Resolve(_ context.Context, ref string) (string, error) { return "secret", nil }

type stubIndex struct {
	vectorHits []domain.RetrievalCandidate
}

func (s *stubIndex) WriteGeneration(context.Context, []domain.DocumentChunk) error { return nil }
func (s *stubIndex) Tombstone(context.Context, domain.SearchFilter, int64) error   { return nil }

func (s *stubIndex) SearchVector(_ context.Context, _ []float32, _ int, _ domain.SearchFilter) ([]domain.RetrievalCandidate, error) {
	out := make([]domain.RetrievalCandidate, len(s.vectorHits))
	copy(out, s.vectorHits)
	for i := range out {
		out[i].MarkSemantic(out[i].SemanticScore)
	}
	return out, nil
}

func (s *stubIndex) SearchKeyword(context.Context, string, int, domain.SearchFilter) ([]domain.RetrievalCandidate, error) {
	return nil, nil
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (e stubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (stubEmbedder) Identity() string { return "stub/test-embed" }

type stubGenerator struct{}

func (stubGenerator) GenerateAnswer(_ context.Context, question string, _ []domain.RetrievalCandidate) (string, error) {
	return "answer to " + question, nil
}

func testPipelineConfig() domain.PipelineConfig {
	return domain.PipelineConfig{
		ChatbotID: "bot-1",
		Embedding: domain.EmbeddingSpec{Provider: "ollama", ModelID: "nomic-embed-text", BatchSize: 32},
		Chunking:  domain.ChunkingSpec{Strategy: domain.ChunkingStandard, ChunkSize: 900, Overlap: 100},
		Retrieval: domain.RetrievalSpec{
			Mode:          domain.RetrievalVector,
			TopKInitial:   20,
			TopKFinal:     5,
			HybridWeights: domain.HybridWeights{Semantic: 0.7, Keyword: 0.3},
		},
		Generation:  domain.GenerationSpec{Provider: "ollama", ModelID: "llama3", Temperature: 0.2, MaxTokens: 2048},
		Performance: domain.PerformanceSpec{ParallelWorkers: 4},
	}
}

type fixture struct {
	router  *Router
	configs *memConfigs
	docs    *memDocs
	tasks   *memTasks
	queue   *memQueue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	configs := &memConfigs{active: make(map[string]*domain.PipelineConfig)}
	docs := &memDocs{docs: map[string]*domain.Document{
		"doc-1": {ID: "doc-1", TenantID: "tenant-1", ChatbotID: "bot-1",
			Status: domain.DocumentReady, ActiveGeneration: 1},
	}}
	tasks := &memTasks{tasks: make(map[string]*domain.Task), nextGen: make(map[string]int64)}
	store := &memStore{objects: make(map[string][]byte)}
	queue := &memQueue{}
	logger := logging.NewJSONLogger("api-test", "error")

	index := &stubIndex{vectorHits: []domain.RetrievalCandidate{
		{ChunkID: "c1", DocumentID: "doc-1", Text: "refunds within 30 days", SemanticScore: 0.9, CombinedScore: 0.9},
	}}
	factory := strategy.NewFactory(staticCreds{}, index)
	factory.RegisterEmbedderProvider("ollama", func(context.Context, domain.EmbeddingSpec, string) (ports.Embedder, error) {
		return stubEmbedder{}, nil
	})
	factory.RegisterGeneratorProvider("ollama", func(context.Context, domain.GenerationSpec, string) (ports.Generator, error) {
		return stubGenerator{}, nil
	})

	validator := usecase.NewConfigValidator(staticCreds{}, nil, configs, factory.RerankerIDs(),
		usecase.ConfigValidatorOptions{SkipPing: true})
	configService := usecase.NewConfigService(validator, configs)
	ingest := usecase.NewIngestUseCase(configs, docs, tasks, store, queue, logger)
	query := usecase.NewQueryUseCase(configs, docs, factory, logger)
	status := usecase.NewTaskStatusUseCase(tasks)

	router := NewRouter(configService, ingest, query, status, docs,
		metrics.NewHTTPServerMetrics("api-test"), logger, "api-test")
	return &fixture{router: router, configs: configs, docs: docs, tasks: tasks, queue: queue}
}

func (f *fixture) do(t *testing.T, method, path, tenant string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if tenant != "" {
		req.Header.Set(tenantHeader, tenant)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.router.Handler().ServeHTTP(rec, req)
	return rec
}

func TestSaveConfigThenQuery(t *testing.T) {
	f := newFixture(t)

	payload, _ := json.Marshal(map[string]any{"config": testPipelineConfig()})
	rec := f.do(t, http.MethodPost, "/v1/configs", "tenant-1", bytes.NewReader(payload), "application/json")
	if rec.Code != http.StatusCreated {
		t.Fatalf("save config status = %d, body %s", rec.Code, rec.Body.String())
	}

	query, _ := json.Marshal(map[string]any{"chatbot_id": "bot-1", "text": "refund policy?"})
	rec = f.do(t, http.MethodPost, "/v1/query", "tenant-1", bytes.NewReader(query), "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("query status = %d, body %s", rec.Code, rec.Body.String())
	}

	var result domain.QueryResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(result.Candidates) != 1 || result.Candidates[0].ChunkID != "c1" {
		t.Fatalf("unexpected candidates: %+v", result.Candidates)
	}
	if result.Mode != "vector" {
		t.Fatalf("expected vector mode, got %q", result.Mode)
	}
	if result.Answer != "answer to refund policy?" {
		t.Fatalf("expected synthesized answer, got %q", result.Answer)
	}
}

func TestValidateConfigReportsCrossFieldErrors(t *testing.T) {
	f := newFixture(t)

	bad := testPipelineConfig()
	bad.Chunking.Overlap = 1000 // exceeds chunk size

	payload, _ := json.Marshal(bad)
	rec := f.do(t, http.MethodPost, "/v1/configs/validate", "tenant-1", bytes.NewReader(payload), "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("validate status = %d", rec.Code)
	}

	var result domain.ValidationResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.OK {
		t.Fatalf("expected validation failure")
	}
}

func TestQueryWithoutActiveConfigIs404(t *testing.T) {
	f := newFixture(t)

	query, _ := json.Marshal(map[string]any{"chatbot_id": "ghost", "text": "anything"})
	rec := f.do(t, http.MethodPost, "/v1/query", "tenant-1", bytes.NewReader(query), "application/json")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUploadEnqueuesTaskAndStatusRoundTrip(t *testing.T) {
	f := newFixture(t)
	cfg := testPipelineConfig()
	cfg.TenantID = "tenant-1"
	cfg.ID = "cfg-1"
	cfg.Status = domain.ConfigActive
	if err := f.configs.Save(context.Background(), &cfg); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	_ = writer.WriteField("chatbot_id", "bot-1")
	part, _ := writer.CreateFormFile("file", "manual.txt")
	_, _ = part.Write([]byte("the manual text"))
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", &body)
	req.Header.Set(tenantHeader, "tenant-1")
	req.Header.Set(tierHeader, "premium")
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	f.router.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("upload status = %d, body %s", rec.Code, rec.Body.String())
	}
	var task domain.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if task.Priority != domain.PriorityPremium {
		t.Fatalf("expected premium priority, got %d", task.Priority)
	}
	if len(f.queue.messages) != 1 {
		t.Fatalf("expected 1 queued message, got %d", len(f.queue.messages))
	}

	rec = f.do(t, http.MethodGet, "/v1/tasks/"+task.ID, "tenant-1", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status status = %d", rec.Code)
	}
	var statusResp struct {
		Task     domain.Task `json:"task"`
		Progress int         `json:"progress"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &statusResp); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if statusResp.Task.State != domain.TaskQueued {
		t.Fatalf("expected queued task, got %s", statusResp.Task.State)
	}

	// A foreign tenant cannot see the task.
	rec = f.do(t, http.MethodGet, "/v1/tasks/"+task.ID, "tenant-2", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign tenant, got %d", rec.Code)
	}
}

func TestCancelTask(t *testing.T) {
	f := newFixture(t)
	f.tasks.tasks["task-1"] = &domain.Task{
		ID: "task-1", TenantID: "tenant-1", State: domain.TaskProcessing, CreatedAt: time.Now(),
	}

	rec := f.do(t, http.MethodPost, "/v1/tasks/task-1/cancel", "tenant-1", nil, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("cancel status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !f.tasks.tasks["task-1"].CancelRequested {
		t.Fatalf("expected cancel flag set")
	}
}

func TestDocumentLookupScopedToTenant(t *testing.T) {
	f := newFixture(t)
	f.docs.docs["doc-1"] = &domain.Document{ID: "doc-1", TenantID: "tenant-1", Status: domain.DocumentReady}

	rec := f.do(t, http.MethodGet, "/v1/documents/doc-1", "tenant-1", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/v1/documents/doc-1", "tenant-2", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign tenant, got %d", rec.Code)
	}
}

func TestRequestIDPropagatesToResponse(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req-abc")
	rec := httptest.NewRecorder()
	f.router.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get(requestIDHeader); got != "req-abc" {
		t.Fatalf("expected request id echo, got %q", got)
	}

	rec = f.do(t, http.MethodGet, "/healthz", "", nil, "")
	if rec.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected generated request id")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/v1/query", "tenant-1", nil, "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "method not allowed") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}
