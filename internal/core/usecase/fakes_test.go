package usecase

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/mkropachev/ragpipe/internal/core/domain"
	"github.com/mkropachev/ragpipe/internal/core/ports"
)

type memConfigRepo struct {
	mu     sync.Mutex
	active map[string]*domain.PipelineConfig
	docs   int
	runes  int64
	saved  []*domain.PipelineConfig
}

func newMemConfigRepo() *memConfigRepo {
	return &memConfigRepo{active: make(map[string]*domain.PipelineConfig)}
}

func (r *memConfigRepo) Save(_ context.Context, cfg *domain.PipelineConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *cfg
	r.active[cfg.ChatbotID] = &clone
	r.saved = append(r.saved, &clone)
	return nil
}

func (r *memConfigRepo) GetActive(_ context.Context, chatbotID string) (*domain.PipelineConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.active[chatbotID]
	if !ok {
		return nil, domain.ErrConfigNotFound
	}
	clone := *cfg
	return &clone, nil
}

func (r *memConfigRepo) IngestedCorpus(context.Context, string) (int, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.docs, r.runes, nil
}

type memTaskRepo struct {
	mu      sync.Mutex
	tasks   map[string]*domain.Task
	nextGen map[string]int64
}

func newMemTaskRepo() *memTaskRepo {
	return &memTaskRepo{tasks: make(map[string]*domain.Task), nextGen: make(map[string]int64)}
}

func (r *memTaskRepo) Create(_ context.Context, task *domain.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *task
	r.tasks[task.ID] = &clone
	return nil
}

func (r *memTaskRepo) GetByID(_ context.Context, taskID string) (*domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	clone := *task
	return &clone, nil
}

func (r *memTaskRepo) Claim(_ context.Context, taskID string) (*domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	if task.State != domain.TaskQueued && task.State != domain.TaskRetrying {
		return nil, fmt.Errorf("task %s in state %s: %w", taskID, task.State, domain.ErrTaskNotClaimable)
	}
	task.State = domain.TaskProcessing
	clone := *task
	return &clone, nil
}

func (r *memTaskRepo) UpdateState(_ context.Context, taskID string, state domain.TaskState, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return domain.ErrTaskNotFound
	}
	task.State = state
	task.LastError = lastError
	return nil
}

func (r *memTaskRepo) RecordProgress(_ context.Context, taskID, step string, processed, total int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return domain.ErrTaskNotFound
	}
	task.CurrentStep = step
	task.ChunksProcessed = processed
	task.TotalChunks = total
	return nil
}

func (r *memTaskRepo) IncrementRetry(_ context.Context, taskID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return 0, domain.ErrTaskNotFound
	}
	task.RetryCount++
	return task.RetryCount, nil
}

func (r *memTaskRepo) RequestCancel(_ context.Context, tenantID, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok || task.TenantID != tenantID {
		return domain.ErrTaskNotFound
	}
	task.CancelRequested = true
	return nil
}

func (r *memTaskRepo) NextGeneration(_ context.Context, documentID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextGen[documentID]++
	return r.nextGen[documentID], nil
}

type memDocRepo struct {
	mu    sync.Mutex
	docs  map[string]*domain.Document
	sizes map[string]int64
}

func newMemDocRepo() *memDocRepo {
	return &memDocRepo{
		docs:  make(map[string]*domain.Document),
		sizes: make(map[string]int64),
	}
}

func (r *memDocRepo) Create(_ context.Context, doc *domain.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *doc
	r.docs[doc.ID] = &clone
	return nil
}

func (r *memDocRepo) GetByID(_ context.Context, documentID string) (*domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[documentID]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	clone := *doc
	return &clone, nil
}

func (r *memDocRepo) UpdateStatus(_ context.Context, documentID string, status domain.DocumentStatus, errMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[documentID]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	doc.Status = status
	doc.Error = errMessage
	return nil
}

func (r *memDocRepo) SetExtractedSize(_ context.Context, documentID string, runes int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[documentID]; !ok {
		return domain.ErrDocumentNotFound
	}
	r.sizes[documentID] = runes
	return nil
}

func (r *memDocRepo) AdvanceActiveGeneration(_ context.Context, documentID string, gen int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[documentID]
	if !ok {
		return 0, domain.ErrDocumentNotFound
	}
	if gen > doc.ActiveGeneration {
		doc.ActiveGeneration = gen
	}
	return doc.ActiveGeneration, nil
}

func (r *memDocRepo) ActiveGenerations(_ context.Context, tenantID, chatbotID string) (map[string]int64, error) {
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

type memStorage struct {
	mu   sync.Mutex
	keys []string
}

func (s *memStorage) Save(_ context.Context, key string, data io.Reader) error {
	if _, err := io.Copy(io.Discard, data); err != nil {
		return err
	}
	s.mu.Lock()
	s.keys = append(s.keys, key)
	s.mu.Unlock()
	return nil
}

func (s *memStorage) Open(context.Context, string) (io.ReadCloser, error) {
	return nil, fmt.Errorf("not stored")
}

type memQueue struct {
	mu       sync.Mutex
	messages []ports.TaskMessage
	failWith error
}

func (q *memQueue) Enqueue(_ context.Context, msg ports.TaskMessage) error {
	if q.failWith != nil {
		return q.failWith
	}
	q.mu.Lock()
	q.messages = append(q.messages, msg)
	q.mu.Unlock()
	return nil
}

func (q *memQueue) Dequeue(context.Context) (ports.TaskMessage, error) {
	return ports.TaskMessage{}, fmt.Errorf("empty")
}

func (q *memQueue) Ack(context.Context, ports.TaskMessage) error        { return nil }
func (q *memQueue) Nack(context.Context, ports.TaskMessage) error       { return nil }
func (q *memQueue) DeadLetter(context.Context, ports.TaskMessage) error { return nil }

type recordingIndex struct {
	mu         sync.Mutex
	written    []domain.DocumentChunk
	tombstones []int64
	writeErr   error

	vectorHits  []domain.RetrievalCandidate
	keywordHits []domain.RetrievalCandidate

	searchFilters []domain.SearchFilter
}

func (i *recordingIndex) WriteGeneration(_ context.Context, chunks []domain.DocumentChunk) error {
	if i.writeErr != nil {
		return i.writeErr
	}
	i.mu.Lock()
	i.written = append(i.written, chunks...)
	i.mu.Unlock()
	return nil
}

func (i *recordingIndex) Tombstone(_ context.Context, _ domain.SearchFilter, olderThan int64) error {
	i.mu.Lock()
	i.tombstones = append(i.tombstones, olderThan)
	i.mu.Unlock()
	return nil
}

func (i *recordingIndex) SearchVector(_ context.Context, _ []float32, _ int, filter domain.SearchFilter) ([]domain.RetrievalCandidate, error) {
	i.mu.Lock()
	i.searchFilters = append(i.searchFilters, filter)
	i.mu.Unlock()
	return append([]domain.RetrievalCandidate(nil), i.vectorHits...), nil
}

func (i *recordingIndex) SearchKeyword(_ context.Context, _ string, _ int, filter domain.SearchFilter) ([]domain.RetrievalCandidate, error) {
	i.mu.Lock()
	i.searchFilters = append(i.searchFilters, filter)
	i.mu.Unlock()
	return append([]domain.RetrievalCandidate(nil), i.keywordHits...), nil
}

type staticCreds map[string]string

func (c staticCreds) Resolve(_ context.Context, ref string) (string, error) {
	secret, ok := c[ref]
	if !ok {
		return "", fmt.Errorf("no secret for %q", ref)
	}
	return secret, nil
}

type stubPinger struct {
	err   error
	calls int
}

func (p *stubPinger) Ping(context.Context, string, string) error {
	p.calls++
	return p.err
}

// countingEmbedder returns a fixed-dimension vector derived from text length
// and counts how many texts it actually embedded.
type countingEmbedder struct {
	mu       sync.Mutex
	embedded int
	queries  int
	err      error
}

func (e *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.mu.Lock()
	e.embedded += len(texts)
	e.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (e *countingEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.mu.Lock()
	e.queries++
	e.mu.Unlock()
	return []float32{float32(len(text)), 1}, nil
}

func (e *countingEmbedder) Identity() string { return "stub/test-embed" }

// stubGenerator answers with the question and the first candidate's text so
// tests can assert the retrieved context reached generation.
type stubGenerator struct {
	err   error
	calls int
}

func (g *stubGenerator) GenerateAnswer(_ context.Context, question string, candidates []domain.RetrievalCandidate) (string, error) {
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	answer := "answer to " + question
	if len(candidates) > 0 {
		answer += " using " + candidates[0].Text
	}
	return answer, nil
}

type stubExtractor struct {
	text string
	err  error
}

func (e *stubExtractor) Extract(context.Context, *domain.Document) (string, error) {
	return e.text, e.err
}

type memEmbedCache struct {
	mu      sync.Mutex
	entries map[string][]float32
	hits    int
}

func newMemEmbedCache() *memEmbedCache {
	return &memEmbedCache{entries: make(map[string][]float32)}
}

func (c *memEmbedCache) Get(_ context.Context, identity, text string) ([]float32, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[identity+"\x00"+text]
	if ok {
		c.hits++
	}
	return v, ok, nil
}

func (c *memEmbedCache) Put(_ context.Context, identity, text string, vector []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[identity+"\x00"+text] = vector
	return nil
}
