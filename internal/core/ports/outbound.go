package ports

import (
	"context"
	"io"
	"time"

	"github.com/mkropachev/ragpipe/internal/core/domain"
)

// Embedder builds vectors for chunks and query text. Identity names the
// provider/model pair so selection consistency is checkable.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Identity() string
}

// Chunker splits document text into indexable units.
type Chunker interface {
	Split(ctx context.Context, text string, hints *domain.StructureHints) ([]domain.Chunk, error)
}

// Retriever gathers initial candidates for a query. Implementations cover
// vector, keyword and hybrid modes; hybrid unions both sub-searches and
// attaches combined scores.
type Retriever interface {
	Search(ctx context.Context, queryText string, queryVector []float32, topK int, filter domain.SearchFilter) ([]domain.RetrievalCandidate, error)
}

// Reranker reorders an initial candidate set. May be unavailable; callers
// must degrade instead of failing the query.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []domain.RetrievalCandidate, topK int) ([]domain.RetrievalCandidate, error)
}

// Generator produces the final answer from retrieved context.
type Generator interface {
	GenerateAnswer(ctx context.Context, question string, candidates []domain.RetrievalCandidate) (string, error)
}

// ChunkIndex owns DocumentChunk persistence. Writes are keyed by
// (document_id, generation, offset) so a retried attempt overwrites rather
// than duplicates.
type ChunkIndex interface {
	WriteGeneration(ctx context.Context, chunks []domain.DocumentChunk) error
	Tombstone(ctx context.Context, filter domain.SearchFilter, olderThan int64) error
	SearchVector(ctx context.Context, vector []float32, k int, filter domain.SearchFilter) ([]domain.RetrievalCandidate, error)
	SearchKeyword(ctx context.Context, text string, k int, filter domain.SearchFilter) ([]domain.RetrievalCandidate, error)
}

// TaskMessage is the queue payload; the authoritative task row lives in the
// task repository.
type TaskMessage struct {
	TaskID   string `json:"task_id"`
	Priority int    `json:"priority"`
	// Attempt counts deliveries of this message, for queue-lag metrics.
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// QueueTransport abstracts the task queue so the broker (in-memory, NATS) is
// swappable without touching pipeline logic. Dequeue blocks until a message
// is available or ctx is done, honoring priority then FIFO order.
type QueueTransport interface {
	Enqueue(ctx context.Context, msg TaskMessage) error
	Dequeue(ctx context.Context) (TaskMessage, error)
	Ack(ctx context.Context, msg TaskMessage) error
	Nack(ctx context.Context, msg TaskMessage) error
	DeadLetter(ctx context.Context, msg TaskMessage) error
}

// CredentialStore resolves credential references to secrets.
type CredentialStore interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// ProviderPinger performs the lightweight liveness probe used during config
// validation.
type ProviderPinger interface {
	Ping(ctx context.Context, provider, credential string) error
}

// TaskRepository persists task lifecycle state. Claim is the exclusive
// transition into PROCESSING; it fails for a task another worker holds.
type TaskRepository interface {
	Create(ctx context.Context, task *domain.Task) error
	GetByID(ctx context.Context, taskID string) (*domain.Task, error)
	Claim(ctx context.Context, taskID string) (*domain.Task, error)
	UpdateState(ctx context.Context, taskID string, state domain.TaskState, lastError string) error
	RecordProgress(ctx context.Context, taskID, step string, processed, total int) error
	IncrementRetry(ctx context.Context, taskID string) (int, error)
	RequestCancel(ctx context.Context, tenantID, taskID string) error
	NextGeneration(ctx context.Context, documentID string) (int64, error)
}

// ConfigRepository persists pipeline configs.
type ConfigRepository interface {
	Save(ctx context.Context, cfg *domain.PipelineConfig) error
	GetActive(ctx context.Context, chatbotID string) (*domain.PipelineConfig, error)
	// IngestedCorpus reports how many documents were ingested for a chatbot
	// and their total text size in runes; docs > 0 locks the active config.
	IngestedCorpus(ctx context.Context, chatbotID string) (docs int, totalRunes int64, err error)
}

// DocumentRepository persists uploaded document metadata and the per-document
// active generation watermark.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, documentID string) (*domain.Document, error)
	UpdateStatus(ctx context.Context, documentID string, status domain.DocumentStatus, errMessage string) error
	// SetExtractedSize records the extracted text size in runes; corpus
	// sizing for reprocessing cost estimates reads it back.
	SetExtractedSize(ctx context.Context, documentID string, runes int64) error
	// AdvanceActiveGeneration raises the watermark to gen if newer and
	// returns the resulting watermark.
	AdvanceActiveGeneration(ctx context.Context, documentID string, gen int64) (int64, error)
	// ActiveGenerations returns the watermark per document of a chatbot,
	// omitting documents with no activated generation. Queries use it to
	// gate index reads.
	ActiveGenerations(ctx context.Context, tenantID, chatbotID string) (map[string]int64, error)
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// TextExtractor extracts plain text from a stored document.
type TextExtractor interface {
	Extract(ctx context.Context, doc *domain.Document) (string, error)
}

// EmbeddingCache memoizes chunk vectors per embedder identity.
type EmbeddingCache interface {
	Get(ctx context.Context, identity, text string) ([]float32, bool, error)
	Put(ctx context.Context, identity, text string, vector []float32) error
}

// DeadLetterNotifier tells the owning tenant a task exhausted its retries.
type DeadLetterNotifier interface {
	NotifyTaskFailed(ctx context.Context, task *domain.Task) error
}
