package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

type ConfigStatus string

const (
	ConfigDraft  ConfigStatus = "draft"
	ConfigActive ConfigStatus = "active"
)

type ChunkingStrategy string

const (
	ChunkingStandard   ChunkingStrategy = "standard"
	ChunkingSemantic   ChunkingStrategy = "semantic"
	ChunkingStructural ChunkingStrategy = "structural"
	ChunkingWindow     ChunkingStrategy = "window"
)

type RetrievalMode string

const (
	RetrievalVector  RetrievalMode = "vector"
	RetrievalKeyword RetrievalMode = "keyword"
	RetrievalHybrid  RetrievalMode = "hybrid"
)

// HybridWeightsEpsilon bounds the tolerated deviation of weight sums from 1.0.
const HybridWeightsEpsilon = 1e-6

type EmbeddingSpec struct {
	Provider      string         `json:"provider" validate:"required"`
	ModelID       string         `json:"model_id" validate:"required"`
	Params        map[string]any `json:"params,omitempty"`
	CredentialRef string         `json:"credential_ref,omitempty"`
	BatchSize     int            `json:"batch_size" validate:"min=1,max=512"`
}

type ChunkingSpec struct {
	Strategy          ChunkingStrategy `json:"strategy" validate:"oneof=standard semantic structural window"`
	ChunkSize         int              `json:"chunk_size" validate:"min=50,max=8192"`
	Overlap           int              `json:"overlap" validate:"min=0"`
	WindowSize        int              `json:"window_size" validate:"min=0,max=16"`
	SemanticThreshold float64          `json:"semantic_threshold" validate:"min=0,max=1"`
	RespectStructure  bool             `json:"respect_structure"`
}

type HybridWeights struct {
	Semantic float64 `json:"semantic" validate:"min=0,max=1"`
	Keyword  float64 `json:"keyword" validate:"min=0,max=1"`
}

type RetrievalSpec struct {
	Mode                RetrievalMode `json:"mode" validate:"oneof=vector keyword hybrid"`
	Contextual          bool          `json:"contextual"`
	TopKInitial         int           `json:"top_k_initial" validate:"min=1,max=200"`
	TopKFinal           int           `json:"top_k_final" validate:"min=1,max=50"`
	HybridWeights       HybridWeights `json:"hybrid_weights"`
	EnableReranking     bool          `json:"enable_reranking"`
	RerankerID          string        `json:"reranker_id,omitempty"`
	SimilarityThreshold float64       `json:"similarity_threshold" validate:"min=0,max=1"`
}

type GenerationSpec struct {
	Provider      string  `json:"provider" validate:"required"`
	ModelID       string  `json:"model_id" validate:"required"`
	Temperature   float64 `json:"temperature" validate:"min=0,max=2"`
	MaxTokens     int     `json:"max_tokens" validate:"min=1,max=131072"`
	SystemPrompt  string  `json:"system_prompt,omitempty"`
	CredentialRef string  `json:"credential_ref,omitempty"`
}

type VisualSpec struct {
	EnableOCR             bool   `json:"enable_ocr"`
	EnableVisualEmbedding bool   `json:"enable_visual_embedding"`
	EnableSummarization   bool   `json:"enable_summarization"`
	OCRProvider           string `json:"ocr_provider,omitempty"`
	VLMModel              string `json:"vlm_model,omitempty"`
}

type PerformanceSpec struct {
	CacheEmbeddings bool  `json:"cache_embeddings"`
	ParallelWorkers int   `json:"parallel_workers" validate:"min=1,max=64"`
	MemoryLimitMB   int64 `json:"memory_limit_mb" validate:"min=0"`
}

// PipelineConfig is the per-chatbot retrieval pipeline configuration. Once a
// document has been ingested under it, fields that shape chunk boundaries or
// the vector space are locked; only live-tunable fields may change without a
// reprocessing confirmation.
type PipelineConfig struct {
	ID        string       `json:"id"`
	TenantID  string       `json:"tenant_id"`
	ChatbotID string       `json:"chatbot_id"`
	Version   int          `json:"version"`
	Status    ConfigStatus `json:"status"`

	Embedding   EmbeddingSpec   `json:"embedding"`
	Chunking    ChunkingSpec    `json:"chunking"`
	Retrieval   RetrievalSpec   `json:"retrieval"`
	Generation  GenerationSpec  `json:"generation"`
	Visual      *VisualSpec     `json:"visual,omitempty"`
	Performance PerformanceSpec `json:"performance"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReindexFingerprint identifies the chunk-boundary and vector-space shaping
// fields. Two configs with equal fingerprints can serve the same index; a
// fingerprint change requires reprocessing every ingested document.
func (c PipelineConfig) ReindexFingerprint() string {
	key := struct {
		Embedding EmbeddingSpec `json:"embedding"`
		Chunking  ChunkingSpec  `json:"chunking"`
	}{
		Embedding: EmbeddingSpec{
			Provider:  c.Embedding.Provider,
			ModelID:   c.Embedding.ModelID,
			Params:    c.Embedding.Params,
			BatchSize: 0, // batch size does not affect the vector space
		},
		Chunking: c.Chunking,
	}
	raw, _ := json.Marshal(key)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:12])
}

// ConfirmationToken is the value a caller must echo back to activate a config
// whose fingerprint differs from the currently active one.
func (c PipelineConfig) ConfirmationToken() string {
	return "reprocess:" + c.ReindexFingerprint()
}

// EmbedderIdentity is the provider/model pair all chunks and queries under
// this config must use.
func (c PipelineConfig) EmbedderIdentity() string {
	return c.Embedding.Provider + "/" + c.Embedding.ModelID
}

// ApplyLiveTunables copies the live-tunable fields of proposed onto a copy of
// the receiver, leaving every locked field untouched.
func (c PipelineConfig) ApplyLiveTunables(proposed PipelineConfig) PipelineConfig {
	out := c
	out.Generation.Temperature = proposed.Generation.Temperature
	out.Generation.MaxTokens = proposed.Generation.MaxTokens
	out.Generation.SystemPrompt = proposed.Generation.SystemPrompt
	out.Retrieval.TopKInitial = proposed.Retrieval.TopKInitial
	out.Retrieval.TopKFinal = proposed.Retrieval.TopKFinal
	out.Retrieval.EnableReranking = proposed.Retrieval.EnableReranking
	return out
}

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// FieldError attributes a validation problem to a config field.
type FieldError struct {
	Field    string   `json:"field"`
	Message  string   `json:"message"`
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
}

type ValidationResult struct {
	OK                   bool         `json:"ok"`
	Errors               []FieldError `json:"errors"`
	Warnings             []FieldError `json:"warnings"`
	CostEstimate         float64      `json:"cost_estimate"`
	RequiresReprocessing bool         `json:"requires_reprocessing"`
	ConfirmationToken    string       `json:"confirmation_token,omitempty"`
}
