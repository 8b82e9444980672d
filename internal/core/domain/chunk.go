package domain

import "time"

// Chunk is an indexable unit produced by a chunking strategy, before
// embedding. Offset is the rune offset of the chunk in the source text.
type Chunk struct {
	Text       string   `json:"text"`
	Offset     int      `json:"offset"`
	Index      int      `json:"index"`
	ParentPath []string `json:"parent_path,omitempty"`

	// Window chunking keeps neighbor indices for query-time context expansion.
	PrevIndex int `json:"prev_index"`
	NextIndex int `json:"next_index"`
}

// DocumentChunk is a persisted chunk with its vector. Never mutated after
// creation; reprocessing writes a new generation and tombstones the old one.
type DocumentChunk struct {
	ChunkID    string    `json:"chunk_id"`
	TenantID   string    `json:"tenant_id"`
	ChatbotID  string    `json:"chatbot_id"`
	DocumentID string    `json:"document_id"`
	Generation int64     `json:"generation"`
	Text       string    `json:"text"`
	Vector     []float32 `json:"vector"`

	Offset     int       `json:"offset"`
	Index      int       `json:"index"`
	ParentPath []string  `json:"parent_path,omitempty"`
	Source     string    `json:"source,omitempty"`
	IndexedAt  time.Time `json:"indexed_at"`
}

// StructureHints carries optional document structure knowledge into a chunker.
type StructureHints struct {
	// MIME of the source document, e.g. text/markdown.
	MimeType string
}

type DocumentStatus string

const (
	DocumentUploaded   DocumentStatus = "uploaded"
	DocumentProcessing DocumentStatus = "processing"
	DocumentReady      DocumentStatus = "ready"
	DocumentFailed     DocumentStatus = "failed"
)

// Document is the uploaded source a task ingests.
type Document struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	ChatbotID   string         `json:"chatbot_id"`
	Filename    string         `json:"filename"`
	MimeType    string         `json:"mime_type"`
	StoragePath string         `json:"storage_path"`
	Status      DocumentStatus `json:"status"`
	// ActiveGeneration is the newest generation whose chunks serve queries.
	ActiveGeneration int64     `json:"active_generation"`
	Error            string    `json:"error,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
