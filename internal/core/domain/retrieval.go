package domain

import "time"

// SearchFilter scopes index reads to a tenant/chatbot and optionally to a
// document.
type SearchFilter struct {
	TenantID   string
	ChatbotID  string
	DocumentID string
	// ActiveGenerations pins each document to its activated generation.
	// When set, reads only return chunks whose (document_id, generation)
	// pair is listed, so chunks written ahead of a watermark advance and
	// superseded chunks awaiting cleanup stay invisible. Nil leaves reads
	// ungated; maintenance operations pass nil.
	ActiveGenerations map[string]int64
}

// RetrievalCandidate is an ephemeral per-query scoring record. Component
// scores are kept so a final result can explain its ordering.
type RetrievalCandidate struct {
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	Index      int    `json:"chunk_index"`
	Text       string `json:"text"`

	SemanticScore float64   `json:"semantic_score"`
	KeywordScore  float64   `json:"keyword_score"`
	CombinedScore float64   `json:"combined_score"`
	RerankScore   *float64  `json:"rerank_score,omitempty"`
	IndexedAt     time.Time `json:"indexed_at"`

	hasSemantic bool
	hasKeyword  bool
}

// MarkSemantic records that the vector sub-search produced this candidate.
func (c *RetrievalCandidate) MarkSemantic(score float64) {
	c.SemanticScore = score
	c.hasSemantic = true
}

// MarkKeyword records that the keyword sub-search produced this candidate.
func (c *RetrievalCandidate) MarkKeyword(score float64) {
	c.KeywordScore = score
	c.hasKeyword = true
}

func (c RetrievalCandidate) HasSemantic() bool { return c.hasSemantic }
func (c RetrievalCandidate) HasKeyword() bool  { return c.hasKeyword }

// QueryRequest is one retrieval invocation. History is prior conversation
// turns, folded into the query representation under contextual mode.
type QueryRequest struct {
	TenantID  string   `json:"tenant_id"`
	ChatbotID string   `json:"chatbot_id"`
	Text      string   `json:"text"`
	History   []string `json:"history,omitempty"`
}

// QueryResult carries the final ranked candidates and the synthesized
// answer. Degraded marks a response that completed without one of its
// optional stages (reranking, generation).
type QueryResult struct {
	Candidates []RetrievalCandidate `json:"candidates"`
	Answer     string               `json:"answer,omitempty"`
	Degraded   bool                 `json:"degraded"`
	ConfigID   string               `json:"config_id"`
	Embedder   string               `json:"embedder"`
	Mode       string               `json:"mode"`
}
