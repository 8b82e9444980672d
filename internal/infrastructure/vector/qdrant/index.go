package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mkropachev/ragpipe/internal/core/domain"
)

const (
	denseVectorName  = "dense"
	sparseVectorName = "keyword"
)

// Index stores document chunks in a Qdrant collection with a named dense
// vector for semantic search and a named sparse vector for keyword search.
// Point ids come from the caller and are deterministic, so a retried task
// attempt upserts over its own partial writes.
type Index struct {
	baseURL    string
	collection string
	httpClient *http.Client

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func New(baseURL, collection string) *Index {
	return &Index{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (x *Index) WriteGeneration(ctx context.Context, chunks []domain.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := x.ensureCollection(ctx, len(chunks[0].Vector)); err != nil {
		return err
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  map[string]any `json:"vector"`
		Payload map[string]any `json:"payload"`
	}

	points := make([]point, 0, len(chunks))
	for _, chunk := range chunks {
		sparse := encodeSparseDocument(chunk.Text, chunk.Source, strings.Join(chunk.ParentPath, " "))
		points = append(points, point{
			ID: chunk.ChunkID,
			Vector: map[string]any{
				denseVectorName:  chunk.Vector,
				sparseVectorName: sparse,
			},
			Payload: map[string]any{
				"tenant_id":   chunk.TenantID,
				"chatbot_id":  chunk.ChatbotID,
				"document_id": chunk.DocumentID,
				"generation":  chunk.Generation,
				"chunk_index": chunk.Index,
				"offset":      chunk.Offset,
				"parent_path": chunk.ParentPath,
				"source":      chunk.Source,
				"text":        chunk.Text,
				"indexed_at":  chunk.IndexedAt.UTC().Format(time.RFC3339Nano),
			},
		})
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", x.baseURL, x.collection)
	return x.do(ctx, http.MethodPut, url, map[string]any{"points": points}, nil)
}

// Tombstone deletes every chunk of the filtered scope whose generation is
// below olderThan.
func (x *Index) Tombstone(ctx context.Context, filter domain.SearchFilter, olderThan int64) error {
	must := filterClauses(filter)
	must = append(must, map[string]any{
		"key":   "generation",
		"range": map[string]any{"lt": olderThan},
	})

	url := fmt.Sprintf("%s/collections/%s/points/delete?wait=true", x.baseURL, x.collection)
	return x.do(ctx, http.MethodPost, url, map[string]any{
		"filter": map[string]any{"must": must},
	}, nil)
}

func (x *Index) SearchVector(ctx context.Context, vector []float32, k int, filter domain.SearchFilter) ([]domain.RetrievalCandidate, error) {
	body := map[string]any{
		"vector": map[string]any{
			"name":   denseVectorName,
			"vector": vector,
		},
		"limit":        k,
		"with_payload": true,
	}
	if must := filterClauses(filter); len(must) > 0 {
		body["filter"] = map[string]any{"must": must}
	}
	return x.search(ctx, body, func(c *domain.RetrievalCandidate, score float64) {
		c.SemanticScore = score
	})
}

func (x *Index) SearchKeyword(ctx context.Context, text string, k int, filter domain.SearchFilter) ([]domain.RetrievalCandidate, error) {
	sparse := encodeSparseQuery(text)
	if len(sparse.Indices) == 0 {
		return nil, nil
	}
	body := map[string]any{
		"vector": map[string]any{
			"name":   sparseVectorName,
			"vector": sparse,
		},
		"limit":        k,
		"with_payload": true,
	}
	if must := filterClauses(filter); len(must) > 0 {
		body["filter"] = map[string]any{"must": must}
	}
	return x.search(ctx, body, func(c *domain.RetrievalCandidate, score float64) {
		c.KeywordScore = score
	})
}

func (x *Index) search(ctx context.Context, body map[string]any, setScore func(*domain.RetrievalCandidate, float64)) ([]domain.RetrievalCandidate, error) {
	url := fmt.Sprintf("%s/collections/%s/points/search", x.baseURL, x.collection)

	var searchResp struct {
		Result []struct {
			ID      string         `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := x.do(ctx, http.MethodPost, url, body, &searchResp); err != nil {
		return nil, err
	}

	out := make([]domain.RetrievalCandidate, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		candidate := domain.RetrievalCandidate{
			ChunkID:    r.ID,
			DocumentID: getStringPayload(r.Payload, "document_id"),
			Index:      getIntPayload(r.Payload, "chunk_index"),
			Text:       getStringPayload(r.Payload, "text"),
		}
		if at, err := time.Parse(time.RFC3339Nano, getStringPayload(r.Payload, "indexed_at")); err == nil {
			candidate.IndexedAt = at
		}
		setScore(&candidate, r.Score)
		out = append(out, candidate)
	}
	return out, nil
}

func (x *Index) ensureCollection(ctx context.Context, vectorSize int) error {
	x.ensureMu.Lock()
	if x.ensuredCollection && x.ensuredVectorSize == vectorSize {
		x.ensureMu.Unlock()
		return nil
	}
	x.ensureMu.Unlock()

	body := map[string]any{
		"vectors": map[string]any{
			denseVectorName: map[string]any{
				"size":     vectorSize,
				"distance": "Cosine",
			},
		},
		"sparse_vectors": map[string]any{
			sparseVectorName: map[string]any{},
		},
	}

	url := fmt.Sprintf("%s/collections/%s", x.baseURL, x.collection)
	err := x.do(ctx, http.MethodPut, url, body, nil)
	if err != nil {
		// 409 means the collection already exists, which is fine.
		var statusErr *statusError
		if !errors.As(err, &statusErr) || statusErr.code != http.StatusConflict {
			return err
		}
	}

	x.ensureMu.Lock()
	x.ensuredCollection = true
	x.ensuredVectorSize = vectorSize
	x.ensureMu.Unlock()
	return nil
}

func (x *Index) do(ctx context.Context, method, url string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal qdrant body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create qdrant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &statusError{
			code: resp.StatusCode,
			msg:  fmt.Sprintf("qdrant status %s: %s", resp.Status, strings.TrimSpace(string(raw))),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode qdrant response: %w", err)
	}
	return nil
}

type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string { return e.msg }

func filterClauses(filter domain.SearchFilter) []map[string]any {
	var must []map[string]any
	if filter.TenantID != "" {
		must = append(must, matchClause("tenant_id", filter.TenantID))
	}
	if filter.ChatbotID != "" {
		must = append(must, matchClause("chatbot_id", filter.ChatbotID))
	}
	if filter.DocumentID != "" {
		must = append(must, matchClause("document_id", filter.DocumentID))
	}
	if filter.ActiveGenerations != nil {
		must = append(must, activeGenerationClause(filter.ActiveGenerations))
	}
	return must
}

// activeGenerationClause admits only the (document_id, generation) pairs the
// watermarks name. Chunks written for a generation that never activated, and
// superseded chunks not yet tombstoned, match no pair and stay invisible.
func activeGenerationClause(generations map[string]int64) map[string]any {
	pairs := make([]map[string]any, 0, len(generations))
	for docID, gen := range generations {
		pairs = append(pairs, map[string]any{
			"must": []map[string]any{
				matchClause("document_id", docID),
				{"key": "generation", "match": map[string]any{"value": gen}},
			},
		})
	}
	return map[string]any{"should": pairs}
}

func matchClause(key, value string) map[string]any {
	return map[string]any{
		"key":   key,
		"match": map[string]any{"value": value},
	}
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func getIntPayload(payload map[string]any, key string) int {
	v, ok := payload[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	default:
		return 0
	}
}
