package openaicompat

import (
	"context"
	"fmt"

	"github.com/mkropachev/ragpipe/internal/core/domain"
)

// Reranker implements ports.Reranker against the /v1/rerank endpoint served
// by Cohere-compatible rerank deployments. Failures map to
// ErrRerankerUnavailable so the query path degrades instead of failing.
type Reranker struct {
	client *Client
	model  string
}

func NewReranker(client *Client, model string) *Reranker {
	return &Reranker{client: client, model: model}
}

func (r *Reranker) Rerank(ctx context.Context, query string, candidates []domain.RetrievalCandidate, topK int) ([]domain.RetrievalCandidate, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}
	if topK <= 0 || topK > len(candidates) {
		topK = len(candidates)
	}

	documents := make([]string, len(candidates))
	for i, c := range candidates {
		documents[i] = c.Text
	}

	request := map[string]any{
		"model":     r.model,
		"query":     query,
		"documents": documents,
		"top_n":     topK,
	}
	var response struct {
		Results []struct {
			Index          int     `json:"index"`
			RelevanceScore float64 `json:"relevance_score"`
		} `json:"results"`
	}
	if err := r.client.postJSON(ctx, "/v1/rerank", request, &response, "rerank"); err != nil {
		return nil, domain.WrapError(domain.ErrRerankerUnavailable, "rerank", err)
	}

	out := make([]domain.RetrievalCandidate, 0, topK)
	for _, result := range response.Results {
		if result.Index < 0 || result.Index >= len(candidates) {
			return nil, domain.WrapError(domain.ErrRerankerUnavailable, "rerank",
				fmt.Errorf("result index %d out of range", result.Index))
		}
		c := candidates[result.Index]
		score := result.RelevanceScore
		c.RerankScore = &score
		out = append(out, c)
		if len(out) == topK {
			break
		}
	}
	return out, nil
}
