package strategy

import (
	"context"
	"fmt"

	"github.com/mkropachev/ragpipe/internal/core/domain"
	"github.com/mkropachev/ragpipe/internal/core/ports"
)

type vectorRetriever struct {
	index ports.ChunkIndex
}

func (r *vectorRetriever) Search(ctx context.Context, _ string, queryVector []float32, topK int, filter domain.SearchFilter) ([]domain.RetrievalCandidate, error) {
	candidates, err := r.index.SearchVector(ctx, queryVector, topK, filter)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	for i := range candidates {
		candidates[i].MarkSemantic(candidates[i].SemanticScore)
		candidates[i].CombinedScore = candidates[i].SemanticScore
	}
	return candidates, nil
}

type keywordRetriever struct {
	index ports.ChunkIndex
}

func (r *keywordRetriever) Search(ctx context.Context, queryText string, _ []float32, topK int, filter domain.SearchFilter) ([]domain.RetrievalCandidate, error) {
	candidates, err := r.index.SearchKeyword(ctx, queryText, topK, filter)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	for i := range candidates {
		candidates[i].MarkKeyword(candidates[i].KeywordScore)
		candidates[i].CombinedScore = candidates[i].KeywordScore
	}
	return candidates, nil
}

// hybridRetriever runs both sub-searches independently, unions the candidate
// sets by chunk id and attaches weighted combined scores.
type hybridRetriever struct {
	index   ports.ChunkIndex
	weights domain.HybridWeights
}

func (r *hybridRetriever) Search(ctx context.Context, queryText string, queryVector []float32, topK int, filter domain.SearchFilter) ([]domain.RetrievalCandidate, error) {
	semantic, err := r.index.SearchVector(ctx, queryVector, topK, filter)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	keyword, err := r.index.SearchKeyword(ctx, queryText, topK, filter)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	return CombineHybrid(semantic, keyword, r.weights), nil
}
