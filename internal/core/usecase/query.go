package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mkropachev/ragpipe/internal/core/domain"
	"github.com/mkropachev/ragpipe/internal/core/ports"
	"github.com/mkropachev/ragpipe/internal/strategy"
)

// QueryUseCase drives the two-stage retrieval engine: initial gather through
// the configured retriever, optional reranking, then answer synthesis over
// the final candidates. Reranker and generator failures degrade the
// response; a retriever failure fails the query.
type QueryUseCase struct {
	configs ports.ConfigRepository
	docs    ports.DocumentRepository
	factory *strategy.Factory
	logger  *slog.Logger
}

func NewQueryUseCase(configs ports.ConfigRepository, docs ports.DocumentRepository, factory *strategy.Factory, logger *slog.Logger) *QueryUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryUseCase{configs: configs, docs: docs, factory: factory, logger: logger}
}

func (uc *QueryUseCase) Query(ctx context.Context, req domain.QueryRequest) (*domain.QueryResult, error) {
	cfg, err := uc.configs.GetActive(ctx, req.ChatbotID)
	if err != nil {
		return nil, fmt.Errorf("resolve active config: %w", err)
	}
	spec := cfg.Retrieval

	// Visibility is gated on the per-document watermarks: a generation's
	// chunks serve queries only once its watermark advance committed, so a
	// half-finished or failed ingestion never leaks into results. No
	// watermark at all means nothing in the index is visible.
	generations, err := uc.docs.ActiveGenerations(ctx, req.TenantID, req.ChatbotID)
	if err != nil {
		return nil, fmt.Errorf("load active generations: %w", err)
	}
	if len(generations) == 0 {
		return &domain.QueryResult{
			ConfigID:   cfg.ID,
			Mode:       string(spec.Mode),
			Candidates: []domain.RetrievalCandidate{},
		}, nil
	}

	queryText := req.Text
	if spec.Contextual && len(req.History) > 0 {
		queryText = FoldHistory(req.History, req.Text)
	}

	embedder, err := uc.factory.MakeEmbedder(ctx, cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("resolve embedder: %w", err)
	}

	var queryVector []float32
	if spec.Mode != domain.RetrievalKeyword {
		queryVector, err = embedder.EmbedQuery(ctx, queryText)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
	}

	retriever, err := uc.factory.MakeRetriever(spec)
	if err != nil {
		return nil, fmt.Errorf("resolve retriever: %w", err)
	}

	filter := domain.SearchFilter{TenantID: req.TenantID, ChatbotID: req.ChatbotID, ActiveGenerations: generations}
	candidates, err := retriever.Search(ctx, queryText, queryVector, spec.TopKInitial, filter)
	if err != nil {
		return nil, fmt.Errorf("initial gather: %w", err)
	}

	result := &domain.QueryResult{
		ConfigID: cfg.ID,
		Embedder: embedder.Identity(),
		Mode:     string(spec.Mode),
	}
	if len(candidates) == 0 {
		result.Candidates = []domain.RetrievalCandidate{}
		return result, nil
	}

	candidates = applySimilarityThreshold(candidates, spec.SimilarityThreshold)

	if spec.EnableReranking {
		candidates = uc.rerank(ctx, queryText, candidates, spec, result)
	}

	if len(candidates) > spec.TopKFinal && spec.TopKFinal > 0 {
		candidates = candidates[:spec.TopKFinal]
	}
	result.Candidates = candidates
	uc.generate(ctx, req.Text, cfg.Generation, result)
	return result, nil
}

// generate synthesizes an answer from the final candidates. Generation sits
// outside the mandatory retrieval path, so any failure degrades the response
// instead of failing it.
func (uc *QueryUseCase) generate(ctx context.Context, question string, spec domain.GenerationSpec, result *domain.QueryResult) {
	generator, err := uc.factory.MakeGenerator(ctx, spec)
	if err != nil {
		uc.logger.Warn("generator unavailable, serving candidates only",
			"provider", spec.Provider, "model_id", spec.ModelID, "error", err)
		result.Degraded = true
		return
	}
	answer, err := generator.GenerateAnswer(ctx, question, result.Candidates)
	if err != nil {
		uc.logger.Warn("answer generation failed, serving candidates only",
			"provider", spec.Provider, "model_id", spec.ModelID, "error", err)
		result.Degraded = true
		return
	}
	result.Answer = answer
}

// rerank applies the configured reranker over the combined-ranked head. Any
// failure leaves the combined ordering untouched and flags degradation.
func (uc *QueryUseCase) rerank(ctx context.Context, query string, candidates []domain.RetrievalCandidate, spec domain.RetrievalSpec, result *domain.QueryResult) []domain.RetrievalCandidate {
	reranker, err := uc.factory.MakeReranker(ctx, spec)
	if err != nil {
		uc.logger.Warn("reranker unavailable, serving combined order",
			"reranker_id", spec.RerankerID, "error", err)
		result.Degraded = true
		return candidates
	}
	reranked, err := reranker.Rerank(ctx, query, candidates, spec.TopKFinal)
	if err != nil {
		uc.logger.Warn("rerank failed, serving combined order",
			"reranker_id", spec.RerankerID, "error", err)
		result.Degraded = true
		return candidates
	}
	return reranked
}

// applySimilarityThreshold drops candidates whose combined score falls below
// the configured floor. Zero disables the filter.
func applySimilarityThreshold(candidates []domain.RetrievalCandidate, threshold float64) []domain.RetrievalCandidate {
	if threshold <= 0 {
		return candidates
	}
	out := candidates[:0]
	for _, c := range candidates {
		if c.CombinedScore >= threshold {
			out = append(out, c)
		}
	}
	return out
}
