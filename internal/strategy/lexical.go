package strategy

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/mkropachev/ragpipe/internal/core/domain"
)

// LexicalReranker reorders candidates by blending normalized combined score
// with query/chunk token overlap. It is the zero-dependency reranker every
// deployment has available.
type LexicalReranker struct {
	fusedWeight   float64
	overlapWeight float64
}

func NewLexicalReranker() *LexicalReranker {
	return &LexicalReranker{fusedWeight: 0.65, overlapWeight: 0.35}
}

func (r *LexicalReranker) Rerank(_ context.Context, query string, candidates []domain.RetrievalCandidate, topK int) ([]domain.RetrievalCandidate, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}
	if topK <= 0 || topK > len(candidates) {
		topK = len(candidates)
	}

	head := make([]domain.RetrievalCandidate, topK)
	copy(head, candidates[:topK])
	queryTokens := toTokenSet(query)

	lo, hi := head[0].CombinedScore, head[0].CombinedScore
	for _, c := range head[1:] {
		if c.CombinedScore < lo {
			lo = c.CombinedScore
		}
		if c.CombinedScore > hi {
			hi = c.CombinedScore
		}
	}
	span := hi - lo
	normalize := func(v float64) float64 {
		if span <= 0 {
			if v > 0 {
				return 1
			}
			return 0
		}
		return (v - lo) / span
	}

	for i := range head {
		score := r.fusedWeight*normalize(head[i].CombinedScore) +
			r.overlapWeight*tokenOverlap(queryTokens, toTokenSet(head[i].Text))
		rerank := score
		head[i].RerankScore = &rerank
	}

	sort.SliceStable(head, func(i, j int) bool {
		if *head[i].RerankScore != *head[j].RerankScore {
			return *head[i].RerankScore > *head[j].RerankScore
		}
		return head[i].ChunkID < head[j].ChunkID
	})

	if topK == len(candidates) {
		return head, nil
	}
	out := make([]domain.RetrievalCandidate, 0, len(candidates))
	out = append(out, head...)
	out = append(out, candidates[topK:]...)
	return out, nil
}

func tokenOverlap(query, chunk map[string]struct{}) float64 {
	if len(query) == 0 || len(chunk) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := chunk[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func toTokenSet(s string) map[string]struct{} {
	out := make(map[string]struct{}, 16)
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			out[b.String()] = struct{}{}
			b.Reset()
		}
	}
	for _, r := range s {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return out
}
