package strategy

import (
	"sort"

	"github.com/mkropachev/ragpipe/internal/core/domain"
)

// CombineHybrid unions two independently scored candidate lists by chunk id
// and computes weighted combined scores.
//
// Each signal is min-max normalized over the candidates that carry it before
// weighting, so neither signal dominates purely through scale. Carriers map
// onto [carrierFloor, 1] rather than [0, 1]: the weakest carrier of a signal
// must still score above a candidate the sub-search never returned at all. A
// candidate missing from one sub-search contributes 0 for that signal. Ties
// break by higher raw semantic score, then chunk recency, then chunk id for a
// stable order.
func CombineHybrid(semantic, keyword []domain.RetrievalCandidate, weights domain.HybridWeights) []domain.RetrievalCandidate {
	acc := make(map[string]*domain.RetrievalCandidate, len(semantic)+len(keyword))
	order := make([]string, 0, len(semantic)+len(keyword))

	merge := func(c domain.RetrievalCandidate, semanticSignal bool) {
		existing, ok := acc[c.ChunkID]
		if !ok {
			copied := c
			copied.SemanticScore = 0
			copied.KeywordScore = 0
			acc[c.ChunkID] = &copied
			order = append(order, c.ChunkID)
			existing = &copied
		}
		if semanticSignal {
			existing.MarkSemantic(c.SemanticScore)
		} else {
			existing.MarkKeyword(c.KeywordScore)
		}
		if existing.Text == "" {
			existing.Text = c.Text
		}
		if existing.IndexedAt.IsZero() {
			existing.IndexedAt = c.IndexedAt
		}
	}

	for _, c := range semantic {
		merge(c, true)
	}
	for _, c := range keyword {
		merge(c, false)
	}

	normSemantic := minMaxNormalizer(acc, func(c *domain.RetrievalCandidate) (float64, bool) {
		return c.SemanticScore, c.HasSemantic()
	})
	normKeyword := minMaxNormalizer(acc, func(c *domain.RetrievalCandidate) (float64, bool) {
		return c.KeywordScore, c.HasKeyword()
	})

	out := make([]domain.RetrievalCandidate, 0, len(order))
	for _, id := range order {
		c := acc[id]
		var s, k float64
		if c.HasSemantic() {
			s = normSemantic(c.SemanticScore)
		}
		if c.HasKeyword() {
			k = normKeyword(c.KeywordScore)
		}
		c.CombinedScore = weights.Semantic*s + weights.Keyword*k
		out = append(out, *c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CombinedScore != out[j].CombinedScore {
			return out[i].CombinedScore > out[j].CombinedScore
		}
		if out[i].SemanticScore != out[j].SemanticScore {
			return out[i].SemanticScore > out[j].SemanticScore
		}
		if !out[i].IndexedAt.Equal(out[j].IndexedAt) {
			return out[i].IndexedAt.After(out[j].IndexedAt)
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return out
}

// carrierFloor is the normalized score of a signal's weakest carrier.
const carrierFloor = 0.05

// minMaxNormalizer maps the signal's observed range onto [carrierFloor, 1].
// A degenerate range maps every carrier of the signal to 1.
func minMaxNormalizer(acc map[string]*domain.RetrievalCandidate, signal func(*domain.RetrievalCandidate) (float64, bool)) func(float64) float64 {
	first := true
	var lo, hi float64
	for _, c := range acc {
		v, ok := signal(c)
		if !ok {
			continue
		}
		if first {
			lo, hi = v, v
			first = false
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	span := hi - lo
	return func(v float64) float64 {
		if span <= 0 {
			return 1
		}
		return carrierFloor + (1-carrierFloor)*(v-lo)/span
	}
}
