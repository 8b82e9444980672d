package qdrant

import (
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"unicode"
)

type sparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

// Term weights saturate BM25-style so a token repeated fifty times does not
// drown out the rest of the chunk. Heading-trail tokens weigh more than body
// tokens because a chunk under "Billing > Refunds" should answer refund
// queries even when the chunk text never repeats the word.
const (
	termSaturationK = 1.2
	sourceBoost     = 1.5
	headingBoost    = 2.0
	maxSparseTerms  = 256
)

func encodeSparseDocument(text, source, headingTrail string) sparseVector {
	bag := make(termBag, 64)
	bag.add(tokenize(text), 1.0)
	bag.add(tokenize(source), sourceBoost)
	bag.add(tokenize(headingTrail), headingBoost)
	return bag.toSparse()
}

func encodeSparseQuery(query string) sparseVector {
	bag := make(termBag, 32)
	bag.add(tokenize(query), 1.0)
	return bag.toSparse()
}

type termBag map[uint32]float64

func (b termBag) add(tokens []string, weight float64) {
	for _, tok := range tokens {
		b[hashToken(tok)] += weight
	}
}

func (b termBag) toSparse() sparseVector {
	if len(b) == 0 {
		return sparseVector{}
	}
	indices := make([]uint32, 0, len(b))
	for idx := range b {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	if len(indices) > maxSparseTerms {
		indices = indices[:maxSparseTerms]
	}

	values := make([]float32, len(indices))
	for i, idx := range indices {
		tf := b[idx]
		w := (tf * (termSaturationK + 1.0)) / (tf + termSaturationK)
		if math.IsNaN(w) || math.IsInf(w, 0) {
			w = 0
		}
		values[i] = float32(w)
	}
	return sparseVector{Indices: indices, Values: values}
}

func hashToken(token string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	if sum := h.Sum32(); sum != 0 {
		return sum
	}
	// Qdrant treats index 0 as valid, but reserving it keeps a sentinel free.
	return 1
}

// tokenize lowercases and splits on anything that is not a letter or digit.
// Letters beyond ASCII survive, so non-English corpora still get keyword hits.
func tokenize(s string) []string {
	if s == "" {
		return nil
	}
	out := make([]string, 0, 24)
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		flush()
	}
	flush()
	return out
}
