package chunking

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/mkropachev/ragpipe/internal/core/domain"
	"github.com/mkropachev/ragpipe/internal/core/ports"
)

// SemanticSplitter inserts a chunk boundary wherever the cosine similarity of
// consecutive sentence embeddings drops below Threshold. ChunkSize is a hard
// backstop so highly self-similar text cannot grow a chunk without bound.
type SemanticSplitter struct {
	embedder  ports.Embedder
	Threshold float64
	ChunkSize int
}

func NewSemanticSplitter(spec domain.ChunkingSpec, embedder ports.Embedder) *SemanticSplitter {
	threshold := spec.SemanticThreshold
	if threshold <= 0 {
		threshold = 0.5
	}
	size := spec.ChunkSize
	if size <= 0 {
		size = 900
	}
	return &SemanticSplitter{embedder: embedder, Threshold: threshold, ChunkSize: size}
}

func (s *SemanticSplitter) Split(ctx context.Context, text string, _ *domain.StructureHints) ([]domain.Chunk, error) {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil, nil
	}
	if len(sentences) == 1 {
		return []domain.Chunk{{Text: sentences[0].text, Offset: sentences[0].offset, Index: 0}}, nil
	}

	texts := make([]string, len(sentences))
	for i, sent := range sentences {
		texts[i] = sent.text
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed sentences: %w", err)
	}
	if len(vectors) != len(sentences) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "semantic split",
			fmt.Errorf("vectors/sentences mismatch: %d/%d", len(vectors), len(sentences)))
	}

	out := make([]domain.Chunk, 0, len(sentences)/2+1)
	var buf []string
	bufOffset := sentences[0].offset
	bufLen := 0

	flush := func() {
		if len(buf) == 0 {
			return
		}
		out = append(out, domain.Chunk{
			Text:   strings.Join(buf, " "),
			Offset: bufOffset,
			Index:  len(out),
		})
		buf = nil
		bufLen = 0
	}

	for i, sent := range sentences {
		if len(buf) > 0 {
			boundary := cosineSimilarity(vectors[i-1], vectors[i]) < s.Threshold
			overflow := bufLen+len([]rune(sent.text)) > s.ChunkSize
			if boundary || overflow {
				flush()
			}
		}
		if len(buf) == 0 {
			bufOffset = sent.offset
		}
		buf = append(buf, sent.text)
		bufLen += len([]rune(sent.text))
	}
	flush()
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
