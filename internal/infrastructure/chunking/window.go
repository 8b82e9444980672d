package chunking

import (
	"context"
	"strings"

	"github.com/mkropachev/ragpipe/internal/core/domain"
)

// WindowSplitter emits overlapping windows of WindowSize sentences, stepping
// one sentence at a time. Each chunk references its neighboring windows so
// context can be expanded at query time.
type WindowSplitter struct {
	WindowSize int
}

func NewWindowSplitter(spec domain.ChunkingSpec) *WindowSplitter {
	size := spec.WindowSize
	if size <= 0 {
		size = 3
	}
	return &WindowSplitter{WindowSize: size}
}

func (s *WindowSplitter) Split(_ context.Context, text string, _ *domain.StructureHints) ([]domain.Chunk, error) {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil, nil
	}

	count := len(sentences) - s.WindowSize + 1
	if count < 1 {
		count = 1
	}

	out := make([]domain.Chunk, 0, count)
	for i := 0; i < count; i++ {
		end := i + s.WindowSize
		if end > len(sentences) {
			end = len(sentences)
		}
		parts := make([]string, 0, end-i)
		for _, sent := range sentences[i:end] {
			parts = append(parts, sent.text)
		}
		chunk := domain.Chunk{
			Text:      strings.Join(parts, " "),
			Offset:    sentences[i].offset,
			Index:     i,
			PrevIndex: i - 1,
			NextIndex: i + 1,
		}
		if chunk.NextIndex >= count {
			chunk.NextIndex = -1
		}
		out = append(out, chunk)
	}
	return out, nil
}
