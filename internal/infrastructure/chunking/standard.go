package chunking

import (
	"context"
	"strings"

	"github.com/mkropachev/ragpipe/internal/core/domain"
)

// StandardSplitter produces fixed-size chunks over a sliding rune window.
// Consecutive chunks share Overlap runes. With RespectStructure set, a chunk
// boundary never lands inside a fenced code block.
type StandardSplitter struct {
	ChunkSize        int
	Overlap          int
	RespectStructure bool
}

func NewStandardSplitter(spec domain.ChunkingSpec) *StandardSplitter {
	size := spec.ChunkSize
	if size <= 0 {
		size = 900
	}
	overlap := spec.Overlap
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 4
	}
	return &StandardSplitter{
		ChunkSize:        size,
		Overlap:          overlap,
		RespectStructure: spec.RespectStructure,
	}
}

func (s *StandardSplitter) Split(_ context.Context, text string, _ *domain.StructureHints) ([]domain.Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	runes := []rune(text)

	var fences []fenceSpan
	if s.RespectStructure {
		fences = findFences(runes)
	}

	out := make([]domain.Chunk, 0, len(runes)/maxInt(1, s.ChunkSize-s.Overlap)+1)
	start := 0
	for start < len(runes) {
		end := start + s.ChunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = extendPastFence(fences, end)
			if end > len(runes) {
				end = len(runes)
			}
		}

		out = append(out, domain.Chunk{
			Text:   string(runes[start:end]),
			Offset: start,
			Index:  len(out),
		})
		if end == len(runes) {
			break
		}
		next := end - s.Overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return out, nil
}

type fenceSpan struct {
	open, close int
}

// findFences locates ``` fenced blocks as rune index spans.
func findFences(runes []rune) []fenceSpan {
	var spans []fenceSpan
	open := -1
	for i := 0; i+2 < len(runes); i++ {
		if runes[i] != '`' || runes[i+1] != '`' || runes[i+2] != '`' {
			continue
		}
		if open < 0 {
			open = i
		} else {
			spans = append(spans, fenceSpan{open: open, close: i + 3})
			open = -1
		}
		i += 2
	}
	return spans
}

func extendPastFence(fences []fenceSpan, pos int) int {
	for _, f := range fences {
		if pos > f.open && pos < f.close {
			return f.close
		}
	}
	return pos
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
