package chunking

import (
	"context"
	"strings"

	"github.com/mkropachev/ragpipe/internal/core/domain"
)

// StructuralSplitter parses markdown-style headings and emits one chunk per
// leaf section, carrying the heading trail as ParentPath. A leaf exceeding
// ChunkSize is sub-split with the standard algorithm; a leaf within the limit
// is never split.
type StructuralSplitter struct {
	ChunkSize int
	Overlap   int
}

func NewStructuralSplitter(spec domain.ChunkingSpec) *StructuralSplitter {
	size := spec.ChunkSize
	if size <= 0 {
		size = 900
	}
	overlap := spec.Overlap
	if overlap < 0 || overlap >= size {
		overlap = size / 4
	}
	return &StructuralSplitter{ChunkSize: size, Overlap: overlap}
}

type section struct {
	path   []string
	body   string
	offset int
}

func (s *StructuralSplitter) Split(ctx context.Context, text string, hints *domain.StructureHints) ([]domain.Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	sections := parseSections(text)
	fallback := &StandardSplitter{ChunkSize: s.ChunkSize, Overlap: s.Overlap}

	out := make([]domain.Chunk, 0, len(sections))
	for _, sec := range sections {
		if strings.TrimSpace(sec.body) == "" {
			continue
		}
		if len([]rune(sec.body)) <= s.ChunkSize {
			out = append(out, domain.Chunk{
				Text:       sec.body,
				Offset:     sec.offset,
				Index:      len(out),
				ParentPath: sec.path,
			})
			continue
		}
		sub, err := fallback.Split(ctx, sec.body, hints)
		if err != nil {
			return nil, err
		}
		for _, chunk := range sub {
			chunk.Offset += sec.offset
			chunk.Index = len(out)
			chunk.ParentPath = sec.path
			out = append(out, chunk)
		}
	}
	return out, nil
}

// parseSections walks the text line by line, maintaining the heading stack.
// Text before the first heading becomes a root section with an empty path.
func parseSections(text string) []section {
	lines := strings.Split(text, "\n")
	var sections []section

	var stack []string // heading titles by level, stack[i] = level i+1
	var body strings.Builder
	bodyOffset := 0
	runeOffset := 0

	flush := func() {
		if strings.TrimSpace(body.String()) != "" {
			path := make([]string, len(stack))
			copy(path, stack)
			sections = append(sections, section{path: path, body: strings.TrimRight(body.String(), "\n"), offset: bodyOffset})
		}
		body.Reset()
	}

	for _, line := range lines {
		lineRunes := len([]rune(line)) + 1 // +1 for the newline
		if level, title, ok := parseHeading(line); ok {
			flush()
			if level <= len(stack) {
				stack = stack[:level-1]
			}
			for len(stack) < level-1 {
				stack = append(stack, "")
			}
			stack = append(stack, title)
			bodyOffset = runeOffset + lineRunes
		} else {
			if body.Len() == 0 {
				bodyOffset = runeOffset
			}
			body.WriteString(line)
			body.WriteString("\n")
		}
		runeOffset += lineRunes
	}
	flush()
	return sections
}

func parseHeading(line string) (level int, title string, ok bool) {
	trimmed := strings.TrimLeft(line, " ")
	n := 0
	for n < len(trimmed) && trimmed[n] == '#' {
		n++
	}
	if n == 0 || n > 6 || n >= len(trimmed) || trimmed[n] != ' ' {
		return 0, "", false
	}
	return n, strings.TrimSpace(trimmed[n:]), true
}
