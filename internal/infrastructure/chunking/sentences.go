package chunking

import (
	"strings"
	"unicode"
)

type sentence struct {
	text   string
	offset int // rune offset in the source text
}

// splitSentences breaks text on terminal punctuation followed by whitespace.
// Offsets are rune-based so chunk offsets stay stable across encodings.
func splitSentences(text string) []sentence {
	runes := []rune(text)
	out := make([]sentence, 0, 16)

	start := 0
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' && r != '\n' {
			continue
		}
		end := i + 1
		if r != '\n' && end < len(runes) && !unicode.IsSpace(runes[end]) {
			continue // e.g. "3.14", "v1.2"
		}
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			out = append(out, sentence{text: s, offset: start + leadingSpace(runes[start:end])})
		}
		for end < len(runes) && unicode.IsSpace(runes[end]) {
			end++
		}
		start = end
		i = end - 1
	}
	if start < len(runes) {
		if s := strings.TrimSpace(string(runes[start:])); s != "" {
			out = append(out, sentence{text: s, offset: start + leadingSpace(runes[start:])})
		}
	}
	return out
}

func leadingSpace(runes []rune) int {
	n := 0
	for _, r := range runes {
		if !unicode.IsSpace(r) {
			break
		}
		n++
	}
	return n
}
