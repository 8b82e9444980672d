package usecase

import "strings"

// maxHistoryTurns bounds how many prior turns fold into the query
// representation.
const maxHistoryTurns = 6

// FoldHistory builds the contextual query representation: the most recent
// conversation turns concatenated ahead of the literal query. The same query
// text under divergent histories produces divergent representations, and
// therefore may gather different candidates.
func FoldHistory(history []string, query string) string {
	if len(history) == 0 {
		return query
	}
	turns := history
	if len(turns) > maxHistoryTurns {
		turns = turns[len(turns)-maxHistoryTurns:]
	}

	var b strings.Builder
	for _, turn := range turns {
		turn = strings.TrimSpace(turn)
		if turn == "" {
			continue
		}
		b.WriteString(turn)
		b.WriteString("\n")
	}
	b.WriteString(query)
	return b.String()
}
