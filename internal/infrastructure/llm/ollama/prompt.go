package ollama

import (
	"fmt"
	"strings"

	"github.com/mkropachev/ragpipe/internal/core/domain"
)

const defaultSystemPrompt = `Answer the user question only from the context below.
If the context is insufficient, say so directly.`

func buildAnswerPrompt(systemPrompt, question string, candidates []domain.RetrievalCandidate) string {
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = defaultSystemPrompt
	}

	var contextBuilder strings.Builder
	for idx, c := range candidates {
		contextBuilder.WriteString(fmt.Sprintf(
			"[%d] document=%s score=%.3f\n%s\n\n",
			idx+1,
			c.DocumentID,
			c.CombinedScore,
			c.Text,
		))
	}

	return fmt.Sprintf(`%s

Question:
%s

Context:
%s`, systemPrompt, question, contextBuilder.String())
}
