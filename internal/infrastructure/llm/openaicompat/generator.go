package openaicompat

import (
	"context"
	"fmt"
	"strings"

	"github.com/mkropachev/ragpipe/internal/core/domain"
)

const defaultSystemPrompt = `Answer the user question only from the provided context.
If the context is insufficient, say so directly.`

// Generator implements ports.Generator against /v1/chat/completions.
type Generator struct {
	client *Client
	spec   domain.GenerationSpec
}

func NewGenerator(client *Client, spec domain.GenerationSpec) *Generator {
	return &Generator{client: client, spec: spec}
}

func (g *Generator) GenerateAnswer(ctx context.Context, question string, candidates []domain.RetrievalCandidate) (string, error) {
	systemPrompt := g.spec.SystemPrompt
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = defaultSystemPrompt
	}

	var contextBuilder strings.Builder
	for idx, c := range candidates {
		contextBuilder.WriteString(fmt.Sprintf("[%d] document=%s\n%s\n\n", idx+1, c.DocumentID, c.Text))
	}

	request := map[string]any{
		"model":       g.spec.ModelID,
		"temperature": g.spec.Temperature,
		"max_tokens":  g.spec.MaxTokens,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": fmt.Sprintf("Question:\n%s\n\nContext:\n%s", question, contextBuilder.String())},
		},
	}
	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := g.client.postJSON(ctx, "/v1/chat/completions", request, &response, "chat completion"); err != nil {
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", domain.WrapError(domain.ErrProviderFatal, "chat completion",
			fmt.Errorf("empty choices"))
	}
	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}
