package openaicompat

import (
	"context"
	"fmt"
	"sort"

	"github.com/mkropachev/ragpipe/internal/core/domain"
)

// Embedder implements ports.Embedder against /v1/embeddings.
type Embedder struct {
	client *Client
	model  string
}

func NewEmbedder(client *Client, model string) *Embedder {
	return &Embedder{client: client, model: model}
}

func (e *Embedder) Identity() string {
	return "openai/" + e.model
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := map[string]any{
		"model": e.model,
		"input": texts,
	}
	var response struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := e.client.postJSON(ctx, "/v1/embeddings", request, &response, "embeddings"); err != nil {
		return nil, err
	}
	if len(response.Data) != len(texts) {
		return nil, domain.WrapError(domain.ErrProviderFatal, "embeddings",
			fmt.Errorf("got %d embeddings for %d inputs", len(response.Data), len(texts)))
	}

	// The API may deliver data out of order; index is authoritative.
	sort.Slice(response.Data, func(i, j int) bool { return response.Data[i].Index < response.Data[j].Index })
	vectors := make([][]float32, len(response.Data))
	for i, item := range response.Data {
		vectors[i] = item.Embedding
	}
	return vectors, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, domain.WrapError(domain.ErrProviderFatal, "embed query",
			fmt.Errorf("empty embedding result"))
	}
	return vectors[0], nil
}
