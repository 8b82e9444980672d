package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/mkropachev/ragpipe/internal/core/domain"
)

// Client talks to a local or remote Ollama instance. One client is shared by
// the embedder and generator bound to the same base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New builds a client. requestsPerSecond <= 0 disables client-side rate
// limiting; local Ollama has no server-side limits, so ingestion bursts are
// throttled here.
func New(baseURL string, requestsPerSecond float64) *Client {
	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 120 * time.Second},
		limiter:    limiter,
	}
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.WrapError(domain.ErrProviderTransient, "ollama rate limit wait", err)
	}
	return nil
}

// Ping is the validation-time liveness probe.
func (c *Client) Ping(ctx context.Context, _, _ string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create ping request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.WrapError(domain.ErrProviderTransient, "ollama ping", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return domain.WrapError(domain.ErrProviderTransient, "ollama ping",
			fmt.Errorf("status %s", resp.Status))
	}
	return nil
}

// Embedder implements ports.Embedder for one Ollama embedding model.
type Embedder struct {
	client *Client
	model  string
}

func NewEmbedder(client *Client, model string) *Embedder {
	return &Embedder{client: client, model: model}
}

func (e *Embedder) Identity() string {
	return "ollama/" + e.model
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := e.client.wait(ctx); err != nil {
		return nil, err
	}

	request := map[string]any{
		"model": e.model,
		"input": texts,
	}
	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := e.client.postJSON(ctx, "/api/embed", request, &response, "embed"); err != nil {
		return nil, classifyAndWrap("embed", err)
	}
	if len(response.Embeddings) != len(texts) {
		return nil, domain.WrapError(domain.ErrProviderFatal, "embed",
			fmt.Errorf("got %d embeddings for %d inputs", len(response.Embeddings), len(texts)))
	}
	return response.Embeddings, nil
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

// Generator implements ports.Generator for one Ollama chat model.
type Generator struct {
	client *Client
	spec   domain.GenerationSpec
}

func NewGenerator(client *Client, spec domain.GenerationSpec) *Generator {
	return &Generator{client: client, spec: spec}
}

func (g *Generator) GenerateAnswer(ctx context.Context, question string, candidates []domain.RetrievalCandidate) (string, error) {
	if err := g.client.wait(ctx); err != nil {
		return "", err
	}

	request := map[string]any{
		"model":  g.spec.ModelID,
		"prompt": buildAnswerPrompt(g.spec.SystemPrompt, question, candidates),
		"stream": false,
		"options": map[string]any{
			"temperature": g.spec.Temperature,
			"num_predict": g.spec.MaxTokens,
		},
	}
	var response struct {
		Response string `json:"response"`
	}
	if err := g.client.postJSON(ctx, "/api/generate", request, &response, "generate"); err != nil {
		return "", classifyAndWrap("generate", err)
	}
	return strings.TrimSpace(response.Response), nil
}
