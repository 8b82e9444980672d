package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/mkropachev/ragpipe/internal/core/domain"
)

// Client speaks the OpenAI-compatible REST surface exposed by OpenAI,
// vLLM, LiteLLM and most hosted providers. The API key is resolved from the
// config's credential reference before construction.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func New(baseURL, apiKey string, requestsPerSecond float64) *Client {
	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		limiter:    limiter,
	}
}

// Ping lists models as a cheap credential and liveness check.
func (c *Client) Ping(ctx context.Context, _, _ string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return fmt.Errorf("create ping request: %w", err)
	}
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.WrapError(domain.ErrProviderTransient, "provider ping", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return domain.WrapError(domain.ErrCredential, "provider ping",
			fmt.Errorf("status %s", resp.Status))
	}
	if resp.StatusCode >= 300 {
		return domain.WrapError(domain.ErrProviderTransient, "provider ping",
			fmt.Errorf("status %s", resp.Status))
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any, operation string) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return domain.WrapError(domain.ErrProviderTransient, operation+" rate limit wait", err)
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.WrapError(domain.ErrProviderTransient, operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return wrapStatus(operation, resp.StatusCode, resp.Status, string(raw))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func wrapStatus(operation string, code int, status, body string) error {
	err := fmt.Errorf("status %s: %s", status, strings.TrimSpace(body))
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return domain.WrapError(domain.ErrCredential, operation, err)
	case code == http.StatusTooManyRequests || code >= 500:
		return domain.WrapError(domain.ErrProviderTransient, operation, err)
	default:
		return domain.WrapError(domain.ErrProviderFatal, operation, err)
	}
}
