package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mkropachev/ragpipe/internal/core/domain"
)

func TestEmbedderSendsBatchAndReturnsVectors(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{0.1, 0.2}, {0.3, 0.4}},
		})
	}))
	defer server.Close()

	embedder := NewEmbedder(New(server.URL, 0), "nomic-embed-text")
	vectors, err := embedder.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vectors))
	}
	if got["model"] != "nomic-embed-text" {
		t.Fatalf("expected model in request, got %v", got["model"])
	}
	if embedder.Identity() != "ollama/nomic-embed-text" {
		t.Fatalf("unexpected identity %s", embedder.Identity())
	}
}

func TestEmbedderCountMismatchIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{{0.1}}})
	}))
	defer server.Close()

	embedder := NewEmbedder(New(server.URL, 0), "nomic-embed-text")
	_, err := embedder.Embed(context.Background(), []string{"a", "b"})
	if !domain.IsKind(err, domain.ErrProviderFatal) {
		t.Fatalf("expected ErrProviderFatal, got %v", err)
	}
}

func TestEmbedderServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	embedder := NewEmbedder(New(server.URL, 0), "nomic-embed-text")
	_, err := embedder.Embed(context.Background(), []string{"a"})
	if !domain.IsKind(err, domain.ErrProviderTransient) {
		t.Fatalf("expected ErrProviderTransient, got %v", err)
	}
}

func TestEmbedderUnknownModelIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `model "missing" not found`, http.StatusNotFound)
	}))
	defer server.Close()

	embedder := NewEmbedder(New(server.URL, 0), "missing")
	_, err := embedder.Embed(context.Background(), []string{"a"})
	if !domain.IsKind(err, domain.ErrProviderFatal) {
		t.Fatalf("expected ErrProviderFatal for 404, got %v", err)
	}
	if domain.IsKind(err, domain.ErrProviderTransient) {
		t.Fatalf("404 must not be retryable: %v", err)
	}
}

func TestGeneratorBuildsPromptFromCandidates(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"response": "  the answer  "})
	}))
	defer server.Close()

	gen := NewGenerator(New(server.URL, 0), domain.GenerationSpec{
		Provider:    "ollama",
		ModelID:     "llama3",
		Temperature: 0.2,
		MaxTokens:   512,
	})
	answer, err := gen.GenerateAnswer(context.Background(), "what is the refund policy?",
		[]domain.RetrievalCandidate{
			{DocumentID: "doc-1", Text: "Refunds are issued within 30 days.", CombinedScore: 0.9},
		})
	if err != nil {
		t.Fatalf("GenerateAnswer() error = %v", err)
	}
	if answer != "the answer" {
		t.Fatalf("expected trimmed answer, got %q", answer)
	}
	prompt, _ := got["prompt"].(string)
	if !strings.Contains(prompt, "Refunds are issued within 30 days.") {
		t.Fatalf("prompt missing context: %s", prompt)
	}
	if !strings.Contains(prompt, "what is the refund policy?") {
		t.Fatalf("prompt missing question: %s", prompt)
	}
	if got["model"] != "llama3" {
		t.Fatalf("expected model llama3, got %v", got["model"])
	}
}

func TestPingReportsDownInstance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	client := New(server.URL, 0)
	if err := client.Ping(context.Background(), "ollama", ""); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	server.Close()

	if err := client.Ping(context.Background(), "ollama", ""); !domain.IsKind(err, domain.ErrProviderTransient) {
		t.Fatalf("expected ErrProviderTransient for down instance, got %v", err)
	}
}

func TestClassifyErrorNeutralOnContextCancel(t *testing.T) {
	class := ClassifyError(context.Canceled)
	if class.Retryable || class.RecordFailure {
		t.Fatalf("context cancel must not trip the breaker: %+v", class)
	}
	class = ClassifyError(&HTTPStatusError{StatusCode: http.StatusTooManyRequests, Status: "429"})
	if !class.Retryable || !class.RecordFailure {
		t.Fatalf("429 should be retryable and recorded: %+v", class)
	}
	class = ClassifyError(errors.New("boom"))
	if class.Retryable {
		t.Fatalf("unknown errors are not retryable at the breaker: %+v", class)
	}
}
