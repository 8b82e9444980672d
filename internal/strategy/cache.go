package strategy

import (
	"context"
	"fmt"

	"github.com/mkropachev/ragpipe/internal/core/ports"
)

// cachedEmbedder memoizes vectors per embedder identity, so reprocessing and
// shared boilerplate text skip provider round-trips. Cache failures are
// treated as misses.
type cachedEmbedder struct {
	inner ports.Embedder
	cache ports.EmbeddingCache
}

// NewCachedEmbedder wraps inner with the cache; a nil cache returns inner
// unchanged.
func NewCachedEmbedder(inner ports.Embedder, cache ports.EmbeddingCache) ports.Embedder {
	if cache == nil {
		return inner
	}
	return &cachedEmbedder{inner: inner, cache: cache}
}

func (e *cachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	missing := make([]int, 0, len(texts))
	for i, text := range texts {
		vector, ok, err := e.cache.Get(ctx, e.inner.Identity(), text)
		if err == nil && ok {
			out[i] = vector
			continue
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	request := make([]string, len(missing))
	for i, idx := range missing {
		request[i] = texts[idx]
	}
	vectors, err := e.inner.Embed(ctx, request)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(request) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(request))
	}
	for i, idx := range missing {
		out[idx] = vectors[i]
		_ = e.cache.Put(ctx, e.inner.Identity(), texts[idx], vectors[i])
	}
	return out, nil
}

func (e *cachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.inner.EmbedQuery(ctx, text)
}

func (e *cachedEmbedder) Identity() string { return e.inner.Identity() }
