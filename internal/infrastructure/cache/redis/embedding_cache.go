package redis

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client is the subset of the go-redis API the cache needs; tests substitute
// a fake without a server.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// EmbeddingCache memoizes chunk vectors in Redis, keyed by embedder identity
// and text digest. A reprocessed document whose text did not change skips the
// provider entirely.
type EmbeddingCache struct {
	client Client
	ttl    time.Duration
}

func NewEmbeddingCache(client Client, ttl time.Duration) *EmbeddingCache {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &EmbeddingCache{client: client, ttl: ttl}
}

func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func cacheKey(identity, text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("ragpipe:emb:%s:%x", identity, sum)
}

// Get returns the cached vector; a cache outage degrades to a miss with the
// error surfaced so the caller can log it.
func (c *EmbeddingCache) Get(ctx context.Context, identity, text string) ([]float32, bool, error) {
	raw, err := c.client.Get(ctx, cacheKey(identity, text)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("embedding cache get: %w", err)
	}
	var vector []float32
	if err := json.Unmarshal(raw, &vector); err != nil {
		// A corrupt entry acts like a miss; the fresh vector overwrites it.
		return nil, false, nil
	}
	return vector, true, nil
}

func (c *EmbeddingCache) Put(ctx context.Context, identity, text string, vector []float32) error {
	raw, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(identity, text), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("embedding cache put: %w", err)
	}
	return nil
}
