package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedClient decorates a Client with a Redis-backed embedding
// memoization cache. Embeddings are pure functions of their input text, so
// memoizing them across process restarts is a safe latency/cost win that
// doesn't change dedup/retrieval semantics. Chat completions are never
// memoized — prompts vary in context even for repeated memory text.
type CachedClient struct {
	inner Client
	redis *redis.Client
	ttl   time.Duration
}

// NewCachedClient wraps inner with an embedding cache backed by redisURL.
// If redisURL is empty, inner is returned unwrapped (the cache is optional).
func NewCachedClient(inner Client, redisURL string, ttl time.Duration) (Client, error) {
	if redisURL == "" {
		return inner, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("llm: parse redis url: %w", err)
	}
	return &CachedClient{inner: inner, redis: redis.NewClient(opts), ttl: ttl}, nil
}

func embeddingCacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "embed:" + hex.EncodeToString(sum[:])
}

func (c *CachedClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	misses := make([]string, 0, len(texts))
	missIdx := make([]int, 0, len(texts))

	for i, text := range texts {
		raw, err := c.redis.Get(ctx, embeddingCacheKey(text)).Result()
		if err != nil {
			misses = append(misses, text)
			missIdx = append(missIdx, i)
			continue
		}
		var vec []float32
		if err := json.Unmarshal([]byte(raw), &vec); err != nil {
			misses = append(misses, text)
			missIdx = append(missIdx, i)
			continue
		}
		out[i] = vec
	}

	if len(misses) == 0 {
		return out, nil
	}

	fresh, err := c.inner.Embed(ctx, misses)
	if err != nil {
		return nil, err
	}
	for j, vec := range fresh {
		out[missIdx[j]] = vec
		if encoded, err := json.Marshal(vec); err == nil {
			_ = c.redis.Set(ctx, embeddingCacheKey(misses[j]), encoded, c.ttl).Err()
		}
	}
	return out, nil
}

func (c *CachedClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.inner.Complete(ctx, systemPrompt, userPrompt)
}
