package embedding

import (
	"context"
	"fmt"
)

// Task prefixes keep query and document embeddings of the same text apart in the cache.
const (
	queryKey    = "q\x00"
	documentKey = "d\x00"
)

// ComputeCounter is implemented by embedders that may answer part of a batch without
// computing it. EmbedBatchCounted reports how many of the returned embeddings were computed.
type ComputeCounter interface {
	EmbedBatchCounted(ctx context.Context, texts []string) ([][]float32, int, error)
}

// Cached wraps an Embedder with an LRU cache. Only cache misses reach the wrapped embedder;
// EmbedBatch forwards all misses in a single call. Embed results (queries) and EmbedBatch
// results (documents) are cached separately.
type Cached struct {
	Embedder
	cache *EmbeddingCache
}

// NewCached wraps e with a cache of the given capacity. A non-positive capacity returns e.
func NewCached(e Embedder, capacity int) Embedder {
	if capacity <= 0 {
		return e
	}
	return &Cached{Embedder: e, cache: NewEmbeddingCache(capacity)}
}

// Embed returns the cached query embedding of text, computing it on a miss.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(queryKey + text); ok {
		return v, nil
	}
	v, err := c.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(queryKey+text, v)
	return v, nil
}

// EmbedBatch returns document embeddings for texts in order.
func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out, _, err := c.EmbedBatchCounted(ctx, texts)
	return out, err
}

// EmbedBatchCounted is EmbedBatch that also returns the number of cache misses.
func (c *Cached) EmbedBatchCounted(ctx context.Context, texts []string) ([][]float32, int, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if v, ok := c.cache.Get(documentKey + text); ok {
			out[i] = v
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, 0, nil
	}
	computed, err := c.Embedder.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, 0, err
	}
	if len(computed) != len(missing) {
		return nil, 0, fmt.Errorf("embedder returned %d embeddings for %d texts", len(computed), len(missing))
	}
	for j, v := range computed {
		out[missingIdx[j]] = v
		c.cache.Set(documentKey+missing[j], v)
	}
	return out, len(missing), nil
}
