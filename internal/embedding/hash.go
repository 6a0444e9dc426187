package embedding

import (
	"context"
	"hash/fnv"

	"github.com/hyperjump/docchat/pkg/utils"
)

// HashEmbedder is a local, deterministic embedder using the hashing trick over a bag of
// lowercased terms. Texts sharing terms have positive cosine similarity, which is enough
// for offline use and tests without an embedding provider.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder returns a hashing embedder of the given dimensions (default 384).
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Embed returns the L2-normalized term-count vector of text.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	emb := make([]float32, e.dimensions)
	for _, term := range utils.Terms(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(term))
		sum := h.Sum32()
		// The top bit of the hash picks the sign.
		if sum&(1<<31) != 0 {
			emb[sum%uint32(e.dimensions)] -= 1
		} else {
			emb[sum%uint32(e.dimensions)] += 1
		}
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *HashEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for HashEmbedder.
func (e *HashEmbedder) Close() error {
	return nil
}
