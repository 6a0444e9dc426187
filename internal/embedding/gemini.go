package embedding

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"

	"github.com/hyperjump/docchat/internal/apperr"
	"github.com/hyperjump/docchat/internal/gemini"
)

// maxGeminiBatch is the largest number of texts BatchEmbedContents accepts per request.
const maxGeminiBatch = 100

type embedFunc func(ctx context.Context, task genai.TaskType, texts []string) ([][]float32, error)

// GeminiEmbedder embeds text with a Gemini embedding model. EmbedBatch embeds documents
// (retrieval document task) and Embed embeds queries (retrieval query task).
type GeminiEmbedder struct {
	dimensions int
	batchSize  int
	embed      embedFunc
}

// NewGeminiEmbedder creates an embedder for model using client. dimensions is the expected
// vector size; responses of any other size are rejected.
func NewGeminiEmbedder(client *gemini.Client, model string, dimensions, batchSize int) *GeminiEmbedder {
	return newGeminiEmbedder(dimensions, batchSize, func(ctx context.Context, task genai.TaskType, texts []string) ([][]float32, error) {
		res, err := client.Do(ctx, "embed", func(ctx context.Context) (any, error) {
			em := client.GenAI().EmbeddingModel(model)
			em.TaskType = task
			b := em.NewBatch()
			for _, t := range texts {
				b.AddContent(genai.Text(t))
			}
			return em.BatchEmbedContents(ctx, b)
		})
		if err != nil {
			return nil, err
		}
		resp := res.(*genai.BatchEmbedContentsResponse)
		out := make([][]float32, len(resp.Embeddings))
		for i, e := range resp.Embeddings {
			if e != nil {
				out[i] = e.Values
			}
		}
		return out, nil
	})
}

func newGeminiEmbedder(dimensions, batchSize int, embed embedFunc) *GeminiEmbedder {
	if batchSize <= 0 || batchSize > maxGeminiBatch {
		batchSize = maxGeminiBatch
	}
	return &GeminiEmbedder{dimensions: dimensions, batchSize: batchSize, embed: embed}
}

// Embed returns the query embedding of text.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.run(ctx, genai.TaskTypeRetrievalQuery, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch returns document embeddings for texts, split into provider-sized requests.
func (e *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		part, err := e.run(ctx, genai.TaskTypeRetrievalDocument, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, part...)
	}
	return out, nil
}

func (e *GeminiEmbedder) run(ctx context.Context, task genai.TaskType, texts []string) ([][]float32, error) {
	out, err := e.embed(ctx, task, texts)
	if err != nil {
		return nil, err
	}
	if len(out) != len(texts) {
		return nil, apperr.Errorf(apperr.KindProvider, "embed", "provider returned %d embeddings for %d texts", len(out), len(texts))
	}
	for i, v := range out {
		if len(v) != e.dimensions {
			return nil, apperr.E(apperr.KindProvider, "embed",
				fmt.Errorf("embedding %d has dimension %d, expected %d", i, len(v), e.dimensions))
		}
	}
	return out, nil
}

// Dimensions returns the configured embedding dimension.
func (e *GeminiEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op; the shared client is closed by its owner.
func (e *GeminiEmbedder) Close() error {
	return nil
}
