package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/docchat/internal/apperr"
	"github.com/hyperjump/docchat/internal/embedding"
	"github.com/hyperjump/docchat/internal/models"
	"github.com/hyperjump/docchat/internal/retry"
	"github.com/hyperjump/docchat/internal/vector"
	"go.uber.org/zap"
)

// ReusePolicy decides when an existing namespace is reused instead of rebuilt.
type ReusePolicy string

const (
	// ReuseExists reuses any namespace holding at least one vector.
	ReuseExists ReusePolicy = "exists"
	// ReuseSealed reuses only namespaces sealed with all expected vectors; partial
	// namespaces are deleted and rebuilt.
	ReuseSealed ReusePolicy = "sealed"
)

// DefaultBatchSize is the number of chunks embedded and written per batch.
const DefaultBatchSize = 100

// IndexResult summarizes one IndexDocument call.
type IndexResult struct {
	Namespace          string        `json:"namespace"`
	Reused             bool          `json:"reused"`
	Chunks             int           `json:"chunks"`
	EmbeddingsComputed int           `json:"embeddings_computed"`
	Duration           time.Duration `json:"duration"`
}

// Indexer embeds document chunks into a per-document vector namespace.
type Indexer struct {
	store     vector.Store
	embedder  embedding.Embedder
	chunker   *Chunker
	policy    ReusePolicy
	batchSize int
	retry     retry.Policy
	logger    *zap.Logger // optional; when set, logs debug events
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output (namespace reused, batch written, etc.).
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithReusePolicy sets the namespace reuse policy. Defaults to ReuseExists.
func WithReusePolicy(p ReusePolicy) IndexerOption {
	return func(idx *Indexer) { idx.policy = p }
}

// WithBatchSize sets how many chunks are embedded per provider call.
func WithBatchSize(n int) IndexerOption {
	return func(idx *Indexer) {
		if n > 0 {
			idx.batchSize = n
		}
	}
}

// WithRetryPolicy sets the retry policy for embedding and vector store calls.
func WithRetryPolicy(p retry.Policy) IndexerOption {
	return func(idx *Indexer) { idx.retry = p }
}

// NewIndexer creates an indexer writing embeddings from embedder into store.
func NewIndexer(store vector.Store, embedder embedding.Embedder, chunker *Chunker, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		store:     store,
		embedder:  embedder,
		chunker:   chunker,
		policy:    ReuseExists,
		batchSize: DefaultBatchSize,
		retry:     retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Reusable reports whether the namespace of docID satisfies the reuse policy.
func (idx *Indexer) Reusable(ctx context.Context, docID string) (bool, error) {
	ok, _, err := idx.reusable(ctx, docID)
	return ok, err
}

func (idx *Indexer) reusable(ctx context.Context, docID string) (bool, vector.NamespaceStats, error) {
	stats, err := retry.Do(ctx, idx.retry, "vector.describe", func(ctx context.Context) (vector.NamespaceStats, error) {
		return idx.store.Describe(ctx, docID)
	})
	if err != nil {
		return false, stats, apperr.Wrap(apperr.KindProvider, "vector.describe", err)
	}
	switch idx.policy {
	case ReuseSealed:
		return stats.Sealed && stats.Vectors == stats.Expected && stats.Vectors > 0, stats, nil
	default:
		exists, err := retry.Do(ctx, idx.retry, "vector.exists", func(ctx context.Context) (bool, error) {
			return idx.store.NamespaceExists(ctx, docID)
		})
		if err != nil {
			return false, stats, apperr.Wrap(apperr.KindProvider, "vector.exists", err)
		}
		return exists, stats, nil
	}
}

// IndexDocument chunks pages and writes their embeddings into the namespace docID. When the
// namespace is reusable no embedding is computed and nothing is written. Returns an
// EmptyContentError, before any provider call, when pages contain no text.
func (idx *Indexer) IndexDocument(ctx context.Context, docID string, pages []models.Page) (*IndexResult, error) {
	start := time.Now()
	reusable, stats, err := idx.reusable(ctx, docID)
	if err != nil {
		return nil, err
	}
	if reusable {
		if idx.logger != nil {
			idx.logger.Debug("indexer reusing namespace", zap.String("doc_id", docID), zap.Int("vectors", stats.Vectors))
		}
		return &IndexResult{Namespace: docID, Reused: true, Chunks: stats.Vectors, Duration: time.Since(start)}, nil
	}

	chunks, err := idx.chunker.Split(docID, pages)
	if err != nil {
		return nil, err
	}
	if stats.Vectors > 0 {
		// Partial namespace left by an interrupted run.
		if idx.logger != nil {
			idx.logger.Debug("indexer rebuilding partial namespace", zap.String("doc_id", docID),
				zap.Int("vectors", stats.Vectors), zap.Bool("sealed", stats.Sealed))
		}
		if err := idx.DeleteDocument(ctx, docID); err != nil {
			return nil, err
		}
	}

	computed := 0
	for s := 0; s < len(chunks); s += idx.batchSize {
		e := s + idx.batchSize
		if e > len(chunks) {
			e = len(chunks)
		}
		n, err := idx.writeBatch(ctx, docID, chunks[s:e])
		computed += n
		if err != nil {
			return nil, err
		}
	}

	if err := idx.seal(ctx, docID, len(chunks)); err != nil {
		return nil, err
	}
	result := &IndexResult{
		Namespace:          docID,
		Chunks:             len(chunks),
		EmbeddingsComputed: computed,
		Duration:           time.Since(start),
	}
	if idx.logger != nil {
		idx.logger.Debug("indexer document indexed", zap.String("doc_id", docID),
			zap.Int("chunks", result.Chunks), zap.Duration("duration", result.Duration))
	}
	return result, nil
}

// writeBatch embeds and upserts chunks, returning the number of embeddings computed.
func (idx *Indexer) writeBatch(ctx context.Context, docID string, chunks []*models.Chunk) (int, error) {
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	batch, err := retry.Do(ctx, idx.retry, "embed", func(ctx context.Context) (embedded, error) {
		return idx.embed(ctx, texts)
	})
	if err != nil {
		return 0, apperr.Wrap(apperr.KindProvider, "embed", err)
	}
	vectors := batch.vectors
	if len(vectors) != len(chunks) {
		return 0, apperr.Errorf(apperr.KindProvider, "embed", "got %d embeddings for %d chunks", len(vectors), len(chunks))
	}
	want := idx.embedder.Dimensions()
	records := make([]models.Record, len(chunks))
	for i, ch := range chunks {
		if want > 0 && len(vectors[i]) != want {
			return 0, apperr.Errorf(apperr.KindProvider, "embed",
				"embedding for %s has dimension %d, expected %d", ch.ID, len(vectors[i]), want)
		}
		records[i] = models.Record{Chunk: ch, Vector: vectors[i]}
	}
	_, err = retry.Do(ctx, idx.retry, "vector.upsert", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, idx.store.Upsert(ctx, docID, records)
	})
	if err != nil {
		return batch.computed, apperr.Wrap(apperr.KindProvider, "vector.upsert", err)
	}
	if idx.logger != nil {
		idx.logger.Debug("indexer batch written", zap.String("doc_id", docID),
			zap.Int("chunks", len(chunks)), zap.Int("computed", batch.computed))
	}
	return batch.computed, nil
}

type embedded struct {
	vectors  [][]float32
	computed int
}

// embed embeds texts. Embedders that serve some texts from a cache report how many they
// computed; for all others every text counts.
func (idx *Indexer) embed(ctx context.Context, texts []string) (embedded, error) {
	if c, ok := idx.embedder.(embedding.ComputeCounter); ok {
		vectors, n, err := c.EmbedBatchCounted(ctx, texts)
		return embedded{vectors: vectors, computed: n}, err
	}
	vectors, err := idx.embedder.EmbedBatch(ctx, texts)
	return embedded{vectors: vectors, computed: len(vectors)}, err
}

// seal verifies the namespace holds exactly expected vectors and marks it complete.
func (idx *Indexer) seal(ctx context.Context, docID string, expected int) error {
	stats, err := retry.Do(ctx, idx.retry, "vector.describe", func(ctx context.Context) (vector.NamespaceStats, error) {
		return idx.store.Describe(ctx, docID)
	})
	if err != nil {
		return apperr.Wrap(apperr.KindProvider, "vector.describe", err)
	}
	if stats.Vectors != expected {
		return apperr.E(apperr.KindProvider, "vector.seal",
			fmt.Errorf("namespace %s holds %d vectors, expected %d", docID, stats.Vectors, expected))
	}
	_, err = retry.Do(ctx, idx.retry, "vector.seal", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, idx.store.Seal(ctx, docID, expected)
	})
	return apperr.Wrap(apperr.KindProvider, "vector.seal", err)
}

// DeleteDocument removes the namespace of docID.
func (idx *Indexer) DeleteDocument(ctx context.Context, docID string) error {
	if idx.logger != nil {
		idx.logger.Debug("indexer deleting namespace", zap.String("doc_id", docID))
	}
	_, err := retry.Do(ctx, idx.retry, "vector.delete", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, idx.store.DeleteNamespace(ctx, docID)
	})
	return apperr.Wrap(apperr.KindProvider, "vector.delete", err)
}
