// Package retrieval answers questions about a single document: it rewrites the question into a
// standalone query, retrieves the closest chunks from the document's namespace, and generates
// an answer grounded in them.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/docchat/internal/apperr"
	"github.com/hyperjump/docchat/internal/embedding"
	"github.com/hyperjump/docchat/internal/llm"
	"github.com/hyperjump/docchat/internal/models"
	"github.com/hyperjump/docchat/internal/retry"
	"github.com/hyperjump/docchat/internal/vector"
	"go.uber.org/zap"
)

// Defaults used when a ChainOption is not given.
const (
	DefaultTopK            = 4
	DefaultMaxContextChars = 8000
	DefaultHistoryTurns    = 10
)

// contextSeparator joins chunks in the generation context.
const contextSeparator = "\n\n"

// Chain is a history-aware retrieval chain over per-document namespaces.
type Chain struct {
	embedder        embedding.Embedder
	store           vector.Store
	model           llm.GenerativeModel
	topK            int
	maxContextChars int
	historyTurns    int
	retry           retry.Policy
	logger          *zap.Logger
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithTopK sets how many chunks are retrieved per question.
func WithTopK(k int) ChainOption {
	return func(c *Chain) {
		if k > 0 {
			c.topK = k
		}
	}
}

// WithMaxContextChars bounds the characters of chunk text passed to the model.
func WithMaxContextChars(n int) ChainOption {
	return func(c *Chain) {
		if n > 0 {
			c.maxContextChars = n
		}
	}
}

// WithHistoryTurns bounds how many of the most recent turns are used to rewrite the question.
func WithHistoryTurns(n int) ChainOption {
	return func(c *Chain) {
		if n > 0 {
			c.historyTurns = n
		}
	}
}

// WithRetryPolicy sets the retry policy for model, embedding and vector store calls.
func WithRetryPolicy(p retry.Policy) ChainOption {
	return func(c *Chain) { c.retry = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ChainOption {
	return func(c *Chain) { c.logger = l }
}

// NewChain creates a chain embedding queries with embedder, searching store and answering
// with model.
func NewChain(embedder embedding.Embedder, store vector.Store, model llm.GenerativeModel, opts ...ChainOption) *Chain {
	c := &Chain{
		embedder:        embedder,
		store:           store,
		model:           model,
		topK:            DefaultTopK,
		maxContextChars: DefaultMaxContextChars,
		historyTurns:    DefaultHistoryTurns,
		retry:           retry.DefaultPolicy(),
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Answer answers question about docID given the prior conversation. It does not check that
// the document is indexed; an empty namespace yields llm.NoAnswer without a model call.
// Failures of the model, embedder or store are ProviderErrors.
func (c *Chain) Answer(ctx context.Context, docID string, history []models.ConversationTurn, question string) (*models.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apperr.Errorf(apperr.KindInvalidInput, "ask", "question is empty")
	}
	for i, turn := range history {
		if err := turn.Validate(); err != nil {
			return nil, apperr.E(apperr.KindInvalidInput, "ask", fmt.Errorf("history turn %d: %w", i, err))
		}
	}

	query, err := c.standaloneQuery(ctx, history, question)
	if err != nil {
		return nil, err
	}

	vec, err := retry.Do(ctx, c.retry, "embed", func(ctx context.Context) ([]float32, error) {
		return c.embedder.Embed(ctx, query)
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindProvider, "embed", err)
	}
	results, err := retry.Do(ctx, c.retry, "vector.query", func(ctx context.Context) ([]*models.RetrievalResult, error) {
		return c.store.Query(ctx, docID, vec, c.topK)
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindProvider, "vector.query", err)
	}
	if len(results) == 0 {
		c.logger.Debug("retrieval found no chunks", zap.String("doc_id", docID))
		return &models.Answer{Answer: llm.NoAnswer, StandaloneQuery: query}, nil
	}

	used, passages := composeContext(results, c.maxContextChars)
	answer, err := retry.Do(ctx, c.retry, "generate", func(ctx context.Context) (string, error) {
		return c.model.Generate(ctx, passages, query)
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindProvider, "generate", err)
	}
	c.logger.Debug("retrieval answered",
		zap.String("doc_id", docID), zap.Int("retrieved", len(results)), zap.Int("used", len(used)))
	return &models.Answer{Answer: answer, StandaloneQuery: query, SourceChunks: used}, nil
}

// standaloneQuery rewrites question using the most recent history turns. Without history the
// question is used as is.
func (c *Chain) standaloneQuery(ctx context.Context, history []models.ConversationTurn, question string) (string, error) {
	if len(history) > c.historyTurns {
		history = history[len(history)-c.historyTurns:]
	}
	if len(history) == 0 {
		return question, nil
	}
	query, err := retry.Do(ctx, c.retry, "rewrite", func(ctx context.Context) (string, error) {
		return c.model.Rewrite(ctx, history, question)
	})
	if err != nil {
		return "", apperr.Wrap(apperr.KindProvider, "rewrite", err)
	}
	if query = strings.TrimSpace(query); query == "" {
		return question, nil
	}
	return query, nil
}

// composeContext selects results in ranking order while their text fits in maxChars runes,
// then joins the selection in document order. The top result is always used, truncated when
// it alone exceeds maxChars. used keeps ranking order.
func composeContext(results []*models.RetrievalResult, maxChars int) (used []*models.RetrievalResult, passages string) {
	total := 0
	texts := make(map[*models.RetrievalResult]string, len(results))
	for i, r := range results {
		text := r.Chunk.Text
		n := utf8.RuneCountInString(text)
		if i == 0 && n > maxChars {
			text = string([]rune(text)[:maxChars])
			n = maxChars
		}
		if total+n > maxChars {
			continue
		}
		total += n
		texts[r] = text
		used = append(used, r)
	}

	ordered := make([]*models.RetrievalResult, len(used))
	copy(ordered, used)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Chunk.Ordinal < ordered[j].Chunk.Ordinal })
	parts := make([]string, len(ordered))
	for i, r := range ordered {
		parts[i] = texts[r]
	}
	return used, strings.Join(parts, contextSeparator)
}
