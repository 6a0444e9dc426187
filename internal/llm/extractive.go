package llm

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/hyperjump/docchat/internal/models"
	"github.com/hyperjump/docchat/pkg/utils"
)

// DefaultMaxSentences is the number of context sentences ExtractiveModel answers with.
const DefaultMaxSentences = 2

var sentencePattern = regexp.MustCompile(`[^.!?\n]+[.!?]*`)

// ExtractiveModel is a local, deterministic model. It answers with the context sentences that
// share the most terms with the query, and rewrites follow-ups by appending the terms of the
// most recent user turn.
type ExtractiveModel struct {
	maxSentences int
}

// NewExtractiveModel returns a model answering with up to maxSentences sentences.
func NewExtractiveModel(maxSentences int) *ExtractiveModel {
	if maxSentences <= 0 {
		maxSentences = DefaultMaxSentences
	}
	return &ExtractiveModel{maxSentences: maxSentences}
}

// Rewrite appends terms of the most recent user turn that question does not already contain.
func (m *ExtractiveModel) Rewrite(ctx context.Context, history []models.ConversationTurn, question string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var last string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleUser {
			last = history[i].Content
			break
		}
	}
	seen := make(map[string]bool)
	for _, t := range utils.Terms(question) {
		seen[t] = true
	}
	var extra []string
	for _, t := range utils.Terms(last) {
		if !seen[t] {
			seen[t] = true
			extra = append(extra, t)
		}
	}
	query := strings.TrimSpace(question)
	if len(extra) > 0 {
		query += " " + strings.Join(extra, " ")
	}
	return query, nil
}

// Generate returns the best matching sentences of passages in their original order, or NoAnswer
// when no sentence shares a term with query.
func (m *ExtractiveModel) Generate(ctx context.Context, passages, query string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	want := make(map[string]bool)
	for _, t := range utils.Terms(query) {
		want[t] = true
	}

	type scored struct {
		pos   int
		score int
		text  string
	}
	var candidates []scored
	for i, s := range sentencePattern.FindAllString(passages, -1) {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		score := 0
		seen := make(map[string]bool)
		for _, t := range utils.Terms(s) {
			if want[t] && !seen[t] {
				seen[t] = true
				score++
			}
		}
		if score > 0 {
			candidates = append(candidates, scored{pos: i, score: score, text: s})
		}
	}
	if len(candidates) == 0 {
		return NoAnswer, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > m.maxSentences {
		candidates = candidates[:m.maxSentences]
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].pos < candidates[j].pos })
	parts := make([]string, len(candidates))
	for i, c := range candidates {
		parts[i] = c.text
	}
	return strings.Join(parts, " "), nil
}
