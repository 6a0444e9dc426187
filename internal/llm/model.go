// Package llm provides the generative models used to rewrite follow-up questions into
// standalone queries and to answer a query from retrieved context.
package llm

import (
	"context"

	"github.com/hyperjump/docchat/internal/models"
)

// GenerativeModel rewrites questions and generates grounded answers.
type GenerativeModel interface {
	// Rewrite returns a standalone search query for question given the prior conversation.
	Rewrite(ctx context.Context, history []models.ConversationTurn, question string) (string, error)
	// Generate answers query using only passages.
	Generate(ctx context.Context, passages, query string) (string, error)
}

// NoAnswer is returned by models when the context does not support an answer.
const NoAnswer = "I could not find the answer to that in the document."
