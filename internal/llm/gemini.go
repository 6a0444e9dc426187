package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/google/generative-ai-go/genai"

	"github.com/hyperjump/docchat/internal/apperr"
	"github.com/hyperjump/docchat/internal/gemini"
	"github.com/hyperjump/docchat/internal/models"
)

const rewriteInstruction = "Given the above conversation, generate a search query to look up in order to get " +
	"information relevant to the conversation. Reply with the query only."

const answerInstruction = "Answer the user's question based only on the context below. If the context does not " +
	"contain the answer, say that you could not find it in the document.\n\nContext:\n"

// generateFunc sends prompt after history and returns the text of the reply.
type generateFunc func(ctx context.Context, op string, system string, history []*genai.Content, prompt string) (string, error)

// GeminiModel rewrites and answers with a Gemini chat model.
type GeminiModel struct {
	generate generateFunc
}

// NewGeminiModel creates a model named model using client, sampling at temperature.
func NewGeminiModel(client *gemini.Client, model string, temperature float32) *GeminiModel {
	return &GeminiModel{generate: func(ctx context.Context, op, system string, history []*genai.Content, prompt string) (string, error) {
		res, err := client.Do(ctx, op, func(ctx context.Context) (any, error) {
			m := client.GenAI().GenerativeModel(model)
			m.SetTemperature(temperature)
			if system != "" {
				m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
			}
			cs := m.StartChat()
			cs.History = history
			return cs.SendMessage(ctx, genai.Text(prompt))
		})
		if err != nil {
			return "", err
		}
		return responseText(op, res.(*genai.GenerateContentResponse))
	}}
}

func responseText(op string, resp *genai.GenerateContentResponse) (string, error) {
	var b strings.Builder
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", apperr.E(apperr.KindProvider, op, errors.New("empty response from model"))
	}
	return out, nil
}

// Rewrite asks the model for a standalone query given history. An empty history returns
// question unchanged without a model call.
func (g *GeminiModel) Rewrite(ctx context.Context, history []models.ConversationTurn, question string) (string, error) {
	if len(history) == 0 {
		return question, nil
	}
	contents := toContents(history)
	prompt := question + "\n\n" + rewriteInstruction
	// The prompt is sent as a user turn, so a trailing user turn is folded into it.
	if n := len(contents); n > 0 && contents[n-1].Role == "user" {
		prompt = partsText(contents[n-1].Parts) + "\n\n" + prompt
		contents = contents[:n-1]
	}
	return g.generate(ctx, "rewrite", "", contents, prompt)
}

// Generate answers query from passages.
func (g *GeminiModel) Generate(ctx context.Context, passages, query string) (string, error) {
	return g.generate(ctx, "generate", answerInstruction+passages, nil, query)
}

// toContents maps conversation turns to Gemini chat history, which must start with a user
// turn and alternate roles. Leading assistant turns are dropped and consecutive turns of the
// same role are merged. Assistant turns use the "model" role.
func toContents(history []models.ConversationTurn) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	for _, turn := range history {
		role := "user"
		if turn.Role == models.RoleAssistant {
			role = "model"
		}
		if len(out) == 0 && role == "model" {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Parts = append(out[n-1].Parts, genai.Text(turn.Content))
			continue
		}
		out = append(out, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(turn.Content)}})
	}
	return out
}

func partsText(parts []genai.Part) string {
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		if t, ok := p.(genai.Text); ok {
			texts = append(texts, string(t))
		}
	}
	return strings.Join(texts, "\n\n")
}
