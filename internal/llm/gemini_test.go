package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/generative-ai-go/genai"

	"github.com/hyperjump/docchat/internal/apperr"
	"github.com/hyperjump/docchat/internal/models"
)

type recordedCall struct {
	op      string
	system  string
	history []*genai.Content
	prompt  string
}

func fakeModel(reply string, err error, calls *[]recordedCall) *GeminiModel {
	return &GeminiModel{generate: func(ctx context.Context, op, system string, history []*genai.Content, prompt string) (string, error) {
		*calls = append(*calls, recordedCall{op: op, system: system, history: history, prompt: prompt})
		return reply, err
	}}
}

func TestGeminiModel_RewriteSkipsEmptyHistory(t *testing.T) {
	var calls []recordedCall
	m := fakeModel("rewritten", nil, &calls)
	got, err := m.Rewrite(context.Background(), nil, "What is the capital of France?")
	if err != nil {
		t.Fatal(err)
	}
	if got != "What is the capital of France?" || len(calls) != 0 {
		t.Errorf("got %q with %d calls", got, len(calls))
	}
}

func TestGeminiModel_RewriteSendsHistory(t *testing.T) {
	var calls []recordedCall
	m := fakeModel("capital of France", nil, &calls)
	history := []models.ConversationTurn{
		{Role: models.RoleUser, Content: "Tell me about France"},
		{Role: models.RoleAssistant, Content: "France is in Europe."},
	}
	got, err := m.Rewrite(context.Background(), history, "What is its capital?")
	if err != nil {
		t.Fatal(err)
	}
	if got != "capital of France" {
		t.Errorf("got %q", got)
	}
	if len(calls) != 1 || calls[0].op != "rewrite" {
		t.Fatalf("calls %+v", calls)
	}
	c := calls[0]
	if len(c.history) != 2 || c.history[0].Role != "user" || c.history[1].Role != "model" {
		t.Errorf("history roles not mapped: %+v", c.history)
	}
	if !strings.HasPrefix(c.prompt, "What is its capital?") || !strings.Contains(c.prompt, rewriteInstruction) {
		t.Errorf("prompt %q", c.prompt)
	}
}

func TestToContents_StartsWithUserAndAlternates(t *testing.T) {
	history := []models.ConversationTurn{
		{Role: models.RoleAssistant, Content: "Hi, ask me anything."},
		{Role: models.RoleAssistant, Content: "I know about this document."},
		{Role: models.RoleUser, Content: "Tell me about France"},
		{Role: models.RoleUser, Content: "and its cities"},
		{Role: models.RoleAssistant, Content: "France is in Europe."},
		{Role: models.RoleAssistant, Content: "Paris is its largest city."},
		{Role: models.RoleUser, Content: "Thanks"},
	}
	got := toContents(history)
	wantRoles := []string{"user", "model", "user"}
	if len(got) != len(wantRoles) {
		t.Fatalf("got %d contents: %+v", len(got), got)
	}
	for i, c := range got {
		if c.Role != wantRoles[i] {
			t.Errorf("content %d role %s, want %s", i, c.Role, wantRoles[i])
		}
	}
	if text := partsText(got[0].Parts); text != "Tell me about France\n\nand its cities" {
		t.Errorf("merged user turn %q", text)
	}
	if len(got[1].Parts) != 2 {
		t.Errorf("merged model turn has %d parts", len(got[1].Parts))
	}
	if got := toContents([]models.ConversationTurn{{Role: models.RoleAssistant, Content: "hello"}}); len(got) != 0 {
		t.Errorf("assistant-only history should map to no contents, got %+v", got)
	}
}

func TestGeminiModel_RewriteFoldsTrailingUserTurnIntoPrompt(t *testing.T) {
	var calls []recordedCall
	m := fakeModel("capital of France", nil, &calls)
	history := []models.ConversationTurn{
		{Role: models.RoleAssistant, Content: "Welcome."},
		{Role: models.RoleUser, Content: "Tell me about France"},
		{Role: models.RoleAssistant, Content: "France is in Europe."},
		{Role: models.RoleUser, Content: "I mean the country."},
	}
	if _, err := m.Rewrite(context.Background(), history, "What is its capital?"); err != nil {
		t.Fatal(err)
	}
	c := calls[0]
	if len(c.history) != 2 || c.history[0].Role != "user" || c.history[1].Role != "model" {
		t.Errorf("history %+v", c.history)
	}
	if !strings.HasPrefix(c.prompt, "I mean the country.\n\nWhat is its capital?") {
		t.Errorf("prompt %q", c.prompt)
	}

	calls = nil
	if _, err := m.Rewrite(context.Background(), history[:1], "What is its capital?"); err != nil {
		t.Fatal(err)
	}
	if len(calls[0].history) != 0 || !strings.HasPrefix(calls[0].prompt, "What is its capital?") {
		t.Errorf("assistant-only history: %+v", calls[0])
	}
}

func TestGeminiModel_GeneratePutsContextInSystemInstruction(t *testing.T) {
	var calls []recordedCall
	m := fakeModel("Paris", nil, &calls)
	got, err := m.Generate(context.Background(), "The capital of France is Paris.", "capital of France")
	if err != nil || got != "Paris" {
		t.Fatalf("Generate = %q, %v", got, err)
	}
	if !strings.Contains(calls[0].system, "The capital of France is Paris.") || calls[0].prompt != "capital of France" {
		t.Errorf("call %+v", calls[0])
	}
}

func TestGeminiModel_PropagatesProviderError(t *testing.T) {
	var calls []recordedCall
	m := fakeModel("", apperr.Transient(apperr.KindProvider, "generate", errors.New("503")), &calls)
	if _, err := m.Generate(context.Background(), "ctx", "q"); !errors.Is(err, apperr.ErrProvider) {
		t.Errorf("expected provider error, got %v", err)
	}
}

func TestResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []genai.Part{genai.Text("The answer "), genai.Text("is Paris.")}},
	}}}
	got, err := responseText("generate", resp)
	if err != nil || got != "The answer is Paris." {
		t.Errorf("responseText = %q, %v", got, err)
	}
	if _, err := responseText("generate", &genai.GenerateContentResponse{}); !errors.Is(err, apperr.ErrProvider) {
		t.Errorf("empty response should be a provider error, got %v", err)
	}
}
