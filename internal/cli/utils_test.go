package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/docchat/internal/apperr"
	"github.com/hyperjump/docchat/internal/indexer"
	"github.com/hyperjump/docchat/internal/models"
	"github.com/hyperjump/docchat/internal/pipeline"
	"github.com/hyperjump/docchat/internal/status"
)

func sampleAnswer() *models.Answer {
	return &models.Answer{
		Answer:          "The capital of France is Paris.",
		StandaloneQuery: "capital of France",
		SourceChunks: []*models.RetrievalResult{
			{
				Score: 0.91,
				Chunk: &models.Chunk{
					ID:         "doc-1#p2-c0",
					DocumentID: "doc-1",
					Text:       "The capital of France is Paris.",
					Page:       2,
				},
			},
		},
	}
}

func TestWriteAnswer_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteAnswer(&buf, sampleAnswer(), OutputJSON); err != nil {
		t.Fatalf("WriteAnswer(json): %v", err)
	}
	var decoded models.Answer
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Answer != "The capital of France is Paris." {
		t.Errorf("answer: %q", decoded.Answer)
	}
	if len(decoded.SourceChunks) != 1 || decoded.SourceChunks[0].Chunk.ID != "doc-1#p2-c0" {
		t.Errorf("source chunks: %+v", decoded.SourceChunks)
	}
}

func TestWriteAnswer_text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteAnswer(&buf, sampleAnswer(), OutputText); err != nil {
		t.Fatalf("WriteAnswer(text): %v", err)
	}
	out := buf.String()
	for _, sub := range []string{"Paris", "Query: capital of France", "Sources (1)", "doc-1#p2-c0", "page 2", "0.9100"} {
		if !strings.Contains(out, sub) {
			t.Errorf("text output missing %q:\n%s", sub, out)
		}
	}
}

func TestWriteAnswer_unknownFormatTreatedAsText(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteAnswer(&buf, &models.Answer{Answer: "x"}, OutputFormat("unknown")); err != nil {
		t.Fatal(err)
	}
	if strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Errorf("unknown format should fall back to text; got %q", buf.String())
	}
}

func TestWriteOutcome(t *testing.T) {
	tests := []struct {
		name string
		out  pipeline.Outcome
		want []string
	}{
		{
			"indexed",
			pipeline.Outcome{DocID: "d1", State: status.Indexed, Result: &indexer.IndexResult{Chunks: 3, EmbeddingsComputed: 3, Duration: time.Second}},
			[]string{"d1: indexed", "3 chunks", "3 embeddings"},
		},
		{
			"reused",
			pipeline.Outcome{DocID: "d1", State: status.Indexed, Result: &indexer.IndexResult{Chunks: 3, Reused: true}},
			[]string{"reused existing namespace (3 vectors)"},
		},
		{
			"failed",
			pipeline.Outcome{DocID: "d2", State: status.Failed, Kind: apperr.KindEmptyContent, Reason: "no text"},
			[]string{"d2: failed", apperr.Message(apperr.KindEmptyContent), "reason: no text"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteOutcome(&buf, tt.out, OutputText); err != nil {
				t.Fatal(err)
			}
			for _, sub := range tt.want {
				if !strings.Contains(buf.String(), sub) {
					t.Errorf("output missing %q:\n%s", sub, buf.String())
				}
			}
		})
	}
}

func TestWriteStatus(t *testing.T) {
	report := StatusReport{
		Status: &status.Status{
			DocID: "d1",
			State: status.Failed,
			Reason: "fetch: not_found",
			Kind:  "not_found",
			Metrics: status.Metrics{
				Pages:          2,
				StageDurations: map[string]time.Duration{status.StageIngest: 1500 * time.Millisecond},
			},
		},
		Documents:      4,
		DiskUsageBytes: 3 << 20,
	}
	var buf bytes.Buffer
	if err := WriteStatus(&buf, report, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, sub := range []string{"State:      failed", "not_found", "Pages:      2", "ingest", "1.5s", "Registered documents: 4", "3.0 MiB"} {
		if !strings.Contains(out, sub) {
			t.Errorf("status output missing %q:\n%s", sub, out)
		}
	}

	buf.Reset()
	if err := WriteStatus(&buf, StatusReport{Documents: 1}, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded StatusReport
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("status JSON: %v", err)
	}
	if decoded.Status != nil || decoded.Documents != 1 {
		t.Errorf("decoded: %+v", decoded)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 << 30, "5.0 GiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.n); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		s      string
		maxLen int
		want   string
	}{
		{"empty", "", 5, ""},
		{"short", "hi", 5, "hi"},
		{"exact", "hello", 5, "hello"},
		{"long", "hello world", 5, "hello..."},
		{"multibyte", "héllo wörld", 5, "héllo..."},
		{"maxLen zero", "ab", 0, "ab"},
		{"maxLen negative", "ab", -1, "ab"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.s, tt.maxLen)
			if got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.s, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestTruncateWords(t *testing.T) {
	tests := []struct {
		name     string
		s        string
		maxWords int
		want     string
	}{
		{"empty", "", 3, ""},
		{"few words", "one two", 3, "one two"},
		{"exact", "one two three", 3, "one two three"},
		{"more", "one two three four", 3, "one two three..."},
		{"single long", "word", 1, "word"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateWords(tt.s, tt.maxWords)
			if got != tt.want {
				t.Errorf("TruncateWords(%q, %d) = %q, want %q", tt.s, tt.maxWords, got, tt.want)
			}
		})
	}
}
