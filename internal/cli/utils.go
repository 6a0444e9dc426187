// Package cli provides CLI output helpers for docchat.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/hyperjump/docchat/internal/apperr"
	"github.com/hyperjump/docchat/internal/models"
	"github.com/hyperjump/docchat/internal/pipeline"
	"github.com/hyperjump/docchat/internal/status"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteAnswer writes an answer and its sources to w in the given format.
func WriteAnswer(w io.Writer, answer *models.Answer, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, answer)
	}
	fmt.Fprintf(w, "\n%s\n", answer.Answer)
	if answer.StandaloneQuery != "" {
		fmt.Fprintf(w, "\nQuery: %s\n", answer.StandaloneQuery)
	}
	if len(answer.SourceChunks) > 0 {
		fmt.Fprintf(w, "\nSources (%d):\n", len(answer.SourceChunks))
		for _, r := range answer.SourceChunks {
			fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
			fmt.Fprintf(w, "%s | page %d | score %.4f\n", r.Chunk.ID, r.Chunk.Page, r.Score)
			fmt.Fprintf(w, "%s\n", TruncateWords(r.Chunk.Text, 40))
		}
	}
	fmt.Fprintln(w)
	return nil
}

// WriteOutcome writes the result of an index run.
func WriteOutcome(w io.Writer, out pipeline.Outcome, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, out)
	}
	fmt.Fprintf(w, "Document %s: %s\n", out.DocID, out.State)
	if out.State == status.Failed {
		fmt.Fprintf(w, "  %s\n", apperr.Message(out.Kind))
		fmt.Fprintf(w, "  reason: %s\n", out.Reason)
		return nil
	}
	if r := out.Result; r != nil {
		if r.Reused {
			fmt.Fprintf(w, "  reused existing namespace (%d vectors)\n", r.Chunks)
		} else {
			fmt.Fprintf(w, "  %d chunks, %d embeddings in %s\n", r.Chunks, r.EmbeddingsComputed, r.Duration.Round(time.Millisecond))
		}
	}
	return nil
}

// StatusReport is the output of the status command.
type StatusReport struct {
	Status         *status.Status `json:"status,omitempty"`
	Documents      int64          `json:"documents"`
	DiskUsageBytes int64          `json:"disk_usage_bytes"`
}

// WriteStatus writes a document status and store usage.
func WriteStatus(w io.Writer, report StatusReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, report)
	}
	if st := report.Status; st != nil {
		fmt.Fprintf(w, "Document:   %s\n", st.DocID)
		fmt.Fprintf(w, "State:      %s\n", st.State)
		if st.Reason != "" {
			fmt.Fprintf(w, "Reason:     %s (%s)\n", st.Reason, st.Kind)
		}
		if !st.UpdatedAt.IsZero() {
			fmt.Fprintf(w, "Updated:    %s\n", st.UpdatedAt.Format(time.RFC3339))
		}
		m := st.Metrics
		fmt.Fprintf(w, "Pages:      %d\n", m.Pages)
		fmt.Fprintf(w, "Chunks:     %d\n", m.Chunks)
		fmt.Fprintf(w, "Embeddings: %d (reused: %v)\n", m.EmbeddingsComputed, m.Reused)
		stages := make([]string, 0, len(m.StageDurations))
		for stage := range m.StageDurations {
			stages = append(stages, stage)
		}
		sort.Strings(stages)
		for _, stage := range stages {
			fmt.Fprintf(w, "  %-8s %s\n", stage, m.StageDurations[stage].Round(time.Millisecond))
		}
	}
	fmt.Fprintf(w, "Registered documents: %d\n", report.Documents)
	fmt.Fprintf(w, "Disk usage: %s\n", FormatBytes(report.DiskUsageBytes))
	return nil
}

// FormatBytes renders n bytes with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// Truncate truncates s to maxLen runes and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	runes := []rune(s)
	if maxLen <= 0 || len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
