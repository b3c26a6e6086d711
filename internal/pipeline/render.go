package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ppiankov/tru8/internal/model"
)

// Renderer writes verdicts as JSON and as a short human summary
type Renderer struct {
	pretty bool
}

// NewRenderer creates a renderer; pretty indents the JSON
func NewRenderer(pretty bool) *Renderer {
	return &Renderer{pretty: pretty}
}

// Marshal encodes a verdict
func (r *Renderer) Marshal(v model.Verdict) ([]byte, error) {
	if r.pretty {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}

// WriteJSON writes one verdict followed by a newline
func (r *Renderer) WriteJSON(w io.Writer, v model.Verdict) error {
	data, err := r.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal verdict: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write verdict: %w", err)
	}
	return nil
}

// RenderJSON writes the verdict to path, creating parent directories
func (r *Renderer) RenderJSON(v model.Verdict, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	data, err := r.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal verdict: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write verdict: %w", err)
	}
	return nil
}

// RenderSummary prints the one-screen summary of a verdict
func (r *Renderer) RenderSummary(w io.Writer, v model.Verdict) {
	sig := v.Signals

	_, _ = fmt.Fprintf(w, "\n")
	_, _ = fmt.Fprintf(w, "═══════════════════════════════════════════════════════════\n")
	_, _ = fmt.Fprintf(w, "  %s\n", truncate(v.ClaimText, 55))
	_, _ = fmt.Fprintf(w, "═══════════════════════════════════════════════════════════\n")
	_, _ = fmt.Fprintf(w, "\n")
	_, _ = fmt.Fprintf(w, "  Verdict:      %s\n", v.Label)
	_, _ = fmt.Fprintf(w, "  Confidence:   %d/100\n", v.Confidence)
	_, _ = fmt.Fprintf(w, "  Sources:      %d (%d supporting, %d contradicting, %d neutral)\n",
		sig.TotalSources, sig.Supporting, sig.Contradicting, sig.Neutral)
	if sig.OffTopic > 0 {
		_, _ = fmt.Fprintf(w, "  Off-topic:    %d\n", sig.OffTopic)
	}
	_, _ = fmt.Fprintf(w, "  Consensus:    %.2f\n", sig.ConsensusStrength)
	_, _ = fmt.Fprintf(w, "  Categories:   %d\n", sig.DistinctCategories)
	for _, c := range v.Clamps {
		_, _ = fmt.Fprintf(w, "  Capped:       %s (%d)\n", c.Name, c.Cap)
	}
	if v.AbstentionReason != "" {
		_, _ = fmt.Fprintf(w, "  Abstained:    %s\n", v.AbstentionReason)
	}
	_, _ = fmt.Fprintf(w, "\n")

	for _, row := range v.EvidenceBreakdown {
		if !row.Selected {
			continue
		}
		mark := "·"
		switch row.Relationship {
		case model.RelationshipEntails:
			mark = "✓"
		case model.RelationshipContradicts:
			mark = "✗"
		}
		_, _ = fmt.Fprintf(w, "  %s %-32s %.2f  %s\n", mark, truncate(row.Domain, 32), row.FinalCredibility, row.Category)
	}
	_, _ = fmt.Fprintf(w, "\n  %s\n\n", v.Reasoning)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
