package mcp

import (
	"fmt"
	"strings"
	"time"

	"github.com/pario-ai/querygate/pkg/classify"
	"github.com/pario-ai/querygate/pkg/gateway"
	"github.com/pario-ai/querygate/pkg/models"
)

// formatAnswer renders the answer text followed by a one-line trailer.
func formatAnswer(ans models.Answer) string {
	var b strings.Builder
	b.WriteString(ans.Response.Render())
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "[outcome: %s", ans.Outcome)
	if ans.ErrorKind != "" {
		fmt.Fprintf(&b, ", error: %s", ans.ErrorKind)
	}
	if ans.Recovered {
		b.WriteString(", recovered")
	}
	b.WriteString("]")
	return b.String()
}

func formatClassification(kind classify.Kind, token, guidance string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Kind: %s (%s)\n", kind, kind.Title())
	if token != "" {
		fmt.Fprintf(&b, "Identifier: %s\n", token)
	}
	b.WriteString("\n")
	b.WriteString(guidance)
	return b.String()
}

func formatStats(s gateway.Stats) string {
	var b strings.Builder
	e := s.Ephemeral
	b.WriteString("Ephemeral cache\n")
	fmt.Fprintf(&b, "  Entries:   %d\n", e.Entries)
	fmt.Fprintf(&b, "  Hits:      %d\n", e.Hits)
	fmt.Fprintf(&b, "  Misses:    %d\n", e.Misses)
	fmt.Fprintf(&b, "  Hit Rate:  %.1f%%\n", hitRate(e.Hits, e.Misses))
	fmt.Fprintf(&b, "  Evictions: %d\n", e.Evictions)
	if e.MostAccessedKey != "" {
		fmt.Fprintf(&b, "  Hottest:   %s (%d reads)\n", e.MostAccessedKey, e.MostAccessedCount)
	}

	if d := s.Durable; d != nil {
		b.WriteString("Durable cache\n")
		fmt.Fprintf(&b, "  Entries:   %d (%d active, %d expired)\n", d.Total, d.Active, d.Expired)
		fmt.Fprintf(&b, "  Hits:      %d\n", d.Hits)
		fmt.Fprintf(&b, "  Misses:    %d\n", d.Misses)
		fmt.Fprintf(&b, "  Hit Rate:  %.1f%%\n", hitRate(d.Hits, d.Misses))
		if d.Degraded > 0 {
			fmt.Fprintf(&b, "  Degraded:  %d\n", d.Degraded)
		}
	} else {
		b.WriteString("Durable cache: not configured\n")
	}

	b.WriteString("Rate limiter\n")
	for _, w := range s.RateLimit.Windows {
		fmt.Fprintf(&b, "  %-9s %d/%d\n", w.Duration.String()+":", w.InUse, w.Limit)
	}
	fmt.Fprintf(&b, "  Admitted:  %d\n", s.RateLimit.Admitted)
	fmt.Fprintf(&b, "  Rejected:  %d\n", s.RateLimit.Rejected)
	return b.String()
}

func hitRate(hits, misses int64) float64 {
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses) * 100
}

func formatHistory(entries []models.QueryLogEntry) string {
	if len(entries) == 0 {
		return "No history entries found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-14s %-18s %9s  %s\n", "Time", "Outcome", "Error", "Latency", "Question")
	b.WriteString(strings.Repeat("-", 90) + "\n")
	for _, e := range entries {
		q := e.Question
		if q == "" {
			q = e.QuestionHash[:min(12, len(e.QuestionHash))]
		}
		if len(q) > 60 {
			q = q[:57] + "..."
		}
		fmt.Fprintf(&b, "%-20s %-14s %-18s %9s  %s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			e.Outcome, e.ErrorKind,
			(time.Duration(e.LatencyMs) * time.Millisecond).String(), q)
	}
	return b.String()
}
