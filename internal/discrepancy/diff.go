package discrepancy

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"kpiboard/internal/kpi"
)

// CorrectionDiff renders a unified diff of the unit's scores before and after
// a resolution. It returns "" when nothing changed.
func CorrectionDiff(label string, before, after kpi.Unit) (string, error) {
	if label == "" {
		label = "unit"
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(renderScores(before)),
		B:        difflib.SplitLines(renderScores(after)),
		FromFile: label + " (submitted)",
		ToFile:   label + " (resolved)",
		Context:  1,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return "", fmt.Errorf("render correction diff: %w", err)
	}
	return text, nil
}

func renderScores(u kpi.Unit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "status: %s\n", u.Status)
	writeScore(&b, "assignee", u.AssigneeScore)
	writeScore(&b, "creator", u.CreatorScore)
	return b.String()
}

func writeScore(b *strings.Builder, slot string, s *kpi.Score) {
	if s == nil {
		fmt.Fprintf(b, "%s: -\n", slot)
		return
	}
	fmt.Fprintf(b, "%s: %s (by %s)\n", slot, formatValue(s.Value), s.EnteredBy)
}

func formatValue(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}
