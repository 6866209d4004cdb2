package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/xkilldash9x/unigraph-cli/internal/graph"
)

// WriteCycleReport renders a cycle analysis report. JSON is the stable
// machine format; "text" and "markdown" are human renderings.
func WriteCycleReport(w io.Writer, report *graph.Report, format string) error {
	switch strings.ToLower(format) {
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "text":
		return writeCycleText(w, report)
	case "markdown", "md":
		return writeCycleMarkdown(w, report)
	}
	return fmt.Errorf("unknown cycle report format %q (want json, text or markdown)", format)
}

func writeCycleText(w io.Writer, report *graph.Report) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Circular dependency analysis (%s)\n", report.AnalyzedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "Algorithm: %s, %d ms\n\n", report.Algorithm, report.AnalysisTimeMS)

	if len(report.Cycles) == 0 {
		b.WriteString("No cycles detected.\n")
		_, err := io.WriteString(w, b.String())
		return err
	}

	fmt.Fprintf(&b, "Cycles found: %d\n", len(report.Cycles))
	for kind, count := range report.CountsByType {
		fmt.Fprintf(&b, "  %-14s %d\n", kind, count)
	}
	b.WriteString("\n")
	for i, cycle := range report.Cycles {
		fmt.Fprintf(&b, "[%d] %s severity=%s length=%d\n", i+1, cycle.Type, cycle.Severity, cycle.Length)
		fmt.Fprintf(&b, "    %s -> %s\n", strings.Join(cycle.Nodes, " -> "), cycle.Nodes[0])
		for _, e := range cycle.BreakEdges {
			fmt.Fprintf(&b, "    break candidate: %s -> %s (%s, %s)\n", e.Source, e.Target, e.Kind, e.Strength)
		}
	}
	if len(report.HotspotNodes) > 0 {
		b.WriteString("\nHotspots:\n")
		for _, h := range report.HotspotNodes {
			fmt.Fprintf(&b, "  %s appears in %d cycles\n", h.GUID, h.Count)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func writeCycleMarkdown(w io.Writer, report *graph.Report) error {
	var b strings.Builder
	b.WriteString("# Circular Dependency Report\n\n")
	fmt.Fprintf(&b, "- Analyzed: %s\n", report.AnalyzedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "- Algorithm: `%s`\n", report.Algorithm)
	fmt.Fprintf(&b, "- Cycles: **%d**\n\n", len(report.Cycles))

	if len(report.Cycles) == 0 {
		b.WriteString("No cycles detected.\n")
		_, err := io.WriteString(w, b.String())
		return err
	}

	b.WriteString("| # | Type | Severity | Length | Nodes |\n")
	b.WriteString("|---|------|----------|--------|-------|\n")
	for i, cycle := range report.Cycles {
		fmt.Fprintf(&b, "| %d | %s | %s | %d | `%s` |\n",
			i+1, cycle.Type, cycle.Severity, cycle.Length, strings.Join(cycle.Nodes, " → "))
	}
	_, err := io.WriteString(w, b.String())
	return err
}
