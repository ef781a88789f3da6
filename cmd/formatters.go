package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"threatgate/bootstrap"
	"threatgate/core"
	"threatgate/detect"
	"threatgate/storage"
	"threatgate/util"

	"github.com/fatih/color"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

var riskColors = map[core.ThreatRisk]*color.Color{
	core.RiskCritical: color.New(color.FgRed, color.Bold),
	core.RiskHigh:     color.New(color.FgRed),
	core.RiskMedium:   color.New(color.FgYellow),
	core.RiskLow:      color.New(color.FgGreen),
}

// renderModelResult prints the threats of one processed model.
func renderModelResult(w io.Writer, r bootstrap.ModelResult) {
	headerColor.Fprintf(w, "%s", r.Header.ModelName)
	if r.Header.ModelVersion != "" {
		fmt.Fprintf(w, " (version %s)", r.Header.ModelVersion)
	}
	fmt.Fprintf(w, "  run %s\n", r.Header.RunID)
	fmt.Fprintln(w, strings.Repeat("=", 100))

	if r.Threats.Len() == 0 {
		successColor.Fprintln(w, "No threats identified")
	} else {
		nonCompliant := make(map[string]bool, len(r.Gate.NonCompliant))
		for _, id := range r.Gate.NonCompliant {
			nonCompliant[id] = true
		}

		fmt.Fprintf(w, "%-17s %-10s %-20s %-20s %-19s %s\n",
			"Threat", "Risk", "Rule", "Element", "Status", "Title")
		fmt.Fprintln(w, strings.Repeat("-", 100))
		for _, t := range r.Threats.Threats {
			marker := " "
			if nonCompliant[t.ID] {
				marker = errorColor.Sprint("!")
			}
			fmt.Fprintf(w, "%s%-16s %s %-20s %-20s %-19s %s\n",
				marker,
				t.ID,
				formatRisk(t.Risk, 10),
				truncate(t.RuleID, 20),
				truncate(t.ElementID, 20),
				t.MitigationStatus,
				t.Title)
		}
		fmt.Fprintln(w, strings.Repeat("-", 100))
		fmt.Fprintln(w, formatRiskCounts(r.Threats.CountByRisk()))
	}

	if r.ReportPath != "" {
		infoColor.Fprintf(w, "Report: %s\n", r.ReportPath)
	}
	fmt.Fprintln(w)
}

// renderBatchSummary prints the quality gate outcome of every model.
func renderBatchSummary(w io.Writer, batch *bootstrap.BatchResult, elapsed time.Duration) {
	if len(batch.Models) == 0 {
		return
	}

	total := 0
	for _, m := range batch.Models {
		total += m.Threats.Len()
	}
	fmt.Fprintf(w, "Processed %d threat model(s), %d threat(s) in %s\n",
		len(batch.Models), total, elapsed.Round(time.Millisecond))

	failure := batch.GateFailure
	if failure == nil {
		successColor.Fprintln(w, "✓ Quality gate passed")
		return
	}
	errorColor.Fprintf(w, "✗ Quality gate failed for %s: %d unmitigated threat(s) at or above %s\n",
		failure.ModelName, len(failure.ThreatIDs), failure.Threshold)
	if len(batch.Skipped) > 0 {
		warningColor.Fprintf(w, "Skipped %d remaining threat model(s)\n", len(batch.Skipped))
	}
}

// renderError prints err to w. Gate failures were already reported by the
// batch summary and only get a short line.
func renderError(w io.Writer, err error) {
	var gateErr *core.QualityGateFailed
	if errors.As(err, &gateErr) {
		warningColor.Fprintln(w, "Quality gate failed")
		return
	}
	errorColor.Fprint(w, "Error: ")
	fmt.Fprintln(w, util.SanitizeError(err))
}

// renderRulesTable displays the rules of a library.
func renderRulesTable(w io.Writer, location string, rules []*detect.CompiledRule) {
	if len(rules) == 0 {
		warningColor.Fprintln(w, "No rules in library")
		return
	}

	headerColor.Fprintf(w, "RULES  %s\n", location)
	headerColor.Fprintln(w, strings.Repeat("=", 110))
	fmt.Fprintf(w, "%-26s %-10s %-10s %s\n", "ID", "Applies to", "Risk", "Title")
	fmt.Fprintln(w, strings.Repeat("-", 110))
	for _, r := range rules {
		fmt.Fprintf(w, "%-26s %-10s %s %s\n",
			truncate(r.ID, 26), r.AppliesTo, formatRisk(r.Risk, 10), r.Title)
	}
	fmt.Fprintln(w, strings.Repeat("=", 110))
	fmt.Fprintf(w, "%d rule(s)\n", len(rules))
}

// renderRunsTable displays recorded runs.
func renderRunsTable(w io.Writer, runs []storage.RunRecord) {
	if len(runs) == 0 {
		warningColor.Fprintln(w, "No runs recorded")
		return
	}

	headerColor.Fprintln(w, "RUNS")
	headerColor.Fprintln(w, strings.Repeat("=", 110))
	fmt.Fprintf(w, "%-36s %-24s %-19s %-8s %-8s %-10s %s\n",
		"Run", "Model", "Generated", "Threats", "Failing", "Threshold", "Gate")
	fmt.Fprintln(w, strings.Repeat("-", 110))
	for _, run := range runs {
		fmt.Fprintf(w, "%-36s %-24s %-19s %-8d %-8d %-10s %s\n",
			run.RunID,
			truncate(run.ModelName, 24),
			formatTime(run.GeneratedAt),
			run.Total,
			run.NonCompliant,
			run.Threshold,
			formatGate(run.Passed))
	}
	fmt.Fprintln(w, strings.Repeat("=", 110))
}

// renderRunDetails displays one run with its threats.
func renderRunDetails(w io.Writer, run *storage.RunRecord, threats []storage.ThreatRecord) {
	headerColor.Fprintf(w, "  Run %s\n", run.RunID)
	fmt.Fprintln(w)
	printField(w, "Model", run.ModelName)
	printField(w, "Version", run.ModelVersion)
	printField(w, "Generated", formatTime(run.GeneratedAt))
	printField(w, "Threshold", run.Threshold.String())
	printField(w, "Gate", formatGate(run.Passed))
	printField(w, "Threats", fmt.Sprintf("%d", run.Total))
	fmt.Fprintln(w)

	for _, t := range threats {
		marker := " "
		if t.NonCompliant {
			marker = errorColor.Sprint("!")
		}
		fmt.Fprintf(w, "%s%-16s %s %-20s %-20s %-19s %s\n",
			marker, t.ThreatID, formatRisk(t.Risk, 10), truncate(t.RuleID, 20), truncate(t.ElementID, 20), t.Status, t.Title)
	}
}

// printField prints a key-value field
func printField(w io.Writer, key, value string) {
	if value == "" {
		value = "(not set)"
	}
	fmt.Fprintf(w, "  %-12s %s\n", key+":", value)
}

// formatRisk pads before coloring so escape codes do not break alignment.
func formatRisk(risk core.ThreatRisk, width int) string {
	padded := fmt.Sprintf("%-*s", width, risk)
	if c, ok := riskColors[risk]; ok {
		return c.Sprint(padded)
	}
	return padded
}

func formatRiskCounts(counts map[core.ThreatRisk]int) string {
	parts := make([]string, 0, 5)
	for _, risk := range []core.ThreatRisk{core.RiskCritical, core.RiskHigh, core.RiskMedium, core.RiskLow, core.RiskUndefined} {
		if n := counts[risk]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s: %d", risk, n))
		}
	}
	return strings.Join(parts, "  ")
}

func formatGate(passed bool) string {
	if passed {
		return color.New(color.FgGreen).Sprint("passed")
	}
	return color.New(color.FgRed).Sprint("failed")
}

// formatTime formats a timestamp
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "Never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// outputAsJSON writes data as indented JSON.
func outputAsJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
