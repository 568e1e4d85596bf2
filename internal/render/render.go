// Package render produces output from a completed analysis or diagnosis.
package render

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dshills/calltriage/internal/schema"
)

// JSON pretty-prints any pipeline output document.
func JSON(v any) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("render: nil document")
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render: json marshal: %w", err)
	}
	return b, nil
}

// AnalysisMarkdown produces a GitHub-flavoured Markdown summary of an
// analysis record, suitable for terminal output or a PR comment.
func AnalysisMarkdown(rec *schema.AnalysisRecord) string {
	if rec == nil {
		return ""
	}
	var sb strings.Builder

	sb.WriteString("## Call Analysis\n\n")
	fmt.Fprintf(&sb, "**Session:** %s  \n", rec.SessionID)
	fmt.Fprintf(&sb, "**Intent:** %s (confidence %.2f)  \n", rec.Intent.Type, rec.Intent.Confidence)
	fmt.Fprintf(&sb, "**Completion rate:** %.0f%%\n\n", rec.CompletionRate*100)
	if rec.Intent.Summary != "" {
		fmt.Fprintf(&sb, "%s\n\n", mdEscape(rec.Intent.Summary))
	}

	if len(rec.StepStatuses) > 0 {
		sb.WriteString("## Expected Steps\n\n")
		sb.WriteString("| Step | Action | State | Detail |\n")
		sb.WriteString("|---|---|---|---|\n")
		for _, s := range rec.StepStatuses {
			action := s.Step.ActionName
			if s.Step.ActionVariant != "" {
				action += " / " + s.Step.ActionVariant
			}
			fmt.Fprintf(&sb, "| %s | `%s` | %s | %s |\n",
				mdEscape(s.Step.Description), action, s.State, mdEscape(s.ErrorDetail))
		}
		sb.WriteString("\n")
	}

	if v := rec.Verification; v != nil {
		sb.WriteString("## Fulfillment\n\n")
		fmt.Fprintf(&sb, "**Overall:** %s  \n", v.OverallStatus)
		if v.Summary != "" {
			fmt.Fprintf(&sb, "%s\n", mdEscape(v.Summary))
		}
		sb.WriteString("\n")
		if len(v.DependentVerifications) > 0 {
			sb.WriteString("| Dependent | Record | Schedule | Mismatches |\n")
			sb.WriteString("|---|---|---|---|\n")
			for _, d := range v.DependentVerifications {
				fmt.Fprintf(&sb, "| %s | %s | %s | %d |\n",
					mdEscape(d.DependentName), d.RecordStatus, d.ScheduleStatus, countMismatches(d.Details))
			}
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

// DiagnosisMarkdown produces a Markdown rendering of a diagnostic report.
// Every routed expert appears in the output.
func DiagnosisMarkdown(report *schema.DiagnosticReport) string {
	if report == nil {
		return ""
	}
	var sb strings.Builder

	sb.WriteString("## Diagnostic Report\n\n")
	if len(report.Agents) == 0 {
		sb.WriteString(report.CombinedNarrative)
		sb.WriteString("\n")
		return sb.String()
	}

	for _, agent := range report.Agents {
		fmt.Fprintf(&sb, "<details>\n<summary><strong>%s</strong> [%s] confidence %d/100</summary>\n\n",
			agent.AffectedArtifact.Key, mdEscape(agent.RootCause.Type), agent.Confidence)
		fmt.Fprintf(&sb, "%s\n\n", agent.DiagnosticNarrative)
		if len(agent.RootCause.Evidence) > 0 {
			sb.WriteString("**Evidence:**\n\n")
			for _, e := range agent.RootCause.Evidence {
				fmt.Fprintf(&sb, "- %s\n", mdEscape(e))
			}
			sb.WriteString("\n")
		}
		if agent.Diff != "" {
			label := "diff"
			if agent.IsPartialDiff {
				label = "fragment"
			}
			fmt.Fprintf(&sb, "```%s\n%s\n```\n\n", label, strings.TrimRight(agent.Diff, "\n"))
		}
		sb.WriteString("</details>\n\n")
	}

	if dc := report.DeployCorrelation; dc != nil {
		fmt.Fprintf(&sb, "**Deploy correlation:** %s version %d, deployed %d minutes before the failure.\n",
			dc.ArtifactKey, dc.Version, dc.DeltaMinutes)
	}

	return sb.String()
}

func countMismatches(details []schema.RecordVerification) int {
	n := 0
	for _, d := range details {
		n += len(d.Mismatches)
	}
	return n
}

// mdEscape replaces characters that would break Markdown table cells.
func mdEscape(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", "")
	return s
}
