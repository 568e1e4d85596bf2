package diagnose

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/dshills/calltriage/internal/artifact"
)

// AttachDiff renders an expert's suggested change against the artifact's
// current content. A full-file replacement gets a standard two-file unified
// diff. A fragment gets an annotated snippet flagged as partial: a full-file
// diff computed from a fragment would claim deletions that were never
// proposed, and a misleading diff is worse than an honest snippet.
func AttachDiff(art *artifact.Artifact, suggested string) (diff string, isPartial bool) {
	if !isFullReplacement(art.Content, suggested) {
		return annotateSnippet(suggested), true
	}

	unified := difflib.UnifiedDiff{
		A:        difflib.SplitLines(art.Content),
		B:        difflib.SplitLines(suggested),
		FromFile: fmt.Sprintf("%s@v%d", art.Key, art.Version),
		ToFile:   fmt.Sprintf("%s (proposed)", art.Key),
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(unified)
	if err != nil {
		return annotateSnippet(suggested), true
	}
	return text, false
}

// isFullReplacement decides heuristically whether the suggestion replaces the
// whole artifact: it must be at least half the artifact's length and share
// the artifact's opening line, the cheapest file-boundary marker available.
func isFullReplacement(current, suggested string) bool {
	if len(suggested)*2 < len(current) {
		return false
	}
	return firstLine(suggested) == firstLine(current)
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func annotateSnippet(suggested string) string {
	var sb strings.Builder
	sb.WriteString("suggested fragment (not a full replacement):\n")
	for _, line := range strings.Split(strings.TrimRight(suggested, "\n"), "\n") {
		sb.WriteString("> " + line + "\n")
	}
	return sb.String()
}
