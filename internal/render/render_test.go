package render

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/dshills/calltriage/internal/schema"
)

func TestJSON(t *testing.T) {
	rec := &schema.AnalysisRecord{SessionID: "s-1"}
	b, err := JSON(rec)
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	var back schema.AnalysisRecord
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if back.SessionID != "s-1" {
		t.Errorf("SessionID = %q", back.SessionID)
	}

	if _, err := JSON(nil); err == nil {
		t.Error("want error for nil document")
	}
}

func TestAnalysisMarkdown(t *testing.T) {
	rec := &schema.AnalysisRecord{
		SessionID: "s-1",
		Intent: schema.CallerIntent{
			Type:       schema.IntentBooking,
			Confidence: 0.9,
			Summary:    "caller booked | two kids",
		},
		CompletionRate: 0.75,
		StepStatuses: []schema.StepStatus{
			{
				Step:  schema.ExpectedStep{ActionName: schema.ActionSchedulingTool, ActionVariant: schema.VariantSearchSlots, Description: "search appointment slots"},
				State: schema.StepFailed,
			},
		},
		Verification: &schema.FulfillmentVerdict{
			OverallStatus: schema.OverallPartial,
			DependentVerifications: []schema.DependentVerification{
				{DependentName: "Sam", RecordStatus: schema.VerifyPass, ScheduleStatus: schema.VerifyFail},
			},
		},
	}

	md := AnalysisMarkdown(rec)
	for _, want := range []string{
		"## Call Analysis",
		"**Session:** s-1",
		"**Completion rate:** 75%",
		"search appointment slots",
		"## Fulfillment",
		"| Sam | pass | fail |",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
	if strings.Contains(md, "booked | two") {
		t.Error("pipe in summary not escaped")
	}
}

func TestAnalysisMarkdown_Nil(t *testing.T) {
	if got := AnalysisMarkdown(nil); got != "" {
		t.Errorf("got %q, want empty string", got)
	}
}

func TestDiagnosisMarkdown_ZeroAgents(t *testing.T) {
	report := &schema.DiagnosticReport{CombinedNarrative: "No routable failure was found."}
	md := DiagnosisMarkdown(report)
	if !strings.Contains(md, "No routable failure was found.") {
		t.Errorf("narrative missing:\n%s", md)
	}
}

func TestDiagnosisMarkdown_AgentsAndDiff(t *testing.T) {
	report := &schema.DiagnosticReport{
		Agents: []schema.ExpertAnalysisResult{
			{
				RootCause:           schema.RootCause{Type: "date_handling", Evidence: []string{"wrong year in slot search"}},
				AffectedArtifact:    schema.AffectedArtifact{Key: schema.ArtifactSchedulingTool, CurrentVersion: 7},
				Confidence:          85,
				DiagnosticNarrative: "The date was parsed in the wrong year.",
				Diff:                "-old line\n+new line\n",
			},
			{
				RootCause:           schema.RootCause{Type: "missing_instruction"},
				AffectedArtifact:    schema.AffectedArtifact{Key: schema.ArtifactPrompt},
				Confidence:          40,
				DiagnosticNarrative: "The prompt never tells the agent to confirm.",
				Diff:                "> add a confirmation step\n",
				IsPartialDiff:       true,
			},
		},
		DeployCorrelation: &schema.DeployCorrelation{ArtifactKey: schema.ArtifactSchedulingTool, Version: 7, DeltaMinutes: 90},
	}

	md := DiagnosisMarkdown(report)
	for _, want := range []string{
		"scheduling-tool",
		"date_handling",
		"```diff",
		"```fragment",
		"wrong year in slot search",
		"**Deploy correlation:** scheduling-tool version 7, deployed 90 minutes before the failure.",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
	if strings.Count(md, "<details>") != 2 {
		t.Error("every routed expert should render a details block")
	}
}
