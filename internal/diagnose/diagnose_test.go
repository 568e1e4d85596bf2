package diagnose

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dshills/calltriage/internal/artifact"
	"github.com/dshills/calltriage/internal/llm"
	"github.com/dshills/calltriage/internal/schema"
)

type mockProvider struct {
	response string
	err      error
	prompts  []string
}

func (m *mockProvider) Complete(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, error) {
	m.prompts = append(m.prompts, system)
	return m.response, m.err
}

type fakeArtifacts struct {
	artifacts map[schema.ArtifactKey]*artifact.Artifact
	events    map[schema.ArtifactKey][]schema.DeployEvent
	getErr    error
	eventsErr error
}

func (f *fakeArtifacts) GetArtifact(ctx context.Context, key schema.ArtifactKey) (*artifact.Artifact, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.artifacts[key], nil
}

func (f *fakeArtifacts) EventsFor(ctx context.Context, key schema.ArtifactKey) ([]schema.DeployEvent, error) {
	if f.eventsErr != nil {
		return nil, f.eventsErr
	}
	return f.events[key], nil
}

func testLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func newTestOrchestrator(t *testing.T, p llm.Provider, arts *fakeArtifacts) *Orchestrator {
	t.Helper()
	orig := llm.NewProvider
	llm.NewProvider = func(providerName, model string) (llm.Provider, error) {
		return p, nil
	}
	t.Cleanup(func() { llm.NewProvider = orig })

	o, err := New("anthropic", "test-model", llm.NewGate(0), arts, arts, 4096, 0, testLog())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

const goodExpertResponse = `{
	"root_cause": {"type": "date_handling", "evidence": ["slot search used the wrong year"]},
	"confidence": 85,
	"suggested_change": "",
	"diagnostic_narrative": "The slot search failed because the date was parsed in the wrong year."
}`

func failedScheduling() []schema.StepStatus {
	return []schema.StepStatus{
		{Step: schema.ExpectedStep{ActionName: schema.ActionCurrentDate, Description: "fetch current date"}, State: schema.StepCompleted},
		{Step: schema.ExpectedStep{ActionName: schema.ActionSchedulingTool, Description: "search appointment slots"}, State: schema.StepFailed},
	}
}

func TestDiagnose_ZeroRoutedExperts(t *testing.T) {
	o := newTestOrchestrator(t, &mockProvider{}, &fakeArtifacts{})
	report, err := o.Diagnose(context.Background(), Input{
		StepStatuses: []schema.StepStatus{
			{Step: schema.ExpectedStep{ActionName: schema.ActionCurrentDate}, State: schema.StepCompleted},
		},
	})
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if len(report.Agents) != 0 {
		t.Errorf("got %d agents, want 0", len(report.Agents))
	}
	if !strings.Contains(report.CombinedNarrative, "No routable failure") {
		t.Errorf("narrative %q should state no routable failure was found", report.CombinedNarrative)
	}
}

func TestDiagnose_RoutedExpertProducesReport(t *testing.T) {
	arts := &fakeArtifacts{artifacts: map[schema.ArtifactKey]*artifact.Artifact{
		schema.ArtifactSchedulingTool: {Key: schema.ArtifactSchedulingTool, Version: 7, Content: "tool code"},
	}}
	mock := &mockProvider{response: goodExpertResponse}
	o := newTestOrchestrator(t, mock, arts)

	report, err := o.Diagnose(context.Background(), Input{StepStatuses: failedScheduling()})
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if len(report.Agents) != 1 {
		t.Fatalf("got %d agents, want 1", len(report.Agents))
	}
	agent := report.Agents[0]
	if agent.RootCause.Type != "date_handling" || agent.Confidence != 85 {
		t.Errorf("agent = %+v", agent)
	}
	if agent.AffectedArtifact.Key != schema.ArtifactSchedulingTool || agent.AffectedArtifact.CurrentVersion != 7 {
		t.Errorf("AffectedArtifact = %+v, want scheduling-tool v7", agent.AffectedArtifact)
	}
	if !strings.Contains(report.CombinedNarrative, "## scheduling") {
		t.Errorf("narrative missing expert heading:\n%s", report.CombinedNarrative)
	}
	if len(mock.prompts) != 1 || !strings.Contains(mock.prompts[0], "tool code") {
		t.Error("system prompt should carry the artifact content")
	}
}

func TestDiagnose_DeployCorrelation(t *testing.T) {
	failedAt := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	arts := &fakeArtifacts{
		events: map[schema.ArtifactKey][]schema.DeployEvent{
			schema.ArtifactSchedulingTool: {
				{ArtifactKey: schema.ArtifactSchedulingTool, Version: 6, DeployedAt: failedAt.Add(-48 * time.Hour)},
				{ArtifactKey: schema.ArtifactSchedulingTool, Version: 7, DeployedAt: failedAt.Add(-90 * time.Minute)},
				{ArtifactKey: schema.ArtifactSchedulingTool, Version: 8, DeployedAt: failedAt.Add(time.Hour)},
			},
		},
	}
	o := newTestOrchestrator(t, &mockProvider{response: goodExpertResponse}, arts)

	report, err := o.Diagnose(context.Background(), Input{StepStatuses: failedScheduling(), FailedAt: &failedAt})
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	dc := report.DeployCorrelation
	if dc == nil {
		t.Fatal("correlation missing")
	}
	if dc.Version != 7 || dc.DeltaMinutes != 90 {
		t.Errorf("correlation = %+v, want version 7 at 90 minutes", dc)
	}
	if dc.ArtifactKey != schema.ArtifactSchedulingTool {
		t.Errorf("correlation artifact = %q, want %q", dc.ArtifactKey, schema.ArtifactSchedulingTool)
	}
	if !strings.Contains(report.CombinedNarrative, "Artifact scheduling-tool version 7") {
		t.Errorf("narrative does not name the correlated artifact:\n%s", report.CombinedNarrative)
	}
}

func TestDiagnose_CorrelationOmittedWithoutFailedAt(t *testing.T) {
	o := newTestOrchestrator(t, &mockProvider{response: goodExpertResponse}, &fakeArtifacts{})
	report, err := o.Diagnose(context.Background(), Input{StepStatuses: failedScheduling()})
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if report.DeployCorrelation != nil {
		t.Errorf("correlation = %+v, want nil without a failure timestamp", report.DeployCorrelation)
	}
}

func TestDiagnose_CorrelationOmittedOnLookupError(t *testing.T) {
	failedAt := time.Now()
	arts := &fakeArtifacts{eventsErr: errors.New("service down")}
	o := newTestOrchestrator(t, &mockProvider{response: goodExpertResponse}, arts)

	report, err := o.Diagnose(context.Background(), Input{StepStatuses: failedScheduling(), FailedAt: &failedAt})
	if err != nil {
		t.Fatalf("event-log failure should not abort diagnosis: %v", err)
	}
	if report.DeployCorrelation != nil {
		t.Error("correlation should be omitted when the deploy log is unreachable")
	}
}

func TestRunExpert_UnknownName(t *testing.T) {
	o := newTestOrchestrator(t, &mockProvider{}, &fakeArtifacts{})
	if _, err := o.RunExpert(context.Background(), "billing", Input{}); err == nil {
		t.Fatal("want error for unknown expert name")
	}
}

func TestRunExpert_ArtifactFetchFailureProceeds(t *testing.T) {
	arts := &fakeArtifacts{getErr: errors.New("timeout")}
	mock := &mockProvider{response: goodExpertResponse}
	o := newTestOrchestrator(t, mock, arts)

	result, err := o.RunExpert(context.Background(), "scheduling", Input{StepStatuses: failedScheduling()})
	if err != nil {
		t.Fatalf("artifact failure should not abort the expert: %v", err)
	}
	if result.AffectedArtifact.CurrentVersion != 0 {
		t.Errorf("CurrentVersion = %d, want 0 without artifact content", result.AffectedArtifact.CurrentVersion)
	}
	if len(mock.prompts) != 1 || !strings.Contains(mock.prompts[0], "unavailable") {
		t.Error("system prompt should state the artifact content is unavailable")
	}
}

func TestRunExpert_ModelFailurePropagates(t *testing.T) {
	o := newTestOrchestrator(t, &mockProvider{err: errors.New("rate limited")}, &fakeArtifacts{})
	if _, err := o.RunExpert(context.Background(), "scheduling", Input{}); err == nil {
		t.Fatal("want error when the model call fails")
	}
}

func TestRunExpert_AttachesDiff(t *testing.T) {
	content := "line one\nline two\nline three\n"
	arts := &fakeArtifacts{artifacts: map[schema.ArtifactKey]*artifact.Artifact{
		schema.ArtifactSchedulingTool: {Key: schema.ArtifactSchedulingTool, Version: 2, Content: content},
	}}
	response := `{
		"root_cause": {"type": "date_handling"},
		"confidence": 70,
		"suggested_change": "line one\nline two fixed\nline three\n",
		"diagnostic_narrative": "off by one"
	}`
	o := newTestOrchestrator(t, &mockProvider{response: response}, arts)

	result, err := o.RunExpert(context.Background(), "scheduling", Input{})
	if err != nil {
		t.Fatalf("RunExpert: %v", err)
	}
	if result.IsPartialDiff {
		t.Error("full replacement flagged partial")
	}
	if !strings.Contains(result.Diff, "+line two fixed") {
		t.Errorf("diff missing change:\n%s", result.Diff)
	}
}

func TestParseExpertResponse_Unparseable(t *testing.T) {
	raw := "I think the prompt is just confusing."
	result := parseExpertResponse(raw)
	if result.RootCause.Type != "unparsed" {
		t.Errorf("RootCause.Type = %q, want unparsed", result.RootCause.Type)
	}
	if result.DiagnosticNarrative != raw {
		t.Errorf("narrative = %q, want the verbatim output", result.DiagnosticNarrative)
	}
}

func TestParseExpertResponse_ConfidenceClamped(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{`{"confidence": 150, "diagnostic_narrative": "x"}`, 100},
		{`{"confidence": -5, "diagnostic_narrative": "x"}`, 0},
		{`{"confidence": 60, "diagnostic_narrative": "x"}`, 60},
	}
	for _, c := range cases {
		if got := parseExpertResponse(c.in).Confidence; got != c.want {
			t.Errorf("confidence from %s = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestHasUnattributedErrors(t *testing.T) {
	observations := []schema.Observation{
		{ID: "matched", ActionName: schema.ActionSchedulingTool, ErrorLevel: "ERROR"},
		{ID: "stray", ActionName: schema.ActionEscalation, ErrorLevel: "ERROR"},
		{ID: "clean", ActionName: schema.ActionCurrentDate},
	}
	statuses := []schema.StepStatus{
		{State: schema.StepFailed, MatchedObservationID: "matched"},
	}
	errs := HasUnattributedErrors(observations, statuses)
	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1", len(errs))
	}
	if !strings.Contains(errs[0], "stray") {
		t.Errorf("error %q should name the stray observation", errs[0])
	}
}
