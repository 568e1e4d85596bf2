// Package diagnose routes verified failures to domain expert analyzers and
// merges their findings into one diagnostic report.
package diagnose

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dshills/calltriage/internal/artifact"
	"github.com/dshills/calltriage/internal/expert"
	"github.com/dshills/calltriage/internal/llm"
	"github.com/dshills/calltriage/internal/schema"
	"github.com/dshills/calltriage/internal/sequence"
	"github.com/dshills/calltriage/internal/trace"
)

// Input is the failure context handed to the orchestrator. It is also the
// contract for standalone single-expert invocations: the same fields, taken
// directly rather than through the analysis cache.
type Input struct {
	Transcript   []schema.ConversationTurn
	StepStatuses []schema.StepStatus
	APIErrors    []string
	FailedAt     *time.Time
}

// Orchestrator drives expert analysis. Experts run sequentially through the
// shared gate; the classification model throttles concurrent calls.
type Orchestrator struct {
	provider    llm.Provider
	gate        *llm.Gate
	store       artifact.Store
	deploys     artifact.DeployLog
	maxTokens   int
	temperature float64
	log         *logrus.Entry
}

// New builds an Orchestrator. A provider construction failure is returned:
// unlike intent classification, a diagnosis without a model has no useful
// degraded mode.
func New(providerName, model string, gate *llm.Gate, store artifact.Store, deploys artifact.DeployLog, maxTokens int, temperature float64, log *logrus.Entry) (*Orchestrator, error) {
	provider, err := llm.NewProvider(providerName, model)
	if err != nil {
		return nil, fmt.Errorf("diagnose: %w", err)
	}
	return &Orchestrator{
		provider:    provider,
		gate:        gate,
		store:       store,
		deploys:     deploys,
		maxTokens:   maxTokens,
		temperature: temperature,
		log:         log,
	}, nil
}

// Diagnose routes the failure, invokes every selected expert in order, and
// merges the results. Zero routed experts produces a report that says so.
func (o *Orchestrator) Diagnose(ctx context.Context, in Input) (*schema.DiagnosticReport, error) {
	rate := sequence.CompletionRate(in.StepStatuses)
	names := Route(in.StepStatuses, in.APIErrors, rate)

	report := &schema.DiagnosticReport{}
	if len(names) == 0 {
		report.CombinedNarrative = "No routable failure was found: every expected step completed, " +
			"no unattributed API errors were captured, and the completion rate is above the low-water threshold."
		return report, nil
	}

	for _, name := range names {
		result, err := o.RunExpert(ctx, name, in)
		if err != nil {
			return nil, err
		}
		report.Agents = append(report.Agents, *result)
	}

	if in.FailedAt != nil && len(report.Agents) > 0 {
		// Correlation targets the highest-priority routed expert's artifact.
		// The narrative names that artifact so the scope of the claim is clear.
		report.DeployCorrelation = o.correlateDeploy(ctx, report.Agents[0].AffectedArtifact.Key, *in.FailedAt)
	}

	report.CombinedNarrative = combineNarratives(names, report)
	return report, nil
}

// RunExpert invokes a single named expert with the failure context. It is the
// standalone entry point used for manual troubleshooting as well as the
// orchestrated path.
func (o *Orchestrator) RunExpert(ctx context.Context, name string, in Input) (*schema.ExpertAnalysisResult, error) {
	ex, err := expert.Load(name)
	if err != nil {
		return nil, err
	}

	art, err := o.store.GetArtifact(ctx, ex.ArtifactKey)
	if err != nil {
		o.log.WithFields(logrus.Fields{"artifact": ex.ArtifactKey, "error": err.Error()}).
			Warn("artifact fetch failed; expert proceeds without artifact context")
		art = nil
	}
	if art == nil {
		art = &artifact.Artifact{Key: ex.ArtifactKey}
	}

	var raw string
	err = o.gate.Do(ctx, func() error {
		var callErr error
		raw, callErr = o.provider.Complete(ctx,
			buildExpertSystemPrompt(ex, art), buildExpertUserPrompt(in), o.maxTokens, o.temperature)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("diagnose: expert %s: %w", name, err)
	}

	result := parseExpertResponse(raw)
	// The artifact identity is assigned locally; the model does not get to
	// claim a different artifact than the one its expert owns.
	result.AffectedArtifact = schema.AffectedArtifact{Key: ex.ArtifactKey, CurrentVersion: art.Version}

	if result.SuggestedChange != "" && art.Content != "" {
		result.Diff, result.IsPartialDiff = AttachDiff(art, result.SuggestedChange)
	}
	return &result, nil
}

// parseExpertResponse decodes the expert's structured answer. Unparseable
// output is wrapped verbatim into the narrative rather than discarded.
func parseExpertResponse(raw string) schema.ExpertAnalysisResult {
	cleaned := llm.StripMarkdownFences(raw)

	var parsed struct {
		RootCause           schema.RootCause `json:"root_cause"`
		Confidence          int              `json:"confidence"`
		SuggestedChange     string           `json:"suggested_change"`
		DiagnosticNarrative string           `json:"diagnostic_narrative"`
	}
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return schema.ExpertAnalysisResult{
			RootCause:           schema.RootCause{Type: "unparsed"},
			DiagnosticNarrative: raw,
		}
	}

	confidence := parsed.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}
	return schema.ExpertAnalysisResult{
		RootCause:           parsed.RootCause,
		Confidence:          confidence,
		SuggestedChange:     parsed.SuggestedChange,
		DiagnosticNarrative: parsed.DiagnosticNarrative,
	}
}

// correlateDeploy finds the most recent deploy at or before the failure.
// Any problem here degrades to an omitted correlation, never a zero value.
func (o *Orchestrator) correlateDeploy(ctx context.Context, key schema.ArtifactKey, failedAt time.Time) *schema.DeployCorrelation {
	events, err := o.deploys.EventsFor(ctx, key)
	if err != nil {
		o.log.WithFields(logrus.Fields{"artifact": key, "error": err.Error()}).
			Warn("deploy-event lookup failed; correlation omitted")
		return nil
	}
	return artifact.LatestAt(events, failedAt)
}

// combineNarratives concatenates each expert's narrative under its own
// heading, followed by the deploy-correlation line when present.
func combineNarratives(names []string, report *schema.DiagnosticReport) string {
	var sb strings.Builder
	for i, agent := range report.Agents {
		fmt.Fprintf(&sb, "## %s\n\n%s\n\n", names[i], strings.TrimSpace(agent.DiagnosticNarrative))
	}
	if dc := report.DeployCorrelation; dc != nil {
		fmt.Fprintf(&sb, "Artifact %s version %d was deployed %d minutes before the failure (%s).\n",
			dc.ArtifactKey, dc.Version, dc.DeltaMinutes, dc.DeployedAt.Format(time.RFC3339))
	}
	return strings.TrimSpace(sb.String())
}

const expertOutputSchema = `Output schema (JSON only):
{
  "root_cause": {"type": "...", "evidence": ["..."]},
  "confidence": 0,
  "suggested_change": "the corrected artifact content, or a corrected fragment",
  "diagnostic_narrative": "what went wrong and why, in plain prose"
}
confidence is an integer in [0,100].`

func buildExpertSystemPrompt(ex expert.Expert, art *artifact.Artifact) string {
	var sb strings.Builder
	sb.WriteString("You diagnose failures of an automated phone-booking agent.\n\n")
	sb.WriteString("Output ONLY valid JSON conforming to the schema below. No prose, no markdown, no explanation outside the JSON.\n\n")
	sb.WriteString(ex.SystemPromptAddendum)
	sb.WriteString("\n\n")
	if art.Content != "" {
		fmt.Fprintf(&sb, "Current %s artifact (version %d):\n---\n%s\n---\n\n", ex.ArtifactKey, art.Version, art.Content)
	} else {
		fmt.Fprintf(&sb, "The %s artifact content is unavailable; reason about the failure context alone and do not fabricate artifact text.\n\n", ex.ArtifactKey)
	}
	sb.WriteString(expertOutputSchema)
	return sb.String()
}

func buildExpertUserPrompt(in Input) string {
	var sb strings.Builder

	sb.WriteString("Expected-step outcomes:\n")
	for _, s := range in.StepStatuses {
		line := fmt.Sprintf("  [%s] %s", s.State, s.Step.Description)
		if s.Step.ActionVariant != "" {
			line += fmt.Sprintf(" (%s %s)", s.Step.ActionName, s.Step.ActionVariant)
		} else {
			line += fmt.Sprintf(" (%s)", s.Step.ActionName)
		}
		if s.ErrorDetail != "" {
			line += ": " + s.ErrorDetail
		}
		sb.WriteString(line + "\n")
	}

	if len(in.APIErrors) > 0 {
		sb.WriteString("\nCaptured API errors not attributable to a step:\n")
		for _, e := range in.APIErrors {
			fmt.Fprintf(&sb, "  - %s\n", e)
		}
	}

	if len(in.Transcript) > 0 {
		sb.WriteString("\nTranscript:\n")
		for _, t := range in.Transcript {
			fmt.Fprintf(&sb, "[%s] %s\n", t.Role, t.Text)
		}
	}

	sb.WriteString("\nProduce the JSON diagnosis now.")
	return sb.String()
}

// HasUnattributedErrors extracts API-level error signals from observations
// that no step matched against, for use as routing input.
func HasUnattributedErrors(observations []schema.Observation, statuses []schema.StepStatus) []string {
	matched := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		if s.MatchedObservationID != "" {
			matched[s.MatchedObservationID] = true
		}
	}
	var errs []string
	for _, o := range observations {
		if matched[o.ID] || !trace.HasErrorSignal(o) {
			continue
		}
		errs = append(errs, fmt.Sprintf("%s (%s): error signal in unmatched observation", o.ID, o.ActionName))
	}
	return errs
}
