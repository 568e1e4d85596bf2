// Package intent determines what the caller wanted from a recorded call.
// Classification is best-effort: every failure mode degrades to a defined
// default rather than propagating, so the pipeline never stalls here.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/dshills/calltriage/internal/llm"
	"github.com/dshills/calltriage/internal/schema"
)

// ResultKind tags how the classifier produced its output.
type ResultKind string

const (
	// KindClassified means the model returned a well-formed classification.
	KindClassified ResultKind = "classified"
	// KindFallback means a defined default was used (empty transcript,
	// unavailable model, or a failed call).
	KindFallback ResultKind = "fallback_default"
	// KindUnparsed means the model answered but its output could not be
	// decoded; the raw text is preserved and the default intent applies.
	KindUnparsed ResultKind = "unparsed_raw"
)

// Result wraps the classifier output so downstream code never assumes the
// model produced well-formed structure.
type Result struct {
	Kind   ResultKind
	Intent schema.CallerIntent
	Raw    string
}

// Classifier produces a CallerIntent from a transcript. A nil provider is a
// valid state meaning the classification model is unavailable.
type Classifier struct {
	provider    llm.Provider
	gate        *llm.Gate
	maxTokens   int
	temperature float64
	log         *logrus.Entry
}

// NewClassifier builds a classifier. A provider construction failure (for
// example a missing credential) is logged and leaves the classifier in the
// zero-confidence fallback mode rather than failing.
func NewClassifier(providerName, model string, gate *llm.Gate, maxTokens int, temperature float64, log *logrus.Entry) *Classifier {
	c := &Classifier{gate: gate, maxTokens: maxTokens, temperature: temperature, log: log}
	provider, err := llm.NewProvider(providerName, model)
	if err != nil {
		log.WithField("error", err.Error()).Warn("classification model unavailable; intent will default")
		return c
	}
	c.provider = provider
	return c
}

// Classify runs one classification. It never returns an error: an empty
// transcript yields the 0.5-confidence default, an unavailable model or a
// single failed call yields the zero-confidence default. There are no retries.
func (c *Classifier) Classify(ctx context.Context, turns []schema.ConversationTurn) Result {
	if len(turns) == 0 {
		return Result{
			Kind:   KindFallback,
			Intent: schema.CallerIntent{Type: schema.IntentInfoLookup, Confidence: 0.5},
		}
	}
	if c.provider == nil {
		return Result{
			Kind:   KindFallback,
			Intent: schema.CallerIntent{Type: schema.IntentInfoLookup, Confidence: 0},
		}
	}

	var raw string
	err := c.gate.Do(ctx, func() error {
		var callErr error
		raw, callErr = c.provider.Complete(ctx, systemPrompt, buildUserPrompt(turns), c.maxTokens, c.temperature)
		return callErr
	})
	if err != nil {
		c.log.WithField("error", err.Error()).Warn("intent classification call failed; using default")
		return Result{
			Kind:   KindFallback,
			Intent: schema.CallerIntent{Type: schema.IntentInfoLookup, Confidence: 0},
		}
	}

	intent, ok := parseResponse(raw)
	if !ok {
		c.log.Warn("intent classification output could not be parsed; using default")
		return Result{
			Kind:   KindUnparsed,
			Intent: schema.CallerIntent{Type: schema.IntentInfoLookup, Confidence: 0},
			Raw:    raw,
		}
	}
	return Result{Kind: KindClassified, Intent: intent, Raw: raw}
}

// parseResponse decodes the model's JSON answer. The result is accepted
// as-is beyond type checking; confidence is the model's own self-reported
// value, clamped to [0,1] but never recomputed.
func parseResponse(raw string) (schema.CallerIntent, bool) {
	raw = llm.StripMarkdownFences(raw)

	var parsed struct {
		Type           string                 `json:"type"`
		Confidence     float64                `json:"confidence"`
		Summary        string                 `json:"summary"`
		BookingDetails *schema.BookingDetails `json:"booking_details"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return schema.CallerIntent{}, false
	}

	switch schema.IntentType(parsed.Type) {
	case schema.IntentBooking, schema.IntentRescheduling, schema.IntentCancellation, schema.IntentInfoLookup:
	default:
		return schema.CallerIntent{}, false
	}

	intent := schema.CallerIntent{
		Type:       schema.IntentType(parsed.Type),
		Confidence: clamp01(parsed.Confidence),
		Summary:    parsed.Summary,
	}
	if intent.Type == schema.IntentBooking {
		intent.BookingDetails = parsed.BookingDetails
		if intent.BookingDetails != nil && intent.BookingDetails.DependentCount == 0 {
			intent.BookingDetails.DependentCount = len(intent.BookingDetails.DependentNames)
		}
	}
	return intent, true
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

const systemPrompt = `You classify completed phone calls to an orthodontic booking agent.

Output ONLY valid JSON conforming to the schema below. No prose, no markdown,
no explanation outside the JSON.

Schema:
{
  "type": "booking|rescheduling|cancellation|info_lookup",
  "confidence": 0.0,
  "summary": "one sentence describing what the caller wanted",
  "booking_details": {
    "dependent_count": 0,
    "dependent_names": ["..."],
    "requester_name": "...",
    "requester_phone": "...",
    "requested_dates": ["..."]
  }
}

Include booking_details only when type is "booking". confidence is your own
estimate in [0,1] of how certain the classification is.`

// buildUserPrompt serializes the full transcript into a single prompt.
func buildUserPrompt(turns []schema.ConversationTurn) string {
	var sb strings.Builder
	sb.WriteString("Transcript:\n")
	for _, t := range turns {
		fmt.Fprintf(&sb, "[%s] %s\n", t.Role, t.Text)
	}
	sb.WriteString("\nClassify the call now.")
	return sb.String()
}
