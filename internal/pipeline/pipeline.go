// Package pipeline sequences the four diagnosis stages for one session:
// intent classification, expected-sequence mapping, claim verification, and
// diagnostic routing. Stages run strictly in order; each consumes the
// previous stage's output by value.
package pipeline

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dshills/calltriage/internal/claims"
	"github.com/dshills/calltriage/internal/diagnose"
	"github.com/dshills/calltriage/internal/intent"
	"github.com/dshills/calltriage/internal/schema"
	"github.com/dshills/calltriage/internal/sequence"
	"github.com/dshills/calltriage/internal/store"
	"github.com/dshills/calltriage/internal/trace"
	"github.com/dshills/calltriage/internal/verify"
)

// Pipeline wires the stages together with their external collaborators.
type Pipeline struct {
	source       trace.Source
	classifier   *intent.Classifier
	verifier     *verify.Verifier
	orchestrator *diagnose.Orchestrator
	cache        store.Cache
	log          *logrus.Entry
	now          func() time.Time
}

// New builds a Pipeline. The cache may be nil (CLI one-shot runs).
func New(source trace.Source, classifier *intent.Classifier, verifier *verify.Verifier, orchestrator *diagnose.Orchestrator, cache store.Cache, log *logrus.Entry) *Pipeline {
	return &Pipeline{
		source:       source,
		classifier:   classifier,
		verifier:     verifier,
		orchestrator: orchestrator,
		cache:        cache,
		log:          log,
		now:          time.Now,
	}
}

// Analyze produces the per-session analysis record. Unless forceRefresh is
// set, a cached record is returned as-is. A fresh computation fully
// overwrites the cache row. Only an unknown session or an external
// authentication failure propagate as errors; every softer failure degrades
// inside its stage.
func (p *Pipeline) Analyze(ctx context.Context, sessionID string, forceRefresh bool) (*schema.AnalysisRecord, error) {
	if p.cache != nil && !forceRefresh {
		cached, err := p.cache.GetAnalysis(ctx, sessionID)
		if err != nil {
			p.log.WithField("error", err.Error()).Warn("analysis cache read failed; recomputing")
		} else if cached != nil {
			return cached, nil
		}
	}

	st, err := p.source.Fetch(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	result := p.classifier.Classify(ctx, st.Turns)
	statuses, rate := sequence.Map(result.Intent, st.Observations)

	rec := &schema.AnalysisRecord{
		SessionID:      sessionID,
		Intent:         result.Intent,
		StepStatuses:   statuses,
		CompletionRate: rate,
		AnalyzedAt:     p.now(),
	}

	if result.Intent.Type == schema.IntentBooking {
		claimed := claims.Extract(st.Observations)
		verdict, err := p.verifier.Verify(ctx, claimed, result.Intent.BookingDetails)
		if err != nil {
			return nil, err
		}
		rec.Verification = verdict
	}

	if p.cache != nil {
		if err := p.cache.PutAnalysis(ctx, rec); err != nil {
			p.log.WithField("error", err.Error()).Warn("analysis cache write failed; returning uncached record")
		}
	}
	return rec, nil
}

// Diagnose produces a diagnostic report for the session. It reuses a cached
// analysis when one exists but does not require it: the report is always
// producible from the trace alone. A nil failedAt is derived from the first
// failed step's observation when possible.
func (p *Pipeline) Diagnose(ctx context.Context, sessionID string, failedAt *time.Time) (*schema.DiagnosticReport, error) {
	in, err := p.failureContext(ctx, sessionID, failedAt)
	if err != nil {
		return nil, err
	}
	return p.orchestrator.Diagnose(ctx, *in)
}

// RunExpert invokes one named expert against the session's failure context,
// bypassing routing. Supported explicitly for manual troubleshooting.
func (p *Pipeline) RunExpert(ctx context.Context, sessionID, expertName string) (*schema.ExpertAnalysisResult, error) {
	in, err := p.failureContext(ctx, sessionID, nil)
	if err != nil {
		return nil, err
	}
	return p.orchestrator.RunExpert(ctx, expertName, *in)
}

// failureContext assembles the orchestrator input from the session trace and
// the (cached or fresh) analysis.
func (p *Pipeline) failureContext(ctx context.Context, sessionID string, failedAt *time.Time) (*diagnose.Input, error) {
	st, err := p.source.Fetch(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var statuses []schema.StepStatus
	if p.cache != nil {
		if cached, err := p.cache.GetAnalysis(ctx, sessionID); err == nil && cached != nil {
			statuses = cached.StepStatuses
		}
	}
	if statuses == nil {
		result := p.classifier.Classify(ctx, st.Turns)
		statuses, _ = sequence.Map(result.Intent, st.Observations)
	}

	if failedAt == nil {
		failedAt = firstFailureTime(statuses, st.Observations)
	}

	return &diagnose.Input{
		Transcript:   st.Turns,
		StepStatuses: statuses,
		APIErrors:    diagnose.HasUnattributedErrors(st.Observations, statuses),
		FailedAt:     failedAt,
	}, nil
}

// firstFailureTime finds the timestamp of the earliest failed step's matched
// observation. Missing steps have no timestamp to offer.
func firstFailureTime(statuses []schema.StepStatus, observations []schema.Observation) *time.Time {
	byID := make(map[string]schema.Observation, len(observations))
	for _, o := range observations {
		byID[o.ID] = o
	}
	for _, s := range statuses {
		if s.State != schema.StepFailed {
			continue
		}
		if o, ok := byID[s.MatchedObservationID]; ok {
			t := o.Timestamp
			return &t
		}
	}
	return nil
}
