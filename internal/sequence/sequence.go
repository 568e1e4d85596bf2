// Package sequence maps a caller intent to the actions that should have
// happened and matches them against the actions that actually did. Matching is
// a pure function of its inputs: same intent and observations, same statuses.
package sequence

import (
	"fmt"

	"github.com/dshills/calltriage/internal/claims"
	"github.com/dshills/calltriage/internal/schema"
	"github.com/dshills/calltriage/internal/trace"
)

// expectedSteps is the static action plan per intent type.
var expectedSteps = map[schema.IntentType][]schema.ExpectedStep{
	schema.IntentBooking: {
		{ActionName: schema.ActionCurrentDate, Description: "fetch current date", Occurrences: schema.OccurOnce},
		{ActionName: schema.ActionPatientTool, ActionVariant: schema.VariantLookupPatient, Description: "look up requester", Occurrences: schema.OccurOnce},
		{ActionName: schema.ActionSchedulingTool, ActionVariant: schema.VariantSearchSlots, Description: "search appointment slots", Occurrences: schema.OccurPerDependent},
		{ActionName: schema.ActionPatientTool, ActionVariant: schema.VariantCreatePatient, Description: "create dependent record", Occurrences: schema.OccurPerDependent, Optional: true},
		{ActionName: schema.ActionSchedulingTool, ActionVariant: schema.VariantBookAppointment, Description: "create schedule record", Occurrences: schema.OccurPerDependent},
	},
	schema.IntentRescheduling: {
		{ActionName: schema.ActionCurrentDate, Description: "fetch current date", Occurrences: schema.OccurOnce},
		{ActionName: schema.ActionPatientTool, ActionVariant: schema.VariantLookupPatient, Description: "look up requester", Occurrences: schema.OccurOnce},
		{ActionName: schema.ActionSchedulingTool, ActionVariant: schema.VariantSearchSlots, Description: "search replacement slots", Occurrences: schema.OccurOnce},
		{ActionName: schema.ActionSchedulingTool, ActionVariant: schema.VariantBookAppointment, Description: "rebook appointment", Occurrences: schema.OccurOnce},
	},
	schema.IntentCancellation: {
		{ActionName: schema.ActionPatientTool, ActionVariant: schema.VariantLookupPatient, Description: "look up requester", Occurrences: schema.OccurOnce},
		{ActionName: schema.ActionSchedulingTool, Description: "cancel appointment", Occurrences: schema.OccurOnce},
	},
	schema.IntentInfoLookup: {
		{ActionName: schema.ActionCurrentDate, Description: "fetch current date", Occurrences: schema.OccurOnce, Optional: true},
		{ActionName: schema.ActionPatientTool, ActionVariant: schema.VariantLookupPatient, Description: "look up caller", Occurrences: schema.OccurOnce, Optional: true},
	},
}

// StepsFor returns the expected step table for an intent type. Unknown intent
// types get the info_lookup plan.
func StepsFor(intentType schema.IntentType) []schema.ExpectedStep {
	if steps, ok := expectedSteps[intentType]; ok {
		return steps
	}
	return expectedSteps[schema.IntentInfoLookup]
}

// Map expands and matches the expected plan for the intent against the
// observation list, returning one status per expanded step instance plus the
// completion rate.
func Map(intent schema.CallerIntent, observations []schema.Observation) ([]schema.StepStatus, float64) {
	deps := 1
	if intent.BookingDetails != nil && intent.BookingDetails.DependentCount > 0 {
		deps = intent.BookingDetails.DependentCount
	}
	statuses := Match(StepsFor(intent.Type), deps, observations)
	return statuses, CompletionRate(statuses)
}

// Match runs the greedy, order-preserving, at-most-once matcher. Each expanded
// step instance consumes the earliest unconsumed observation whose action name
// and variant match; ties are broken by chronological order, no backtracking.
func Match(steps []schema.ExpectedStep, dependentCount int, observations []schema.Observation) []schema.StepStatus {
	consumed := make([]bool, len(observations))
	var statuses []schema.StepStatus

	for _, step := range steps {
		n := 1
		if step.Occurrences == schema.OccurPerDependent {
			n = dependentCount
		}
		for i := 0; i < n; i++ {
			statuses = append(statuses, matchOne(step, observations, consumed))
		}
	}
	return statuses
}

func matchOne(step schema.ExpectedStep, observations []schema.Observation, consumed []bool) schema.StepStatus {
	for i, o := range observations {
		if consumed[i] || o.ActionName != step.ActionName {
			continue
		}
		if step.ActionVariant != "" && observationVariant(o) != step.ActionVariant {
			continue
		}
		consumed[i] = true

		if trace.HasErrorSignal(o) {
			return schema.StepStatus{
				Step:                 step,
				State:                schema.StepFailed,
				MatchedObservationID: o.ID,
				ErrorDetail:          errorDetail(o),
			}
		}
		return schema.StepStatus{
			Step:                 step,
			State:                schema.StepCompleted,
			MatchedObservationID: o.ID,
		}
	}
	return schema.StepStatus{Step: step, State: schema.StepMissing}
}

// observationVariant parses the action variant out of the structured input
// payload. An undecodable input simply means no variant.
func observationVariant(o schema.Observation) string {
	input, err := claims.DecodePayload(o.Input)
	if err != nil {
		return ""
	}
	return claims.Variant(input)
}

func errorDetail(o schema.Observation) string {
	if o.ErrorLevel != "" {
		return fmt.Sprintf("observation %s reported level %q", o.ID, o.ErrorLevel)
	}
	return fmt.Sprintf("observation %s output carries an error signal", o.ID)
}

// CompletionRate is completed steps over included steps. Optional steps that
// are missing are excluded from the denominator; required-but-missing and
// failed steps are not. With nothing included the rate is 1.
func CompletionRate(statuses []schema.StepStatus) float64 {
	completed, included := 0, 0
	for _, s := range statuses {
		if s.Step.Optional && s.State == schema.StepMissing {
			continue
		}
		included++
		if s.State == schema.StepCompleted {
			completed++
		}
	}
	if included == 0 {
		return 1
	}
	return float64(completed) / float64(included)
}
