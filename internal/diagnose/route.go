package diagnose

import (
	"github.com/dshills/calltriage/internal/expert"
	"github.com/dshills/calltriage/internal/schema"
)

// lowWaterRate is the completion-rate threshold below which a call with no
// other routable signal is treated as a conversation-design problem.
const lowWaterRate = 0.5

// Route applies the deterministic routing rules and returns the expert names
// to invoke, in registry order. Multiple rules may fire; each expert appears
// at most once. An empty result is a valid outcome, not an error.
func Route(statuses []schema.StepStatus, apiErrors []string, completionRate float64) []string {
	matched := make(map[string]bool)

	for _, s := range statuses {
		if s.State != schema.StepFailed && s.State != schema.StepMissing {
			continue
		}
		switch s.Step.ActionName {
		case schema.ActionPatientTool:
			matched["record-management"] = true
		case schema.ActionSchedulingTool:
			matched["scheduling"] = true
		}
	}

	if len(apiErrors) > 0 {
		matched["flow-orchestration"] = true
	}

	if len(matched) == 0 && completionRate < lowWaterRate {
		matched["conversation-design"] = true
	}

	var names []string
	for _, name := range expert.All() {
		if matched[name] {
			names = append(names, name)
		}
	}
	return names
}
