// Package expert defines the four domain-specialized analyzers the diagnostic
// orchestrator can route a failure to. Each expert is scoped to one subsystem
// of the conversational agent and to the artifact it would propose changes to.
package expert

import (
	"fmt"

	"github.com/dshills/calltriage/internal/schema"
)

// Expert describes one domain analyzer. The SystemPromptAddendum narrows the
// shared analysis prompt to the expert's subsystem; the artifact content is
// attached separately at invocation time.
type Expert struct {
	Name                 string
	Description          string
	ArtifactKey          schema.ArtifactKey
	SystemPromptAddendum string
}

// builtins is the registry of experts keyed by name.
var builtins = map[string]Expert{
	"flow-orchestration": {
		Name:        "flow-orchestration",
		Description: "Conversational-flow orchestration: tool wiring, branching, escalation paths.",
		ArtifactKey: schema.ArtifactFlow,
		SystemPromptAddendum: "You are the flow-orchestration expert. The failure involves API-level " +
			"errors or tool invocations that never reached their target. Examine the flow definition " +
			"for broken tool wiring, unreachable branches, missing error handling after tool calls, " +
			"and escalation paths that swallow failures. Root-cause types you may report: " +
			"tool_wiring, branch_logic, error_propagation, escalation.",
	},
	"record-management": {
		Name:        "record-management",
		Description: "Dependent/record-management logic: patient creation, lookup, attribute mapping.",
		ArtifactKey: schema.ArtifactPatientTool,
		SystemPromptAddendum: "You are the record-management expert. The failure involves dependent or " +
			"guardian record actions that failed or never happened. Examine the patient tool code for " +
			"wrong field mappings, missing create-before-book ordering, and identifier handling bugs. " +
			"Root-cause types you may report: field_mapping, record_ordering, identifier_handling, " +
			"duplicate_detection.",
	},
	"scheduling": {
		Name:        "scheduling",
		Description: "Scheduling logic: slot search, booking, date handling.",
		ArtifactKey: schema.ArtifactSchedulingTool,
		SystemPromptAddendum: "You are the scheduling expert. The failure involves slot-search or " +
			"booking actions that failed or never happened. Examine the scheduling tool code for date " +
			"parsing and timezone bugs, slot-availability misreads, and bookings claimed without a " +
			"confirmed slot. Root-cause types you may report: date_handling, slot_search, " +
			"booking_confirmation, availability_sync.",
	},
	"conversation-design": {
		Name:        "conversation-design",
		Description: "Conversation design and prompt logic: instructions the agent follows.",
		ArtifactKey: schema.ArtifactPrompt,
		SystemPromptAddendum: "You are the conversation-design expert. The call completed very little " +
			"of its expected action sequence without any single tool failing, which points at the " +
			"agent's instructions rather than its tools. Examine the prompt for missing or ambiguous " +
			"instructions, wrong tool-selection guidance, and premature conversation endings. " +
			"Root-cause types you may report: missing_instruction, ambiguous_instruction, " +
			"tool_selection, premature_end.",
	},
}

// Load returns the named expert or an error if the name is unknown.
func Load(name string) (Expert, error) {
	e, ok := builtins[name]
	if !ok {
		return Expert{}, fmt.Errorf("expert: unknown expert %q (available: flow-orchestration, record-management, scheduling, conversation-design)", name)
	}
	return e, nil
}

// All returns every registered expert name in routing-priority order.
func All() []string {
	return []string{"flow-orchestration", "record-management", "scheduling", "conversation-design"}
}
