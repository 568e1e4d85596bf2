// Package schema defines the canonical data types shared by every stage of the
// call-diagnosis pipeline.
package schema

import (
	"encoding/json"
	"time"
)

// Role identifies the speaker of a conversation turn.
type Role string

const (
	RoleCaller Role = "caller"
	RoleAgent  Role = "agent"
)

// ConversationTurn is one utterance in a call transcript. Turns are ordered
// and immutable once produced by the transcript builder.
type ConversationTurn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Observation is a single recorded tool/API invocation from a call. Input and
// Output are kept raw: payloads arrive in several historical shapes, sometimes
// string-wrapped one or more times, and are decoded lazily by consumers.
type Observation struct {
	ID         string          `json:"id"`
	ActionName string          `json:"action_name"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	ErrorLevel string          `json:"error_level,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Known tool/action names used by the booking agent.
const (
	ActionPatientTool    = "chord_ortho_patient"
	ActionSchedulingTool = "schedule_appointment_ortho"
	ActionCurrentDate    = "current_date_time"
	ActionEscalation     = "chord_handleEscalation"
)

// Action variants carried in the structured input payload of a tool call.
const (
	VariantCreatePatient   = "create_patient"
	VariantLookupPatient   = "lookup_patient"
	VariantSearchSlots     = "search_slots"
	VariantBookAppointment = "book_appointment"
)

// IntentType classifies what the caller wanted from the call.
type IntentType string

const (
	IntentBooking      IntentType = "booking"
	IntentRescheduling IntentType = "rescheduling"
	IntentCancellation IntentType = "cancellation"
	IntentInfoLookup   IntentType = "info_lookup"
)

// BookingDetails carries the structured booking request extracted from the
// transcript. Present only for booking intents.
type BookingDetails struct {
	DependentCount int      `json:"dependent_count"`
	DependentNames []string `json:"dependent_names"`
	RequesterName  string   `json:"requester_name,omitempty"`
	RequesterPhone string   `json:"requester_phone,omitempty"`
	RequestedDates []string `json:"requested_dates,omitempty"`
}

// CallerIntent is the classifier's output for one call.
type CallerIntent struct {
	Type           IntentType      `json:"type"`
	Confidence     float64         `json:"confidence"`
	Summary        string          `json:"summary,omitempty"`
	BookingDetails *BookingDetails `json:"booking_details,omitempty"`
}

// Occurrence says how many times an expected step should appear in a call.
type Occurrence string

const (
	OccurOnce         Occurrence = "once"
	OccurPerDependent Occurrence = "per_dependent"
)

// ExpectedStep is one entry in the static action plan for an intent type.
type ExpectedStep struct {
	ActionName    string     `json:"action_name"`
	ActionVariant string     `json:"action_variant,omitempty"`
	Description   string     `json:"description"`
	Occurrences   Occurrence `json:"occurrences"`
	Optional      bool       `json:"optional,omitempty"`
}

// StepState is the outcome of matching one expected step against the
// observation list.
type StepState string

const (
	StepCompleted StepState = "completed"
	StepFailed    StepState = "failed"
	StepMissing   StepState = "missing"
)

// StepStatus pairs an expected step instance with what actually happened.
type StepStatus struct {
	Step                 ExpectedStep `json:"step"`
	State                StepState    `json:"state"`
	MatchedObservationID string       `json:"matched_observation_id,omitempty"`
	ErrorDetail          string       `json:"error_detail,omitempty"`
}

// RecordType classifies a claimed external record.
type RecordType string

const (
	RecordDependent RecordType = "dependent_record"
	RecordGuardian  RecordType = "guardian_record"
	RecordSchedule  RecordType = "schedule_record"
)

// ClaimedAttributes are the attributes an observation asserted about a record.
type ClaimedAttributes struct {
	FirstName     string `json:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
	Date          string `json:"date,omitempty"`
	Type          string `json:"type,omitempty"`
	DependentName string `json:"dependent_name,omitempty"`
}

// ClaimedRecord is an entity that a tool output asserts was created or
// referenced, prior to independent verification. ExternalID uniquely
// identifies the record within a session.
type ClaimedRecord struct {
	RecordType          RecordType        `json:"record_type"`
	ExternalID          string            `json:"external_id"`
	SourceAction        string            `json:"source_action"`
	SourceObservationID string            `json:"source_observation_id"`
	Claimed             ClaimedAttributes `json:"claimed_attributes"`
}

// VerifyStatus is the verification outcome for a single record.
type VerifyStatus string

const (
	VerifyPass    VerifyStatus = "pass"
	VerifyFail    VerifyStatus = "fail"
	VerifyPartial VerifyStatus = "partial"
	VerifySkipped VerifyStatus = "skipped"
)

// FieldMismatch records one attribute that disagreed between claim and truth.
type FieldMismatch struct {
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// RecordVerification is the result of checking one claimed record against the
// source-of-truth system.
type RecordVerification struct {
	Claim          ClaimedRecord     `json:"claim"`
	Status         VerifyStatus      `json:"status"`
	ExternalRecord map[string]string `json:"external_record,omitempty"`
	Mismatches     []FieldMismatch   `json:"mismatches,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// DependentVerification rolls up all of one dependent's record checks.
// A dependent named in BookingDetails with no claimed records at all is
// synthesized here with both statuses "fail" and empty Details.
type DependentVerification struct {
	DependentName  string               `json:"dependent_name"`
	RecordStatus   VerifyStatus         `json:"record_status"`
	ScheduleStatus VerifyStatus         `json:"schedule_status"`
	Details        []RecordVerification `json:"details"`
}

// OverallStatus is the rollup verdict across all dependents.
type OverallStatus string

const (
	OverallVerified OverallStatus = "verified"
	OverallPartial  OverallStatus = "partial"
	OverallFailed   OverallStatus = "failed"
	OverallNoClaims OverallStatus = "no_claims"
)

// FulfillmentVerdict is the Fulfillment Verifier's output. OverallStatus is a
// deterministic function of the dependent-level statuses; it is never assigned
// independently.
type FulfillmentVerdict struct {
	OverallStatus          OverallStatus           `json:"overall_status"`
	DependentVerifications []DependentVerification `json:"dependent_verifications"`
	GuardianVerifications  []RecordVerification    `json:"guardian_verifications,omitempty"`
	Summary                string                  `json:"summary,omitempty"`
}

// ArtifactKey names one of the four versioned pieces of the conversational
// agent's configuration that an expert analyzer may propose changes to.
type ArtifactKey string

const (
	ArtifactFlow           ArtifactKey = "flow"
	ArtifactPatientTool    ArtifactKey = "patient-tool"
	ArtifactSchedulingTool ArtifactKey = "scheduling-tool"
	ArtifactPrompt         ArtifactKey = "prompt"
)

// RootCause is an expert's structured conclusion about a failure.
type RootCause struct {
	Type     string   `json:"type"`
	Evidence []string `json:"evidence,omitempty"`
}

// AffectedArtifact names the artifact an expert believes is at fault.
type AffectedArtifact struct {
	Key            ArtifactKey `json:"key"`
	CurrentVersion int         `json:"current_version"`
}

// ExpertAnalysisResult is one expert analyzer's output.
type ExpertAnalysisResult struct {
	RootCause           RootCause        `json:"root_cause"`
	AffectedArtifact    AffectedArtifact `json:"affected_artifact"`
	Confidence          int              `json:"confidence"`
	SuggestedChange     string           `json:"suggested_change,omitempty"`
	DiagnosticNarrative string           `json:"diagnostic_narrative"`
	Diff                string           `json:"diff,omitempty"`
	IsPartialDiff       bool             `json:"is_partial_diff"`
}

// DeployCorrelation links a failure timestamp to the most recent deploy of the
// affected artifact at or before that time.
type DeployCorrelation struct {
	ArtifactKey  ArtifactKey `json:"artifact_key"`
	Version      int         `json:"version"`
	DeployedAt   time.Time   `json:"deployed_at"`
	DeltaMinutes int         `json:"delta_minutes"`
}

// DiagnosticReport is the merged output of all routed experts. Zero agents
// with a narrative stating no routable failure was found is a valid outcome.
type DiagnosticReport struct {
	Agents            []ExpertAnalysisResult `json:"agents"`
	DeployCorrelation *DeployCorrelation     `json:"deploy_correlation,omitempty"`
	CombinedNarrative string                 `json:"combined_narrative"`
}

// DeployEvent is one entry in the append-only artifact deployment log.
type DeployEvent struct {
	ArtifactKey ArtifactKey `json:"artifact_key"`
	Version     int         `json:"version"`
	DeployedAt  time.Time   `json:"deployed_at"`
}

// AnalysisRecord is the per-session pipeline output exposed to callers and
// persisted in the analysis cache.
type AnalysisRecord struct {
	SessionID      string              `json:"session_id"`
	Intent         CallerIntent        `json:"intent"`
	StepStatuses   []StepStatus        `json:"step_statuses"`
	CompletionRate float64             `json:"completion_rate"`
	Verification   *FulfillmentVerdict `json:"verification,omitempty"`
	AnalyzedAt     time.Time           `json:"analyzed_at"`
	Cached         bool                `json:"cached"`
}
