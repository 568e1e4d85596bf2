// Package claims parses heterogeneous tool-call payloads into typed claimed
// records. Payloads come from several historical integrations, so both the
// envelope (sometimes string-wrapped more than once) and the field names
// (several spellings per concept) are resolved through ordered alias lists.
package claims

import (
	"github.com/dshills/calltriage/internal/schema"
)

// Field aliases, in resolution order. First match wins; fields are never
// inferred by value type alone.
var (
	patientIDAliases = []string{
		"PatientGUID", "patientGuid", "patient_guid", "patientGUID",
		"PatientId", "patientId", "patient_id",
	}
	scheduleIDAliases = []string{
		"AppointmentGUID", "appointmentGuid", "appointment_guid",
		"AppointmentId", "appointmentId", "appointment_id",
		"ScheduleId", "scheduleId", "schedule_id",
	}
	firstNameAliases = []string{"firstName", "FirstName", "first_name", "fname"}
	lastNameAliases  = []string{"lastName", "LastName", "last_name", "lname"}
	dateAliases      = []string{
		"date", "Date", "appointmentDate", "appointment_date",
		"startTime", "start_time",
	}
	typeAliases = []string{"type", "Type", "appointmentType", "appointment_type"}
	depNameAliases = []string{
		"dependentName", "dependent_name", "childName", "child_name",
		"patientName", "patient_name",
	}
)

// Extract walks every observation and emits one ClaimedRecord per tool output
// that plausibly created or referenced an external record. Observations whose
// payloads cannot be decoded are skipped, never aborted on.
func Extract(observations []schema.Observation) []schema.ClaimedRecord {
	var records []schema.ClaimedRecord
	for _, o := range observations {
		if rec, ok := extractOne(o); ok {
			records = append(records, rec)
		}
	}
	return records
}

func extractOne(o schema.Observation) (schema.ClaimedRecord, bool) {
	output, err := DecodePayload(o.Output)
	if err != nil || output == nil {
		return schema.ClaimedRecord{}, false
	}
	// Input decode failures only disable backfill; the claim still counts.
	input, _ := DecodePayload(o.Input)

	var (
		recordType schema.RecordType
		externalID string
	)
	switch o.ActionName {
	case schema.ActionPatientTool:
		externalID, _ = Lookup(output, patientIDAliases)
		recordType = schema.RecordDependent
		// A requester lookup returns the guardian's own record. Typing it as
		// a dependent would fabricate a phantom dependent group downstream.
		if Variant(input) == schema.VariantLookupPatient {
			recordType = schema.RecordGuardian
		}
	case schema.ActionSchedulingTool:
		externalID, _ = Lookup(output, scheduleIDAliases)
		recordType = schema.RecordSchedule
	default:
		return schema.ClaimedRecord{}, false
	}
	if externalID == "" {
		return schema.ClaimedRecord{}, false
	}

	attrs := schema.ClaimedAttributes{
		FirstName:     lookupWithBackfill(output, input, firstNameAliases),
		LastName:      lookupWithBackfill(output, input, lastNameAliases),
		Date:          lookupWithBackfill(output, input, dateAliases),
		Type:          lookupWithBackfill(output, input, typeAliases),
		DependentName: lookupWithBackfill(output, input, depNameAliases),
	}

	// A patient record that names no dependent belongs to the guardian.
	if recordType == schema.RecordDependent && attrs.DependentName == "" && attrs.FirstName == "" {
		recordType = schema.RecordGuardian
	}

	return schema.ClaimedRecord{
		RecordType:          recordType,
		ExternalID:          externalID,
		SourceAction:        o.ActionName,
		SourceObservationID: o.ID,
		Claimed:             attrs,
	}, true
}

// lookupWithBackfill resolves a field from the output payload, falling back to
// the paired input payload of the same call when the output omits it.
func lookupWithBackfill(output, input map[string]any, aliases []string) string {
	if v, ok := Lookup(output, aliases); ok {
		return v
	}
	if input != nil {
		if v, ok := Lookup(input, aliases); ok {
			return v
		}
	}
	return ""
}
