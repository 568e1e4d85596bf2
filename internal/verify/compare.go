package verify

import (
	"strings"
	"time"

	"github.com/dshills/calltriage/internal/schema"
	"github.com/dshills/calltriage/internal/truth"
)

// compare checks every claimed attribute that has a value against the
// external record. Names match partially and case-insensitively; dates match
// exactly after normalization.
func compare(claimed schema.ClaimedAttributes, record truth.Record) []schema.FieldMismatch {
	var mismatches []schema.FieldMismatch

	actualName := fullName(record)
	if claimed.FirstName != "" && !NameMatches(claimed.FirstName, actualName) {
		mismatches = append(mismatches, schema.FieldMismatch{
			Field: "first_name", Expected: claimed.FirstName, Actual: actualName,
		})
	}
	if claimed.LastName != "" && !NameMatches(claimed.LastName, actualName) {
		mismatches = append(mismatches, schema.FieldMismatch{
			Field: "last_name", Expected: claimed.LastName, Actual: actualName,
		})
	}

	if claimed.Date != "" {
		actualDate := firstKey(record, "date", "appointmentdate", "starttime")
		if NormalizeDate(claimed.Date) != NormalizeDate(actualDate) {
			mismatches = append(mismatches, schema.FieldMismatch{
				Field: "date", Expected: claimed.Date, Actual: actualDate,
			})
		}
	}

	if claimed.Type != "" {
		actualType := firstKey(record, "type", "appointmenttype")
		if !strings.EqualFold(claimed.Type, actualType) {
			mismatches = append(mismatches, schema.FieldMismatch{
				Field: "type", Expected: claimed.Type, Actual: actualType,
			})
		}
	}

	return mismatches
}

// NameMatches reports whether a claimed name value matches an actual full
// name. The match is partial and case-insensitive: a claimed first-name-only
// value counts if it appears anywhere in the actual name.
func NameMatches(claimed, actual string) bool {
	claimed = strings.TrimSpace(strings.ToLower(claimed))
	actual = strings.TrimSpace(strings.ToLower(actual))
	if claimed == "" || actual == "" {
		return false
	}
	return strings.Contains(actual, claimed)
}

// fullName assembles the record's display name from whichever attributes the
// source system provided.
func fullName(record truth.Record) string {
	if name := firstKey(record, "fullname", "name", "patientname"); name != "" {
		return name
	}
	return strings.TrimSpace(record["firstname"] + " " + record["lastname"])
}

func firstKey(record truth.Record, keys ...string) string {
	for _, k := range keys {
		if v, ok := record[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

// dateLayouts are the formats the agent and the records platform have been
// seen using.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"01/02/2006",
	"1/2/2006",
	"January 2, 2006",
}

// NormalizeDate reduces a date string to YYYY-MM-DD for exact comparison.
// Unparseable values are returned trimmed so that literal equality still works.
func NormalizeDate(s string) string {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return s
}
