// Package verify cross-checks the agent's claimed records against the
// source-of-truth system and rolls the results up into a fulfillment verdict.
package verify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/dshills/calltriage/internal/llm"
	"github.com/dshills/calltriage/internal/schema"
	"github.com/dshills/calltriage/internal/truth"
)

// Verifier checks claimed records one at a time through the shared rate gate.
// External calls stay serial with a fixed delay; the records platform
// throttles bursts in ways that corrupt results mid-verification.
type Verifier struct {
	source truth.Source
	gate   *llm.Gate
	log    *logrus.Entry
}

// New builds a Verifier.
func New(source truth.Source, gate *llm.Gate, log *logrus.Entry) *Verifier {
	return &Verifier{source: source, gate: gate, log: log}
}

// Verify checks every claimed record against the source of truth, groups the
// results per dependent, cross-references the booking's named dependents, and
// rolls up the overall status. An authentication failure aborts the whole
// stage; every other per-record problem is recorded on that record and
// verification continues.
func (v *Verifier) Verify(ctx context.Context, claimed []schema.ClaimedRecord, booking *schema.BookingDetails) (*schema.FulfillmentVerdict, error) {
	var named []string
	if booking != nil {
		named = booking.DependentNames
	}

	if len(claimed) == 0 && len(named) == 0 {
		return &schema.FulfillmentVerdict{
			OverallStatus: schema.OverallNoClaims,
			Summary:       "no claimed records and no named dependents to cross-reference",
		}, nil
	}

	groups, guardian := groupClaims(claimed)

	// Verify serially, preserving already-computed results if a later call
	// fails: only auth failures abort.
	verified := make(map[string][]schema.RecordVerification, len(groups))
	for _, name := range sortedKeys(groups) {
		for _, claim := range groups[name] {
			rv, err := v.verifyOne(ctx, claim)
			if err != nil {
				return nil, err
			}
			verified[name] = append(verified[name], rv)
		}
	}
	var guardianResults []schema.RecordVerification
	for _, claim := range guardian {
		rv, err := v.verifyOne(ctx, claim)
		if err != nil {
			return nil, err
		}
		guardianResults = append(guardianResults, rv)
	}

	deps := buildDependentVerifications(verified, named)

	verdict := &schema.FulfillmentVerdict{
		OverallStatus:          rollup(deps, guardianResults, claimed, named),
		DependentVerifications: deps,
		GuardianVerifications:  guardianResults,
	}
	verdict.Summary = summarize(verdict)
	return verdict, nil
}

// verifyOne queries the source of truth for a single claim and compares the
// returned attributes against the claimed ones.
func (v *Verifier) verifyOne(ctx context.Context, claim schema.ClaimedRecord) (schema.RecordVerification, error) {
	var (
		record truth.Record
		found  bool
	)
	err := v.gate.Do(ctx, func() error {
		var lookupErr error
		record, found, lookupErr = v.source.LookupRecord(ctx, claim.ExternalID)
		return lookupErr
	})
	if err != nil {
		if errors.Is(err, truth.ErrAuthFailed) {
			return schema.RecordVerification{}, err
		}
		// A failed query proves nothing about the record either way.
		v.log.WithFields(logrus.Fields{
			"external_id": claim.ExternalID,
			"error":       err.Error(),
		}).Warn("record lookup failed; marking skipped and continuing")
		return schema.RecordVerification{
			Claim:  claim,
			Status: schema.VerifySkipped,
			Error:  err.Error(),
		}, nil
	}
	if !found {
		return schema.RecordVerification{Claim: claim, Status: schema.VerifyFail}, nil
	}

	mismatches := compare(claim.Claimed, record)
	status := schema.VerifyPass
	if len(mismatches) > 0 {
		status = schema.VerifyPartial
	}
	return schema.RecordVerification{
		Claim:          claim,
		Status:         status,
		ExternalRecord: map[string]string(record),
		Mismatches:     mismatches,
	}, nil
}

// groupClaims buckets claims by dependent name; claims with no dependent name
// belong to the guardian.
func groupClaims(claimed []schema.ClaimedRecord) (map[string][]schema.ClaimedRecord, []schema.ClaimedRecord) {
	groups := make(map[string][]schema.ClaimedRecord)
	var guardian []schema.ClaimedRecord
	for _, c := range claimed {
		name := c.Claimed.DependentName
		if name == "" && c.RecordType == schema.RecordDependent {
			name = strings.TrimSpace(c.Claimed.FirstName + " " + c.Claimed.LastName)
		}
		if name == "" {
			guardian = append(guardian, c)
			continue
		}
		groups[name] = append(groups[name], c)
	}
	return groups, guardian
}

// buildDependentVerifications rolls each dependent group up and synthesizes a
// failed entry for every booked dependent that was never attempted.
func buildDependentVerifications(verified map[string][]schema.RecordVerification, named []string) []schema.DependentVerification {
	var deps []schema.DependentVerification
	for _, name := range sortedKeys(verified) {
		results := verified[name]
		deps = append(deps, schema.DependentVerification{
			DependentName:  name,
			RecordStatus:   worstOfKind(results, false),
			ScheduleStatus: worstOfKind(results, true),
			Details:        results,
		})
	}

	for _, name := range named {
		if findGroup(deps, name) >= 0 {
			continue
		}
		deps = append(deps, schema.DependentVerification{
			DependentName:  name,
			RecordStatus:   schema.VerifyFail,
			ScheduleStatus: schema.VerifyFail,
		})
	}
	return deps
}

// findGroup locates the dependent verification matching a booked name. Group
// identity compares whole name tokens: a claimed "Sam" belongs to the booked
// "Sam Johnson" but not to "Samantha Lee".
func findGroup(deps []schema.DependentVerification, name string) int {
	for i, d := range deps {
		if groupMatches(name, d.DependentName) {
			return i
		}
	}
	return -1
}

// groupMatches reports whether two dependent names identify the same group.
// Every token of the shorter name must appear verbatim, case-insensitively,
// among the longer name's tokens.
func groupMatches(a, b string) bool {
	at := strings.Fields(strings.ToLower(a))
	bt := strings.Fields(strings.ToLower(b))
	if len(at) == 0 || len(bt) == 0 {
		return false
	}
	if len(at) > len(bt) {
		at, bt = bt, at
	}
	set := make(map[string]bool, len(bt))
	for _, tok := range bt {
		set[tok] = true
	}
	for _, tok := range at {
		if !set[tok] {
			return false
		}
	}
	return true
}

// severity orders verification statuses from best to worst.
var severity = map[schema.VerifyStatus]int{
	schema.VerifyPass:    0,
	schema.VerifySkipped: 1,
	schema.VerifyPartial: 2,
	schema.VerifyFail:    3,
}

// worstOfKind returns the worst status among a dependent's records of one
// kind. schedule=true selects schedule records, false everything else. A kind
// with no records at all was never attempted, which is a failure.
func worstOfKind(results []schema.RecordVerification, schedule bool) schema.VerifyStatus {
	worst := schema.VerifyPass
	found := false
	for _, r := range results {
		isSchedule := r.Claim.RecordType == schema.RecordSchedule
		if isSchedule != schedule {
			continue
		}
		found = true
		if severity[r.Status] > severity[worst] {
			worst = r.Status
		}
	}
	if !found {
		return schema.VerifyFail
	}
	return worst
}

// rollup derives the overall status. It is never assigned independently of
// the dependent-level statuses.
func rollup(deps []schema.DependentVerification, guardian []schema.RecordVerification, claimed []schema.ClaimedRecord, named []string) schema.OverallStatus {
	if len(claimed) == 0 && len(named) == 0 {
		return schema.OverallNoClaims
	}

	if len(deps) == 0 {
		// Guardian-only sessions: fall back to the guardian record statuses.
		pass, total := 0, len(guardian)
		for _, g := range guardian {
			if g.Status == schema.VerifyPass {
				pass++
			}
		}
		switch {
		case total > 0 && pass == total:
			return schema.OverallVerified
		case pass == 0:
			return schema.OverallFailed
		default:
			return schema.OverallPartial
		}
	}

	fullyPassed := 0
	for _, d := range deps {
		if d.RecordStatus == schema.VerifyPass && d.ScheduleStatus == schema.VerifyPass {
			fullyPassed++
		}
	}
	switch {
	case fullyPassed == len(deps):
		return schema.OverallVerified
	case fullyPassed == 0:
		return schema.OverallFailed
	default:
		return schema.OverallPartial
	}
}

func summarize(v *schema.FulfillmentVerdict) string {
	if v.OverallStatus == schema.OverallNoClaims {
		return "no claimed records and no named dependents to cross-reference"
	}
	fullyPassed := 0
	for _, d := range v.DependentVerifications {
		if d.RecordStatus == schema.VerifyPass && d.ScheduleStatus == schema.VerifyPass {
			fullyPassed++
		}
	}
	return fmt.Sprintf("%s: %d of %d dependents fully verified",
		v.OverallStatus, fullyPassed, len(v.DependentVerifications))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
