// Package usage converts raw call durations into billable minutes.
//
// Billing policy:
//   - only calls whose status is "done" or "completed" (case-insensitive) are billable
//   - 0 seconds bills 0 minutes
//   - 1..60 seconds bills 1 minute
//   - anything longer rounds up to the next whole minute
//
// IsBillable is the one predicate every settlement path uses. Do not reimplement it.
package usage

import "strings"

const secondsPerMinute = 60

// IsBillable reports whether a call in the given provider status counts toward usage.
func IsBillable(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "done", "completed":
		return true
	default:
		return false
	}
}

// BillableMinutes returns the minutes charged for a single call.
func BillableMinutes(durationSecs int, status string) int {
	if !IsBillable(status) {
		return 0
	}
	return minutesFromSeconds(durationSecs)
}

func minutesFromSeconds(sec int) int {
	if sec <= 0 {
		return 0
	}
	m := sec / secondsPerMinute
	if sec%secondsPerMinute != 0 {
		m++
	}
	return m
}

// Call is the minimal view of a call needed to total usage.
type Call interface {
	BillingStatus() string
	BillingDurationSecs() int
}

// Totals summarizes usage over a set of calls.
type Totals struct {
	Calls           int `json:"calls"`
	BillableCalls   int `json:"billable_calls"`
	BillableMinutes int `json:"billable_minutes"`
	DurationSecs    int `json:"duration_secs"`
}

// Sum totals billable usage for calls.
func Sum[C Call](calls []C) Totals {
	var t Totals
	for _, c := range calls {
		t.Calls++
		t.DurationSecs += max(c.BillingDurationSecs(), 0)
		if !IsBillable(c.BillingStatus()) {
			continue
		}
		t.BillableCalls++
		t.BillableMinutes += minutesFromSeconds(c.BillingDurationSecs())
	}
	return t
}

// RefundFor returns the refund owed against an original deduction.
// The result is never negative and never exceeds original.
func RefundFor(original, used int) int {
	if original <= 0 {
		return 0
	}
	if used < 0 {
		used = 0
	}
	r := original - used
	if r < 0 {
		return 0
	}
	return r
}
