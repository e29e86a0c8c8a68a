package reconcile

import "strings"

// Transition is the campaign-level effect of a provider batch status.
type Transition string

const (
	NoChange  Transition = "no_change"
	Completed Transition = "completed"
	Failed    Transition = "failed"
)

// Terminal reports whether the transition ends the campaign.
func (t Transition) Terminal() bool { return t == Completed || t == Failed }

// MapBatchStatus maps a provider batch status to a campaign transition.
// It is total: unknown or in-flight statuses map to NoChange.
func MapBatchStatus(status string) Transition {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "completed", "successful", "success":
		return Completed
	case "failed", "error", "cancelled":
		return Failed
	default:
		return NoChange
	}
}
