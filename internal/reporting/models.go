package reporting

import (
	"time"

	"github.com/shopspring/decimal"
)

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r TimeRange) contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

// CampaignSummary aggregates one campaign's calls against its minutes ledger.
// Billable figures use the same rounding and status rules as settlement.
type CampaignSummary struct {
	CampaignID string `json:"campaign_id"`
	UserID     string `json:"user_id"`
	Status     string `json:"status"`

	BatchID         string `json:"batch_id,omitempty"`
	BatchStatus     string `json:"batch_status,omitempty"`
	ScheduledCalls  int    `json:"scheduled_calls"`
	DispatchedCalls int    `json:"dispatched_calls"`

	TotalCalls      int `json:"total_calls"`
	BillableCalls   int `json:"billable_calls"`
	SuccessfulCalls int `json:"successful_calls"`
	FailedCalls     int `json:"failed_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`
	BillableMinutes        int `json:"billable_minutes"`

	// ProviderCost is the sum of per-call costs reported by the provider.
	ProviderCost decimal.Decimal `json:"provider_cost"`

	DeductedMinutes int  `json:"deducted_minutes"`
	RefundedMinutes int  `json:"refunded_minutes"`
	NetMinutes      int  `json:"net_minutes"`
	Settled         bool `json:"settled"`
	RecordedCalls   int  `json:"recorded_calls"`
}

type MinutesSummaryRequest struct {
	UserID string    `json:"user_id"`
	Range  TimeRange `json:"range"`
}

// MinutesSummary totals a user's ledger rows by type inside a time range.
type MinutesSummary struct {
	UserID string `json:"user_id"`

	PurchasedMinutes int `json:"purchased_minutes"`
	BonusMinutes     int `json:"bonus_minutes"`
	DeductedMinutes  int `json:"deducted_minutes"`
	RefundedMinutes  int `json:"refunded_minutes"`
	NetDeltaMinutes  int `json:"net_delta_minutes"`

	Campaigns int `json:"campaigns"`
}
