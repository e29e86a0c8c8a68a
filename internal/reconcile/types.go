package reconcile

import (
	"encoding/json"
	"time"

	"voice-campaigns/internal/campaigns"
	"voice-campaigns/internal/ledger"

	"github.com/shopspring/decimal"
)

// ConversationEvent is a post-call record from a webhook or a poll.
type ConversationEvent struct {
	ConversationID   string
	AgentID          string
	Status           string
	BatchID          string
	RecipientID      string
	CallDurationSecs int
	CallSuccessful   bool
	Cost             decimal.Decimal
	Transcript       json.RawMessage
	Analysis         json.RawMessage
	HasAudio         bool
	OccurredAt       time.Time
	// Raw is the original payload, kept for audit when the owner is unknown.
	Raw []byte
}

type ConversationResult struct {
	Conversation campaigns.Conversation
	// RecipientLinked is false when the recipient is not known yet.
	RecipientLinked bool
}

// BatchStatusEvent carries the provider-reported state of a batch.
type BatchStatusEvent struct {
	BatchID              string
	Status               string
	TotalCallsDispatched int
	LastUpdatedAt        time.Time
}

type BatchOutcome struct {
	Batch      campaigns.BatchCall
	Transition Transition
	// Transitioned is true when this call moved the campaign into a terminal state.
	Transitioned bool
	// Settlement is set when settlement ran.
	Settlement *Settlement
	// SettlementSkipped is set when settlement found no deduction.
	SettlementSkipped bool
}

// RecipientSnapshot is one recipient row from a polled batch.
type RecipientSnapshot struct {
	ID             string
	PhoneNumber    string
	Status         string
	ConversationID string
	Metadata       json.RawMessage
	UpdatedAt      time.Time
}

type SnapshotResult struct {
	Upserted int
	Failed   int
	// PendingConversations lists conversation ids seen in the snapshot that
	// have no stored conversation yet.
	PendingConversations []string
}

// Settlement is the outcome of SettleCampaignMinutes.
type Settlement struct {
	UserID          string         `json:"user_id"`
	CampaignID      string         `json:"campaign_id,omitempty"`
	BatchID         string         `json:"batch_id"`
	Failed          bool           `json:"failed"`
	OriginalMinutes int            `json:"original_minutes"`
	UsedMinutes     int            `json:"used_minutes"`
	RefundMinutes   int            `json:"refund_minutes"`
	AlreadySettled  bool           `json:"already_settled"`
	Balance         ledger.Balance `json:"balance"`
}
