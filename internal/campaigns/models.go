package campaigns

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Campaign is a user-owned outbound calling campaign.
//
// Lifecycle: draft -> launched -> {completed, failed}. Terminal states are final.
// Only the reconciliation engine moves a campaign past launched.
type Campaign struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	Name       string         `json:"name"`
	Status     CampaignStatus `json:"status"`
	LaunchedAt *time.Time     `json:"launched_at,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusLaunched  CampaignStatus = "launched"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusFailed    CampaignStatus = "failed"
)

func (s CampaignStatus) Terminal() bool {
	return s == CampaignStatusCompleted || s == CampaignStatusFailed
}

// BatchCall mirrors a provider batch. ID is provider-assigned.
// CampaignID is empty until the batch is linked; one batch maps to at most one campaign.
type BatchCall struct {
	ID                   string    `json:"id"`
	CampaignID           string    `json:"campaign_id,omitempty"`
	UserID               string    `json:"user_id"`
	Name                 string    `json:"name,omitempty"`
	Status               string    `json:"status"`
	TotalCallsScheduled  int       `json:"total_calls_scheduled"`
	TotalCallsDispatched int       `json:"total_calls_dispatched"`
	LastUpdatedAt        time.Time `json:"last_updated_at"`
	CreatedAt            time.Time `json:"created_at"`
}

// BatchStatusUpdate carries the provider-reported fields of a batch.
type BatchStatusUpdate struct {
	BatchID              string
	Status               string
	TotalCallsDispatched int
	LastUpdatedAt        time.Time
}

// Recipient is one callee inside a batch, unique on (ID, BatchID).
type Recipient struct {
	ID             string          `json:"id"`
	BatchID        string          `json:"batch_id"`
	UserID         string          `json:"user_id"`
	PhoneNumber    string          `json:"phone_number"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	Status         string          `json:"status"`
	ConversationID string          `json:"conversation_id,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Conversation is a single call attempt, keyed by the provider's conversation id.
// Duration and cost are stored as last reported, never accumulated.
type Conversation struct {
	ConversationID   string          `json:"conversation_id"`
	UserID           string          `json:"user_id"`
	CampaignID       string          `json:"campaign_id,omitempty"`
	BatchID          string          `json:"batch_id,omitempty"`
	RecipientID      string          `json:"recipient_id,omitempty"`
	AgentID          string          `json:"agent_id,omitempty"`
	Status           string          `json:"status"`
	CallDurationSecs int             `json:"call_duration_secs"`
	CallSuccessful   bool            `json:"call_successful"`
	Cost             decimal.Decimal `json:"cost"`
	Transcript       json.RawMessage `json:"transcript,omitempty"`
	Analysis         json.RawMessage `json:"analysis,omitempty"`
	HasAudio         bool            `json:"has_audio"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (c Conversation) BillingStatus() string    { return c.Status }
func (c Conversation) BillingDurationSecs() int { return c.CallDurationSecs }

// ConversationFilter selects conversations by campaign or batch. At least one is required.
type ConversationFilter struct {
	CampaignID string
	BatchID    string
}
