// Package events publishes reconciliation outcomes to downstream consumers.
package events

import (
	"context"
	"time"
)

type Type string

const (
	TypeConversationRecorded Type = "conversation.recorded"
	TypeCampaignCompleted    Type = "campaign.completed"
	TypeCampaignFailed       Type = "campaign.failed"
	TypeBatchSettled         Type = "batch.settled"
)

// Event is the message body written to the queue as JSON.
type Event struct {
	ID             string    `json:"id"`
	Type           Type      `json:"type"`
	UserID         string    `json:"user_id"`
	CampaignID     string    `json:"campaign_id,omitempty"`
	BatchID        string    `json:"batch_id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Status         string    `json:"status,omitempty"`
	Minutes        int       `json:"minutes,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Publisher delivers events. Publishing is best-effort from the caller's
// point of view: ledger and state writes never depend on it.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
