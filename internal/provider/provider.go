// Package provider is the adapter for the third-party voice provider that
// dispatches batch calls and reports conversations.
package provider

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/shopspring/decimal"
)

// Provider defines the provider-agnostic interface used by business logic.
//
// Rules:
// - No provider HTTP calls outside this package.
// - Keep request/response types provider-shaped here; callers convert to their own types.
type Provider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	SubmitBatch(ctx context.Context, req SubmitBatchRequest) (Batch, error)
	GetBatch(ctx context.Context, batchID string) (Batch, error)
	GetConversation(ctx context.Context, conversationID string) (Conversation, error)
	// GetConversationAudio streams the call recording. Callers must close the reader.
	GetConversationAudio(ctx context.Context, conversationID string) (io.ReadCloser, string, error)
}

type SubmitBatchRequest struct {
	CallName           string           `json:"call_name"`
	AgentID            string           `json:"agent_id"`
	AgentPhoneNumberID string           `json:"agent_phone_number_id"`
	ScheduledTimeUnix  *int64           `json:"scheduled_time_unix,omitempty"`
	Recipients         []BatchRecipient `json:"recipients"`
}

type BatchRecipient struct {
	PhoneNumber string `json:"phone_number"`
	// ClientData is forwarded to the agent verbatim (dynamic variables etc).
	ClientData json.RawMessage `json:"conversation_initiation_client_data,omitempty"`
}

// Batch is the provider's view of a batch call and its recipients.
type Batch struct {
	ID                   string            `json:"id"`
	Name                 string            `json:"name"`
	AgentID              string            `json:"agent_id"`
	Status               string            `json:"status"`
	CreatedAtUnix        int64             `json:"created_at_unix"`
	LastUpdatedAtUnix    int64             `json:"last_updated_at_unix"`
	TotalCallsDispatched int               `json:"total_calls_dispatched"`
	TotalCallsScheduled  int               `json:"total_calls_scheduled"`
	Recipients           []RecipientStatus `json:"recipients,omitempty"`
}

func (b Batch) LastUpdatedAt() time.Time { return unixOrZero(b.LastUpdatedAtUnix) }

type RecipientStatus struct {
	ID             string          `json:"id"`
	PhoneNumber    string          `json:"phone_number"`
	Status         string          `json:"status"`
	ConversationID string          `json:"conversation_id,omitempty"`
	UpdatedAtUnix  int64           `json:"updated_at_unix"`
	ClientData     json.RawMessage `json:"conversation_initiation_client_data,omitempty"`
}

func (r RecipientStatus) UpdatedAt() time.Time { return unixOrZero(r.UpdatedAtUnix) }

// Conversation is the post-call record. The webhook post_call_transcription
// payload carries the same shape under "data".
type Conversation struct {
	ConversationID string               `json:"conversation_id"`
	AgentID        string               `json:"agent_id"`
	Status         string               `json:"status"`
	Transcript     json.RawMessage      `json:"transcript,omitempty"`
	Metadata       ConversationMetadata `json:"metadata"`
	Analysis       json.RawMessage      `json:"analysis,omitempty"`
	HasAudio       bool                 `json:"has_audio"`
}

type ConversationMetadata struct {
	StartTimeUnixSecs int64           `json:"start_time_unix_secs"`
	CallDurationSecs  int             `json:"call_duration_secs"`
	Cost              decimal.Decimal `json:"cost"`
	BatchCall         *BatchCallRef   `json:"batch_call,omitempty"`
}

type BatchCallRef struct {
	BatchCallID          string `json:"batch_call_id"`
	BatchCallRecipientID string `json:"batch_call_recipient_id"`
}

// BatchID returns the batch the conversation belongs to, if any.
func (c Conversation) BatchID() string {
	if c.Metadata.BatchCall == nil {
		return ""
	}
	return c.Metadata.BatchCall.BatchCallID
}

// RecipientID returns the batch recipient the conversation belongs to, if any.
func (c Conversation) RecipientID() string {
	if c.Metadata.BatchCall == nil {
		return ""
	}
	return c.Metadata.BatchCall.BatchCallRecipientID
}

// CallSuccessful reads analysis.call_successful; only "success" counts.
func (c Conversation) CallSuccessful() bool {
	if len(c.Analysis) == 0 {
		return false
	}
	var a struct {
		CallSuccessful string `json:"call_successful"`
	}
	if err := json.Unmarshal(c.Analysis, &a); err != nil {
		return false
	}
	return a.CallSuccessful == "success"
}

// BatchStatusUpdate is the data payload of a batch_status_update webhook.
type BatchStatusUpdate struct {
	BatchID              string `json:"batch_id"`
	Status               string `json:"status"`
	TotalCallsDispatched int    `json:"total_calls_dispatched"`
	LastUpdatedAtUnix    int64  `json:"last_updated_at_unix"`
}

func (u BatchStatusUpdate) LastUpdatedAt() time.Time { return unixOrZero(u.LastUpdatedAtUnix) }

func unixOrZero(s int64) time.Time {
	if s <= 0 {
		return time.Time{}
	}
	return time.Unix(s, 0).UTC()
}
