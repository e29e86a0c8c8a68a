package campaigns

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("campaigns: not found")
	ErrInvalidArgument = errors.New("campaigns: invalid argument")
)

// StaleCursor is a keyset position in the stale-completed listing.
type StaleCursor struct {
	LaunchedAt time.Time
	ID         string
}

// CursorAfter returns the position just past c.
func CursorAfter(c Campaign) StaleCursor {
	cur := StaleCursor{ID: c.ID}
	if c.LaunchedAt != nil {
		cur.LaunchedAt = *c.LaunchedAt
	}
	return cur
}

func (c StaleCursor) before(launchedAt time.Time, id string) bool {
	if !c.LaunchedAt.Equal(launchedAt) {
		return c.LaunchedAt.Before(launchedAt)
	}
	return c.ID < id
}

// Store is the persistence contract for campaign, batch, recipient and conversation state.
//
// Writers race here (webhooks, pollers, sweeps), so every status change is a
// conditional update and every ingest is an upsert keyed by provider ids.
type Store interface {
	CreateCampaign(ctx context.Context, c Campaign) error
	GetCampaign(ctx context.Context, id string) (Campaign, error)
	// MarkLaunched moves draft -> launched. It reports false if the campaign was not a draft.
	MarkLaunched(ctx context.Context, id string, at time.Time) (bool, error)
	// TransitionTerminal moves launched -> to. It reports false if the campaign was not launched,
	// which keeps terminal states final under concurrent writers.
	TransitionTerminal(ctx context.Context, id string, to CampaignStatus, at time.Time) (bool, error)
	// ListStaleCompleted returns completed campaigns launched before cutoff, ordered by
	// (launched_at, id) and strictly after the cursor. A zero cursor starts from the oldest.
	ListStaleCompleted(ctx context.Context, cutoff time.Time, after StaleCursor, limit int) ([]Campaign, error)

	CreateBatch(ctx context.Context, b BatchCall) error
	GetBatch(ctx context.Context, id string) (BatchCall, error)
	GetBatchByCampaign(ctx context.Context, campaignID string) (BatchCall, error)
	UpdateBatchStatus(ctx context.Context, u BatchStatusUpdate) (BatchCall, error)

	// FindRecipient matches by provider recipient id, narrowed by batchID when non-empty.
	FindRecipient(ctx context.Context, recipientID, batchID string) (Recipient, error)
	UpsertRecipient(ctx context.Context, r Recipient) error
	// LinkRecipient records a call status and conversation id on an existing recipient.
	// It reports false when the recipient does not exist yet.
	LinkRecipient(ctx context.Context, recipientID, batchID, status, conversationID string, at time.Time) (bool, error)
	CountRecipients(ctx context.Context, batchID string) (int, error)

	UpsertConversation(ctx context.Context, c Conversation) (Conversation, error)
	GetConversation(ctx context.Context, id string) (Conversation, error)
	ListConversations(ctx context.Context, f ConversationFilter) ([]Conversation, error)
}
