package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
// It is append-only: there are no Update/Delete methods.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records internal audit information.
//
// Audit is internal-only. Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.UserID == "" && !e.Type.ownerless() {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogAdminAction records an operator action taken through the admin API.
func (s *Service) LogAdminAction(ctx context.Context, userID, actorUserID, actorRole, ip, message, metadata string) error {
	return s.Append(ctx, Event{
		UserID:      userID,
		Type:        EventTypeAdminAction,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		Message:     message,
		Metadata:    metadata,
	})
}

// LogSettlement records the outcome of a settlement attempt for a batch.
func (s *Service) LogSettlement(ctx context.Context, userID, campaignID, batchID string, refunded int, applied bool) error {
	msg := fmt.Sprintf("refunded %d minutes", refunded)
	if !applied {
		msg = "already settled"
	}
	return s.Append(ctx, Event{
		UserID:     userID,
		Type:       EventTypeSettlement,
		CampaignID: campaignID,
		BatchID:    batchID,
		Message:    msg,
	})
}

// LogCampaignTransition records a campaign status change.
func (s *Service) LogCampaignTransition(ctx context.Context, userID, campaignID, from, to string) error {
	return s.Append(ctx, Event{
		UserID:     userID,
		Type:       EventTypeCampaignTransition,
		CampaignID: campaignID,
		Message:    from + " -> " + to,
	})
}

// LogOwnerUnresolved keeps a provider payload whose owner could not be determined.
func (s *Service) LogOwnerUnresolved(ctx context.Context, conversationID, batchID, reason string, payload []byte) error {
	return s.Append(ctx, Event{
		Type:           EventTypeOwnerUnresolved,
		BatchID:        batchID,
		ConversationID: conversationID,
		Message:        reason,
		Metadata:       string(payload),
	})
}

// LogSignatureRejected records a webhook delivery that failed verification.
func (s *Service) LogSignatureRejected(ctx context.Context, ip, reason string) error {
	return s.Append(ctx, Event{
		Type:      EventTypeSignatureRejected,
		IPAddress: ip,
		Message:   reason,
	})
}
