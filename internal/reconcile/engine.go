// Package reconcile applies provider events to campaign state and settles
// prepaid minutes against actual usage.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"voice-campaigns/internal/campaigns"
	"voice-campaigns/internal/events"
	"voice-campaigns/internal/ledger"
	"voice-campaigns/internal/usage"
)

// Ledger is the subset of *ledger.Service settlement needs.
type Ledger interface {
	OriginalDeduction(ctx context.Context, userID, batchID string) (ledger.Transaction, error)
	ExistingRefund(ctx context.Context, userID, batchID string) (ledger.Transaction, bool, error)
	RefundOnce(ctx context.Context, req ledger.RefundRequest) (ledger.RefundResult, error)
}

// Auditor is satisfied by *audit.Service.
type Auditor interface {
	LogSettlement(ctx context.Context, userID, campaignID, batchID string, refunded int, applied bool) error
	LogCampaignTransition(ctx context.Context, userID, campaignID, from, to string) error
	LogOwnerUnresolved(ctx context.Context, conversationID, batchID, reason string, payload []byte) error
}

type Options struct {
	Ledger Ledger
	Store  campaigns.Store
	Audit  Auditor
	Events events.Publisher
	Logger *slog.Logger
}

// Engine is safe for concurrent use by webhook handlers, pollers and sweeps.
// It holds no locks: exactly-once effects come from conditional writes in the stores.
type Engine struct {
	ledger Ledger
	store  campaigns.Store
	audit  Auditor
	events events.Publisher
	log    *slog.Logger
	clock  func() time.Time
}

func NewEngine(opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	pub := opts.Events
	if pub == nil {
		pub = events.Noop{}
	}
	return &Engine{
		ledger: opts.Ledger,
		store:  opts.Store,
		audit:  opts.Audit,
		events: pub,
		log:    log.With("component", "reconcile"),
		clock:  time.Now,
	}
}

// IngestConversationEvent records a call attempt. The owner is resolved from
// the recipient, else from the batch. It never touches the ledger.
func (e *Engine) IngestConversationEvent(ctx context.Context, ev ConversationEvent) (ConversationResult, error) {
	if ev.ConversationID == "" {
		return ConversationResult{}, campaigns.ErrInvalidArgument
	}
	log := e.log.With("conversation_id", ev.ConversationID, "batch_id", ev.BatchID)

	userID, batchID, err := e.resolveOwner(ctx, ev)
	if err != nil {
		var ore *OwnerResolutionError
		if errors.As(err, &ore) && e.audit != nil {
			if aerr := e.audit.LogOwnerUnresolved(ctx, ev.ConversationID, ev.BatchID, "no matching recipient or batch", ev.Raw); aerr != nil {
				log.Warn("audit owner_unresolved failed", "err", aerr)
			}
		}
		return ConversationResult{}, err
	}

	var campaignID string
	if batchID != "" {
		b, err := e.store.GetBatch(ctx, batchID)
		switch {
		case err == nil:
			campaignID = b.CampaignID
		case !errors.Is(err, campaigns.ErrNotFound):
			return ConversationResult{}, persistence("get batch", err)
		}
	}

	now := e.clock().UTC()
	at := ev.OccurredAt
	if at.IsZero() {
		at = now
	}
	conv, err := e.store.UpsertConversation(ctx, campaigns.Conversation{
		ConversationID:   ev.ConversationID,
		UserID:           userID,
		CampaignID:       campaignID,
		BatchID:          batchID,
		RecipientID:      ev.RecipientID,
		AgentID:          ev.AgentID,
		Status:           ev.Status,
		CallDurationSecs: ev.CallDurationSecs,
		CallSuccessful:   ev.CallSuccessful,
		Cost:             ev.Cost,
		Transcript:       ev.Transcript,
		Analysis:         ev.Analysis,
		HasAudio:         ev.HasAudio,
		CreatedAt:        at,
		UpdatedAt:        now,
	})
	if err != nil {
		return ConversationResult{}, persistence("upsert conversation", err)
	}

	res := ConversationResult{Conversation: conv}
	if ev.RecipientID != "" {
		linked, err := e.store.LinkRecipient(ctx, ev.RecipientID, batchID, ev.Status, ev.ConversationID, now)
		if err != nil {
			log.Error("link recipient failed", "recipient_id", ev.RecipientID, "err", err)
		} else if !linked {
			log.Info("recipient not found yet; conversation stored without link", "recipient_id", ev.RecipientID)
		}
		res.RecipientLinked = linked
	}

	e.publish(ctx, events.Event{
		Type:           events.TypeConversationRecorded,
		UserID:         userID,
		CampaignID:     campaignID,
		BatchID:        batchID,
		ConversationID: ev.ConversationID,
		Status:         ev.Status,
		Minutes:        usage.BillableMinutes(ev.CallDurationSecs, ev.Status),
		OccurredAt:     now,
	})
	return res, nil
}

func (e *Engine) resolveOwner(ctx context.Context, ev ConversationEvent) (userID, batchID string, err error) {
	if ev.RecipientID != "" {
		r, err := e.store.FindRecipient(ctx, ev.RecipientID, ev.BatchID)
		switch {
		case err == nil:
			return r.UserID, r.BatchID, nil
		case !errors.Is(err, campaigns.ErrNotFound):
			return "", "", persistence("find recipient", err)
		}
	}
	if ev.BatchID != "" {
		b, err := e.store.GetBatch(ctx, ev.BatchID)
		switch {
		case err == nil:
			return b.UserID, b.ID, nil
		case !errors.Is(err, campaigns.ErrNotFound):
			return "", "", persistence("get batch", err)
		}
	}
	return "", "", &OwnerResolutionError{
		ConversationID: ev.ConversationID,
		BatchID:        ev.BatchID,
		RecipientID:    ev.RecipientID,
	}
}

// IngestBatchStatusEvent mirrors the provider batch and, on a terminal status,
// moves the linked campaign out of launched and settles its minutes.
func (e *Engine) IngestBatchStatusEvent(ctx context.Context, ev BatchStatusEvent) (BatchOutcome, error) {
	if ev.BatchID == "" {
		return BatchOutcome{}, campaigns.ErrInvalidArgument
	}
	log := e.log.With("batch_id", ev.BatchID)

	b, err := e.store.UpdateBatchStatus(ctx, campaigns.BatchStatusUpdate{
		BatchID:              ev.BatchID,
		Status:               ev.Status,
		TotalCallsDispatched: ev.TotalCallsDispatched,
		LastUpdatedAt:        ev.LastUpdatedAt,
	})
	if err != nil {
		if errors.Is(err, campaigns.ErrNotFound) {
			return BatchOutcome{}, &OwnerResolutionError{BatchID: ev.BatchID}
		}
		return BatchOutcome{}, persistence("update batch", err)
	}

	out := BatchOutcome{Batch: b, Transition: MapBatchStatus(ev.Status)}
	if !out.Transition.Terminal() {
		return out, nil
	}

	failed := out.Transition == Failed
	if b.CampaignID != "" {
		c, err := e.store.GetCampaign(ctx, b.CampaignID)
		if err != nil {
			return out, persistence("get campaign", err)
		}
		won, err := e.store.TransitionTerminal(ctx, c.ID, campaigns.CampaignStatus(out.Transition), e.clock().UTC())
		if err != nil {
			return out, persistence("transition campaign", err)
		}
		out.Transitioned = won
		if won {
			log.Info("campaign transitioned", "campaign_id", c.ID, "from", c.Status, "to", out.Transition)
			e.recordTransition(ctx, c, out.Transition)
		} else {
			// Someone else decided, or the campaign never launched.
			c, err = e.store.GetCampaign(ctx, c.ID)
			if err != nil {
				return out, persistence("get campaign", err)
			}
			if !c.Status.Terminal() {
				log.Warn("terminal batch status for campaign not launched", "campaign_id", c.ID, "status", c.Status)
				return out, nil
			}
			failed = c.Status == campaigns.CampaignStatusFailed
		}
	}

	s, err := e.SettleCampaignMinutes(ctx, b.ID, b.UserID, failed)
	if err != nil {
		var nd *NoDeductionFoundError
		if errors.As(err, &nd) {
			log.Warn("settlement skipped: no deduction", "user_id", b.UserID)
			out.SettlementSkipped = true
			return out, nil
		}
		return out, err
	}
	out.Settlement = &s
	return out, nil
}

func (e *Engine) recordTransition(ctx context.Context, c campaigns.Campaign, to Transition) {
	if e.audit != nil {
		if err := e.audit.LogCampaignTransition(ctx, c.UserID, c.ID, string(c.Status), string(to)); err != nil {
			e.log.Warn("audit campaign transition failed", "campaign_id", c.ID, "err", err)
		}
	}
	typ := events.TypeCampaignCompleted
	if to == Failed {
		typ = events.TypeCampaignFailed
	}
	e.publish(ctx, events.Event{
		Type:       typ,
		UserID:     c.UserID,
		CampaignID: c.ID,
		Status:     string(to),
		OccurredAt: e.clock().UTC(),
	})
}

// IngestRecipientSnapshot upserts polled recipients. Each recipient is written
// independently; a failure is logged and counted without stopping the rest.
func (e *Engine) IngestRecipientSnapshot(ctx context.Context, batchID string, snaps []RecipientSnapshot) (SnapshotResult, error) {
	b, err := e.store.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, campaigns.ErrNotFound) {
			return SnapshotResult{}, &OwnerResolutionError{BatchID: batchID}
		}
		return SnapshotResult{}, persistence("get batch", err)
	}
	log := e.log.With("batch_id", batchID)

	var res SnapshotResult
	now := e.clock().UTC()
	for _, s := range snaps {
		at := s.UpdatedAt
		if at.IsZero() {
			at = now
		}
		err := e.store.UpsertRecipient(ctx, campaigns.Recipient{
			ID:             s.ID,
			BatchID:        batchID,
			UserID:         b.UserID,
			PhoneNumber:    s.PhoneNumber,
			Metadata:       s.Metadata,
			Status:         s.Status,
			ConversationID: s.ConversationID,
			UpdatedAt:      at,
		})
		if err != nil {
			res.Failed++
			log.Error("upsert recipient failed", "recipient_id", s.ID, "err", err)
			continue
		}
		res.Upserted++

		if s.ConversationID == "" {
			continue
		}
		_, err = e.store.GetConversation(ctx, s.ConversationID)
		switch {
		case errors.Is(err, campaigns.ErrNotFound):
			res.PendingConversations = append(res.PendingConversations, s.ConversationID)
		case err != nil:
			log.Error("lookup conversation failed", "conversation_id", s.ConversationID, "err", err)
		}
	}
	return res, nil
}

// SettleCampaignMinutes refunds the unused part of a batch's deduction.
//
// A failed batch refunds the whole deduction. Otherwise the refund is the
// deduction minus the billable minutes of the campaign's conversations,
// floored at zero. It is safe to call any number of times, concurrently: at
// most one refund is ever written for (userID, batchID).
func (e *Engine) SettleCampaignMinutes(ctx context.Context, batchID, userID string, failed bool) (Settlement, error) {
	log := e.log.With("batch_id", batchID, "user_id", userID)

	orig, err := e.ledger.OriginalDeduction(ctx, userID, batchID)
	if err != nil {
		if errors.Is(err, ledger.ErrNoDeduction) {
			return Settlement{}, &NoDeductionFoundError{UserID: userID, BatchID: batchID}
		}
		return Settlement{}, persistence("find deduction", err)
	}

	s := Settlement{
		UserID:          userID,
		CampaignID:      orig.CampaignID,
		BatchID:         batchID,
		Failed:          failed,
		OriginalMinutes: orig.Minutes,
	}

	if existing, ok, err := e.ledger.ExistingRefund(ctx, userID, batchID); err != nil {
		return Settlement{}, persistence("find refund", err)
	} else if ok {
		s.RefundMinutes = existing.Minutes
		s.AlreadySettled = true
		return s, nil
	}

	if failed {
		s.RefundMinutes = orig.Minutes
	} else {
		used, err := e.usedMinutes(ctx, orig.CampaignID, batchID)
		if err != nil {
			return Settlement{}, err
		}
		s.UsedMinutes = used
		s.RefundMinutes = usage.RefundFor(orig.Minutes, used)
	}

	if s.RefundMinutes == 0 {
		log.Info("settled with no refund", "original", s.OriginalMinutes, "used", s.UsedMinutes)
		return s, nil
	}

	desc := "unused minutes"
	if failed {
		desc = "batch failed"
	}
	res, err := e.ledger.RefundOnce(ctx, ledger.RefundRequest{
		UserID:      userID,
		CampaignID:  orig.CampaignID,
		BatchID:     batchID,
		Minutes:     s.RefundMinutes,
		Description: desc,
	})
	if err != nil {
		return Settlement{}, persistence("refund", err)
	}
	s.Balance = res.Balance
	s.AlreadySettled = !res.Applied
	s.RefundMinutes = res.Transaction.Minutes

	if e.audit != nil {
		if err := e.audit.LogSettlement(ctx, userID, orig.CampaignID, batchID, s.RefundMinutes, res.Applied); err != nil {
			log.Warn("audit settlement failed", "err", err)
		}
	}
	if res.Applied {
		log.Info("refund applied", "minutes", s.RefundMinutes, "balance", res.Balance.AvailableMinutes)
		e.publish(ctx, events.Event{
			Type:       events.TypeBatchSettled,
			UserID:     userID,
			CampaignID: orig.CampaignID,
			BatchID:    batchID,
			Minutes:    s.RefundMinutes,
			OccurredAt: e.clock().UTC(),
		})
	}
	return s, nil
}

// usedMinutes sums billable minutes for the campaign, or for the batch when
// the deduction was not tied to a campaign.
func (e *Engine) usedMinutes(ctx context.Context, campaignID, batchID string) (int, error) {
	f := campaigns.ConversationFilter{CampaignID: campaignID}
	if campaignID == "" {
		f.BatchID = batchID
	}
	convs, err := e.store.ListConversations(ctx, f)
	if err != nil {
		return 0, persistence("list conversations", err)
	}
	return usage.Sum(convs).BillableMinutes, nil
}

func (e *Engine) publish(ctx context.Context, ev events.Event) {
	if err := e.events.Publish(ctx, ev); err != nil {
		e.log.Warn("publish event failed", "type", ev.Type, "err", err)
	}
}
