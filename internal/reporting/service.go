package reporting

import (
	"context"
	"errors"
	"strings"

	"voice-campaigns/internal/campaigns"
	"voice-campaigns/internal/ledger"
	"voice-campaigns/internal/usage"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidRequest = errors.New("reporting: invalid request")
	ErrNotFound       = errors.New("reporting: not found")
)

// CampaignReader is the read side of campaigns.Store.
type CampaignReader interface {
	GetCampaign(ctx context.Context, id string) (campaigns.Campaign, error)
	GetBatchByCampaign(ctx context.Context, campaignID string) (campaigns.BatchCall, error)
	ListConversations(ctx context.Context, f campaigns.ConversationFilter) ([]campaigns.Conversation, error)
}

// LedgerReader is the read side of the minutes ledger.
type LedgerReader interface {
	ListTransactions(ctx context.Context, f ledger.Filter) ([]ledger.Transaction, error)
}

// Service builds read-only summaries from immutable sources: the minutes ledger
// and stored conversations. It never writes.
type Service struct {
	campaigns CampaignReader
	ledger    LedgerReader
}

func NewService(c CampaignReader, l LedgerReader) *Service {
	return &Service{campaigns: c, ledger: l}
}

func (s *Service) CampaignSummary(ctx context.Context, campaignID string) (CampaignSummary, error) {
	if strings.TrimSpace(campaignID) == "" {
		return CampaignSummary{}, ErrInvalidRequest
	}
	if s.campaigns == nil || s.ledger == nil {
		return CampaignSummary{}, errors.New("reporting: repository not configured")
	}

	c, err := s.campaigns.GetCampaign(ctx, campaignID)
	if err != nil {
		if errors.Is(err, campaigns.ErrNotFound) {
			return CampaignSummary{}, ErrNotFound
		}
		return CampaignSummary{}, err
	}
	out := CampaignSummary{
		CampaignID:   c.ID,
		UserID:       c.UserID,
		Status:       string(c.Status),
		ProviderCost: decimal.Zero,
	}

	b, err := s.campaigns.GetBatchByCampaign(ctx, c.ID)
	switch {
	case err == nil:
		out.BatchID = b.ID
		out.BatchStatus = b.Status
		out.ScheduledCalls = b.TotalCallsScheduled
		out.DispatchedCalls = b.TotalCallsDispatched
	case errors.Is(err, campaigns.ErrNotFound):
		// draft campaigns have no batch yet
	default:
		return CampaignSummary{}, err
	}

	convs, err := s.campaigns.ListConversations(ctx, campaigns.ConversationFilter{CampaignID: c.ID})
	if err != nil {
		return CampaignSummary{}, err
	}
	totals := usage.Sum(convs)
	out.TotalCalls = totals.Calls
	out.BillableCalls = totals.BillableCalls
	out.BillableMinutes = totals.BillableMinutes
	out.TotalDurationSeconds = totals.DurationSecs
	for _, cv := range convs {
		if cv.CallSuccessful {
			out.SuccessfulCalls++
		}
		if !usage.IsBillable(cv.Status) {
			out.FailedCalls++
		}
		if cv.HasAudio {
			out.RecordedCalls++
		}
		out.ProviderCost = out.ProviderCost.Add(cv.Cost)
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
	}

	txs, err := s.ledger.ListTransactions(ctx, ledger.Filter{UserID: c.UserID, CampaignID: c.ID})
	if err != nil {
		return CampaignSummary{}, err
	}
	for _, tx := range txs {
		switch tx.Type {
		case ledger.TypeDeduction:
			out.DeductedMinutes += tx.Minutes
		case ledger.TypeRefund:
			out.RefundedMinutes += tx.Minutes
			out.Settled = true
		}
	}
	out.NetMinutes = out.DeductedMinutes - out.RefundedMinutes
	return out, nil
}

func (s *Service) MinutesSummary(ctx context.Context, req MinutesSummaryRequest) (MinutesSummary, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return MinutesSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return MinutesSummary{}, ErrInvalidRequest
	}
	if s.ledger == nil {
		return MinutesSummary{}, errors.New("reporting: repository not configured")
	}

	txs, err := s.ledger.ListTransactions(ctx, ledger.Filter{UserID: req.UserID})
	if err != nil {
		return MinutesSummary{}, err
	}

	out := MinutesSummary{UserID: req.UserID}
	seen := map[string]struct{}{}
	for _, tx := range txs {
		if !req.Range.contains(tx.CreatedAt) {
			continue
		}
		switch tx.Type {
		case ledger.TypePurchase:
			out.PurchasedMinutes += tx.Minutes
		case ledger.TypeBonus:
			out.BonusMinutes += tx.Minutes
		case ledger.TypeDeduction:
			out.DeductedMinutes += tx.Minutes
		case ledger.TypeRefund:
			out.RefundedMinutes += tx.Minutes
		}
		out.NetDeltaMinutes += tx.Type.Delta(tx.Minutes)
		if tx.CampaignID != "" {
			seen[tx.CampaignID] = struct{}{}
		}
	}
	out.Campaigns = len(seen)
	return out, nil
}
