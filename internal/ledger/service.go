package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence contract for the minutes ledger.
//
// Implementations must provide, atomically within one storage transaction:
//   - Append: insert the ledger row and adjust the balance by its delta.
//     A deduction must fail with ErrInsufficientMinutes instead of driving the balance negative.
//   - AppendRefundOnce: insert a refund only if none exists for (user_id, batch_id),
//     and adjust the balance only when the insert happened.
//
// Balance changes are expressed as deltas on the stored value, never read-modify-write.
type Store interface {
	Append(ctx context.Context, tx Transaction) (Balance, error)
	AppendRefundOnce(ctx context.Context, tx Transaction) (applied bool, bal Balance, err error)

	FindFirst(ctx context.Context, userID, batchID string, typ TransactionType) (Transaction, bool, error)
	GetBalance(ctx context.Context, userID string) (Balance, error)
	List(ctx context.Context, f Filter) ([]Transaction, error)
}

// Service is the single writer of minute balances.
//
// Money invariants:
//   - No balance updates without a ledger row
//   - Ledger is append-only (immutable)
//   - At most one refund per (user_id, batch_id), capped at the original deduction
type Service struct {
	store Store
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, clock: time.Now}
}

var (
	ErrNotFound            = errors.New("ledger: not found")
	ErrInsufficientMinutes = errors.New("ledger: insufficient minutes")
	ErrInvalidArgument     = errors.New("ledger: invalid argument")
	ErrDuplicate           = errors.New("ledger: duplicate transaction")
	ErrNoDeduction         = errors.New("ledger: no deduction for batch")
)

// ApplyRequest posts a purchase, bonus or deduction.
type ApplyRequest struct {
	UserID      string          `json:"user_id"`
	CampaignID  string          `json:"campaign_id,omitempty"`
	BatchID     string          `json:"batch_id,omitempty"`
	Type        TransactionType `json:"type"`
	Minutes     int             `json:"minutes"`
	Description string          `json:"description,omitempty"`
}

// RefundRequest returns unused minutes for a batch.
type RefundRequest struct {
	UserID      string
	CampaignID  string
	BatchID     string
	Minutes     int
	Description string
}

// RefundResult reports the outcome of RefundOnce.
// Applied is false when a refund for the batch already existed.
type RefundResult struct {
	Applied     bool        `json:"applied"`
	Transaction Transaction `json:"transaction"`
	Balance     Balance     `json:"balance"`
}

// ApplyTransaction appends a non-refund row and adjusts the balance.
// Refunds must go through RefundOnce so the exactly-once rule holds.
func (s *Service) ApplyTransaction(ctx context.Context, req ApplyRequest) (Transaction, Balance, error) {
	if err := validateApply(req); err != nil {
		return Transaction{}, Balance{}, err
	}
	tx := Transaction{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		CampaignID:  req.CampaignID,
		BatchID:     req.BatchID,
		Type:        req.Type,
		Minutes:     req.Minutes,
		Description: req.Description,
		CreatedAt:   s.clock().UTC(),
	}
	bal, err := s.store.Append(ctx, tx)
	if err != nil {
		return Transaction{}, Balance{}, err
	}
	return tx, bal, nil
}

// OriginalDeduction returns the deduction recorded for (userID, batchID).
func (s *Service) OriginalDeduction(ctx context.Context, userID, batchID string) (Transaction, error) {
	if userID == "" || batchID == "" {
		return Transaction{}, ErrInvalidArgument
	}
	tx, ok, err := s.store.FindFirst(ctx, userID, batchID, TypeDeduction)
	if err != nil {
		return Transaction{}, err
	}
	if !ok {
		return Transaction{}, ErrNoDeduction
	}
	return tx, nil
}

// ExistingRefund returns the refund already recorded for (userID, batchID), if any.
func (s *Service) ExistingRefund(ctx context.Context, userID, batchID string) (Transaction, bool, error) {
	if userID == "" || batchID == "" {
		return Transaction{}, false, ErrInvalidArgument
	}
	return s.store.FindFirst(ctx, userID, batchID, TypeRefund)
}

// RefundOnce appends a refund for the batch unless one already exists.
//
// The requested minutes are capped at the batch's original deduction, so no
// sequence of calls can return more than was charged. Concurrent callers race on
// the storage-level conditional insert; exactly one of them sees Applied.
func (s *Service) RefundOnce(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if req.UserID == "" || req.BatchID == "" || req.Minutes <= 0 {
		return RefundResult{}, ErrInvalidArgument
	}

	orig, err := s.OriginalDeduction(ctx, req.UserID, req.BatchID)
	if err != nil {
		return RefundResult{}, err
	}
	minutes := min(req.Minutes, orig.Minutes)
	if minutes <= 0 {
		return RefundResult{}, ErrInvalidArgument
	}
	campaignID := req.CampaignID
	if campaignID == "" {
		campaignID = orig.CampaignID
	}

	tx := Transaction{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		CampaignID:  campaignID,
		BatchID:     req.BatchID,
		Type:        TypeRefund,
		Minutes:     minutes,
		Description: req.Description,
		CreatedAt:   s.clock().UTC(),
	}
	applied, bal, err := s.store.AppendRefundOnce(ctx, tx)
	if err != nil {
		return RefundResult{}, err
	}
	if !applied {
		existing, _, err := s.store.FindFirst(ctx, req.UserID, req.BatchID, TypeRefund)
		if err != nil {
			return RefundResult{}, err
		}
		return RefundResult{Applied: false, Transaction: existing, Balance: bal}, nil
	}
	return RefundResult{Applied: true, Transaction: tx, Balance: bal}, nil
}

func (s *Service) GetBalance(ctx context.Context, userID string) (Balance, error) {
	if userID == "" {
		return Balance{}, ErrInvalidArgument
	}
	return s.store.GetBalance(ctx, userID)
}

func (s *Service) ListTransactions(ctx context.Context, f Filter) ([]Transaction, error) {
	if f.UserID == "" {
		return nil, ErrInvalidArgument
	}
	if f.Type != "" && !f.Type.Valid() {
		return nil, ErrInvalidArgument
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 500
	}
	return s.store.List(ctx, f)
}

func validateApply(req ApplyRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return ErrInvalidArgument
	}
	if !req.Type.Valid() || req.Type == TypeRefund {
		return ErrInvalidArgument
	}
	if req.Minutes <= 0 {
		return ErrInvalidArgument
	}
	if req.Type == TypeDeduction && req.BatchID == "" {
		return ErrInvalidArgument
	}
	return nil
}
