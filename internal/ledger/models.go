package ledger

import "time"

// Transaction is an immutable, append-only minutes ledger row.
//
// Minutes is always recorded positive; Type carries the sign.
// Invariant: for a given (user_id, batch_id) there is at most one refund, and it
// never exceeds the original deduction for that batch.
type Transaction struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	CampaignID string          `json:"campaign_id,omitempty"`
	BatchID    string          `json:"batch_id,omitempty"`
	Type       TransactionType `json:"type"`
	Minutes    int             `json:"minutes"`

	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type TransactionType string

const (
	TypeDeduction TransactionType = "deduction" // minutes reserved at campaign launch
	TypeRefund    TransactionType = "refund"    // unused minutes returned after settlement
	TypePurchase  TransactionType = "purchase"
	TypeBonus     TransactionType = "bonus"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TypeDeduction, TypeRefund, TypePurchase, TypeBonus:
		return true
	default:
		return false
	}
}

// Delta is the signed balance effect of minutes posted with this type.
func (t TransactionType) Delta(minutes int) int {
	if t == TypeDeduction {
		return -minutes
	}
	return minutes
}

// Balance is the projection of a user's ledger. It is only ever adjusted in the
// same storage transaction that appends the matching ledger row.
type Balance struct {
	UserID           string    `json:"user_id"`
	AvailableMinutes int       `json:"available_minutes"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Filter narrows ListTransactions. UserID is required.
type Filter struct {
	UserID     string
	CampaignID string
	BatchID    string
	Type       TransactionType
	Limit      int
}

func (f Filter) matches(tx Transaction) bool {
	if tx.UserID != f.UserID {
		return false
	}
	if f.CampaignID != "" && tx.CampaignID != f.CampaignID {
		return false
	}
	if f.BatchID != "" && tx.BatchID != f.BatchID {
		return false
	}
	if f.Type != "" && tx.Type != f.Type {
		return false
	}
	return true
}
