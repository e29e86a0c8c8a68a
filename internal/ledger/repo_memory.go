package ledger

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store useful for tests and local runs.
// The single mutex stands in for the row-level atomicity Postgres provides:
// the refund check and the balance delta happen under one critical section.
type MemoryStore struct {
	mu       sync.Mutex
	txs      []Transaction
	balances map[string]Balance
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{balances: map[string]Balance{}}
}

func (m *MemoryStore) Append(ctx context.Context, tx Transaction) (Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx.Type == TypeDeduction && m.findLocked(tx.UserID, tx.BatchID, TypeDeduction) != nil {
		return Balance{}, ErrDuplicate
	}
	if tx.Type == TypeRefund && m.findLocked(tx.UserID, tx.BatchID, TypeRefund) != nil {
		return Balance{}, ErrDuplicate
	}

	b := m.balances[tx.UserID]
	delta := tx.Type.Delta(tx.Minutes)
	if delta < 0 && b.AvailableMinutes+delta < 0 {
		return Balance{}, ErrInsufficientMinutes
	}
	m.txs = append(m.txs, tx)
	return m.applyLocked(tx.UserID, delta, tx), nil
}

func (m *MemoryStore) AppendRefundOnce(ctx context.Context, tx Transaction) (bool, Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findLocked(tx.UserID, tx.BatchID, TypeRefund) != nil {
		return false, m.balanceLocked(tx.UserID), nil
	}
	m.txs = append(m.txs, tx)
	return true, m.applyLocked(tx.UserID, tx.Minutes, tx), nil
}

func (m *MemoryStore) FindFirst(ctx context.Context, userID, batchID string, typ TransactionType) (Transaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx := m.findLocked(userID, batchID, typ); tx != nil {
		return *tx, true, nil
	}
	return Transaction{}, false, nil
}

func (m *MemoryStore) GetBalance(ctx context.Context, userID string) (Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[userID]
	if !ok {
		return Balance{}, ErrNotFound
	}
	return b, nil
}

func (m *MemoryStore) List(ctx context.Context, f Filter) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transaction, 0)
	for _, tx := range m.txs {
		if f.matches(tx) {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// SetBalance seeds a balance without a ledger row. Test setup only.
func (m *MemoryStore) SetBalance(userID string, minutes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] = Balance{UserID: userID, AvailableMinutes: minutes}
}

func (m *MemoryStore) findLocked(userID, batchID string, typ TransactionType) *Transaction {
	var first *Transaction
	for i := range m.txs {
		tx := &m.txs[i]
		if tx.UserID != userID || tx.BatchID != batchID || tx.Type != typ {
			continue
		}
		if first == nil || tx.CreatedAt.Before(first.CreatedAt) {
			first = tx
		}
	}
	return first
}

func (m *MemoryStore) balanceLocked(userID string) Balance {
	b, ok := m.balances[userID]
	if !ok {
		return Balance{UserID: userID}
	}
	return b
}

func (m *MemoryStore) applyLocked(userID string, delta int, tx Transaction) Balance {
	b := m.balanceLocked(userID)
	b.AvailableMinutes += delta
	b.UpdatedAt = tx.CreatedAt
	m.balances[userID] = b
	return b
}
