package campaigns

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local runs.
// Conditional transitions are evaluated under the store mutex, mirroring the
// WHERE status = ... guards of the Postgres implementation.
type MemoryStore struct {
	mu sync.Mutex

	campaigns     map[string]Campaign
	batches       map[string]BatchCall
	recipients    map[recipientKey]Recipient
	conversations map[string]Conversation
}

type recipientKey struct{ id, batchID string }

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		campaigns:     map[string]Campaign{},
		batches:       map[string]BatchCall{},
		recipients:    map[recipientKey]Recipient{},
		conversations: map[string]Conversation{},
	}
}

func (m *MemoryStore) CreateCampaign(ctx context.Context, c Campaign) error {
	if c.ID == "" || c.UserID == "" {
		return ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.Status == "" {
		c.Status = CampaignStatusDraft
	}
	m.campaigns[c.ID] = c
	return nil
}

func (m *MemoryStore) GetCampaign(ctx context.Context, id string) (Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return Campaign{}, ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) MarkLaunched(ctx context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return false, ErrNotFound
	}
	if c.Status != CampaignStatusDraft {
		return false, nil
	}
	c.Status = CampaignStatusLaunched
	c.LaunchedAt = &at
	c.UpdatedAt = at
	m.campaigns[id] = c
	return true, nil
}

func (m *MemoryStore) TransitionTerminal(ctx context.Context, id string, to CampaignStatus, at time.Time) (bool, error) {
	if !to.Terminal() {
		return false, ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return false, ErrNotFound
	}
	if c.Status != CampaignStatusLaunched {
		return false, nil
	}
	c.Status = to
	c.UpdatedAt = at
	m.campaigns[id] = c
	return true, nil
}

func (m *MemoryStore) ListStaleCompleted(ctx context.Context, cutoff time.Time, after StaleCursor, limit int) ([]Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Campaign, 0)
	for _, c := range m.campaigns {
		if c.Status != CampaignStatusCompleted || c.LaunchedAt == nil {
			continue
		}
		if c.LaunchedAt.Before(cutoff) && after.before(*c.LaunchedAt, c.ID) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LaunchedAt.Equal(*out[j].LaunchedAt) {
			return out[i].LaunchedAt.Before(*out[j].LaunchedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) CreateBatch(ctx context.Context, b BatchCall) error {
	if b.ID == "" || b.UserID == "" {
		return ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.batches[b.ID]; ok {
		return nil
	}
	m.batches[b.ID] = b
	return nil
}

func (m *MemoryStore) GetBatch(ctx context.Context, id string) (BatchCall, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return BatchCall{}, ErrNotFound
	}
	return b, nil
}

func (m *MemoryStore) GetBatchByCampaign(ctx context.Context, campaignID string) (BatchCall, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.batches {
		if b.CampaignID == campaignID {
			return b, nil
		}
	}
	return BatchCall{}, ErrNotFound
}

func (m *MemoryStore) UpdateBatchStatus(ctx context.Context, u BatchStatusUpdate) (BatchCall, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[u.BatchID]
	if !ok {
		return BatchCall{}, ErrNotFound
	}
	b.Status = u.Status
	b.TotalCallsDispatched = u.TotalCallsDispatched
	if !u.LastUpdatedAt.IsZero() {
		b.LastUpdatedAt = u.LastUpdatedAt
	}
	m.batches[u.BatchID] = b
	return b, nil
}

func (m *MemoryStore) FindRecipient(ctx context.Context, recipientID, batchID string) (Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if batchID != "" {
		r, ok := m.recipients[recipientKey{recipientID, batchID}]
		if !ok {
			return Recipient{}, ErrNotFound
		}
		return r, nil
	}
	for k, r := range m.recipients {
		if k.id == recipientID {
			return r, nil
		}
	}
	return Recipient{}, ErrNotFound
}

func (m *MemoryStore) UpsertRecipient(ctx context.Context, r Recipient) error {
	if r.ID == "" || r.BatchID == "" {
		return ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := recipientKey{r.ID, r.BatchID}
	if prev, ok := m.recipients[k]; ok && r.ConversationID == "" {
		r.ConversationID = prev.ConversationID
	}
	m.recipients[k] = r
	return nil
}

func (m *MemoryStore) LinkRecipient(ctx context.Context, recipientID, batchID, status, conversationID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, r := range m.recipients {
		if k.id != recipientID || (batchID != "" && k.batchID != batchID) {
			continue
		}
		r.Status = status
		if conversationID != "" {
			r.ConversationID = conversationID
		}
		r.UpdatedAt = at
		m.recipients[k] = r
		return true, nil
	}
	return false, nil
}

func (m *MemoryStore) CountRecipients(ctx context.Context, batchID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.recipients {
		if k.batchID == batchID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) UpsertConversation(ctx context.Context, c Conversation) (Conversation, error) {
	if c.ConversationID == "" || c.UserID == "" {
		return Conversation{}, ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.conversations[c.ConversationID]; ok {
		c.CreatedAt = prev.CreatedAt
		c.UserID = prev.UserID
		c.CampaignID = firstNonEmpty(c.CampaignID, prev.CampaignID)
		c.BatchID = firstNonEmpty(c.BatchID, prev.BatchID)
		c.RecipientID = firstNonEmpty(c.RecipientID, prev.RecipientID)
	}
	m.conversations[c.ConversationID] = c
	return c, nil
}

func (m *MemoryStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) ListConversations(ctx context.Context, f ConversationFilter) ([]Conversation, error) {
	if f.CampaignID == "" && f.BatchID == "" {
		return nil, ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Conversation, 0)
	for _, c := range m.conversations {
		if f.CampaignID != "" && c.CampaignID != f.CampaignID {
			continue
		}
		if f.BatchID != "" && c.BatchID != f.BatchID {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConversationID < out[j].ConversationID })
	return out, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
