package campaigns

import (
	"context"
	"errors"
	"time"

	"voice-campaigns/pkg/utils"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// PostgresStore implements Store on the tables created by internal/migrate.
type PostgresStore struct {
	db utils.DB
}

func NewPostgresStore(db utils.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const campaignCols = `id, user_id, name, status, launched_at, created_at, updated_at`

func scanCampaign(row pgx.Row) (Campaign, error) {
	var (
		c      Campaign
		status string
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.Name, &status, &c.LaunchedAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return Campaign{}, err
	}
	c.Status = CampaignStatus(status)
	return c, nil
}

func (s *PostgresStore) CreateCampaign(ctx context.Context, c Campaign) error {
	if c.ID == "" || c.UserID == "" {
		return ErrInvalidArgument
	}
	if c.Status == "" {
		c.Status = CampaignStatusDraft
	}
	const q = `
INSERT INTO campaigns (id, user_id, name, status, launched_at, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`
	_, err := s.db.Exec(ctx, q, c.ID, c.UserID, c.Name, string(c.Status), c.LaunchedAt, c.CreatedAt, c.UpdatedAt)
	return eris.Wrap(err, "campaigns: create campaign")
}

func (s *PostgresStore) GetCampaign(ctx context.Context, id string) (Campaign, error) {
	const q = `SELECT ` + campaignCols + ` FROM campaigns WHERE id = $1`
	c, err := scanCampaign(s.db.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Campaign{}, ErrNotFound
		}
		return Campaign{}, eris.Wrap(err, "campaigns: get campaign")
	}
	return c, nil
}

func (s *PostgresStore) MarkLaunched(ctx context.Context, id string, at time.Time) (bool, error) {
	const q = `
UPDATE campaigns
SET status = 'launched', launched_at = $2, updated_at = $2
WHERE id = $1 AND status = 'draft'
`
	tag, err := s.db.Exec(ctx, q, id, at)
	if err != nil {
		return false, eris.Wrap(err, "campaigns: mark launched")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) TransitionTerminal(ctx context.Context, id string, to CampaignStatus, at time.Time) (bool, error) {
	if !to.Terminal() {
		return false, ErrInvalidArgument
	}
	const q = `
UPDATE campaigns
SET status = $2, updated_at = $3
WHERE id = $1 AND status = 'launched'
`
	tag, err := s.db.Exec(ctx, q, id, string(to), at)
	if err != nil {
		return false, eris.Wrapf(err, "campaigns: transition %s to %s", id, to)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ListStaleCompleted(ctx context.Context, cutoff time.Time, after StaleCursor, limit int) ([]Campaign, error) {
	const q = `SELECT ` + campaignCols + `
FROM campaigns
WHERE status = 'completed' AND launched_at < $1
  AND (launched_at, id) > ($2, $3)
ORDER BY launched_at ASC, id ASC
LIMIT $4
`
	rows, err := s.db.Query(ctx, q, cutoff, after.LaunchedAt, after.ID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "campaigns: list stale completed")
	}
	defer rows.Close()

	out := make([]Campaign, 0)
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, eris.Wrap(err, "campaigns: scan campaign")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const batchCols = `id, campaign_id, user_id, name, status, total_calls_scheduled, total_calls_dispatched, last_updated_at, created_at`

// campaign_id is NULL until the batch is linked.
const batchSelectCols = `id, COALESCE(campaign_id, ''), user_id, name, status, total_calls_scheduled, total_calls_dispatched, last_updated_at, created_at`

func scanBatch(row pgx.Row) (BatchCall, error) {
	var b BatchCall
	err := row.Scan(
		&b.ID,
		&b.CampaignID,
		&b.UserID,
		&b.Name,
		&b.Status,
		&b.TotalCallsScheduled,
		&b.TotalCallsDispatched,
		&b.LastUpdatedAt,
		&b.CreatedAt,
	)
	return b, err
}

func (s *PostgresStore) CreateBatch(ctx context.Context, b BatchCall) error {
	if b.ID == "" || b.UserID == "" {
		return ErrInvalidArgument
	}
	const q = `
INSERT INTO batch_calls (` + batchCols + `)
VALUES ($1,NULLIF($2,''),$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO NOTHING
`
	_, err := s.db.Exec(ctx, q,
		b.ID,
		b.CampaignID,
		b.UserID,
		b.Name,
		b.Status,
		b.TotalCallsScheduled,
		b.TotalCallsDispatched,
		b.LastUpdatedAt,
		b.CreatedAt,
	)
	return eris.Wrap(err, "campaigns: create batch")
}

func (s *PostgresStore) GetBatch(ctx context.Context, id string) (BatchCall, error) {
	const q = `SELECT ` + batchSelectCols + ` FROM batch_calls WHERE id = $1`
	b, err := scanBatch(s.db.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BatchCall{}, ErrNotFound
		}
		return BatchCall{}, eris.Wrap(err, "campaigns: get batch")
	}
	return b, nil
}

func (s *PostgresStore) GetBatchByCampaign(ctx context.Context, campaignID string) (BatchCall, error) {
	const q = `SELECT ` + batchSelectCols + ` FROM batch_calls WHERE campaign_id = $1 LIMIT 1`
	b, err := scanBatch(s.db.QueryRow(ctx, q, campaignID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BatchCall{}, ErrNotFound
		}
		return BatchCall{}, eris.Wrap(err, "campaigns: get batch by campaign")
	}
	return b, nil
}

func (s *PostgresStore) UpdateBatchStatus(ctx context.Context, u BatchStatusUpdate) (BatchCall, error) {
	const q = `
UPDATE batch_calls
SET status = $2,
    total_calls_dispatched = $3,
    last_updated_at = COALESCE($4, last_updated_at)
WHERE id = $1
RETURNING ` + batchSelectCols
	var last *time.Time
	if !u.LastUpdatedAt.IsZero() {
		last = &u.LastUpdatedAt
	}
	b, err := scanBatch(s.db.QueryRow(ctx, q, u.BatchID, u.Status, u.TotalCallsDispatched, last))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BatchCall{}, ErrNotFound
		}
		return BatchCall{}, eris.Wrap(err, "campaigns: update batch status")
	}
	return b, nil
}

const recipientCols = `id, batch_id, user_id, phone_number, metadata, status, conversation_id, updated_at`

func (s *PostgresStore) FindRecipient(ctx context.Context, recipientID, batchID string) (Recipient, error) {
	const q = `SELECT ` + recipientCols + `
FROM recipients
WHERE id = $1 AND ($2 = '' OR batch_id = $2)
LIMIT 1
`
	var r Recipient
	err := s.db.QueryRow(ctx, q, recipientID, batchID).Scan(
		&r.ID,
		&r.BatchID,
		&r.UserID,
		&r.PhoneNumber,
		&r.Metadata,
		&r.Status,
		&r.ConversationID,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Recipient{}, ErrNotFound
		}
		return Recipient{}, eris.Wrap(err, "campaigns: find recipient")
	}
	return r, nil
}

func (s *PostgresStore) UpsertRecipient(ctx context.Context, r Recipient) error {
	if r.ID == "" || r.BatchID == "" {
		return ErrInvalidArgument
	}
	const q = `
INSERT INTO recipients (` + recipientCols + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id, batch_id)
DO UPDATE SET status = EXCLUDED.status,
              phone_number = EXCLUDED.phone_number,
              metadata = COALESCE(EXCLUDED.metadata, recipients.metadata),
              conversation_id = COALESCE(NULLIF(EXCLUDED.conversation_id, ''), recipients.conversation_id),
              updated_at = EXCLUDED.updated_at
`
	_, err := s.db.Exec(ctx, q,
		r.ID,
		r.BatchID,
		r.UserID,
		r.PhoneNumber,
		nullJSON(r.Metadata),
		r.Status,
		r.ConversationID,
		r.UpdatedAt,
	)
	return eris.Wrapf(err, "campaigns: upsert recipient %s", r.ID)
}

func (s *PostgresStore) LinkRecipient(ctx context.Context, recipientID, batchID, status, conversationID string, at time.Time) (bool, error) {
	const q = `
UPDATE recipients
SET status = $3,
    conversation_id = COALESCE(NULLIF($4, ''), conversation_id),
    updated_at = $5
WHERE id = $1 AND ($2 = '' OR batch_id = $2)
`
	tag, err := s.db.Exec(ctx, q, recipientID, batchID, status, conversationID, at)
	if err != nil {
		return false, eris.Wrapf(err, "campaigns: link recipient %s", recipientID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) CountRecipients(ctx context.Context, batchID string) (int, error) {
	const q = `SELECT COUNT(*) FROM recipients WHERE batch_id = $1`
	var n int
	if err := s.db.QueryRow(ctx, q, batchID).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "campaigns: count recipients")
	}
	return n, nil
}

const conversationCols = `conversation_id, user_id, campaign_id, batch_id, recipient_id, agent_id, status,
call_duration_secs, call_successful, cost::text, transcript, analysis, has_audio, created_at, updated_at`

func scanConversation(row pgx.Row) (Conversation, error) {
	var (
		c    Conversation
		cost string
	)
	if err := row.Scan(
		&c.ConversationID,
		&c.UserID,
		&c.CampaignID,
		&c.BatchID,
		&c.RecipientID,
		&c.AgentID,
		&c.Status,
		&c.CallDurationSecs,
		&c.CallSuccessful,
		&cost,
		&c.Transcript,
		&c.Analysis,
		&c.HasAudio,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return Conversation{}, err
	}
	d, err := decimal.NewFromString(cost)
	if err != nil {
		return Conversation{}, eris.Wrapf(err, "campaigns: parse cost %q", cost)
	}
	c.Cost = d
	return c, nil
}

// UpsertConversation is keyed by conversation_id. Repeated delivery overwrites status,
// duration, cost and payloads with the latest values; ownership and linkage are kept.
func (s *PostgresStore) UpsertConversation(ctx context.Context, c Conversation) (Conversation, error) {
	if c.ConversationID == "" || c.UserID == "" {
		return Conversation{}, ErrInvalidArgument
	}
	const q = `
INSERT INTO conversations (
  conversation_id, user_id, campaign_id, batch_id, recipient_id, agent_id, status,
  call_duration_secs, call_successful, cost, transcript, analysis, has_audio, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10::numeric,$11,$12,$13,$14,$14
)
ON CONFLICT (conversation_id)
DO UPDATE SET status = EXCLUDED.status,
              call_duration_secs = EXCLUDED.call_duration_secs,
              call_successful = EXCLUDED.call_successful,
              cost = EXCLUDED.cost,
              transcript = COALESCE(EXCLUDED.transcript, conversations.transcript),
              analysis = COALESCE(EXCLUDED.analysis, conversations.analysis),
              has_audio = EXCLUDED.has_audio,
              campaign_id = COALESCE(NULLIF(conversations.campaign_id, ''), EXCLUDED.campaign_id),
              batch_id = COALESCE(NULLIF(conversations.batch_id, ''), EXCLUDED.batch_id),
              recipient_id = COALESCE(NULLIF(conversations.recipient_id, ''), EXCLUDED.recipient_id),
              updated_at = EXCLUDED.updated_at
RETURNING ` + conversationCols
	out, err := scanConversation(s.db.QueryRow(ctx, q,
		c.ConversationID,
		c.UserID,
		c.CampaignID,
		c.BatchID,
		c.RecipientID,
		c.AgentID,
		c.Status,
		c.CallDurationSecs,
		c.CallSuccessful,
		c.Cost.String(),
		nullJSON(c.Transcript),
		nullJSON(c.Analysis),
		c.HasAudio,
		c.UpdatedAt,
	))
	if err != nil {
		return Conversation{}, eris.Wrapf(err, "campaigns: upsert conversation %s", c.ConversationID)
	}
	return out, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	const q = `SELECT ` + conversationCols + ` FROM conversations WHERE conversation_id = $1`
	c, err := scanConversation(s.db.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, eris.Wrap(err, "campaigns: get conversation")
	}
	return c, nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, f ConversationFilter) ([]Conversation, error) {
	if f.CampaignID == "" && f.BatchID == "" {
		return nil, ErrInvalidArgument
	}
	const q = `SELECT ` + conversationCols + `
FROM conversations
WHERE ($1 = '' OR campaign_id = $1) AND ($2 = '' OR batch_id = $2)
ORDER BY conversation_id
`
	rows, err := s.db.Query(ctx, q, f.CampaignID, f.BatchID)
	if err != nil {
		return nil, eris.Wrap(err, "campaigns: list conversations")
	}
	defer rows.Close()

	out := make([]Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, eris.Wrap(err, "campaigns: scan conversation")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
