package audit

import (
	"context"

	"voice-campaigns/pkg/utils"

	"github.com/rotisserie/eris"
)

// PostgresRepo appends audit events to the audit_events table.
type PostgresRepo struct {
	db utils.DB
}

func NewPostgresRepo(db utils.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (
  id, user_id, type, actor_user_id, actor_role, ip_address,
  campaign_id, batch_id, conversation_id, message, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
`
	_, err := r.db.Exec(ctx, q,
		e.ID,
		e.UserID,
		string(e.Type),
		e.ActorUserID,
		e.ActorRole,
		e.IPAddress,
		e.CampaignID,
		e.BatchID,
		e.ConversationID,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	return eris.Wrap(err, "audit: append event")
}
