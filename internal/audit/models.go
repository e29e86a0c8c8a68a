package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - user_id is the owning account when it is known. Events about payloads whose
//   owner could not be resolved carry the raw payload in Metadata instead.
// - actor and ip capture are best-effort; do not block critical flows on audit failures.
type Event struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id,omitempty" db:"user_id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	// ActorUserID is the authenticated user causing the event (if applicable).
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`

	// IPAddress is the resolved client IP when available.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	CampaignID     string `json:"campaign_id,omitempty" db:"campaign_id"`
	BatchID        string `json:"batch_id,omitempty" db:"batch_id"`
	ConversationID string `json:"conversation_id,omitempty" db:"conversation_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeAdminAction        EventType = "admin_action"
	EventTypeSettlement         EventType = "settlement"
	EventTypeCampaignTransition EventType = "campaign_transition"
	EventTypeOwnerUnresolved    EventType = "owner_unresolved"
	EventTypeSignatureRejected  EventType = "signature_rejected"
)

// ownerless reports whether events of this type may be recorded without a user.
func (t EventType) ownerless() bool {
	return t == EventTypeOwnerUnresolved || t == EventTypeSignatureRejected
}
