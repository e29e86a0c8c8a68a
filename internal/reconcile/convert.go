package reconcile

import (
	"time"

	"voice-campaigns/internal/provider"
)

// ConversationEventFromProvider converts a provider conversation. raw is the
// payload as received and may be nil.
func ConversationEventFromProvider(c provider.Conversation, raw []byte) ConversationEvent {
	ev := ConversationEvent{
		ConversationID:   c.ConversationID,
		AgentID:          c.AgentID,
		Status:           c.Status,
		BatchID:          c.BatchID(),
		RecipientID:      c.RecipientID(),
		CallDurationSecs: c.Metadata.CallDurationSecs,
		CallSuccessful:   c.CallSuccessful(),
		Cost:             c.Metadata.Cost,
		Transcript:       c.Transcript,
		Analysis:         c.Analysis,
		HasAudio:         c.HasAudio,
		Raw:              raw,
	}
	if c.Metadata.StartTimeUnixSecs > 0 {
		ev.OccurredAt = unix(c.Metadata.StartTimeUnixSecs)
	}
	return ev
}

func BatchStatusEventFromProvider(u provider.BatchStatusUpdate) BatchStatusEvent {
	return BatchStatusEvent{
		BatchID:              u.BatchID,
		Status:               u.Status,
		TotalCallsDispatched: u.TotalCallsDispatched,
		LastUpdatedAt:        u.LastUpdatedAt(),
	}
}

// SnapshotFromProvider splits a polled batch into its status and recipients.
func SnapshotFromProvider(b provider.Batch) (BatchStatusEvent, []RecipientSnapshot) {
	ev := BatchStatusEvent{
		BatchID:              b.ID,
		Status:               b.Status,
		TotalCallsDispatched: b.TotalCallsDispatched,
		LastUpdatedAt:        b.LastUpdatedAt(),
	}
	snaps := make([]RecipientSnapshot, 0, len(b.Recipients))
	for _, r := range b.Recipients {
		snaps = append(snaps, RecipientSnapshot{
			ID:             r.ID,
			PhoneNumber:    r.PhoneNumber,
			Status:         r.Status,
			ConversationID: r.ConversationID,
			Metadata:       r.ClientData,
			UpdatedAt:      r.UpdatedAt(),
		})
	}
	return ev, snaps
}

func unix(s int64) time.Time { return time.Unix(s, 0).UTC() }
