package campaigns

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestMemoryStore_CampaignLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Unix(1700000000, 0).UTC()

	if err := s.CreateCampaign(ctx, Campaign{ID: "c1", UserID: "u", CreatedAt: now}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if ok, _ := s.TransitionTerminal(ctx, "c1", CampaignStatusCompleted, now); ok {
		t.Fatalf("draft must not jump to a terminal state")
	}
	if ok, err := s.MarkLaunched(ctx, "c1", now); err != nil || !ok {
		t.Fatalf("launch: ok=%v err=%v", ok, err)
	}
	if ok, _ := s.MarkLaunched(ctx, "c1", now); ok {
		t.Fatalf("second launch must be rejected")
	}
	if ok, err := s.TransitionTerminal(ctx, "c1", CampaignStatusCompleted, now); err != nil || !ok {
		t.Fatalf("complete: ok=%v err=%v", ok, err)
	}
	if ok, _ := s.TransitionTerminal(ctx, "c1", CampaignStatusFailed, now); ok {
		t.Fatalf("terminal states are final")
	}
	c, _ := s.GetCampaign(ctx, "c1")
	if c.Status != CampaignStatusCompleted || c.LaunchedAt == nil {
		t.Fatalf("unexpected campaign: %+v", c)
	}
	if _, err := s.TransitionTerminal(ctx, "c1", CampaignStatusLaunched, now); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument for non-terminal target, got %v", err)
	}
}

func TestMemoryStore_UpsertConversationOverwritesNotAccumulates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Unix(1700000000, 0).UTC()

	first := Conversation{
		ConversationID:   "conv1",
		UserID:           "u",
		CampaignID:       "c1",
		BatchID:          "b1",
		Status:           "in_progress",
		CallDurationSecs: 30,
		Cost:             decimal.RequireFromString("0.10"),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if _, err := s.UpsertConversation(ctx, first); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	second := first
	second.CampaignID = ""
	second.Status = "done"
	second.CallDurationSecs = 50
	second.Cost = decimal.RequireFromString("0.20")
	second.CreatedAt = now.Add(time.Hour)
	got, err := s.UpsertConversation(ctx, second)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if got.CallDurationSecs != 50 || !got.Cost.Equal(decimal.RequireFromString("0.20")) {
		t.Fatalf("duration/cost must be overwritten verbatim: %+v", got)
	}
	if got.CampaignID != "c1" || !got.CreatedAt.Equal(now) {
		t.Fatalf("linkage and created_at must be kept: %+v", got)
	}

	again, _ := s.UpsertConversation(ctx, second)
	list, _ := s.ListConversations(ctx, ConversationFilter{CampaignID: "c1"})
	if len(list) != 1 || again.CallDurationSecs != 50 {
		t.Fatalf("expected a single conversation row, got %d", len(list))
	}
}

func TestMemoryStore_RecipientsKeyedByBatch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Unix(1700000000, 0).UTC()

	_ = s.UpsertRecipient(ctx, Recipient{ID: "r1", BatchID: "b1", UserID: "u", Status: "pending", UpdatedAt: now})
	_ = s.UpsertRecipient(ctx, Recipient{ID: "r1", BatchID: "b2", UserID: "v", Status: "pending", UpdatedAt: now})

	r, err := s.FindRecipient(ctx, "r1", "b2")
	if err != nil || r.UserID != "v" {
		t.Fatalf("expected recipient of b2, got %+v err=%v", r, err)
	}
	if n, _ := s.CountRecipients(ctx, "b1"); n != 1 {
		t.Fatalf("expected 1 recipient in b1, got %d", n)
	}

	ok, err := s.LinkRecipient(ctx, "r1", "b1", "done", "conv1", now)
	if err != nil || !ok {
		t.Fatalf("link: ok=%v err=%v", ok, err)
	}
	_ = s.UpsertRecipient(ctx, Recipient{ID: "r1", BatchID: "b1", UserID: "u", Status: "done", UpdatedAt: now})
	r, _ = s.FindRecipient(ctx, "r1", "b1")
	if r.ConversationID != "conv1" {
		t.Fatalf("snapshot without conversation id must keep the link, got %q", r.ConversationID)
	}

	if ok, _ := s.LinkRecipient(ctx, "ghost", "", "done", "x", now); ok {
		t.Fatalf("expected no-op for unknown recipient")
	}
}

func TestMemoryStore_ListStaleCompleted(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	old := time.Unix(1700000000, 0).UTC()
	fresh := old.Add(48 * time.Hour)

	for _, c := range []struct {
		id string
		at time.Time
	}{{"old", old}, {"fresh", fresh}} {
		_ = s.CreateCampaign(ctx, Campaign{ID: c.id, UserID: "u"})
		_, _ = s.MarkLaunched(ctx, c.id, c.at)
		_, _ = s.TransitionTerminal(ctx, c.id, CampaignStatusCompleted, c.at)
	}

	got, err := s.ListStaleCompleted(ctx, old.Add(24*time.Hour), StaleCursor{}, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != "old" {
		t.Fatalf("expected only the old campaign, got %+v", got)
	}
}

func TestMemoryStore_ListStaleCompletedKeyset(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	at := time.Unix(1700000000, 0).UTC()

	for _, id := range []string{"c3", "c1", "c2", "c4"} {
		_ = s.CreateCampaign(ctx, Campaign{ID: id, UserID: "u"})
		_, _ = s.MarkLaunched(ctx, id, at)
		_, _ = s.TransitionTerminal(ctx, id, CampaignStatusCompleted, at)
	}
	cutoff := at.Add(time.Hour)

	first, err := s.ListStaleCompleted(ctx, cutoff, StaleCursor{}, 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first) != 3 || first[0].ID != "c1" || first[2].ID != "c3" {
		t.Fatalf("unexpected first page: %+v", first)
	}
	rest, _ := s.ListStaleCompleted(ctx, cutoff, CursorAfter(first[2]), 3)
	if len(rest) != 1 || rest[0].ID != "c4" {
		t.Fatalf("expected only c4 after c3, got %+v", rest)
	}
}

func TestMemoryStore_CreateBatchKeepsFirstWrite(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.CreateBatch(ctx, BatchCall{ID: "b1", UserID: "u", CampaignID: "c1", Status: "pending"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateBatch(ctx, BatchCall{ID: "b1", UserID: "other", Status: "completed"}); err != nil {
		t.Fatalf("create again: %v", err)
	}
	b, _ := s.GetBatch(ctx, "b1")
	if b.UserID != "u" || b.CampaignID != "c1" || b.Status != "pending" {
		t.Fatalf("second create must not overwrite, got %+v", b)
	}
}
