package campaigns

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_TransitionTerminalIsConditional(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("WHERE id = \\$1 AND status = 'launched'").
		WithArgs("c1", "completed", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("WHERE id = \\$1 AND status = 'launched'").
		WithArgs("c1", "failed", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	s := NewPostgresStore(mock)
	ok, err := s.TransitionTerminal(context.Background(), "c1", CampaignStatusCompleted, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TransitionTerminal(context.Background(), "c1", CampaignStatusFailed, now)
	require.NoError(t, err)
	assert.False(t, ok, "a campaign already terminal must not transition again")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCampaignNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM campaigns WHERE id").WithArgs("nope").WillReturnError(pgx.ErrNoRows)

	_, err = NewPostgresStore(mock).GetCampaign(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertConversation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Unix(1700000000, 0).UTC()
	c := Conversation{
		ConversationID:   "conv1",
		UserID:           "u",
		CampaignID:       "c1",
		BatchID:          "b1",
		RecipientID:      "r1",
		Status:           "done",
		CallDurationSecs: 50,
		CallSuccessful:   true,
		Cost:             decimal.RequireFromString("0.12"),
		HasAudio:         true,
		UpdatedAt:        now,
	}
	cols := []string{"conversation_id", "user_id", "campaign_id", "batch_id", "recipient_id", "agent_id", "status",
		"call_duration_secs", "call_successful", "cost", "transcript", "analysis", "has_audio", "created_at", "updated_at"}

	mock.ExpectQuery("ON CONFLICT \\(conversation_id\\)").
		WithArgs("conv1", "u", "c1", "b1", "r1", "", "done", 50, true, "0.12", nil, nil, true, now).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("conv1", "u", "c1", "b1", "r1", "", "done", 50, true, "0.12", []byte(nil), []byte(nil), true, now, now))

	got, err := NewPostgresStore(mock).UpsertConversation(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, 50, got.CallDurationSecs)
	assert.True(t, got.Cost.Equal(decimal.RequireFromString("0.12")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LinkRecipientMissingIsNoop(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("UPDATE recipients").
		WithArgs("r9", "b1", "done", "conv9", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := NewPostgresStore(mock).LinkRecipient(context.Background(), "r9", "b1", "done", "conv9", now)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UnlinkedBatchStoresNullCampaign(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("VALUES \\(\\$1,NULLIF\\(\\$2,''\\)").
		WithArgs("b1", "", "u", "", "pending", 3, 0, now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT id, COALESCE\\(campaign_id, ''\\)").
		WithArgs("b1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "campaign_id", "user_id", "name", "status",
			"total_calls_scheduled", "total_calls_dispatched", "last_updated_at", "created_at"}).
			AddRow("b1", "", "u", "", "pending", 3, 0, now, now))

	s := NewPostgresStore(mock)
	require.NoError(t, s.CreateBatch(context.Background(), BatchCall{
		ID: "b1", UserID: "u", Status: "pending", TotalCallsScheduled: 3, LastUpdatedAt: now, CreatedAt: now,
	}))
	b, err := s.GetBatch(context.Background(), "b1")
	require.NoError(t, err)
	assert.Empty(t, b.CampaignID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListStaleCompletedPagesByKeyset(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cutoff := time.Unix(1700000000, 0).UTC()
	after := StaleCursor{LaunchedAt: cutoff.Add(-time.Hour), ID: "c7"}
	mock.ExpectQuery("\\(launched_at, id\\) > \\(\\$2, \\$3\\)").
		WithArgs(cutoff, after.LaunchedAt, "c7", 50).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "name", "status", "launched_at", "created_at", "updated_at"}))

	got, err := NewPostgresStore(mock).ListStaleCompleted(context.Background(), cutoff, after, 50)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}
