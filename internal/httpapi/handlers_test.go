package httpapi

import (
	"context"
	"net/http"
	"testing"
	"time"

	"voice-campaigns/internal/audit"
	"voice-campaigns/internal/campaigns"
	"voice-campaigns/internal/rbac"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoutes_RequireIdentity(t *testing.T) {
	env := newTestEnv(t, testSecret)
	w := env.do(http.MethodGet, "/v1/me/balance", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetBalance_UnknownUserIsZero(t *testing.T) {
	env := newTestEnv(t, testSecret)
	w := env.do(http.MethodGet, "/v1/me/balance", nil, env.as("nobody", rbac.RoleOwner))
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["available_minutes"])
}

func TestDeduct_GuardedByEstimate(t *testing.T) {
	env := newTestEnv(t, testSecret)
	env.lstore.SetBalance("u", 10)
	body := []byte(`{"campaign_id":"c1","batch_id":"b1","minutes":8}`)

	h := env.as("u", rbac.RoleOwner)
	w := env.do(http.MethodPost, "/v1/ledger/deductions", body, h)
	assert.Equal(t, http.StatusBadRequest, w.Code, "estimate header is required")

	h["X-Estimated-Minutes"] = "11"
	w = env.do(http.MethodPost, "/v1/ledger/deductions", body, h)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	h["X-Estimated-Minutes"] = "8"
	w = env.do(http.MethodPost, "/v1/ledger/deductions", body, h)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, 2, env.balance(t, "u"))

	env.lstore.SetBalance("u", 10)
	w = env.do(http.MethodPost, "/v1/ledger/deductions", body, h)
	assert.Equal(t, http.StatusConflict, w.Code, "one deduction per batch")
}

func TestAdminCredit_FinanceOnlyAndAudited(t *testing.T) {
	env := newTestEnv(t, testSecret)
	body := []byte(`{"user_id":"u","type":"purchase","minutes":30}`)

	w := env.do(http.MethodPost, "/v1/admin/ledger/credits", body, env.as("u", rbac.RoleOwner))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(http.MethodPost, "/v1/admin/ledger/credits", []byte(`{"user_id":"u","type":"refund","minutes":30}`), env.as("fin", rbac.RoleFinance))
	assert.Equal(t, http.StatusBadRequest, w.Code, "refunds only come from settlement")

	w = env.do(http.MethodPost, "/v1/admin/ledger/credits", body, env.as("fin", rbac.RoleFinance))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, 30, env.balance(t, "u"))

	evs := env.audit.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, audit.EventTypeAdminAction, evs[0].Type)
	assert.Equal(t, "fin", evs[0].ActorUserID)
}

func TestCampaignSummary_OwnerScoped(t *testing.T) {
	env := newTestEnv(t, testSecret)
	env.launch(t, "u", "c1", "b1", 2, 4)

	w := env.do(http.MethodGet, "/v1/campaigns/c1/summary", nil, env.as("intruder", rbac.RoleOwner))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(http.MethodGet, "/v1/campaigns/missing/summary", nil, env.as("u", rbac.RoleOwner))
	assert.Equal(t, http.StatusNotFound, w.Code)

	for _, who := range []map[string]string{env.as("u", rbac.RoleOwner), env.as("s", rbac.RoleSupport)} {
		w = env.do(http.MethodGet, "/v1/campaigns/c1/summary", nil, who)
		require.Equal(t, http.StatusOK, w.Code)
		out := decode(t, w)
		assert.EqualValues(t, 4, out["deducted_minutes"])
		assert.Equal(t, "launched", out["status"])
	}
}

func TestCampaignTransactions(t *testing.T) {
	env := newTestEnv(t, testSecret)
	env.launch(t, "u", "c1", "b1", 1, 3)

	w := env.do(http.MethodGet, "/v1/campaigns/c1/transactions", nil, env.as("u", rbac.RoleOwner))
	require.Equal(t, http.StatusOK, w.Code)
	txs, ok := decode(t, w)["transactions"].([]any)
	require.True(t, ok)
	assert.Len(t, txs, 1)

	w = env.do(http.MethodGet, "/v1/campaigns/c1/transactions", nil, env.as("other", rbac.RoleOwner))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestConversationAudio_Proxies(t *testing.T) {
	env := newTestEnv(t, testSecret)
	ctx := context.Background()
	_, err := env.store.UpsertConversation(ctx, campaigns.Conversation{ConversationID: "conv1", UserID: "u", Status: "done", HasAudio: true})
	require.NoError(t, err)
	_, err = env.store.UpsertConversation(ctx, campaigns.Conversation{ConversationID: "conv2", UserID: "u", Status: "done"})
	require.NoError(t, err)
	env.fake.PutAudio("conv1", []byte("ID3"))

	w := env.do(http.MethodGet, "/v1/conversations/conv1/audio", nil, env.as("u", rbac.RoleOwner))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "audio/mpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, "ID3", w.Body.String())

	w = env.do(http.MethodGet, "/v1/conversations/conv2/audio", nil, env.as("u", rbac.RoleOwner))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodGet, "/v1/conversations/conv1/audio", nil, env.as("x", rbac.RoleOwner))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminSettle_RefusesInFlightBatch(t *testing.T) {
	env := newTestEnv(t, testSecret)
	env.launch(t, "u", "c1", "b1", 2, 6)

	w := env.do(http.MethodPost, "/v1/admin/batches/b1/settle", []byte(`{"failed":true}`), env.as("fin", rbac.RoleFinance))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Empty(t, env.refunds(t, "u"))
	assert.Equal(t, 0, env.balance(t, "u"))
}

func TestAdminSettle_UsesStoredOutcomeAndIsIdempotent(t *testing.T) {
	env := newTestEnv(t, testSecret)
	env.launch(t, "u", "c1", "b1", 2, 6)
	ctx := context.Background()
	_, err := env.store.UpsertConversation(ctx, campaigns.Conversation{
		ConversationID: "conv1", UserID: "u", CampaignID: "c1", BatchID: "b1", Status: "done", CallDurationSecs: 120,
	})
	require.NoError(t, err)
	ok, err := env.store.TransitionTerminal(ctx, "c1", campaigns.CampaignStatusCompleted, time.Unix(1700000600, 0))
	require.NoError(t, err)
	require.True(t, ok)
	fin := env.as("fin", rbac.RoleFinance)

	// A caller-supplied failure flag cannot turn a completed batch into a full refund.
	w := env.do(http.MethodPost, "/v1/admin/batches/b1/settle", []byte(`{"failed":true}`), fin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 4, decode(t, w)["refund_minutes"])

	w = env.do(http.MethodPost, "/v1/admin/batches/b1/settle", nil, fin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["already_settled"])

	assert.Equal(t, 4, env.balance(t, "u"))
	assert.Len(t, env.refunds(t, "u"), 1)
	assert.Len(t, env.audit.OfType(audit.EventTypeAdminAction), 2)

	w = env.do(http.MethodPost, "/v1/admin/batches/nope/settle", nil, fin)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminSettle_FailedCampaignRefundsEverything(t *testing.T) {
	env := newTestEnv(t, testSecret)
	env.launch(t, "u", "c1", "b1", 2, 6)
	_, err := env.store.TransitionTerminal(context.Background(), "c1", campaigns.CampaignStatusFailed, time.Unix(1700000600, 0))
	require.NoError(t, err)

	w := env.do(http.MethodPost, "/v1/admin/batches/b1/settle", nil, env.as("fin", rbac.RoleFinance))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 6, env.balance(t, "u"))
}

func TestAdminSweep_ReturnsReport(t *testing.T) {
	env := newTestEnv(t, testSecret)
	w := env.do(http.MethodPost, "/v1/admin/sweep", nil, env.as("root", rbac.RoleSuperAdmin))
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["scanned"])
}

func TestLogin_DisabledByDefault(t *testing.T) {
	env := newTestEnv(t, testSecret)
	w := env.do(http.MethodPost, "/v1/auth/login", []byte(`{"user_id":"u","role":"owner"}`), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
