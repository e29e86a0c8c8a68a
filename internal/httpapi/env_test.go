package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"voice-campaigns/internal/audit"
	"voice-campaigns/internal/auth"
	"voice-campaigns/internal/campaigns"
	"voice-campaigns/internal/events"
	"voice-campaigns/internal/ledger"
	"voice-campaigns/internal/provider"
	"voice-campaigns/internal/reconcile"
	"voice-campaigns/internal/reporting"
	"voice-campaigns/internal/sweeper"
	"voice-campaigns/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

type testEnv struct {
	router *gin.Engine
	store  *campaigns.MemoryStore
	lstore *ledger.MemoryStore
	ledger *ledger.Service
	audit  *audit.MemoryRepo
	events *events.Recorder
	fake   *provider.Fake
}

// identityFromHeaders stands in for bearer auth in tests.
func identityFromHeaders(c *gin.Context) {
	ctx := auth.WithIdentity(c.Request.Context(), c.GetHeader("X-Test-User"), c.GetHeader("X-Test-Role"))
	c.Request = c.Request.WithContext(ctx)
	c.Next()
}

func newTestEnv(t *testing.T, secret string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	lstore := ledger.NewMemoryStore()
	env := &testEnv{
		store:  campaigns.NewMemoryStore(),
		lstore: lstore,
		ledger: ledger.NewService(lstore),
		audit:  audit.NewMemoryRepo(),
		events: &events.Recorder{},
		fake:   provider.NewFake(),
	}
	auditSvc := audit.NewService(env.audit)
	eng := reconcile.NewEngine(reconcile.Options{
		Ledger: env.ledger,
		Store:  env.store,
		Audit:  auditSvc,
		Events: env.events,
		Logger: logger.Discard(),
	})

	r := gin.New()
	r.Use(gin.Recovery(), logger.Middleware(logger.Discard()))
	Register(r,
		Handlers{
			Ledger:    env.ledger,
			Reporting: reporting.NewService(env.store, env.ledger),
			Campaigns: env.store,
			Audio:     env.fake,
			Settler:   eng,
			Sweeper:   sweeper.New(env.store, env.ledger, sweeper.Config{}, logger.Discard()),
			Audit:     auditSvc,
		},
		WebhookHandler{Secret: secret, Engine: eng, Audit: auditSvc},
		identityFromHeaders,
		env.ledger,
	)
	env.router = r
	return env
}

// launch funds userID, deducts minutes for batchID and creates a launched
// campaign with n recipients r0..r(n-1).
func (e *testEnv) launch(t *testing.T, userID, campaignID, batchID string, n, minutes int) {
	t.Helper()
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	e.lstore.SetBalance(userID, minutes)
	_, _, err := e.ledger.ApplyTransaction(ctx, ledger.ApplyRequest{
		UserID: userID, CampaignID: campaignID, BatchID: batchID, Type: ledger.TypeDeduction, Minutes: minutes,
	})
	require.NoError(t, err)
	require.NoError(t, e.store.CreateCampaign(ctx, campaigns.Campaign{ID: campaignID, UserID: userID}))
	_, err = e.store.MarkLaunched(ctx, campaignID, now)
	require.NoError(t, err)
	require.NoError(t, e.store.CreateBatch(ctx, campaigns.BatchCall{
		ID: batchID, CampaignID: campaignID, UserID: userID, Status: "pending", TotalCallsScheduled: n,
	}))
	for i := 0; i < n; i++ {
		require.NoError(t, e.store.UpsertRecipient(ctx, campaigns.Recipient{
			ID: fmt.Sprintf("r%d", i), BatchID: batchID, UserID: userID, Status: "pending",
		}))
	}
}

func (e *testEnv) balance(t *testing.T, userID string) int {
	t.Helper()
	b, err := e.ledger.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return b.AvailableMinutes
}

func (e *testEnv) refunds(t *testing.T, userID string) []ledger.Transaction {
	t.Helper()
	txs, err := e.ledger.ListTransactions(context.Background(), ledger.Filter{UserID: userID, Type: ledger.TypeRefund})
	require.NoError(t, err)
	return txs
}

func (e *testEnv) do(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) as(userID, role string) map[string]string {
	return map[string]string{"X-Test-User": userID, "X-Test-Role": role}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}
