package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"voice-campaigns/internal/campaigns"
	"voice-campaigns/internal/ledger"
	"voice-campaigns/internal/provider"
	"voice-campaigns/internal/reconcile"
	"voice-campaigns/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	fake   *provider.Fake
	ledger *ledger.Service
	store  *campaigns.MemoryStore
	poller *Poller
}

func newHarness(t *testing.T, lease Lease, maxIter int) *harness {
	t.Helper()
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	lstore := ledger.NewMemoryStore()
	lstore.SetBalance("u", 4)
	svc := ledger.NewService(lstore)
	_, _, err := svc.ApplyTransaction(ctx, ledger.ApplyRequest{UserID: "u", CampaignID: "c1", BatchID: "b1", Type: ledger.TypeDeduction, Minutes: 4})
	require.NoError(t, err)

	store := campaigns.NewMemoryStore()
	require.NoError(t, store.CreateCampaign(ctx, campaigns.Campaign{ID: "c1", UserID: "u"}))
	_, err = store.MarkLaunched(ctx, "c1", now)
	require.NoError(t, err)
	require.NoError(t, store.CreateBatch(ctx, campaigns.BatchCall{ID: "b1", CampaignID: "c1", UserID: "u", TotalCallsScheduled: 2}))

	eng := reconcile.NewEngine(reconcile.Options{Ledger: svc, Store: store, Logger: logger.Discard()})
	fake := provider.NewFake()
	return &harness{
		fake:   fake,
		ledger: svc,
		store:  store,
		poller: New(fake, eng, lease, Config{Interval: time.Millisecond, MaxIterations: maxIter}, logger.Discard()),
	}
}

func (h *harness) balance(t *testing.T) int {
	t.Helper()
	b, err := h.ledger.GetBalance(context.Background(), "u")
	require.NoError(t, err)
	return b.AvailableMinutes
}

func doneConversation(id, recipient string, secs int) provider.Conversation {
	return provider.Conversation{
		ConversationID: id,
		Status:         "done",
		Metadata: provider.ConversationMetadata{
			CallDurationSecs: secs,
			Cost:             decimal.NewFromInt(1),
			BatchCall:        &provider.BatchCallRef{BatchCallID: "b1", BatchCallRecipientID: recipient},
		},
	}
}

func TestRun_CompletesAndSettlesAgainstSeenCalls(t *testing.T) {
	h := newHarness(t, nil, 10)
	h.fake.PutConversation(doneConversation("conv1", "r1", 50))
	h.fake.PutConversation(doneConversation("conv2", "r2", 70))
	h.fake.ScriptBatch(
		provider.Batch{ID: "b1", Status: "in_progress", Recipients: []provider.RecipientStatus{
			{ID: "r1", Status: "pending"}, {ID: "r2", Status: "pending"},
		}},
		provider.Batch{ID: "b1", Status: "completed", TotalCallsDispatched: 2, Recipients: []provider.RecipientStatus{
			{ID: "r1", Status: "completed", ConversationID: "conv1"},
			{ID: "r2", Status: "completed", ConversationID: "conv2"},
		}},
	)

	res, err := h.poller.Run(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, 0, res.Errors)

	// 4 deducted, 1 + 2 used.
	assert.Equal(t, 1, h.balance(t))
	c, _ := h.store.GetCampaign(context.Background(), "c1")
	assert.Equal(t, campaigns.CampaignStatusCompleted, c.Status)
	r, _ := h.store.FindRecipient(context.Background(), "r2", "b1")
	assert.Equal(t, "conv2", r.ConversationID)
}

func TestRun_TimesOutAfterBudget(t *testing.T) {
	h := newHarness(t, nil, 3)
	h.fake.ScriptBatch(provider.Batch{ID: "b1", Status: "in_progress"})

	res, err := h.poller.Run(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, StateTimedOut, res.State)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, 3, h.fake.BatchCalls("b1"))
	assert.Equal(t, 0, h.balance(t), "timeout must not settle")
}

func TestRun_TransientErrorsConsumeIterations(t *testing.T) {
	h := newHarness(t, nil, 5)
	boom := &provider.IOError{Op: "get batch", StatusCode: 503, Err: errors.New("unavailable")}
	h.fake.FailBatch("b1", boom, boom)
	h.fake.ScriptBatch(provider.Batch{ID: "b1", Status: "completed"})

	res, err := h.poller.Run(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, 2, res.Errors)
	assert.Equal(t, 4, h.balance(t), "no calls seen, everything refunded")
}

func TestRun_FailedBatchRefundsAndStops(t *testing.T) {
	h := newHarness(t, nil, 10)
	h.fake.PutConversation(doneConversation("conv1", "r1", 120))
	h.fake.ScriptBatch(provider.Batch{ID: "b1", Status: "failed", Recipients: []provider.RecipientStatus{
		{ID: "r1", Status: "completed", ConversationID: "conv1"},
	}})

	res, err := h.poller.Run(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, 4, h.balance(t))
}

func TestRun_UnfetchableConversationDefersUntilFinalIteration(t *testing.T) {
	h := newHarness(t, nil, 5)
	h.fake.PutConversation(doneConversation("conv1", "r1", 50))
	h.fake.ScriptBatch(provider.Batch{ID: "b1", Status: "completed", TotalCallsDispatched: 2, Recipients: []provider.RecipientStatus{
		{ID: "r1", Status: "completed", ConversationID: "conv1"},
		{ID: "r2", Status: "completed", ConversationID: "gone"},
	}})

	res, err := h.poller.Run(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 5, res.Iterations, "completion held back while a conversation is missing")
	assert.Equal(t, 5, h.fake.BatchCalls("b1"))

	ctx := context.Background()
	c, _ := h.store.GetCampaign(ctx, "c1")
	assert.Equal(t, campaigns.CampaignStatusCompleted, c.Status)
	b, _ := h.store.GetBatch(ctx, "b1")
	assert.Equal(t, "completed", b.Status)
	assert.Equal(t, 2, b.TotalCallsDispatched)
	// 4 deducted, 1 used by the call that could be fetched.
	assert.Equal(t, 3, h.balance(t))
}

type heldLease struct{}

func (heldLease) Acquire(context.Context, string, string, time.Duration) (bool, error) { return false, nil }
func (heldLease) Release(context.Context, string, string) error                       { return nil }

func TestRun_SkipsWhenLeaseHeld(t *testing.T) {
	h := newHarness(t, heldLease{}, 3)

	res, err := h.poller.Run(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, StateSkipped, res.State)
	assert.Equal(t, 0, h.fake.BatchCalls("b1"))
}

func TestRun_CanceledContext(t *testing.T) {
	h := newHarness(t, nil, 1000)
	h.poller.cfg.Interval = time.Hour
	h.fake.ScriptBatch(provider.Batch{ID: "b1", Status: "in_progress"})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for h.fake.BatchCalls("b1") == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	res, err := h.poller.Run(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, StateCanceled, res.State)
	assert.Equal(t, 1, res.Iterations)
}
