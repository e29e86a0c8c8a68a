package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"voice-campaigns/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(ClientOptions{
		BaseURL:       srv.URL,
		APIKey:        "key",
		RatePerSecond: 1000,
		Burst:         1000,
		Retry:         RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
		Logger:        logger.Discard(),
	})
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresBaseURLAndKey(t *testing.T) {
	_, err := NewClient(ClientOptions{BaseURL: "http://x"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestClient_GetBatchSendsKeyAndDecodes(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get(apiKeyHeader))
		assert.Equal(t, "/v1/convai/batch-calling/b1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":                     "b1",
			"status":                 "completed",
			"total_calls_dispatched": 10,
			"total_calls_scheduled":  10,
			"last_updated_at_unix":   1700000000,
			"recipients": []map[string]any{
				{"id": "r1", "phone_number": "+15550001", "status": "completed", "conversation_id": "conv1"},
			},
		})
	}))

	b, err := c.GetBatch(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, "completed", b.Status)
	assert.Equal(t, 10, b.TotalCallsDispatched)
	require.Len(t, b.Recipients, 1)
	assert.Equal(t, "conv1", b.Recipients[0].ConversationID)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), b.LastUpdatedAt())
}

func TestClient_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"conversation_id":"conv1","status":"done","metadata":{"call_duration_secs":50,"cost":"12.5"}}`))
	}))

	conv, err := c.GetConversation(context.Background(), "conv1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 50, conv.Metadata.CallDurationSecs)
	assert.Equal(t, "12.5", conv.Metadata.Cost.String())
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusNotFound)
	}))

	_, err := c.GetBatch(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, int32(1), calls.Load())

	var ioErr *IOError
	require.True(t, errors.As(err, &ioErr))
	assert.Equal(t, http.StatusNotFound, ioErr.StatusCode)
	assert.False(t, ioErr.Transient())
}

func TestClient_ExhaustedRetriesSurfaceIOError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := c.GetBatch(context.Background(), "b1")
	var ioErr *IOError
	require.True(t, errors.As(err, &ioErr))
	assert.True(t, ioErr.Transient())
}

func TestClient_SubmitBatchIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		var req SubmitBatchRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Recipients, 2)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := c.SubmitBatch(context.Background(), SubmitBatchRequest{
		AgentID:    "agent",
		Recipients: []BatchRecipient{{PhoneNumber: "+1"}, {PhoneNumber: "+2"}},
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_GetConversationAudio(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/convai/conversations/conv1/audio", r.URL.Path)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3"))
	}))

	rc, ct, err := c.GetConversationAudio(context.Background(), "conv1")
	require.NoError(t, err)
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "audio/mpeg", ct)
	assert.Equal(t, "ID3", string(data))
}

func TestConversation_Accessors(t *testing.T) {
	var c Conversation
	require.NoError(t, json.Unmarshal([]byte(`{
		"conversation_id":"conv1",
		"metadata":{"call_duration_secs":61,"cost":3,"batch_call":{"batch_call_id":"b1","batch_call_recipient_id":"r1"}},
		"analysis":{"call_successful":"success"}
	}`), &c))
	assert.Equal(t, "b1", c.BatchID())
	assert.Equal(t, "r1", c.RecipientID())
	assert.True(t, c.CallSuccessful())
}
