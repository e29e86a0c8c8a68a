package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
)

// Fake is an in-memory Provider for tests and local runs.
// GetBatch replays a scripted sequence per batch; the last entry repeats.
type Fake struct {
	mu sync.Mutex

	batches       map[string][]Batch
	batchErrs     map[string][]error
	conversations map[string]Conversation
	audio         map[string][]byte

	submitted  []SubmitBatchRequest
	batchCalls map[string]int
}

func NewFake() *Fake {
	return &Fake{
		batches:       map[string][]Batch{},
		batchErrs:     map[string][]error{},
		conversations: map[string]Conversation{},
		audio:         map[string][]byte{},
		batchCalls:    map[string]int{},
	}
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) HealthCheck(context.Context) error { return nil }

// ScriptBatch appends snapshots returned by successive GetBatch calls.
func (f *Fake) ScriptBatch(snapshots ...Batch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range snapshots {
		f.batches[b.ID] = append(f.batches[b.ID], b)
	}
}

// FailBatch makes the next GetBatch calls for id return errs, in order.
func (f *Fake) FailBatch(id string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchErrs[id] = append(f.batchErrs[id], errs...)
}

func (f *Fake) PutConversation(c Conversation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations[c.ConversationID] = c
}

func (f *Fake) PutAudio(conversationID string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio[conversationID] = data
}

func (f *Fake) Submitted() []SubmitBatchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SubmitBatchRequest(nil), f.submitted...)
}

// BatchCalls returns how many times GetBatch was called for id.
func (f *Fake) BatchCalls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batchCalls[id]
}

func (f *Fake) SubmitBatch(_ context.Context, req SubmitBatchRequest) (Batch, error) {
	if req.AgentID == "" || len(req.Recipients) == 0 {
		return Batch{}, ErrInvalidArgument
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, req)

	b := Batch{
		ID:                  "batch_" + uuid.NewString(),
		Name:                req.CallName,
		AgentID:             req.AgentID,
		Status:              "pending",
		TotalCallsScheduled: len(req.Recipients),
	}
	for i, r := range req.Recipients {
		b.Recipients = append(b.Recipients, RecipientStatus{
			ID:          fmt.Sprintf("%s_r%d", b.ID, i),
			PhoneNumber: r.PhoneNumber,
			Status:      "pending",
			ClientData:  r.ClientData,
		})
	}
	f.batches[b.ID] = []Batch{b}
	return b, nil
}

func (f *Fake) GetBatch(_ context.Context, batchID string) (Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls[batchID]++

	if errs := f.batchErrs[batchID]; len(errs) > 0 {
		f.batchErrs[batchID] = errs[1:]
		return Batch{}, errs[0]
	}
	seq := f.batches[batchID]
	if len(seq) == 0 {
		return Batch{}, &IOError{Op: "get batch", StatusCode: 404, Err: ErrNotFound}
	}
	b := seq[0]
	if len(seq) > 1 {
		f.batches[batchID] = seq[1:]
	}
	return b, nil
}

func (f *Fake) GetConversation(_ context.Context, conversationID string) (Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conversations[conversationID]
	if !ok {
		return Conversation{}, &IOError{Op: "get conversation", StatusCode: 404, Err: ErrNotFound}
	}
	return c, nil
}

func (f *Fake) GetConversationAudio(_ context.Context, conversationID string) (io.ReadCloser, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.audio[conversationID]
	if !ok {
		return nil, "", &IOError{Op: "get audio", StatusCode: 404, Err: ErrNotFound}
	}
	return io.NopCloser(bytes.NewReader(data)), "audio/mpeg", nil
}
