package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	declared   string
	durable    bool
	published  []amqp.Publishing
	keys       []string
	declareErr error
	closed     bool
}

func (f *fakeChannel) QueueDeclare(name string, durable, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	if f.declareErr != nil {
		return amqp.Queue{}, f.declareErr
	}
	f.declared = name
	f.durable = durable
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) Publish(_, key string, _, _ bool, msg amqp.Publishing) error {
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestAMQPPublisher_PublishesJSONToDurableQueue(t *testing.T) {
	ch := &fakeChannel{}
	p, err := newAMQPPublisher(ch, "campaign_events")
	require.NoError(t, err)
	assert.True(t, ch.durable)

	at := time.Unix(1700000000, 0).UTC()
	err = p.Publish(context.Background(), Event{Type: TypeBatchSettled, UserID: "u", BatchID: "b", Minutes: 12, OccurredAt: at})
	require.NoError(t, err)

	require.Len(t, ch.published, 1)
	msg := ch.published[0]
	assert.Equal(t, "campaign_events", ch.keys[0])
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, uint8(amqp.Persistent), msg.DeliveryMode)
	assert.Equal(t, "batch.settled", msg.Type)
	assert.NotEmpty(t, msg.MessageId)

	var got Event
	require.NoError(t, json.Unmarshal(msg.Body, &got))
	assert.Equal(t, 12, got.Minutes)
	assert.Equal(t, msg.MessageId, got.ID)
}

func TestAMQPPublisher_DeclareFailureClosesChannel(t *testing.T) {
	ch := &fakeChannel{declareErr: errors.New("access refused")}
	_, err := newAMQPPublisher(ch, "q")
	require.Error(t, err)
	assert.True(t, ch.closed)
}

func TestAMQPPublisher_CanceledContext(t *testing.T) {
	ch := &fakeChannel{}
	p, err := newAMQPPublisher(ch, "q")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Publish(ctx, Event{Type: TypeCampaignCompleted}), context.Canceled)
	assert.Empty(t, ch.published)
}
