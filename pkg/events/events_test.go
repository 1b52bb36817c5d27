package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventIsStamped(t *testing.T) {
	e := New(OrderCreated, 42, map[string]any{"client_id": int64(7)})

	assert.NotEmpty(t, e.EventID)
	assert.Equal(t, OrderCreated, e.Type)
	assert.Equal(t, int64(42), e.OrderID)
	assert.False(t, e.CreatedAt.IsZero())
	assert.Equal(t, "order-42", e.Key())

	other := New(OrderCreated, 42, nil)
	assert.NotEqual(t, e.EventID, other.EventID)
}

func TestEventWireFormat(t *testing.T) {
	e := New(OrderStatusChanged, 3, map[string]any{"status": "shipped"})
	data, err := e.marshal()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "order.status_changed", decoded["type"])
	assert.Equal(t, float64(3), decoded["order_id"])
	assert.Equal(t, map[string]any{"status": "shipped"}, decoded["payload"])
}

func TestOpen(t *testing.T) {
	p, err := Open(Config{})
	require.NoError(t, err)
	assert.NoError(t, p.Publish(context.Background(), New(OrderCreated, 1, nil)))
	assert.NoError(t, p.Close())

	_, err = Open(Config{Driver: "carrier-pigeon"})
	assert.Error(t, err)

	_, err = Open(Config{Driver: "kafka"})
	assert.ErrorIs(t, err, ErrNoBrokers)

	k, err := Open(Config{Driver: "kafka", KafkaBrokers: []string{"localhost:9092", "localhost:9093"}, KafkaTopic: "orders"})
	require.NoError(t, err)
	kp := k.(*KafkaPublisher)
	assert.Equal(t, "orders", kp.writer.Topic)
	assert.NoError(t, kp.Close())

	_, err = Open(Config{Driver: "amqp"})
	assert.Error(t, err)
}

func TestAwaitConfirmSkipsStaleTags(t *testing.T) {
	ctx := context.Background()
	confirms := make(chan amqp.Confirmation, 4)

	// The wait for tag 1 was abandoned, so its ack is still queued.
	confirms <- amqp.Confirmation{DeliveryTag: 1, Ack: true}
	confirms <- amqp.Confirmation{DeliveryTag: 2, Ack: false}
	assert.ErrorIs(t, awaitConfirm(ctx, confirms, 2, time.Second), errNotConfirmed)

	confirms <- amqp.Confirmation{DeliveryTag: 3, Ack: true}
	assert.NoError(t, awaitConfirm(ctx, confirms, 3, time.Second))

	assert.ErrorContains(t, awaitConfirm(ctx, confirms, 4, 10*time.Millisecond), "timeout")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, awaitConfirm(cancelled, confirms, 4, time.Second), context.Canceled)

	close(confirms)
	assert.Error(t, awaitConfirm(ctx, confirms, 4, time.Second))
}
