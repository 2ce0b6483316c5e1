package mq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"cloud.google.com/go/pubsub"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/storefront/apiserver/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	channel string
	data    []byte
	attrs   map[string]string
}

type memoryBackend struct {
	messages []published
	err      error
	closed   bool
}

func (b *memoryBackend) Publish(_ context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	b.messages = append(b.messages, published{channel: channel, data: data, attrs: attrs})
	return "msg-1", nil
}

func (b *memoryBackend) Subscribe(ctx context.Context, channel string, handler Handler) error {
	for i, m := range b.messages {
		if m.channel != channel {
			continue
		}
		if err := handler(ctx, Message{ID: string(rune('a' + i)), Data: m.data, Attributes: m.attrs}); err != nil {
			return err
		}
	}
	return nil
}

func (b *memoryBackend) Close() error {
	b.closed = true
	return nil
}

func TestConnectWithoutBackend(t *testing.T) {
	broker, err := Connect(context.Background(), config.MQConfig{})
	require.NoError(t, err)
	assert.Nil(t, broker)
}

func TestConnectUnknownBackend(t *testing.T) {
	_, err := Connect(context.Background(), config.MQConfig{Backend: "kafka"})
	assert.ErrorContains(t, err, "unknown mq backend")
}

func TestPublishJSON(t *testing.T) {
	backend := &memoryBackend{}
	broker := New(backend)

	id, err := broker.PublishJSON(context.Background(), "order-events", map[string]any{"order_id": 7}, map[string]string{"type": "order.created"})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	require.Len(t, backend.messages, 1)
	assert.JSONEq(t, `{"order_id":7}`, string(backend.messages[0].data))
	assert.Equal(t, "order.created", backend.messages[0].attrs["type"])

	_, err = broker.PublishJSON(context.Background(), "order-events", make(chan int), nil)
	assert.ErrorContains(t, err, "encode message")
	assert.Len(t, backend.messages, 1)

	backend.err = errors.New("broker down")
	_, err = broker.PublishJSON(context.Background(), "order-events", map[string]int{"a": 1}, nil)
	assert.EqualError(t, err, "broker down")
}

func TestPublishRaw(t *testing.T) {
	backend := &memoryBackend{}
	broker := New(backend)

	id, err := broker.Publish(context.Background(), "order-events", []byte("plain"), map[string]string{ContentTypeAttribute: "text/plain"})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	require.Len(t, backend.messages, 1)
	assert.Equal(t, "plain", string(backend.messages[0].data))
	assert.Equal(t, "text/plain", backend.messages[0].attrs[ContentTypeAttribute])
}

func TestSubscribeAndClose(t *testing.T) {
	backend := &memoryBackend{}
	broker := New(backend)
	_, err := broker.PublishJSON(context.Background(), "order-events", map[string]int{"order_id": 1}, nil)
	require.NoError(t, err)
	_, err = broker.PublishJSON(context.Background(), "other", map[string]int{"order_id": 2}, nil)
	require.NoError(t, err)

	var got []int
	err = broker.Subscribe(context.Background(), "order-events", func(_ context.Context, msg Message) error {
		var body struct {
			OrderID int `json:"order_id"`
		}
		if err := json.Unmarshal(msg.Data, &body); err != nil {
			return err
		}
		got = append(got, body.OrderID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, got)

	require.NoError(t, broker.Close())
	assert.True(t, backend.closed)
}

func TestHeadersToAttributes(t *testing.T) {
	assert.Nil(t, headersToAttributes(nil))

	attrs := headersToAttributes(amqp.Table{
		"type":    "order.created",
		"raw":     []byte("bytes"),
		"attempt": int32(2),
	})
	assert.Equal(t, map[string]string{"type": "order.created", "raw": "bytes", "attempt": "2"}, attrs)
}

func TestDeliveryMode(t *testing.T) {
	assert.Equal(t, amqp.Persistent, (&RabbitMQClient{queueDurable: true}).deliveryMode())
	assert.Equal(t, amqp.Transient, (&RabbitMQClient{}).deliveryMode())
}

func TestSubscriptionName(t *testing.T) {
	assert.Equal(t, "order-events", (&PubSubClient{}).subscriptionName("order-events"))
	assert.Equal(t, "order-events-worker", (&PubSubClient{subscriptionSuffix: "-worker"}).subscriptionName("order-events"))
}

func TestEnsureQueueDeclaresOnce(t *testing.T) {
	var calls []string
	failing := true
	r := &RabbitMQClient{declare: func(name string) error {
		calls = append(calls, name)
		if name == "broken" && failing {
			return errors.New("channel closed")
		}
		return nil
	}}

	require.NoError(t, r.ensureQueue("order-events"))
	require.NoError(t, r.ensureQueue("order-events"))
	assert.Equal(t, []string{"order-events"}, calls)

	err := r.ensureQueue("broken")
	assert.ErrorContains(t, err, "declare queue broken")
	failing = false
	require.NoError(t, r.ensureQueue("broken"))
	require.NoError(t, r.ensureQueue("broken"))
	assert.Equal(t, []string{"order-events", "broken", "broken"}, calls)
}

func TestPublishing(t *testing.T) {
	r := &RabbitMQClient{queueDurable: true}

	msg := r.publishing([]byte(`{"order_id":1}`), map[string]string{"type": "order.created"})
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "storefront", msg.AppId)
	assert.NotEmpty(t, msg.MessageId)
	assert.False(t, msg.Timestamp.IsZero())
	assert.Equal(t, amqp.Table{"type": "order.created"}, msg.Headers)

	other := r.publishing([]byte("x"), map[string]string{ContentTypeAttribute: "text/plain"})
	assert.Equal(t, "text/plain", other.ContentType)
	assert.Empty(t, other.Headers)
	assert.NotEqual(t, msg.MessageId, other.MessageId)
}

func TestDeliveryMessage(t *testing.T) {
	msg := deliveryMessage(amqp.Delivery{
		MessageId: "m-1",
		Body:      []byte("body"),
		Headers:   amqp.Table{"type": "order.paid"},
	})
	assert.Equal(t, Message{ID: "m-1", Data: []byte("body"), Attributes: map[string]string{"type": "order.paid"}}, msg)
}

func TestPubSubMessage(t *testing.T) {
	msg := pubsubMessage(&pubsub.Message{ID: "p-1", Data: []byte("body"), Attributes: map[string]string{"type": "order.created"}})
	assert.Equal(t, Message{ID: "p-1", Data: []byte("body"), Attributes: map[string]string{"type": "order.created"}}, msg)
}

func TestNewPubSubClientDefaults(t *testing.T) {
	p := newPubSubClient(nil, "", 25)
	assert.Equal(t, "-sub", p.subscriptionSuffix)
	assert.Equal(t, 25, p.maxOutstanding)
	assert.Equal(t, "order-events-sub", p.subscriptionName("order-events"))
	assert.NotNil(t, p.topics)
}
