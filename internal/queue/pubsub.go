package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
)

// PubSubPublisher publishes payloads on one topic, tagged with the exchange
// and routing key of the channel.
type PubSubPublisher struct {
	topic      *pubsub.Topic
	exchange   string
	routingKey string
	logger     *slog.Logger
}

// NewPubSubPublisher returns a publisher for topicID.
func NewPubSubPublisher(client *pubsub.Client, topicID, exchange, routingKey string, logger *slog.Logger) *PubSubPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &PubSubPublisher{
		topic:      client.Topic(topicID),
		exchange:   exchange,
		routingKey: routingKey,
		logger:     logger.With("component", "publisher", "topic", topicID),
	}
}

// Publish sends payload and waits for the server to acknowledge it.
func (p *PubSubPublisher) Publish(ctx context.Context, payload []byte) error {
	res := p.topic.Publish(ctx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			AttrExchange:   p.exchange,
			AttrRoutingKey: p.routingKey,
		},
	})
	id, err := res.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.topic.ID(), err)
	}
	p.logger.Debug("Message published.", "messageId", id, "bytes", len(payload))
	return nil
}

// Close flushes pending messages and stops the publisher's goroutines.
func (p *PubSubPublisher) Close() {
	p.topic.Stop()
}

// PubSubConsumer receives messages from one subscription.
type PubSubConsumer struct {
	sub    *pubsub.Subscription
	logger *slog.Logger
}

// NewPubSubConsumer returns a consumer for subscriptionID. numGoroutines and
// maxOutstanding are applied when positive.
func NewPubSubConsumer(client *pubsub.Client, subscriptionID string, numGoroutines, maxOutstanding int, logger *slog.Logger) *PubSubConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	sub := client.Subscription(subscriptionID)
	if numGoroutines > 0 {
		sub.ReceiveSettings.NumGoroutines = numGoroutines
	}
	if maxOutstanding > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = maxOutstanding
	}
	return &PubSubConsumer{
		sub:    sub,
		logger: logger.With("component", "consumer", "subscription", subscriptionID),
	}
}

// Run delivers messages to handler until ctx is cancelled. Every message is
// acknowledged after the handler returns, so nothing is redelivered.
func (c *PubSubConsumer) Run(ctx context.Context, handler Handler) error {
	c.logger.Info("Consumer started.")
	err := c.sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		c.logger.Debug("Message received.", "messageId", m.ID, "attempt", deliveryAttempt(m))
		handler(ctx, m.Data)
		m.Ack()
	})
	if err != nil {
		return fmt.Errorf("failed to receive from %s: %w", c.sub.ID(), err)
	}
	c.logger.Info("Consumer stopped.")
	return nil
}

func deliveryAttempt(m *pubsub.Message) int {
	if m.DeliveryAttempt == nil {
		return 1
	}
	return *m.DeliveryAttempt
}

// EnsureTopic creates topicID if it does not exist.
func EnsureTopic(ctx context.Context, client *pubsub.Client, topicID string) (*pubsub.Topic, error) {
	topic := client.Topic(topicID)
	ok, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check topic %s: %w", topicID, err)
	}
	if ok {
		return topic, nil
	}
	topic, err = client.CreateTopic(ctx, topicID)
	if err != nil {
		return nil, fmt.Errorf("failed to create topic %s: %w", topicID, err)
	}
	slog.Info("Topic created.", "topic", topicID)
	return topic, nil
}

// EnsureSubscription creates a durable pull subscription on topic if it does not exist.
func EnsureSubscription(ctx context.Context, client *pubsub.Client, subscriptionID string, topic *pubsub.Topic, ackDeadline time.Duration) error {
	sub := client.Subscription(subscriptionID)
	ok, err := sub.Exists(ctx)
	if err != nil {
		return fmt.Errorf("failed to check subscription %s: %w", subscriptionID, err)
	}
	if ok {
		return nil
	}
	if _, err := client.CreateSubscription(ctx, subscriptionID, pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: ackDeadline,
	}); err != nil {
		return fmt.Errorf("failed to create subscription %s: %w", subscriptionID, err)
	}
	slog.Info("Subscription created.", "subscription", subscriptionID, "topic", topic.ID())
	return nil
}
