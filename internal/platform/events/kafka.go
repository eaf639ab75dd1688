// Package events publishes reconciliation outcomes to external subscribers
// over Kafka. Delivery is best-effort: the webhook's own result never
// depends on it.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/shopcore/shopcore-payments/internal/domain"
)

// Publisher implements domain.EventPublisher on a Kafka topic.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher creates a Kafka publisher for the given broker and topic.
// Messages are keyed by order id so all events for one order land on the
// same partition, preserving their relative order for consumers.
func NewPublisher(broker, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(broker),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// PublishReconciled emits one reconciled event.
func (p *Publisher) PublishReconciled(ctx context.Context, event domain.ReconciledEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.OrderID),
		Value: value,
	})
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
