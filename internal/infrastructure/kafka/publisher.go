package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/honeynil/upi-crypto-offramp/internal/models"
)

// EventPublisher puts transaction events on the topic so that every
// instance's Consumer can relay them to its own real-time clients.
type EventPublisher struct {
	producer KafkaProducer
}

func NewEventPublisher(producer KafkaProducer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func (p *EventPublisher) Publish(ctx context.Context, event models.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.Type, err)
	}
	if err := p.producer.Send(ctx, event.Key(), value); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}
	return nil
}
