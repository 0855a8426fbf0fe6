package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/honeynil/upi-crypto-offramp/internal/models"
)

// Broadcaster delivers an event to locally connected clients.
type Broadcaster interface {
	Broadcast(ctx context.Context, event models.Event)
}

type Consumer struct {
	reader *kafka.Reader
	sink   Broadcaster
}

// NewConsumer reads the event topic. groupID must be unique per instance:
// every instance needs every event for its own clients.
func NewConsumer(brokers []string, topic, groupID string, sink Broadcaster) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokers,
			Topic:       topic,
			GroupID:     groupID,
			MinBytes:    1,
			MaxBytes:    10e6,
			StartOffset: kafka.LastOffset,
		}),
		sink: sink,
	}
}

// Consume runs until ctx is cancelled or the reader is closed.
func (c *Consumer) Consume(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Kafka consumer stopped", "topic", c.reader.Config().Topic)
				return
			}
			slog.Error("failed to read Kafka message", "topic", c.reader.Config().Topic, "error", err)
			return
		}

		if err := c.handleMessage(ctx, msg); err != nil {
			slog.Error("failed to handle Kafka message", "topic", msg.Topic, "key", string(msg.Key), "error", err)
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, msg kafka.Message) error {
	var event models.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}

	switch event.Type {
	case models.EventTransactionCreated, models.EventTransactionUpdated:
		if event.Transaction == nil {
			return fmt.Errorf("%s event without transaction", event.Type)
		}
	case models.EventPaymentInitiated:
		if event.MerchantTx == "" {
			return fmt.Errorf("%s event without transaction_id", event.Type)
		}
	default:
		return fmt.Errorf("unknown event type %q", event.Type)
	}

	slog.Debug("Kafka event received", "type", event.Type, "key", string(msg.Key))
	c.sink.Broadcast(ctx, event)
	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
