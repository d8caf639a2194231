package kafka

import (
	"context"
	"encoding/json"
	"log"

	"github.com/segmentio/kafka-go"
)

// PaymentEvent is what the payment gateway publishes when an order settles.
// The scan service only cares about the ticket ids it unlocks.
type PaymentEvent struct {
	OrderID   string   `json:"order_id"`
	TicketIDs []string `json:"ticket_ids"`
	Status    string   `json:"status"`
}

type Consumer struct {
	reader *kafka.Reader
}

// NewConsumer creates a new Kafka consumer for the given topic and group
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader}
}

// Start consumes payment events until the context is cancelled. Malformed
// messages are skipped, not retried; the payment gateway owns redelivery.
func (c *Consumer) Start(ctx context.Context, handler func(evt PaymentEvent)) {
	log.Println("Kafka payment consumer started")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Error reading message: %v", err)
			continue
		}

		var evt PaymentEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			log.Printf("Failed to unmarshal payment event: %v", err)
			continue
		}

		handler(evt)
	}
}

// Close gracefully shuts down the Kafka reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}
