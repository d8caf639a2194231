package kafka

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"ms-scanning/internal/models"
)

type Producer struct {
	ScanWriter   *kafka.Writer
	TicketWriter *kafka.Writer
}

func NewProducer(brokers []string, scanTopic, ticketTopic string) *Producer {
	return &Producer{
		ScanWriter: kafka.NewWriter(kafka.WriterConfig{
			Brokers: brokers,
			Topic:   scanTopic,
		}),
		TicketWriter: kafka.NewWriter(kafka.WriterConfig{
			Brokers: brokers,
			Topic:   ticketTopic,
		}),
	}
}

// PublishScanRecorded streams a confirmed scan to downstream consumers
// (notification service, analytics). Callers treat this as best effort.
func (p *Producer) PublishScanRecorded(entry models.ScanLog) error {
	msgBytes, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	return p.ScanWriter.WriteMessages(context.Background(),
		kafka.Message{
			Key:   []byte(entry.TicketID),
			Value: msgBytes,
		},
	)
}

// PublishTicketIssued streams a newly issued ticket summary. The signing
// key and magic token are stripped by the summary type.
func (p *Producer) PublishTicketIssued(ticket models.Ticket) error {
	msgBytes, err := json.Marshal(ticket.Summary())
	if err != nil {
		return err
	}

	return p.TicketWriter.WriteMessages(context.Background(),
		kafka.Message{
			Key:   []byte(ticket.TicketID),
			Value: msgBytes,
		},
	)
}

func (p *Producer) Close() error {
	if err := p.ScanWriter.Close(); err != nil {
		return err
	}
	return p.TicketWriter.Close()
}
