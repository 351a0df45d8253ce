// Package kafka publishes HIGH-risk alert events for downstream consumers.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/disaster-alert-service/internal/domain"
)

// Publisher produces alert events to a Kafka topic, keyed by location so all
// alerts for a place land on the same partition.
type Publisher struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for the alert topic.
func NewPublisher(brokers []string, topic string, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return &Publisher{writer: w, logger: logger}
}

// Publish writes a single alert event.
func (p *Publisher) Publish(ctx context.Context, alert domain.Alert) error {
	msg, err := serializeToMessage(alert)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish alert %s: %w", alert.ID, err)
	}
	p.logger.Debug("alert published", "alert_id", alert.ID, "location", alert.Location, "topic", p.writer.Topic)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// NoopPublisher discards alerts. It is used when KAFKA_ENABLED=false.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, domain.Alert) error { return nil }

func (NoopPublisher) Close() error { return nil }

// serializeToMessage marshals an Alert into a Kafka message.
func serializeToMessage(alert domain.Alert) (kafkago.Message, error) {
	data, err := json.Marshal(alert)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize alert: %w", err)
	}
	a := alert.Assessment
	return kafkago.Message{
		Key:   []byte(alert.Location),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "risk_level", Value: []byte(a.RiskLevel)},
			{Key: "disaster_type", Value: []byte(a.DisasterType)},
			{Key: "evaluated_at", Value: []byte(a.EvaluatedAt.Format(time.RFC3339))},
		},
	}, nil
}
