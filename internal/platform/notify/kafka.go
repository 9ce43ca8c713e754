// Package notify publishes order lifecycle events to Kafka for downstream
// consumers such as notification workers and analytics pipelines.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/feastline/api/internal/services"
)

// MessageWriter abstracts the kafka-go writer for testing.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaOrderEventPublisher publishes order events onto a Kafka topic keyed by order ID.
type KafkaOrderEventPublisher struct {
	writer  MessageWriter
	marshal func(any) ([]byte, error)
}

// NewKafkaWriter constructs a kafka-go writer with the settings the API uses
// for order events.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
}

// NewKafkaOrderEventPublisher constructs a Kafka backed order event publisher.
func NewKafkaOrderEventPublisher(writer MessageWriter) (*KafkaOrderEventPublisher, error) {
	if writer == nil {
		return nil, errors.New("kafka order event publisher: writer is required")
	}
	return &KafkaOrderEventPublisher{
		writer:  writer,
		marshal: json.Marshal,
	}, nil
}

type orderEventEnvelope struct {
	Type           string         `json:"type"`
	OrderID        string         `json:"order_id"`
	UserID         string         `json:"user_id,omitempty"`
	PreviousStatus string         `json:"previous_status,omitempty"`
	CurrentStatus  string         `json:"current_status,omitempty"`
	ActorID        string         `json:"actor_id,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// PublishOrderEvent writes the event to the configured topic. Messages are
// keyed by order ID so events for one order stay ordered within a partition.
func (p *KafkaOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.writer == nil {
		return errors.New("kafka order event publisher: not initialised")
	}
	if strings.TrimSpace(event.OrderID) == "" {
		return errors.New("kafka order event publisher: order id is required")
	}

	data, err := p.marshal(orderEventEnvelope{
		Type:           event.Type,
		OrderID:        event.OrderID,
		UserID:         event.UserID,
		PreviousStatus: event.PreviousStatus,
		CurrentStatus:  event.CurrentStatus,
		ActorID:        event.ActorID,
		OccurredAt:     event.OccurredAt,
		Metadata:       event.Metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	headers := []kafka.Header{{Key: "event_type", Value: []byte(event.Type)}}
	if event.ActorID != "" {
		headers = append(headers, kafka.Header{Key: "actor_id", Value: []byte(event.ActorID)})
	}

	msg := kafka.Message{
		Key:     []byte(event.OrderID),
		Value:   data,
		Headers: headers,
		Time:    event.OccurredAt,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

var _ services.OrderEventPublisher = (*KafkaOrderEventPublisher)(nil)
