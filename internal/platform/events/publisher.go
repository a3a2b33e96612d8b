package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ridloal/vg-checkout/internal/platform/logger"
)

type EventType string

const (
	OrderCreated   EventType = "order.created"
	OrderPaid      EventType = "order.paid"
	OrderCancelled EventType = "order.cancelled"
	OrderRefunded  EventType = "order.refunded"
)

type OrderEvent struct {
	EventID       string    `json:"event_id"`
	Type          EventType `json:"type"`
	OrderID       string    `json:"order_id"`
	OrderNumber   string    `json:"order_number"`
	UserID        string    `json:"user_id"`
	Total         string    `json:"total"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	Gateway       string    `json:"gateway,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, event OrderEvent) error
	Close() error
}

type kafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) Publisher {
	return &kafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{}, // events of one order stay on one partition
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

func stamp(event *OrderEvent) {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
}

func (p *kafkaPublisher) Publish(ctx context.Context, event OrderEvent) error {
	stamp(&event)
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("event serialization error: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.OrderID),
		Value: body,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("event publish error: %w", err)
	}
	return nil
}

func (p *kafkaPublisher) Close() error {
	return p.writer.Close()
}

type logPublisher struct{}

// NewLogPublisher is used when no broker is configured.
func NewLogPublisher() Publisher { return logPublisher{} }

func (logPublisher) Publish(_ context.Context, event OrderEvent) error {
	stamp(&event)
	logger.Info("order event",
		zap.String("type", string(event.Type)),
		zap.String("order_id", event.OrderID),
		zap.String("order_number", event.OrderNumber),
		zap.String("payment_status", event.PaymentStatus))
	return nil
}

func (logPublisher) Close() error { return nil }
