// Package events publishes order lifecycle events to a message broker.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the ledger.
const (
	OrderCreated             = "order.created"
	OrderItemAdded           = "order.item_added"
	OrderItemRemoved         = "order.item_removed"
	OrderStatusChanged       = "order.status_changed"
	OrderDiscountApplied     = "order.discount_applied"
	OrderRefunded            = "order.refunded"
	OrderRefundStatusChanged = "order.refund_status_changed"
	OrderFeedbackSubmitted   = "order.feedback_submitted"
)

// Event is the envelope written to the broker.
type Event struct {
	EventID   string         `json:"event_id"`
	Type      string         `json:"type"`
	OrderID   int64          `json:"order_id"`
	CreatedAt time.Time      `json:"created_at"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// New stamps an event with a fresh id and the current time.
func New(eventType string, orderID int64, payload map[string]any) Event {
	return Event{
		EventID:   uuid.NewString(),
		Type:      eventType,
		OrderID:   orderID,
		CreatedAt: time.Now().UTC(),
		Payload:   payload,
	}
}

// Key is the partition/routing key; events of one order stay ordered.
func (e Event) Key() string {
	return fmt.Sprintf("order-%d", e.OrderID)
}

func (e Event) marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Config selects and configures the broker.
type Config struct {
	Driver           string
	KafkaBrokers     []string
	KafkaTopic       string
	RabbitMQURL      string
	RabbitMQExchange string
}

// Open builds the publisher named by cfg.Driver: "none", "kafka" or "amqp".
func Open(cfg Config) (Publisher, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "none":
		return Nop(), nil
	case "kafka":
		p, err := NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "amqp", "rabbitmq":
		p, err := NewAMQP(cfg.RabbitMQURL, cfg.RabbitMQExchange)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported events driver %q", cfg.Driver)
	}
}

type nop struct{}

// Nop returns a publisher that drops every event.
func Nop() Publisher { return nop{} }

func (nop) Publish(context.Context, Event) error { return nil }
func (nop) Close() error                         { return nil }
