package messaging

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Publisher defines an interface for publishing events to a message broker.
type Publisher interface {
	PublishEvent(ctx context.Context, topic string, key string, event any) error
}

// OrderPaid is published exactly once per order, when it first becomes paid.
type OrderPaid struct {
	OrderID     string    `json:"orderId"`
	SellerIDs   []string  `json:"sellerIds"`
	TotalAmount int64     `json:"totalAmount"`
	Currency    string    `json:"currency"`
	PaidAt      time.Time `json:"paidAt"`
	Source      string    `json:"source"`
}

// LogPublisher writes events to the log instead of a broker. Used when no brokers are configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) PublishEvent(ctx context.Context, topic string, key string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	p.logger.InfoContext(ctx, "event published", "topic", topic, "key", key, "payload", string(payload))
	return nil
}
