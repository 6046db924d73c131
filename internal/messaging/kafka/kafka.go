package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkaGo "github.com/segmentio/kafka-go"

	"storefront-payments/internal/messaging"
)

type kafkaPublisher struct {
	w *kafkaGo.Writer
}

// NewPublisher creates a Kafka publisher. The topic is chosen per message.
func NewPublisher(brokers []string) (messaging.Publisher, func() error) {
	w := &kafkaGo.Writer{
		Addr:         kafkaGo.TCP(brokers...),
		Balancer:     &kafkaGo.Hash{},
		RequiredAcks: kafkaGo.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &kafkaPublisher{w: w}, w.Close
}

func (k *kafkaPublisher) PublishEvent(ctx context.Context, topic string, key string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return k.w.WriteMessages(ctx, kafkaGo.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
	})
}
