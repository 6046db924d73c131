package service

import (
	"context"
	"time"

	"storefront-payments/internal/domain"
	"storefront-payments/internal/messaging"
)

// OrderPaidHook runs once per order, after the write that first marks it paid.
type OrderPaidHook interface {
	OrderPaid(ctx context.Context, order *domain.Order, source domain.EventSource) error
}

type NopPaidHook struct{}

func (NopPaidHook) OrderPaid(context.Context, *domain.Order, domain.EventSource) error { return nil }

type publishingPaidHook struct {
	publisher messaging.Publisher
	topic     string
}

// NewPublishingPaidHook publishes an order.paid event for seller notification and fulfilment.
func NewPublishingPaidHook(publisher messaging.Publisher, topic string) OrderPaidHook {
	return &publishingPaidHook{publisher: publisher, topic: topic}
}

func (h *publishingPaidHook) OrderPaid(ctx context.Context, order *domain.Order, source domain.EventSource) error {
	paidAt := time.Now().UTC()
	if order.PaidAt != nil {
		paidAt = *order.PaidAt
	}
	return h.publisher.PublishEvent(ctx, h.topic, order.ID, messaging.OrderPaid{
		OrderID:     order.ID,
		SellerIDs:   order.SellerIDs(),
		TotalAmount: order.TotalAmount,
		Currency:    order.Currency,
		PaidAt:      paidAt,
		Source:      string(source),
	})
}
