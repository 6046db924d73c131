package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"storefront-payments/internal/domain"
	"storefront-payments/internal/repo"
)

const paidEventTimeout = 10 * time.Second

type RelayReport struct {
	Pending   int
	Published int
	Failed    int
}

// PaidEventRelay republishes order.paid events that were recorded as pending by
// the paid transition but never confirmed as published.
type PaidEventRelay interface {
	Flush(ctx context.Context, olderThan time.Duration, limit int) (RelayReport, error)
}

type paidEvents struct {
	orders repo.OrderRepo
	hook   OrderPaidHook
	logger *slog.Logger
}

func NewPaidEventRelay(orders repo.OrderRepo, hook OrderPaidHook, logger *slog.Logger) PaidEventRelay {
	return newPaidEvents(orders, hook, logger)
}

func newPaidEvents(orders repo.OrderRepo, hook OrderPaidHook, logger *slog.Logger) *paidEvents {
	if hook == nil {
		hook = NopPaidHook{}
	}
	return &paidEvents{orders: orders, hook: hook, logger: logger}
}

// deliver publishes order.paid and then clears the pending flag. The publish is
// detached from ctx cancellation: a caller hanging up after the paid write must
// not drop the event.
func (p *paidEvents) deliver(ctx context.Context, order *domain.Order, source domain.EventSource) error {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), paidEventTimeout)
	defer cancel()

	if err := p.hook.OrderPaid(pubCtx, order, source); err != nil {
		return fmt.Errorf("publish order.paid for %s: %w", order.ID, err)
	}
	return p.markPublished(pubCtx, order)
}

// markPublished clears the pending flag on the stored order and mirrors the new
// version onto order.
func (p *paidEvents) markPublished(ctx context.Context, order *domain.Order) error {
	orderID := order.ID
	for attempt := 1; attempt <= maxReconcileAttempts; attempt++ {
		o, err := p.orders.FindById(ctx, orderID)
		if err != nil {
			return fmt.Errorf("load order %s: %w", orderID, err)
		}
		if o == nil || !o.PaidEventPending {
			order.PaidEventPending = false
			return nil
		}
		expected := o.Version
		o.PaidEventPending = false
		ok, err := p.orders.UpdateOrder(ctx, o, expected)
		if err != nil {
			return fmt.Errorf("update order %s: %w", orderID, err)
		}
		if ok {
			order.PaidEventPending = false
			order.Version = o.Version
			return nil
		}
	}
	return fmt.Errorf("clear paid event of %s: %w", orderID, ErrConcurrentUpdate)
}

func (p *paidEvents) Flush(ctx context.Context, olderThan time.Duration, limit int) (RelayReport, error) {
	var report RelayReport

	pending, err := p.orders.FindPendingPaidEvents(ctx, olderThan, limit)
	if err != nil {
		return report, fmt.Errorf("find pending paid events: %w", err)
	}
	report.Pending = len(pending)

	for i := range pending {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		order := &pending[i]
		source := domain.SourceSweep
		if order.PaymentDetails != nil && order.PaymentDetails.Source != "" {
			source = order.PaymentDetails.Source
		}
		if err := p.deliver(ctx, order, source); err != nil {
			report.Failed++
			p.logger.WarnContext(ctx, "order paid event still unpublished", "order_id", order.ID, "err", err)
			continue
		}
		report.Published++
		p.logger.InfoContext(ctx, "order paid event republished", "order_id", order.ID)
	}
	return report, nil
}
