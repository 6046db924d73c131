package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"storefront-payments/internal/domain"
	"storefront-payments/internal/repo"
)

const maxReconcileAttempts = 5

// StatusEvent is one raw status observation for an order, from any channel.
type StatusEvent struct {
	OrderID   string
	SessionID string
	RawStatus domain.RawStatus
	// InFlight marks a processing status as an actual in-flight payment.
	InFlight      bool
	Source        domain.EventSource
	Event         string
	Amount        int64
	Currency      string
	Reference     string
	GatewayPaidAt *time.Time
}

type ReconcileResult struct {
	Order    *domain.Order
	Previous domain.OrderStatus
	// Changed is true when this call moved the canonical status.
	Changed bool
	// PaidNow is true only for the single call that set paidAt.
	PaidNow bool
	// Stale is true when the event would have moved the status backwards and was ignored.
	Stale bool
}

// Reconciler is the single entry point both the poll and webhook paths use to
// apply a gateway status to an order.
type Reconciler interface {
	Reconcile(ctx context.Context, ev StatusEvent) (*ReconcileResult, error)
}

type reconciler struct {
	orders repo.OrderRepo
	events *paidEvents
	logger *slog.Logger
	now    func() time.Time
}

func NewReconciler(orders repo.OrderRepo, hook OrderPaidHook, logger *slog.Logger) Reconciler {
	return &reconciler{
		orders: orders,
		events: newPaidEvents(orders, hook, logger),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *reconciler) Reconcile(ctx context.Context, ev StatusEvent) (*ReconcileResult, error) {
	target, err := domain.Canonical(ev.RawStatus, ev.InFlight)
	if err != nil {
		return nil, &ValidationError{Fields: map[string]string{"status": err.Error()}}
	}

	for attempt := 1; attempt <= maxReconcileAttempts; attempt++ {
		order, err := r.orders.FindById(ctx, ev.OrderID)
		if err != nil {
			return nil, fmt.Errorf("load order %s: %w", ev.OrderID, err)
		}
		if order == nil {
			return nil, ErrOrderNotFound
		}
		if ev.SessionID != "" && order.CheckoutSessionID != "" && ev.SessionID != order.CheckoutSessionID {
			return nil, ErrSessionMismatch
		}

		res := &ReconcileResult{Previous: order.Status}
		expected := order.Version
		now := r.now()

		switch {
		case order.Status.CanAdvanceTo(target):
			order.Status = target
			order.PaymentStatus = string(ev.RawStatus)
			order.SessionStatus = string(ev.RawStatus)
			order.PaymentDetails = r.details(order, ev)
			order.UpdatedAt = now
			if target == domain.OrderPaid && order.PaidAt == nil {
				order.PaidAt = &now
				order.PaidEventPending = true
				res.PaidNow = true
			}
			res.Changed = true
		case order.Status == target:
			// Same canonical status: bookkeeping only, no side effects.
			order.PaymentStatus = string(ev.RawStatus)
			order.UpdatedAt = now
		default:
			res.Stale = true
			res.Order = order
			r.logger.InfoContext(ctx, "ignoring stale status",
				"order_id", order.ID,
				"stored", order.Status,
				"incoming", target,
				"source", ev.Source,
			)
			return res, nil
		}

		ok, err := r.orders.UpdateOrder(ctx, order, expected)
		if err != nil {
			return nil, fmt.Errorf("update order %s: %w", order.ID, err)
		}
		if !ok {
			r.logger.DebugContext(ctx, "order version conflict, retrying",
				"order_id", order.ID, "attempt", attempt, "source", ev.Source)
			continue
		}

		res.Order = order
		if res.Changed {
			r.logger.InfoContext(ctx, "order status changed",
				"order_id", order.ID,
				"from", res.Previous,
				"to", order.Status,
				"source", ev.Source,
			)
		}
		if res.PaidNow {
			// The pending flag was written with the paid status; the relay retries on failure.
			if err := r.events.deliver(ctx, order, ev.Source); err != nil {
				r.logger.ErrorContext(ctx, "order paid event not published", "order_id", order.ID, "err", err)
			}
		}
		return res, nil
	}
	return nil, fmt.Errorf("reconcile order %s: %w", ev.OrderID, ErrConcurrentUpdate)
}

func (r *reconciler) details(order *domain.Order, ev StatusEvent) *domain.PaymentDetails {
	d := &domain.PaymentDetails{
		SessionID: ev.SessionID,
		RawStatus: ev.RawStatus,
		InFlight:  ev.InFlight,
		Amount:    ev.Amount,
		Currency:  ev.Currency,
		Reference: ev.Reference,
		Event:     ev.Event,
		Source:    ev.Source,
		GatewayAt: ev.GatewayPaidAt,
	}
	if d.SessionID == "" {
		d.SessionID = order.CheckoutSessionID
	}
	if d.Amount == 0 {
		d.Amount = order.TotalAmount
	}
	if d.Currency == "" {
		d.Currency = order.Currency
	}
	return d
}
