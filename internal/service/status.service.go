package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"storefront-payments/internal/domain"
	"storefront-payments/internal/infrastructure/payment"
	"storefront-payments/internal/repo"
)

// StatusView is what the poll path returns to the storefront.
type StatusView struct {
	OrderID        string
	PaymentStatus  string
	OrderStatus    domain.OrderStatus
	StatusMessage  string
	PaymentDetails *domain.PaymentDetails
	PaidAt         string
}

// StatusService is the poll path: fetch the session status from the gateway and reconcile it.
type StatusService interface {
	VerifyStatus(ctx context.Context, orderID, sessionID string) (*StatusView, error)
	// SyncOrder reconciles an already loaded order from a fresh gateway lookup.
	SyncOrder(ctx context.Context, order *domain.Order, source domain.EventSource) (*ReconcileResult, error)
}

type statusService struct {
	orders     repo.OrderRepo
	gateway    payment.PaymentGateway
	reconciler Reconciler
	logger     *slog.Logger
}

func NewStatusService(
	orders repo.OrderRepo,
	gateway payment.PaymentGateway,
	reconciler Reconciler,
	logger *slog.Logger,
) StatusService {
	return &statusService{orders: orders, gateway: gateway, reconciler: reconciler, logger: logger}
}

func (s *statusService) VerifyStatus(ctx context.Context, orderID, sessionID string) (*StatusView, error) {
	if orderID == "" {
		return nil, &ValidationError{Fields: map[string]string{"orderId": "is required"}}
	}
	order, err := s.orders.FindById(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if sessionID != "" && order.CheckoutSessionID != "" && sessionID != order.CheckoutSessionID {
		return nil, ErrSessionMismatch
	}
	if order.CheckoutSessionID == "" {
		// Checkout never reached the gateway; nothing to look up.
		return viewOf(order), nil
	}
	if order.Status.IsTerminal() {
		return viewOf(order), nil
	}

	res, err := s.SyncOrder(ctx, order, domain.SourcePoll)
	if err != nil {
		return nil, err
	}
	return viewOf(res.Order), nil
}

func (s *statusService) SyncOrder(ctx context.Context, order *domain.Order, source domain.EventSource) (*ReconcileResult, error) {
	st, err := s.gateway.GetCheckoutSessionStatus(ctx, order.CheckoutSessionID)
	if err != nil {
		// Unknown, not a transition. The caller may try again next interval.
		s.logger.WarnContext(ctx, "session status lookup failed",
			"order_id", order.ID, "session_id", order.CheckoutSessionID, "source", source, "err", err)
		return nil, err
	}

	return s.reconciler.Reconcile(ctx, StatusEvent{
		OrderID:   order.ID,
		SessionID: order.CheckoutSessionID,
		RawStatus: st.Status,
		// A session lookup reporting processing means the payment is under way.
		InFlight:      st.Status == domain.RawProcessing,
		Source:        source,
		Event:         "checkout_session.status",
		Amount:        st.Amount,
		Currency:      st.Currency,
		Reference:     st.Reference,
		GatewayPaidAt: st.PaidAt,
	})
}

func viewOf(o *domain.Order) *StatusView {
	v := &StatusView{
		OrderID:        o.ID,
		PaymentStatus:  o.PaymentStatus,
		OrderStatus:    o.Status,
		StatusMessage:  domain.StatusMessage(o.Status),
		PaymentDetails: o.PaymentDetails,
	}
	if o.PaidAt != nil {
		v.PaidAt = o.PaidAt.Format(time.RFC3339)
	}
	return v
}
