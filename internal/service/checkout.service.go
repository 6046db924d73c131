package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"storefront-payments/internal/config"
	"storefront-payments/internal/domain"
	"storefront-payments/internal/infrastructure/payment"
	"storefront-payments/internal/repo"
)

const maxSessionCreateAttempts = 3

type CheckoutItem struct {
	ProductID string
	SellerID  string
	Name      string
	// Price is the unit price in major units.
	Price    decimal.Decimal
	Quantity int
}

type CheckoutRequest struct {
	Items           []CheckoutItem
	Customer        domain.CustomerInfo
	DeliveryAddress domain.DeliveryAddress
	PaymentMethod   string
}

type CheckoutResult struct {
	OrderID     string
	SessionID   string
	CheckoutURL string
}

type CheckoutService interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error)
}

type checkoutService struct {
	orders     repo.OrderRepo
	gateway    payment.PaymentGateway
	currency   string
	appBaseURL string
	logger     *slog.Logger
	now        func() time.Time
	backoff    time.Duration
}

func NewCheckoutService(
	cfg *config.Config,
	orders repo.OrderRepo,
	gateway payment.PaymentGateway,
	logger *slog.Logger,
) CheckoutService {
	return &checkoutService{
		orders:     orders,
		gateway:    gateway,
		currency:   cfg.Currency,
		appBaseURL: cfg.AppBaseURL,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		backoff:    200 * time.Millisecond,
	}
}

func validateCheckout(req CheckoutRequest) error {
	fe := fieldErrors{}
	if len(req.Items) == 0 {
		fe.add("cartItems", "cart must contain at least one item")
	}
	for i, it := range req.Items {
		p := fmt.Sprintf("cartItems[%d]", i)
		if strings.TrimSpace(it.ProductID) == "" {
			fe.add(p+".productId", "is required")
		}
		if strings.TrimSpace(it.SellerID) == "" {
			fe.add(p+".sellerId", "is required")
		}
		if err := domain.ValidateMajorAmount(it.Price); err != nil {
			fe.add(p+".price", err.Error())
		}
		if it.Quantity < 1 {
			fe.add(p+".quantity", "must be at least 1")
		} else if it.Quantity > domain.MaxQuantity {
			fe.add(p+".quantity", fmt.Sprintf("must be at most %d", domain.MaxQuantity))
		}
	}
	if strings.TrimSpace(req.Customer.Name) == "" {
		fe.add("customerInfo.name", "is required")
	}
	if req.Customer.Email == "" && req.Customer.Phone == "" {
		fe.add("customerInfo.email", "email or phone is required")
	}
	if strings.TrimSpace(req.DeliveryAddress.Line1) == "" {
		fe.add("deliveryAddress.line1", "is required")
	}
	if strings.TrimSpace(req.DeliveryAddress.City) == "" {
		fe.add("deliveryAddress.city", "is required")
	}
	return fe.err()
}

func (s *checkoutService) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if err := validateCheckout(req); err != nil {
		return nil, err
	}

	now := s.now()
	order := &domain.Order{
		ID:              "ord_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Status:          domain.OrderPendingPayment,
		PaymentStatus:   string(domain.RawPending),
		SessionStatus:   string(domain.RawPending),
		PaymentMethod:   req.PaymentMethod,
		Currency:        s.currency,
		CustomerInfo:    req.Customer,
		DeliveryAddress: req.DeliveryAddress,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	lineItems := make([]payment.LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		ci := domain.CartItem{
			ProductID: it.ProductID,
			SellerID:  it.SellerID,
			Name:      it.Name,
			Price:     domain.ToMinorUnits(it.Price),
			Quantity:  it.Quantity,
		}
		order.CartItems = append(order.CartItems, ci)
		lineItems = append(lineItems, payment.LineItem{
			Reference: it.ProductID,
			Name:      it.Name,
			UnitPrice: it.Price,
			Quantity:  it.Quantity,
		})
	}

	total, err := domain.OrderTotal(order.CartItems)
	if err != nil {
		return nil, &ValidationError{Fields: map[string]string{
			"cartItems": fmt.Sprintf("order total must not exceed %s", domain.FromMinorUnits(domain.MaxMinorAmount).StringFixed(2)),
		}}
	}
	order.TotalAmount = total

	if err := s.orders.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	sessionReq := payment.CheckoutSessionRequest{
		OrderID:   order.ID,
		Currency:  order.Currency,
		LineItems: lineItems,
		Customer:  order.CustomerInfo,
		URLs: payment.RedirectURLs{
			SuccessURL: fmt.Sprintf("%s/checkout/success?orderId=%s", s.appBaseURL, order.ID),
			CancelURL:  fmt.Sprintf("%s/checkout/cancel?orderId=%s", s.appBaseURL, order.ID),
		},
		// Same key on every retry so the gateway creates one session.
		IdempotencyKey: payment.IdempotencyKey(order.ID, payment.OpCreateCheckout, order.CreatedAt),
	}

	session, err := s.createSession(ctx, sessionReq)
	if err != nil {
		s.logger.ErrorContext(ctx, "checkout session creation failed", "order_id", order.ID, "err", err)
		return nil, err
	}

	if err := s.bindSession(ctx, order.ID, session.SessionID); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "checkout session created",
		"order_id", order.ID,
		"session_id", session.SessionID,
		"total", order.TotalAmount,
		"currency", order.Currency,
	)
	return &CheckoutResult{OrderID: order.ID, SessionID: session.SessionID, CheckoutURL: session.CheckoutURL}, nil
}

func (s *checkoutService) createSession(ctx context.Context, req payment.CheckoutSessionRequest) (*payment.CheckoutSession, error) {
	var lastErr error
	for attempt := 1; attempt <= maxSessionCreateAttempts; attempt++ {
		session, err := s.gateway.CreateCheckoutSession(ctx, req)
		if err == nil {
			return session, nil
		}
		lastErr = err
		ge, ok := payment.AsGatewayError(err)
		if !ok || !ge.Retryable() {
			return nil, err
		}
		s.logger.WarnContext(ctx, "retrying checkout session creation",
			"order_id", req.OrderID, "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.backoff * time.Duration(attempt)):
		}
	}
	return nil, lastErr
}

// bindSession records the gateway session on the order. A session id is bound once.
func (s *checkoutService) bindSession(ctx context.Context, orderID, sessionID string) error {
	for attempt := 1; attempt <= maxReconcileAttempts; attempt++ {
		order, err := s.orders.FindById(ctx, orderID)
		if err != nil {
			return fmt.Errorf("load order %s: %w", orderID, err)
		}
		if order == nil {
			return ErrOrderNotFound
		}
		switch order.CheckoutSessionID {
		case sessionID:
			return nil
		case "":
		default:
			return ErrSessionMismatch
		}

		expected := order.Version
		order.CheckoutSessionID = sessionID
		order.UpdatedAt = s.now()
		ok, err := s.orders.UpdateOrder(ctx, order, expected)
		if err != nil {
			return fmt.Errorf("bind session to order %s: %w", orderID, err)
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("bind session to order %s: %w", orderID, ErrConcurrentUpdate)
}
