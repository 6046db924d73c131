package payment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"storefront-payments/internal/domain"
)

// PaymentGateway is what the services need from the payment provider.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error)
	GetCheckoutSessionStatus(ctx context.Context, sessionID string) (*SessionStatus, error)
	CreatePayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error)
	ListPayouts(ctx context.Context, limit int) ([]PayoutResult, error)
}

type LineItem struct {
	Reference string
	Name      string
	// UnitPrice is in major units; it is converted to minor units on the wire.
	UnitPrice decimal.Decimal
	Quantity  int
}

type RedirectURLs struct {
	SuccessURL string
	CancelURL  string
}

type CheckoutSessionRequest struct {
	OrderID        string
	Currency       string
	LineItems      []LineItem
	Customer       domain.CustomerInfo
	URLs           RedirectURLs
	IdempotencyKey string
}

type CheckoutSession struct {
	SessionID   string
	CheckoutURL string
	Status      domain.RawStatus
}

type SessionLineItem struct {
	Name     string
	Price    int64
	Quantity int
}

type SessionStatus struct {
	SessionID string
	Status    domain.RawStatus
	Amount    int64
	Currency  string
	PaidAt    *time.Time
	Reference string
	OrderID   string
	LineItems []SessionLineItem
}

type PayoutRequest struct {
	PayoutID           string
	SellerID           string
	Amount             int64
	Currency           string
	DestinationAccount string
	Metadata           map[string]string
	IdempotencyKey     string
}

type PayoutResult struct {
	ID       string
	Status   domain.PayoutStatus
	Amount   int64
	Currency string
	Metadata map[string]string
}
