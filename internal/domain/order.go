package domain

import (
	"time"
)

// OrderStatus is the canonical order status. Only the reconciliation engine writes it.
type OrderStatus string

const (
	OrderPendingPayment    OrderStatus = "pending_payment"
	OrderProcessingPayment OrderStatus = "processing_payment"
	OrderPaid              OrderStatus = "paid"
	OrderPaymentFailed     OrderStatus = "payment_failed"
	OrderCancelled         OrderStatus = "cancelled"
	OrderExpired           OrderStatus = "expired"
)

// IsTerminal reports whether no inbound event may change the status any more.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderPaid, OrderPaymentFailed, OrderCancelled, OrderExpired:
		return true
	}
	return false
}

// Rank orders statuses along the state machine. Terminal statuses share the top rank.
func (s OrderStatus) Rank() int {
	switch s {
	case OrderPendingPayment:
		return 0
	case OrderProcessingPayment:
		return 1
	case OrderPaid, OrderPaymentFailed, OrderCancelled, OrderExpired:
		return 2
	}
	return -1
}

func (s OrderStatus) Valid() bool { return s.Rank() >= 0 }

// CanAdvanceTo reports whether moving from s to next is a forward transition.
func (s OrderStatus) CanAdvanceTo(next OrderStatus) bool {
	if s == next || s.IsTerminal() {
		return false
	}
	return next.Rank() > s.Rank()
}

type CartItem struct {
	ProductID string `json:"productId"`
	SellerID  string `json:"sellerId"`
	Name      string `json:"name"`
	// Price is the unit price in minor currency units.
	Price    int64 `json:"price"`
	Quantity int   `json:"quantity"`
}

// LineTotal is price x quantity in minor units.
func (c CartItem) LineTotal() int64 {
	return c.Price * int64(c.Quantity)
}

type CustomerInfo struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type DeliveryAddress struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country"`
}

type Order struct {
	ID     string
	Status OrderStatus
	// PaymentStatus is the last raw gateway status seen, kept for audit.
	PaymentStatus     string
	SessionStatus     string
	CheckoutSessionID string
	PaymentMethod     string
	CartItems         []CartItem
	TotalAmount       int64
	Currency          string
	CustomerInfo      CustomerInfo
	DeliveryAddress   DeliveryAddress
	PaymentDetails    *PaymentDetails
	PaidAt            *time.Time
	// PaidEventPending is set by the write that marks the order paid and cleared
	// once the order.paid event has been published.
	PaidEventPending bool
	// Version increments on every write; conditional updates compare against it.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SellerIDs returns the distinct sellers in cart order.
func (o *Order) SellerIDs() []string {
	seen := make(map[string]struct{}, len(o.CartItems))
	var out []string
	for _, it := range o.CartItems {
		if _, ok := seen[it.SellerID]; ok {
			continue
		}
		seen[it.SellerID] = struct{}{}
		out = append(out, it.SellerID)
	}
	return out
}

// Clone returns a deep copy so stores never share slices or pointers with callers.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.CartItems = append([]CartItem(nil), o.CartItems...)
	if o.PaidAt != nil {
		t := *o.PaidAt
		c.PaidAt = &t
	}
	if o.PaymentDetails != nil {
		d := *o.PaymentDetails
		c.PaymentDetails = &d
	}
	return &c
}
