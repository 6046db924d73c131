package domain

import (
	"fmt"
	"time"
)

// RawStatus is a status string as reported by the payment gateway.
type RawStatus string

const (
	RawPending    RawStatus = "pending"
	RawProcessing RawStatus = "processing"
	RawCompleted  RawStatus = "completed"
	RawFailed     RawStatus = "failed"
	RawCancelled  RawStatus = "cancelled"
	RawExpired    RawStatus = "expired"
)

// EventSource names the channel a status event arrived through.
type EventSource string

const (
	SourcePoll    EventSource = "poll"
	SourceWebhook EventSource = "webhook"
	SourceSweep   EventSource = "sweep"
)

// PaymentDetails is the raw payment snapshot stored alongside the canonical status.
type PaymentDetails struct {
	SessionID string      `json:"sessionId,omitempty"`
	RawStatus RawStatus   `json:"rawStatus"`
	InFlight  bool        `json:"inFlight,omitempty"`
	Amount    int64       `json:"amount,omitempty"`
	Currency  string      `json:"currency,omitempty"`
	Reference string      `json:"reference,omitempty"`
	Event     string      `json:"event,omitempty"`
	Source    EventSource `json:"source"`
	GatewayAt *time.Time  `json:"gatewayPaidAt,omitempty"`
}

// Canonical maps a raw gateway status onto the canonical order status.
// A processing status only counts as processing_payment when the source marks it in flight.
func Canonical(raw RawStatus, inFlight bool) (OrderStatus, error) {
	switch raw {
	case RawPending:
		return OrderPendingPayment, nil
	case RawProcessing:
		if inFlight {
			return OrderProcessingPayment, nil
		}
		return OrderPendingPayment, nil
	case RawCompleted:
		return OrderPaid, nil
	case RawFailed:
		return OrderPaymentFailed, nil
	case RawCancelled:
		return OrderCancelled, nil
	case RawExpired:
		return OrderExpired, nil
	}
	return "", fmt.Errorf("unknown raw payment status %q", raw)
}

// StatusMessage is the customer-facing description of a canonical status.
func StatusMessage(s OrderStatus) string {
	switch s {
	case OrderPendingPayment:
		return "Waiting for payment."
	case OrderProcessingPayment:
		return "Your payment is being processed."
	case OrderPaid:
		return "Payment received. Thank you for your order!"
	case OrderPaymentFailed:
		return "Payment failed, please try again."
	case OrderCancelled:
		return "Payment was cancelled."
	case OrderExpired:
		return "The payment session expired, please try again."
	}
	return "Unknown payment status."
}
