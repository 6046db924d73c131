package domain

import (
	"encoding/json"
	"time"
)

type WebhookEventType string

const (
	EventCheckoutCompleted WebhookEventType = "checkout_session.completed"
	EventCheckoutExpired   WebhookEventType = "checkout_session.expired"
	EventPaymentProcessing WebhookEventType = "payment.processing"
	EventPaymentCompleted  WebhookEventType = "payment.completed"
	EventPaymentFailed     WebhookEventType = "payment.failed"
	EventPaymentCancelled  WebhookEventType = "payment.cancelled"
	EventPaymentExpired    WebhookEventType = "payment.expired"
	EventPayoutCompleted   WebhookEventType = "payout.completed"
	EventPayoutFailed      WebhookEventType = "payout.failed"
)

// OrderRawStatus returns the raw status an order event carries, and false for non-order events.
func (t WebhookEventType) OrderRawStatus() (RawStatus, bool) {
	switch t {
	case EventCheckoutCompleted, EventPaymentCompleted:
		return RawCompleted, true
	case EventCheckoutExpired, EventPaymentExpired:
		return RawExpired, true
	case EventPaymentProcessing:
		return RawProcessing, true
	case EventPaymentFailed:
		return RawFailed, true
	case EventPaymentCancelled:
		return RawCancelled, true
	}
	return "", false
}

// PayoutStatus returns the payout status a payout event carries, and false for non-payout events.
func (t WebhookEventType) PayoutStatus() (PayoutStatus, bool) {
	switch t {
	case EventPayoutCompleted:
		return PayoutCompleted, true
	case EventPayoutFailed:
		return PayoutFailed, true
	}
	return "", false
}

// WebhookEvent is an append-only audit record of an inbound gateway webhook.
type WebhookEvent struct {
	ID         string
	Event      string
	Data       json.RawMessage
	Signature  string
	Verified   bool
	ReceivedAt time.Time
}
