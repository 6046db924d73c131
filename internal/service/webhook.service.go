package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"storefront-payments/internal/domain"
	"storefront-payments/internal/infrastructure/payment"
	"storefront-payments/internal/repo"
)

type WebhookOutcome string

const (
	OutcomeApplied       WebhookOutcome = "applied"
	OutcomeNoop          WebhookOutcome = "noop"
	OutcomeOrderNotFound WebhookOutcome = "order_not_found"
	OutcomeIgnored       WebhookOutcome = "ignored"
	OutcomeFailed        WebhookOutcome = "failed"
	// OutcomeAuditFailed means the delivery was routed but could not be
	// written to the audit log.
	OutcomeAuditFailed WebhookOutcome = "audit_failed"
)

type webhookEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type webhookData struct {
	ID                string            `json:"id"`
	CheckoutSessionID string            `json:"checkoutSessionId"`
	Status            string            `json:"status"`
	Reference         string            `json:"reference"`
	Metadata          map[string]string `json:"metadata"`
	Amount            *struct {
		Currency string `json:"currency"`
		Value    int64  `json:"value"`
	} `json:"amount"`
	PaidAt *time.Time `json:"paidAt"`
}

// WebhookService verifies, records and routes inbound gateway webhooks.
type WebhookService interface {
	// Handle returns ErrSignatureInvalid or ErrMalformedPayload when the
	// delivery must be rejected. Every other failure is logged and reported
	// through the outcome so the gateway is not asked to redeliver.
	Handle(ctx context.Context, rawBody []byte, signature string) (WebhookOutcome, error)
}

type webhookService struct {
	secret     string
	orders     repo.OrderRepo
	events     repo.WebhookEventRepo
	reconciler Reconciler
	payouts    PayoutService
	logger     *slog.Logger
}

func NewWebhookService(
	secret string,
	orders repo.OrderRepo,
	events repo.WebhookEventRepo,
	reconciler Reconciler,
	payouts PayoutService,
	logger *slog.Logger,
) WebhookService {
	return &webhookService{
		secret:     secret,
		orders:     orders,
		events:     events,
		reconciler: reconciler,
		payouts:    payouts,
		logger:     logger,
	}
}

func (s *webhookService) Handle(ctx context.Context, rawBody []byte, signature string) (WebhookOutcome, error) {
	// Verify against the bytes exactly as received, before any parsing.
	if !payment.VerifySignature(s.secret, rawBody, signature) {
		return "", ErrSignatureInvalid
	}

	var env webhookEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil || env.Event == "" {
		return "", ErrMalformedPayload
	}
	var data webhookData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return "", ErrMalformedPayload
		}
	}

	auditErr := s.events.AppendEvent(ctx, &domain.WebhookEvent{
		ID:         uuid.NewString(),
		Event:      env.Event,
		Data:       env.Data,
		Signature:  signature,
		Verified:   true,
		ReceivedAt: time.Now().UTC(),
	})

	outcome := s.route(ctx, env.Event, data)
	if auditErr != nil {
		s.logger.ErrorContext(ctx, "webhook audit append failed",
			"event", env.Event,
			"routed", outcome,
			"err", auditErr,
		)
		return OutcomeAuditFailed, nil
	}
	return outcome, nil
}

func (s *webhookService) route(ctx context.Context, event string, data webhookData) (outcome WebhookOutcome) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.ErrorContext(ctx, "webhook processing panicked", "event", event, "panic", rec)
			outcome = OutcomeFailed
		}
	}()

	evType := domain.WebhookEventType(event)
	if raw, ok := evType.OrderRawStatus(); ok {
		return s.handleOrderEvent(ctx, evType, raw, data)
	}
	if status, ok := evType.PayoutStatus(); ok {
		return s.handlePayoutEvent(ctx, status, data)
	}

	s.logger.InfoContext(ctx, "ignoring unhandled webhook event", "event", event)
	return OutcomeIgnored
}

func (s *webhookService) handleOrderEvent(ctx context.Context, evType domain.WebhookEventType, raw domain.RawStatus, data webhookData) WebhookOutcome {
	sessionID := data.CheckoutSessionID
	if sessionID == "" && (evType == domain.EventCheckoutCompleted || evType == domain.EventCheckoutExpired) {
		sessionID = data.ID
	}

	orderID, err := s.resolveOrderID(ctx, data, sessionID)
	if err != nil {
		s.logger.ErrorContext(ctx, "webhook order lookup failed", "event", evType, "err", err)
		return OutcomeFailed
	}
	if orderID == "" {
		s.logger.WarnContext(ctx, "webhook for unknown order", "event", evType, "session_id", sessionID)
		return OutcomeOrderNotFound
	}

	ev := StatusEvent{
		OrderID:   orderID,
		SessionID: sessionID,
		RawStatus: raw,
		// payment.processing is an explicit in-flight signal.
		InFlight:      evType == domain.EventPaymentProcessing,
		Source:        domain.SourceWebhook,
		Event:         string(evType),
		Reference:     data.Reference,
		GatewayPaidAt: data.PaidAt,
	}
	if data.Amount != nil {
		ev.Amount = data.Amount.Value
		ev.Currency = data.Amount.Currency
	}

	res, err := s.reconciler.Reconcile(ctx, ev)
	switch {
	case errors.Is(err, ErrOrderNotFound):
		s.logger.WarnContext(ctx, "webhook for unknown order", "event", evType, "order_id", orderID)
		return OutcomeOrderNotFound
	case err != nil:
		s.logger.ErrorContext(ctx, "webhook reconciliation failed", "event", evType, "order_id", orderID, "err", err)
		return OutcomeFailed
	case res.Changed:
		return OutcomeApplied
	default:
		return OutcomeNoop
	}
}

// resolveOrderID tries metadata.orderId, then reference, then the bound checkout session.
func (s *webhookService) resolveOrderID(ctx context.Context, data webhookData, sessionID string) (string, error) {
	if id := data.Metadata["orderId"]; id != "" {
		return id, nil
	}
	if data.Reference != "" {
		return data.Reference, nil
	}
	if sessionID == "" {
		return "", nil
	}
	order, err := s.orders.FindBySessionID(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("find order by session %s: %w", sessionID, err)
	}
	if order == nil {
		return "", nil
	}
	return order.ID, nil
}

func (s *webhookService) handlePayoutEvent(ctx context.Context, status domain.PayoutStatus, data webhookData) WebhookOutcome {
	changed, err := s.payouts.ApplyPayoutStatus(ctx, data.ID, data.Metadata["payoutId"], status)
	switch {
	case errors.Is(err, ErrPayoutNotFound):
		s.logger.WarnContext(ctx, "webhook for unknown payout", "gateway_payout_id", data.ID)
		return OutcomeOrderNotFound
	case err != nil:
		s.logger.ErrorContext(ctx, "payout status update failed", "gateway_payout_id", data.ID, "err", err)
		return OutcomeFailed
	case changed:
		return OutcomeApplied
	default:
		return OutcomeNoop
	}
}
