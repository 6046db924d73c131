package handlers

import (
	"errors"
	"net/http"

	"storefront-payments/internal/apperr"
	"storefront-payments/internal/infrastructure/payment"
	"storefront-payments/internal/service"
)

// toAppError maps service and gateway errors onto public HTTP errors.
func toAppError(err error) error {
	var ve *service.ValidationError
	if errors.As(err, &ve) {
		return apperr.InvalidErr("Invalid request.", ve.Fields).WithCause(err)
	}
	if ge, ok := payment.AsGatewayError(err); ok {
		return gatewayAppError(ge)
	}

	switch {
	case errors.Is(err, service.ErrOrderNotFound):
		return apperr.NotFoundErr("Order not found.").WithCause(err)
	case errors.Is(err, service.ErrSessionMismatch):
		return apperr.InvalidErr("Checkout session does not match this order.", nil).WithCause(err)
	case errors.Is(err, service.ErrInsufficientBalance):
		return apperr.InvalidErr("Insufficient balance for this payout.", nil).WithCode("INSUFFICIENT_BALANCE").WithCause(err)
	case errors.Is(err, service.ErrInvalidSeller):
		return apperr.InvalidErr("Seller does not have an active store.", nil).WithCode("INVALID_SELLER").WithCause(err)
	case errors.Is(err, service.ErrConcurrentUpdate):
		return (&apperr.AppError{Kind: apperr.Unavailable, PublicMsg: "The order is being updated, please try again."}).WithCause(err)
	case errors.Is(err, service.ErrSignatureInvalid):
		return apperr.UnauthorizedErr("Invalid signature.").WithCause(err)
	case errors.Is(err, service.ErrMalformedPayload):
		return apperr.InvalidErr("Malformed payload.", nil).WithCause(err)
	}
	return apperr.Wrap(err)
}

// Upstream 4xx keep their status, 5xx become 502, no response becomes 503.
func gatewayAppError(ge *payment.GatewayError) *apperr.AppError {
	switch {
	case ge.Status == 0:
		return &apperr.AppError{Kind: apperr.Unavailable, PublicMsg: "Payment provider is unreachable, please try again.", Err: ge}
	case ge.Status == http.StatusTooManyRequests:
		return &apperr.AppError{Kind: apperr.Unavailable, Status: http.StatusTooManyRequests, PublicMsg: "Payment provider is busy, please try again.", Err: ge}
	case ge.ClientFault():
		return &apperr.AppError{Kind: apperr.BadGateway, Status: ge.Status, PublicMsg: "The payment provider rejected the request.", Err: ge}
	default:
		return &apperr.AppError{Kind: apperr.BadGateway, PublicMsg: "Payment provider error, please try again.", Err: ge}
	}
}
