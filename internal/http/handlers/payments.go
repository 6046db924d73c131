package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"storefront-payments/internal/apperr"
	"storefront-payments/internal/domain"
	"storefront-payments/internal/http/middleware"
	"storefront-payments/internal/http/validation"
	"storefront-payments/internal/infrastructure/payment"
	"storefront-payments/internal/service"
)

const maxWebhookBody = 1 << 20

type PaymentHandler struct {
	Logger           *slog.Logger
	Checkout         service.CheckoutService
	Status           service.StatusService
	Webhooks         service.WebhookService
	Payouts          service.PayoutService
	Currency         string
	EstimatedArrival time.Duration
}

type cartItemRequest struct {
	ProductID string          `json:"productId" binding:"required"`
	SellerID  string          `json:"sellerId" binding:"required"`
	Name      string          `json:"name" binding:"max=200"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity" binding:"required,min=1,max=10000"`
}

type customerInfoRequest struct {
	Name  string `json:"name" binding:"required,max=200"`
	Email string `json:"email" binding:"omitempty,email"`
	Phone string `json:"phone" binding:"omitempty,max=32"`
}

type checkoutRequest struct {
	CartItems       []cartItemRequest      `json:"cartItems" binding:"required,min=1,dive"`
	CustomerInfo    customerInfoRequest    `json:"customerInfo"`
	DeliveryAddress domain.DeliveryAddress `json:"deliveryAddress"`
	PaymentMethod   string                 `json:"paymentMethod"`
}

// POST /payments/create-checkout
func (h *PaymentHandler) CreateCheckout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Fail(c, apperr.InvalidErr("Invalid request.", validation.FromBindError(err)))
		return
	}

	in := service.CheckoutRequest{
		Customer: domain.CustomerInfo{
			Name:  req.CustomerInfo.Name,
			Email: req.CustomerInfo.Email,
			Phone: req.CustomerInfo.Phone,
		},
		DeliveryAddress: req.DeliveryAddress,
		PaymentMethod:   req.PaymentMethod,
	}
	for _, it := range req.CartItems {
		in.Items = append(in.Items, service.CheckoutItem{
			ProductID: it.ProductID,
			SellerID:  it.SellerID,
			Name:      it.Name,
			Price:     it.Price,
			Quantity:  it.Quantity,
		})
	}

	res, err := h.Checkout.CreateCheckout(c.Request.Context(), in)
	if err != nil {
		middleware.Fail(c, toAppError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"orderId":     res.OrderID,
		"sessionId":   res.SessionID,
		"checkoutUrl": res.CheckoutURL,
	})
}

// GET /payments/verify-status?orderId=&checkoutSessionId=
func (h *PaymentHandler) VerifyStatus(c *gin.Context) {
	orderID := c.Query("orderId")
	if orderID == "" {
		middleware.Fail(c, apperr.InvalidErr("orderId is required.", map[string]string{"orderId": "is required"}))
		return
	}

	v, err := h.Status.VerifyStatus(c.Request.Context(), orderID, c.Query("checkoutSessionId"))
	if err != nil {
		middleware.Fail(c, toAppError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"orderId":        v.OrderID,
		"paymentStatus":  v.PaymentStatus,
		"orderStatus":    v.OrderStatus,
		"statusMessage":  v.StatusMessage,
		"paymentDetails": v.PaymentDetails,
		"paidAt":         v.PaidAt,
	})
}

// POST /payments/webhook
// The body is read untouched; the signature covers these exact bytes.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"received": false, "error": "invalid body"})
		return
	}

	outcome, err := h.Webhooks.Handle(c.Request.Context(), body, c.GetHeader(payment.SignatureHeader))
	switch {
	case errors.Is(err, service.ErrSignatureInvalid):
		h.Logger.WarnContext(c.Request.Context(), "webhook signature rejected",
			"request_id", middleware.GetRequestID(c),
			"client_ip", c.ClientIP(),
			"body_bytes", len(body),
		)
		c.JSON(http.StatusUnauthorized, gin.H{"received": false, "error": "invalid signature"})
		return
	case errors.Is(err, service.ErrMalformedPayload):
		c.JSON(http.StatusBadRequest, gin.H{"received": false, "error": "malformed payload"})
		return
	case err != nil:
		// Handle only returns the two errors above; anything else is still acknowledged.
		h.Logger.ErrorContext(c.Request.Context(), "webhook handling failed", "err", err)
		outcome = service.OutcomeFailed
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "outcome": outcome})
}

type payoutRequest struct {
	SellerID      string          `json:"sellerId" binding:"required"`
	Amount        decimal.Decimal `json:"amount"`
	PayoutAccount string          `json:"payoutAccount" binding:"required,max=64"`
	Description   string          `json:"description" binding:"max=255"`
	OrderIDs      []string        `json:"orderIds"`
}

// POST /payments/create-payout
func (h *PaymentHandler) CreatePayout(c *gin.Context) {
	var req payoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Fail(c, apperr.InvalidErr("Invalid request.", validation.FromBindError(err)))
		return
	}
	if middleware.AuthenticatedUser(c) != req.SellerID {
		middleware.Fail(c, apperr.ForbiddenErr("You can only request payouts for your own store."))
		return
	}

	p, err := h.Payouts.CreatePayout(c.Request.Context(), service.CreatePayoutRequest{
		SellerID:      req.SellerID,
		Amount:        req.Amount,
		PayoutAccount: req.PayoutAccount,
		Description:   req.Description,
		OrderIDs:      req.OrderIDs,
	})
	if err != nil {
		middleware.Fail(c, toAppError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"payoutId":         p.ID,
		"status":           p.Status,
		"amount":           majorUnits(p.Amount),
		"currency":         p.Currency,
		"estimatedArrival": p.CreatedAt.Add(h.EstimatedArrival).Format(time.RFC3339),
	})
}

// GET /payments/balance/:sellerId
func (h *PaymentHandler) Balance(c *gin.Context) {
	sellerID := c.Param("sellerId")
	if middleware.AuthenticatedUser(c) != sellerID {
		middleware.Fail(c, apperr.ForbiddenErr("You can only view your own balance."))
		return
	}
	bal, err := h.Payouts.AvailableBalance(c.Request.Context(), sellerID)
	if err != nil {
		middleware.Fail(c, toAppError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sellerId":         sellerID,
		"availableBalance": majorUnits(bal),
		"currency":         h.Currency,
	})
}

// majorUnits renders minor units as a JSON number with two decimals.
func majorUnits(minor int64) json.Number {
	return json.Number(domain.FromMinorUnits(minor).StringFixed(2))
}
