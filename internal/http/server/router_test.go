package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-payments/internal/config"
	"storefront-payments/internal/domain"
	"storefront-payments/internal/http/handlers"
	"storefront-payments/internal/http/middleware"
	"storefront-payments/internal/idempotency"
	"storefront-payments/internal/infrastructure/payment"
	"storefront-payments/internal/repo"
	"storefront-payments/internal/service"
)

const secret = "whsec_router"

type testApp struct {
	router  *gin.Engine
	store   *repo.MemoryStore
	gateway *payment.MockGateway
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		Currency:               "SLE",
		SellerShareRatio:       decimal.RequireFromString("0.90"),
		AppBaseURL:             "http://shop.test",
		PayoutEstimatedArrival: 48 * time.Hour,
		Gateway:                config.Gateway{WebhookSecret: secret, Timeout: time.Second},
	}
	store := repo.NewMemoryStore()
	gw := payment.NewMockGateway()

	rec := service.NewReconciler(store.Orders(), nil, log)
	payouts := service.NewPayoutService(cfg, store.Orders(), store.Payouts(), store.Sellers(), gw, log)

	router := NewRouter(RouterDeps{
		Logger: log,
		Payments: &handlers.PaymentHandler{
			Logger:           log,
			Checkout:         service.NewCheckoutService(cfg, store.Orders(), gw, log),
			Status:           service.NewStatusService(store.Orders(), gw, rec, log),
			Webhooks:         service.NewWebhookService(secret, store.Orders(), store.WebhookEvents(), rec, payouts, log),
			Payouts:          payouts,
			Currency:         cfg.Currency,
			EstimatedArrival: cfg.PayoutEstimatedArrival,
		},
		Health: &handlers.HealthHandler{Check: func(context.Context) map[string]string {
			return map[string]string{"status": "up", "store": "memory"}
		}},
		Idempotency:    idempotency.NewMemoryStore(time.Hour),
		AllowedOrigins: []string{"http://shop.test"},
	})
	return &testApp{router: router, store: store, gateway: gw}
}

func (a *testApp) do(t *testing.T, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

const checkoutBody = `{
	"cartItems": [{"productId":"p1","sellerId":"seller_a","name":"Basket","price":150.00,"quantity":1}],
	"customerInfo": {"name":"Ada","email":"ada@example.com"},
	"deliveryAddress": {"line1":"1 Main St","city":"Freetown","country":"SL"},
	"paymentMethod": "mobile_money"
}`

func TestRouter_CheckoutPollWebhookPayout(t *testing.T) {
	app := newTestApp(t)

	w := app.do(t, http.MethodPost, "/payments/create-checkout", []byte(checkoutBody), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	created := decode(t, w)
	orderID := created["orderId"].(string)
	sessionID := created["sessionId"].(string)
	assert.NotEmpty(t, created["checkoutUrl"])
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderRequestID))

	require.NoError(t, app.gateway.SetSessionStatus(sessionID, domain.RawProcessing))
	w = app.do(t, http.MethodGet, "/payments/verify-status?orderId="+orderID+"&checkoutSessionId="+sessionID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	st := decode(t, w)
	assert.Equal(t, true, st["success"])
	assert.Equal(t, "processing_payment", st["orderStatus"])
	assert.Equal(t, "processing", st["paymentStatus"])
	assert.NotEmpty(t, st["statusMessage"])

	body := []byte(`{"event":"checkout_session.completed","data":{"id":"` + sessionID + `"}}`)
	w = app.do(t, http.MethodPost, "/payments/webhook", body, map[string]string{
		payment.SignatureHeader: payment.ComputeSignature(secret, body),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "applied", decode(t, w)["outcome"])

	app.store.SetSellerActive("seller_a", true)
	w = app.do(t, http.MethodGet, "/payments/balance/seller_a", nil, map[string]string{middleware.HeaderAuthenticatedUser: "seller_a"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 135.0, decode(t, w)["availableBalance"])

	payoutBody := []byte(`{"sellerId":"seller_a","amount":"100.00","payoutAccount":"+23270000000","orderIds":["` + orderID + `"]}`)
	w = app.do(t, http.MethodPost, "/payments/create-payout", payoutBody, map[string]string{middleware.HeaderAuthenticatedUser: "seller_a"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	p := decode(t, w)
	assert.Equal(t, "pending", p["status"])
	assert.NotEmpty(t, p["payoutId"])
	assert.NotEmpty(t, p["estimatedArrival"])

	w = app.do(t, http.MethodPost, "/payments/create-payout", payoutBody, map[string]string{middleware.HeaderAuthenticatedUser: "seller_a"})
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Equal(t, "INSUFFICIENT_BALANCE", decode(t, w)["code"])
}

func TestRouter_CheckoutValidation(t *testing.T) {
	app := newTestApp(t)

	w := app.do(t, http.MethodPost, "/payments/create-checkout", []byte(`{"cartItems":[{"productId":"p1","price":1,"quantity":0}],"customerInfo":{"name":"A","email":"bad"}}`), nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	fields := decode(t, w)["fields"].(map[string]any)
	assert.Contains(t, fields, "cartItems[0].sellerId")
	assert.Contains(t, fields, "customerInfo.email")

	w = app.do(t, http.MethodPost, "/payments/create-checkout", []byte(`{"cartItems":[{"productId":"p1","sellerId":"s","price":1.234,"quantity":1}],"customerInfo":{"name":"A","email":"a@b.co"},"deliveryAddress":{"line1":"x","city":"y"}}`), nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["fields"], "cartItems[0].price")

	w = app.do(t, http.MethodPost, "/payments/create-checkout", []byte(`{`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_CheckoutIdempotencyKeyReplays(t *testing.T) {
	app := newTestApp(t)
	h := map[string]string{middleware.HeaderIdempotencyKey: "checkout-abc-1"}

	first := app.do(t, http.MethodPost, "/payments/create-checkout", []byte(checkoutBody), h)
	require.Equal(t, http.StatusOK, first.Code)
	second := app.do(t, http.MethodPost, "/payments/create-checkout", []byte(checkoutBody), h)
	require.Equal(t, http.StatusOK, second.Code)

	assert.Equal(t, "true", second.Header().Get(middleware.HeaderReplayed))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, app.gateway.SessionCount())

	w := app.do(t, http.MethodPost, "/payments/create-checkout", []byte(checkoutBody), map[string]string{middleware.HeaderIdempotencyKey: "bad key!"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_WebhookResponses(t *testing.T) {
	app := newTestApp(t)
	body := []byte(`{"event":"payment.completed","data":{"metadata":{"orderId":"ord_unknown"}}}`)

	w := app.do(t, http.MethodPost, "/payments/webhook", body, map[string]string{payment.SignatureHeader: "deadbeef"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, app.store.Events())

	w = app.do(t, http.MethodPost, "/payments/webhook", body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	bad := []byte(`{"event":`)
	w = app.do(t, http.MethodPost, "/payments/webhook", bad, map[string]string{payment.SignatureHeader: payment.ComputeSignature(secret, bad)})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = app.do(t, http.MethodPost, "/payments/webhook", body, map[string]string{payment.SignatureHeader: payment.ComputeSignature(secret, body)})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "order_not_found", decode(t, w)["outcome"])
	assert.Len(t, app.store.Events(), 1)
}

func TestRouter_VerifyStatusErrors(t *testing.T) {
	app := newTestApp(t)

	w := app.do(t, http.MethodGet, "/payments/verify-status", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = app.do(t, http.MethodGet, "/payments/verify-status?orderId=ord_missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Order not found.", decode(t, w)["error"])

	created := decode(t, app.do(t, http.MethodPost, "/payments/create-checkout", []byte(checkoutBody), nil))
	app.gateway.FailNext("get_status", &payment.GatewayError{Status: 500, Message: "internal: db timeout at 10.0.0.4"})
	w = app.do(t, http.MethodGet, "/payments/verify-status?orderId="+created["orderId"].(string), nil, nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.NotContains(t, w.Body.String(), "10.0.0.4")

	app.gateway.FailNext("get_status", &payment.GatewayError{Message: "timeout", Err: context.DeadlineExceeded})
	w = app.do(t, http.MethodGet, "/payments/verify-status?orderId="+created["orderId"].(string), nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRouter_PayoutAuth(t *testing.T) {
	app := newTestApp(t)
	body := []byte(`{"sellerId":"seller_a","amount":10,"payoutAccount":"acct"}`)

	w := app.do(t, http.MethodPost, "/payments/create-payout", body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = app.do(t, http.MethodPost, "/payments/create-payout", body, map[string]string{middleware.HeaderAuthenticatedUser: "seller_b"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = app.do(t, http.MethodPost, "/payments/create-payout", body, map[string]string{middleware.HeaderAuthenticatedUser: "seller_a"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_SELLER", decode(t, w)["code"])
}

func TestRouter_Health(t *testing.T) {
	app := newTestApp(t)
	w := app.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "up", decode(t, w)["status"])
}
