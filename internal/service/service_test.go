package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"storefront-payments/internal/config"
	"storefront-payments/internal/domain"
	"storefront-payments/internal/infrastructure/payment"
	"storefront-payments/internal/repo"
)

const testSecret = "whsec_test"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		Currency:         "SLE",
		SellerShareRatio: decimal.RequireFromString("0.90"),
		AppBaseURL:       "http://shop.test",
		Gateway:          config.Gateway{WebhookSecret: testSecret, Timeout: time.Second},
	}
}

type countingHook struct {
	mu     sync.Mutex
	calls  atomic.Int32
	orders []string
}

func (h *countingHook) OrderPaid(_ context.Context, order *domain.Order, _ domain.EventSource) error {
	h.calls.Add(1)
	h.mu.Lock()
	h.orders = append(h.orders, order.ID)
	h.mu.Unlock()
	return nil
}

// MockGateway lets a test override single gateway calls.
type MockGateway struct {
	CreateCheckoutSessionFunc    func(ctx context.Context, req payment.CheckoutSessionRequest) (*payment.CheckoutSession, error)
	GetCheckoutSessionStatusFunc func(ctx context.Context, sessionID string) (*payment.SessionStatus, error)
	CreatePayoutFunc             func(ctx context.Context, req payment.PayoutRequest) (*payment.PayoutResult, error)
	ListPayoutsFunc              func(ctx context.Context, limit int) ([]payment.PayoutResult, error)
}

func (m *MockGateway) CreateCheckoutSession(ctx context.Context, req payment.CheckoutSessionRequest) (*payment.CheckoutSession, error) {
	return m.CreateCheckoutSessionFunc(ctx, req)
}

func (m *MockGateway) GetCheckoutSessionStatus(ctx context.Context, sessionID string) (*payment.SessionStatus, error) {
	return m.GetCheckoutSessionStatusFunc(ctx, sessionID)
}

func (m *MockGateway) CreatePayout(ctx context.Context, req payment.PayoutRequest) (*payment.PayoutResult, error) {
	return m.CreatePayoutFunc(ctx, req)
}

func (m *MockGateway) ListPayouts(ctx context.Context, limit int) ([]payment.PayoutResult, error) {
	return m.ListPayoutsFunc(ctx, limit)
}

type fixture struct {
	store      *repo.MemoryStore
	gateway    payment.PaymentGateway
	hook       *countingHook
	reconciler Reconciler
	status     StatusService
	payouts    PayoutService
	webhooks   WebhookService
	checkout   CheckoutService
}

func newFixture(t *testing.T, gw payment.PaymentGateway) *fixture {
	t.Helper()
	if gw == nil {
		gw = payment.NewMockGateway()
	}
	cfg := testConfig()
	log := testLogger()
	store := repo.NewMemoryStore()
	hook := &countingHook{}

	rec := NewReconciler(store.Orders(), hook, log)
	payouts := NewPayoutService(cfg, store.Orders(), store.Payouts(), store.Sellers(), gw, log)
	checkout := NewCheckoutService(cfg, store.Orders(), gw, log)
	checkout.(*checkoutService).backoff = time.Millisecond

	return &fixture{
		store:      store,
		gateway:    gw,
		hook:       hook,
		reconciler: rec,
		status:     NewStatusService(store.Orders(), gw, rec, log),
		payouts:    payouts,
		webhooks:   NewWebhookService(testSecret, store.Orders(), store.WebhookEvents(), rec, payouts, log),
		checkout:   checkout,
	}
}

// seedOrder stores an order bound to sessionID with one line per (seller, minor price).
func (f *fixture) seedOrder(t *testing.T, id, sessionID string, items ...domain.CartItem) *domain.Order {
	t.Helper()
	now := time.Now().UTC()
	o := &domain.Order{
		ID:                id,
		Status:            domain.OrderPendingPayment,
		PaymentStatus:     string(domain.RawPending),
		SessionStatus:     string(domain.RawPending),
		CheckoutSessionID: sessionID,
		CartItems:         items,
		Currency:          "SLE",
		CustomerInfo:      domain.CustomerInfo{Name: "Ada", Email: "ada@example.com"},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	for _, it := range items {
		o.TotalAmount += it.LineTotal()
	}
	require.NoError(t, f.store.Orders().CreateOrder(context.Background(), o))
	return o
}

func (f *fixture) order(t *testing.T, id string) *domain.Order {
	t.Helper()
	o, err := f.store.Orders().FindById(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, o)
	return o
}

func signed(body string) ([]byte, string) {
	b := []byte(body)
	return b, payment.ComputeSignature(testSecret, b)
}
