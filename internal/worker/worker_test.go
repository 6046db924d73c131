package worker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-payments/internal/config"
	"storefront-payments/internal/domain"
	"storefront-payments/internal/infrastructure/payment"
	"storefront-payments/internal/repo"
	"storefront-payments/internal/service"
)

func newSession(t *testing.T, gw *payment.MockGateway, orderID string) string {
	t.Helper()
	s, err := gw.CreateCheckoutSession(context.Background(), payment.CheckoutSessionRequest{
		OrderID:        orderID,
		Currency:       "SLE",
		LineItems:      []payment.LineItem{{Name: "x", UnitPrice: decimal.RequireFromString("10.00"), Quantity: 1}},
		IdempotencyKey: orderID,
	})
	require.NoError(t, err)
	return s.SessionID
}

func seed(t *testing.T, store *repo.MemoryStore, id, sessionID string, age time.Duration) {
	t.Helper()
	at := time.Now().Add(-age)
	require.NoError(t, store.Orders().CreateOrder(context.Background(), &domain.Order{
		ID:                id,
		Status:            domain.OrderPendingPayment,
		CheckoutSessionID: sessionID,
		CartItems:         []domain.CartItem{{ProductID: "p1", SellerID: "s1", Price: 1000, Quantity: 1}},
		TotalAmount:       1000,
		Currency:          "SLE",
		CreatedAt:         at,
		UpdatedAt:         at,
	}))
}

func TestReconciliationWorker_SettlesStuckOrders(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repo.NewMemoryStore()
	gw := payment.NewMockGateway()
	rec := service.NewReconciler(store.Orders(), nil, log)
	status := service.NewStatusService(store.Orders(), gw, rec, log)

	paid := newSession(t, gw, "ord_paid")
	require.NoError(t, gw.SetSessionStatus(paid, domain.RawCompleted))
	expired := newSession(t, gw, "ord_expired")
	require.NoError(t, gw.SetSessionStatus(expired, domain.RawExpired))
	fresh := newSession(t, gw, "ord_fresh")
	require.NoError(t, gw.SetSessionStatus(fresh, domain.RawCompleted))

	seed(t, store, "ord_paid", paid, time.Hour)
	seed(t, store, "ord_expired", expired, time.Hour)
	seed(t, store, "ord_fresh", fresh, time.Second)
	seed(t, store, "ord_lost", "cs_gone", time.Hour)

	w := NewReconciliationWorker(store.Orders(), status, time.Minute, 10*time.Minute, log)
	report, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 2, report.Changed)
	assert.Equal(t, 1, report.Failed)

	get := func(id string) *domain.Order {
		o, err := store.Orders().FindById(context.Background(), id)
		require.NoError(t, err)
		return o
	}
	assert.Equal(t, domain.OrderPaid, get("ord_paid").Status)
	assert.Equal(t, domain.SourceSweep, get("ord_paid").PaymentDetails.Source)
	assert.Equal(t, domain.OrderExpired, get("ord_expired").Status)
	assert.Equal(t, domain.OrderPendingPayment, get("ord_fresh").Status, "too recent to sweep")

	report, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked, "only the lost session is still unsettled")
}

func TestReconciliationWorker_RunStopsOnCancel(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repo.NewMemoryStore()
	gw := payment.NewMockGateway()
	status := service.NewStatusService(store.Orders(), gw, service.NewReconciler(store.Orders(), nil, log), log)
	w := NewReconciliationWorker(store.Orders(), status, 5*time.Millisecond, time.Minute, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestPayoutAuditWorker_ReportsOrphans(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repo.NewMemoryStore()
	gw := payment.NewMockGateway()
	cfg := &config.Config{Currency: "SLE", SellerShareRatio: decimal.RequireFromString("0.9")}
	payouts := service.NewPayoutService(cfg, store.Orders(), store.Payouts(), store.Sellers(), gw, log)

	gw.AddPayout(payment.PayoutResult{ID: "po_orphan", Amount: 100, Metadata: map[string]string{"sellerId": "s1"}})

	orphans, err := NewPayoutAuditWorker(payouts, time.Minute, log).RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, "po_orphan", orphans[0].ID)
}

type paidCalls struct{ ids []string }

func (h *paidCalls) OrderPaid(_ context.Context, order *domain.Order, _ domain.EventSource) error {
	h.ids = append(h.ids, order.ID)
	return nil
}

func TestPaidEventWorker_RepublishesPendingEvents(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repo.NewMemoryStore()
	hook := &paidCalls{}
	ctx := context.Background()

	for id, age := range map[string]time.Duration{"ord_old": time.Hour, "ord_fresh": time.Second} {
		at := time.Now().Add(-age)
		require.NoError(t, store.Orders().CreateOrder(ctx, &domain.Order{
			ID:               id,
			Status:           domain.OrderPaid,
			CartItems:        []domain.CartItem{{ProductID: "p1", SellerID: "s1", Price: 1000, Quantity: 1}},
			TotalAmount:      1000,
			Currency:         "SLE",
			PaidAt:           &at,
			PaidEventPending: true,
			CreatedAt:        at,
			UpdatedAt:        at,
		}))
	}

	w := NewPaidEventWorker(service.NewPaidEventRelay(store.Orders(), hook, log), time.Minute, time.Minute, log)
	report, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, service.RelayReport{Pending: 1, Published: 1}, report)
	assert.Equal(t, []string{"ord_old"}, hook.ids)

	o, err := store.Orders().FindById(ctx, "ord_old")
	require.NoError(t, err)
	assert.False(t, o.PaidEventPending)

	report, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Pending, "fresh event is left to its own request")
	assert.Len(t, hook.ids, 1)
}
