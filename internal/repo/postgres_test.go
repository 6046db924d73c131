package repo

import (
	"context"
	"database/sql"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"storefront-payments/internal/database"
	"storefront-payments/internal/domain"
)

func startPostgres(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("storefront"),
		postgres.WithUsername("storefront"),
		postgres.WithPassword("storefront"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	svc, err := database.Open(ctx, dsn, "storefront", slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	require.NoError(t, svc.Migrate(ctx))
	// Running it twice must be harmless.
	require.NoError(t, svc.Migrate(ctx))
	return svc.DB()
}

func TestPostgresOrderRepo(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	orders := NewOrderRepo(db)

	o := newOrder("ord_42")
	o.CustomerInfo = domain.CustomerInfo{Name: "Aminata", Phone: "+23276000000"}
	o.DeliveryAddress = domain.DeliveryAddress{Line1: "1 Siaka Stevens St", City: "Freetown", Country: "SL"}
	require.NoError(t, orders.CreateOrder(ctx, o))

	got, err := orders.FindById(ctx, "ord_42")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, o.CartItems, got.CartItems)
	assert.Nil(t, got.PaidAt)

	missing, err := orders.FindById(ctx, "ord_missing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	paidAt := time.Now().UTC().Truncate(time.Millisecond)
	got.Status = domain.OrderPaid
	got.CheckoutSessionID = "cs_99"
	got.PaidAt = &paidAt
	got.PaymentDetails = &domain.PaymentDetails{SessionID: "cs_99", RawStatus: domain.RawCompleted, Source: domain.SourceWebhook}
	got.PaidEventPending = true
	got.UpdatedAt = paidAt
	ok, err := orders.UpdateOrder(ctx, got, 1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = orders.UpdateOrder(ctx, got, 1)
	require.NoError(t, err)
	assert.False(t, ok, "version 1 is stale")

	bySession, err := orders.FindBySessionID(ctx, "cs_99")
	require.NoError(t, err)
	require.NotNil(t, bySession)
	assert.Equal(t, domain.OrderPaid, bySession.Status)
	assert.Equal(t, int64(2), bySession.Version)
	require.NotNil(t, bySession.PaymentDetails)
	assert.Equal(t, domain.RawCompleted, bySession.PaymentDetails.RawStatus)
	assert.True(t, paidAt.Equal(*bySession.PaidAt))
	assert.True(t, bySession.PaidEventPending)

	pending, err := orders.FindPendingPaidEvents(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "ord_42", pending[0].ID)

	pending, err = orders.FindPendingPaidEvents(ctx, time.Hour, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	paid, err := orders.FindPaidBySeller(ctx, "seller_1")
	require.NoError(t, err)
	assert.Len(t, paid, 1)

	none, err := orders.FindPaidBySeller(ctx, "seller_2")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPostgresPayoutAndSellerRepos(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "INSERT INTO stores (id, seller_id, name, active) VALUES ('st_1', 'seller_1', 'Shop', TRUE)")
	require.NoError(t, err)

	sellers := NewSellerRepo(db)
	active, err := sellers.HasActiveStore(ctx, "seller_1")
	require.NoError(t, err)
	assert.True(t, active)
	active, err = sellers.HasActiveStore(ctx, "seller_2")
	require.NoError(t, err)
	assert.False(t, active)

	payouts := NewPayoutRepo(db)
	now := time.Now()
	require.NoError(t, payouts.CreatePayout(ctx, &domain.Payout{
		ID: "po_1", GatewayPayoutID: "gw_po_1", SellerID: "seller_1", Amount: 5000, Currency: "SLE",
		PayoutAccount: "+23276000000", Status: domain.PayoutPending, CreatedAt: now, UpdatedAt: now,
	}))

	p, err := payouts.FindByGatewayID(ctx, "gw_po_1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Empty(t, p.OrderIDs)

	ok, err := payouts.UpdatePayoutStatus(ctx, "po_1", domain.PayoutPending, domain.PayoutCompleted)
	require.NoError(t, err)
	assert.True(t, ok)

	list, err := payouts.FindBySeller(ctx, "seller_1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.PayoutCompleted, list[0].Status)

	events := NewWebhookEventRepo(db)
	require.NoError(t, events.AppendEvent(ctx, &domain.WebhookEvent{
		ID: "evt_1", Event: "payment.completed", Data: []byte(`{"id":"cs_99"}`), Signature: "abc", Verified: true, ReceivedAt: now,
	}))
}
