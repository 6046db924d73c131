package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-payments/internal/domain"
)

func item(seller string, price int64, qty int) domain.CartItem {
	return domain.CartItem{ProductID: "p_" + seller, SellerID: seller, Name: "item", Price: price, Quantity: qty}
}

func TestReconcile_CompletedTwiceFiresHookOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedOrder(t, "ord_1", "cs_1", item("s1", 1000, 1))

	ev := StatusEvent{OrderID: "ord_1", SessionID: "cs_1", RawStatus: domain.RawCompleted, Source: domain.SourceWebhook}

	first, err := f.reconciler.Reconcile(ctx, ev)
	require.NoError(t, err)
	assert.True(t, first.Changed)
	assert.True(t, first.PaidNow)
	require.NotNil(t, first.Order.PaidAt)
	paidAt := *first.Order.PaidAt

	second, err := f.reconciler.Reconcile(ctx, ev)
	require.NoError(t, err)
	assert.False(t, second.Changed)
	assert.False(t, second.PaidNow)

	stored := f.order(t, "ord_1")
	assert.Equal(t, domain.OrderPaid, stored.Status)
	require.NotNil(t, stored.PaidAt)
	assert.True(t, paidAt.Equal(*stored.PaidAt))
	assert.EqualValues(t, 1, f.hook.calls.Load())
}

func TestReconcile_NeverRegresses(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedOrder(t, "ord_1", "cs_1", item("s1", 1000, 1))

	_, err := f.reconciler.Reconcile(ctx, StatusEvent{OrderID: "ord_1", RawStatus: domain.RawCompleted, Source: domain.SourceWebhook})
	require.NoError(t, err)

	res, err := f.reconciler.Reconcile(ctx, StatusEvent{OrderID: "ord_1", RawStatus: domain.RawProcessing, InFlight: true, Source: domain.SourcePoll})
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.False(t, res.Changed)

	for _, raw := range []domain.RawStatus{domain.RawPending, domain.RawFailed, domain.RawExpired, domain.RawCancelled} {
		_, err := f.reconciler.Reconcile(ctx, StatusEvent{OrderID: "ord_1", RawStatus: raw, Source: domain.SourcePoll})
		require.NoError(t, err)
	}
	assert.Equal(t, domain.OrderPaid, f.order(t, "ord_1").Status)
	assert.EqualValues(t, 1, f.hook.calls.Load())
}

func TestReconcile_ProcessingThenPendingStaysProcessing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedOrder(t, "ord_1", "cs_1", item("s1", 1000, 1))

	res, err := f.reconciler.Reconcile(ctx, StatusEvent{OrderID: "ord_1", RawStatus: domain.RawProcessing, InFlight: true, Source: domain.SourcePoll})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderProcessingPayment, res.Order.Status)

	res, err = f.reconciler.Reconcile(ctx, StatusEvent{OrderID: "ord_1", RawStatus: domain.RawPending, Source: domain.SourcePoll})
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.Equal(t, domain.OrderProcessingPayment, f.order(t, "ord_1").Status)
}

func TestReconcile_ProcessingWithoutDetailIsPending(t *testing.T) {
	f := newFixture(t, nil)
	f.seedOrder(t, "ord_1", "cs_1", item("s1", 1000, 1))

	res, err := f.reconciler.Reconcile(context.Background(), StatusEvent{OrderID: "ord_1", RawStatus: domain.RawProcessing, Source: domain.SourcePoll})
	require.NoError(t, err)
	assert.False(t, res.Changed)
	stored := f.order(t, "ord_1")
	assert.Equal(t, domain.OrderPendingPayment, stored.Status)
	assert.Equal(t, "processing", stored.PaymentStatus)
}

func TestReconcile_Errors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedOrder(t, "ord_1", "cs_1", item("s1", 1000, 1))

	_, err := f.reconciler.Reconcile(ctx, StatusEvent{OrderID: "ord_missing", RawStatus: domain.RawCompleted})
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = f.reconciler.Reconcile(ctx, StatusEvent{OrderID: "ord_1", SessionID: "cs_other", RawStatus: domain.RawCompleted})
	assert.ErrorIs(t, err, ErrSessionMismatch)

	_, err = f.reconciler.Reconcile(ctx, StatusEvent{OrderID: "ord_1", RawStatus: "refunded"})
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)

	assert.Equal(t, domain.OrderPendingPayment, f.order(t, "ord_1").Status)
}

func TestReconcile_ConcurrentPollAndWebhookPayOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seedOrder(t, "ord_1", "cs_1", item("s1", 1000, 1))

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.reconciler.Reconcile(ctx, StatusEvent{OrderID: "ord_1", RawStatus: domain.RawCompleted, Source: domain.SourceWebhook})
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := f.reconciler.Reconcile(ctx, StatusEvent{OrderID: "ord_1", RawStatus: domain.RawProcessing, InFlight: true, Source: domain.SourcePoll})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ErrConcurrentUpdate)
		}
	}

	// A redelivery after the race settles must not fire the hook again.
	_, err := f.reconciler.Reconcile(ctx, StatusEvent{OrderID: "ord_1", RawStatus: domain.RawCompleted, Source: domain.SourceWebhook})
	require.NoError(t, err)

	assert.Equal(t, domain.OrderPaid, f.order(t, "ord_1").Status)
	assert.EqualValues(t, 1, f.hook.calls.Load())
}
