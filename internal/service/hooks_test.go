package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-payments/internal/domain"
	"storefront-payments/internal/messaging"
)

type recordingPublisher struct {
	topics []string
	keys   []string
	events []any
	err    error
}

func (p *recordingPublisher) PublishEvent(_ context.Context, topic, key string, event any) error {
	p.topics = append(p.topics, topic)
	p.keys = append(p.keys, key)
	p.events = append(p.events, event)
	return p.err
}

func TestPublishingPaidHook(t *testing.T) {
	pub := &recordingPublisher{}
	hook := NewPublishingPaidHook(pub, "orders.paid")
	paidAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	err := hook.OrderPaid(context.Background(), &domain.Order{
		ID:          "ord_42",
		CartItems:   []domain.CartItem{item("seller_a", 10000, 1), item("seller_b", 2500, 2), item("seller_a", 100, 1)},
		TotalAmount: 15100,
		Currency:    "SLE",
		PaidAt:      &paidAt,
	}, domain.SourceWebhook)
	require.NoError(t, err)

	require.Len(t, pub.events, 1)
	assert.Equal(t, "orders.paid", pub.topics[0])
	assert.Equal(t, "ord_42", pub.keys[0])
	assert.Equal(t, messaging.OrderPaid{
		OrderID:     "ord_42",
		SellerIDs:   []string{"seller_a", "seller_b"},
		TotalAmount: 15100,
		Currency:    "SLE",
		PaidAt:      paidAt,
		Source:      "webhook",
	}, pub.events[0])
}

// flakyPublisher fails its next `failures` publishes and records the ctx error
// seen by every call.
type flakyPublisher struct {
	recordingPublisher
	failures int
	ctxErrs  []error
}

func (p *flakyPublisher) PublishEvent(ctx context.Context, topic, key string, event any) error {
	p.ctxErrs = append(p.ctxErrs, ctx.Err())
	if p.failures > 0 {
		p.failures--
		return errors.New("broker down")
	}
	return p.recordingPublisher.PublishEvent(ctx, topic, key, event)
}

// A failing side effect never rolls back the paid transition, and the event
// stays pending until the relay publishes it.
func TestReconcile_HookFailureLeavesEventPending(t *testing.T) {
	ctx := context.Background()
	pub := &flakyPublisher{failures: 1}
	hook := NewPublishingPaidHook(pub, "orders.paid")
	f := newFixture(t, nil)
	rec := NewReconciler(f.store.Orders(), hook, testLogger())
	relay := NewPaidEventRelay(f.store.Orders(), hook, testLogger())
	f.seedOrder(t, "ord_1", "cs_1", item("s1", 1000, 1))

	res, err := rec.Reconcile(ctx, StatusEvent{OrderID: "ord_1", RawStatus: domain.RawCompleted, Source: domain.SourceWebhook})
	require.NoError(t, err)
	assert.True(t, res.PaidNow)

	// Redeliveries of the same status do not republish.
	for i := 0; i < 2; i++ {
		_, err = rec.Reconcile(ctx, StatusEvent{OrderID: "ord_1", RawStatus: domain.RawCompleted, Source: domain.SourceWebhook})
		require.NoError(t, err)
	}

	stored := f.order(t, "ord_1")
	assert.Equal(t, domain.OrderPaid, stored.Status)
	assert.True(t, stored.PaidEventPending)
	assert.Empty(t, pub.events)

	report, err := relay.Flush(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, RelayReport{Pending: 1, Published: 1}, report)
	require.Len(t, pub.events, 1)
	assert.Equal(t, "ord_1", pub.keys[0])
	assert.Equal(t, "webhook", pub.events[0].(messaging.OrderPaid).Source)
	assert.False(t, f.order(t, "ord_1").PaidEventPending)

	report, err = relay.Flush(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, RelayReport{}, report)
	assert.Len(t, pub.events, 1)
}

func TestReconcile_PublishesAfterCallerCancels(t *testing.T) {
	pub := &flakyPublisher{}
	f := newFixture(t, nil)
	rec := NewReconciler(f.store.Orders(), NewPublishingPaidHook(pub, "orders.paid"), testLogger())
	f.seedOrder(t, "ord_1", "cs_1", item("s1", 1000, 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := rec.Reconcile(ctx, StatusEvent{OrderID: "ord_1", RawStatus: domain.RawCompleted, Source: domain.SourcePoll})
	require.NoError(t, err)
	assert.True(t, res.PaidNow)
	assert.False(t, res.Order.PaidEventPending)

	require.Len(t, pub.events, 1)
	assert.Equal(t, []error{nil}, pub.ctxErrs)
	assert.False(t, f.order(t, "ord_1").PaidEventPending)
}

func TestPaidEventRelay_SkipsFreshEvents(t *testing.T) {
	ctx := context.Background()
	pub := &flakyPublisher{failures: 1}
	hook := NewPublishingPaidHook(pub, "orders.paid")
	f := newFixture(t, nil)
	rec := NewReconciler(f.store.Orders(), hook, testLogger())
	f.seedOrder(t, "ord_1", "cs_1", item("s1", 1000, 1))

	_, err := rec.Reconcile(ctx, StatusEvent{OrderID: "ord_1", RawStatus: domain.RawCompleted, Source: domain.SourceWebhook})
	require.NoError(t, err)

	report, err := NewPaidEventRelay(f.store.Orders(), hook, testLogger()).Flush(ctx, time.Hour, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Pending)
	assert.Empty(t, pub.events)
	assert.True(t, f.order(t, "ord_1").PaidEventPending)
}
