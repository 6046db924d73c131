package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"storefront-payments/internal/domain"
)

// MemoryStore backs every repository interface with maps. It is used by tests,
// the simulator and STORE_DRIVER=memory.
type MemoryStore struct {
	mu      sync.RWMutex
	orders  map[string]*domain.Order
	payouts map[string]*domain.Payout
	events  []domain.WebhookEvent
	sellers map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:  make(map[string]*domain.Order),
		payouts: make(map[string]*domain.Payout),
		sellers: make(map[string]bool),
	}
}

func (m *MemoryStore) Orders() OrderRepo               { return memoryOrders{m} }
func (m *MemoryStore) Payouts() PayoutRepo             { return memoryPayouts{m} }
func (m *MemoryStore) WebhookEvents() WebhookEventRepo { return memoryEvents{m} }
func (m *MemoryStore) Sellers() SellerRepo             { return memorySellers{m} }

// SetSellerActive registers a seller store as active or inactive.
func (m *MemoryStore) SetSellerActive(sellerID string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sellers[sellerID] = active
}

// Events returns a copy of the audit log.
func (m *MemoryStore) Events() []domain.WebhookEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.WebhookEvent(nil), m.events...)
}

type memoryOrders struct{ m *MemoryStore }

func (r memoryOrders) CreateOrder(_ context.Context, order *domain.Order) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, exists := r.m.orders[order.ID]; exists {
		return fmt.Errorf("insert order %s: duplicate id", order.ID)
	}
	if order.Version == 0 {
		order.Version = 1
	}
	r.m.orders[order.ID] = order.Clone()
	return nil
}

func (r memoryOrders) FindById(_ context.Context, id string) (*domain.Order, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	return r.m.orders[id].Clone(), nil
}

func (r memoryOrders) FindBySessionID(_ context.Context, sessionID string) (*domain.Order, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	for _, o := range r.m.orders {
		if o.CheckoutSessionID != "" && o.CheckoutSessionID == sessionID {
			return o.Clone(), nil
		}
	}
	return nil, nil
}

func (r memoryOrders) UpdateOrder(_ context.Context, order *domain.Order, expectedVersion int64) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	stored, ok := r.m.orders[order.ID]
	if !ok || stored.Version != expectedVersion {
		return false, nil
	}
	next := stored.Clone()
	next.Status = order.Status
	next.PaymentStatus = order.PaymentStatus
	next.SessionStatus = order.SessionStatus
	next.CheckoutSessionID = order.CheckoutSessionID
	next.PaymentDetails = order.Clone().PaymentDetails
	next.PaidAt = order.Clone().PaidAt
	next.PaidEventPending = order.PaidEventPending
	next.UpdatedAt = order.UpdatedAt
	next.Version = expectedVersion + 1
	r.m.orders[order.ID] = next
	order.Version = next.Version
	return true, nil
}

func (r memoryOrders) FindStuckOrders(_ context.Context, olderThan time.Duration, limit int) ([]domain.Order, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	cutoff := time.Now().Add(-olderThan)
	var out []domain.Order
	for _, o := range r.m.orders {
		if o.Status.IsTerminal() || o.CheckoutSessionID == "" || !o.UpdatedAt.Before(cutoff) {
			continue
		}
		out = append(out, *o.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memoryOrders) FindPaidBySeller(_ context.Context, sellerID string) ([]domain.Order, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []domain.Order
	for _, o := range r.m.orders {
		if o.Status != domain.OrderPaid {
			continue
		}
		for _, it := range o.CartItems {
			if it.SellerID == sellerID {
				out = append(out, *o.Clone())
				break
			}
		}
	}
	return out, nil
}

func (r memoryOrders) FindPendingPaidEvents(_ context.Context, olderThan time.Duration, limit int) ([]domain.Order, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	cutoff := time.Now().Add(-olderThan)
	var out []domain.Order
	for _, o := range r.m.orders {
		if !o.PaidEventPending || o.UpdatedAt.After(cutoff) {
			continue
		}
		out = append(out, *o.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memoryPayouts struct{ m *MemoryStore }

func clonePayout(p *domain.Payout) *domain.Payout {
	if p == nil {
		return nil
	}
	c := *p
	c.OrderIDs = append([]string(nil), p.OrderIDs...)
	return &c
}

func (r memoryPayouts) CreatePayout(_ context.Context, payout *domain.Payout) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, exists := r.m.payouts[payout.ID]; exists {
		return fmt.Errorf("insert payout %s: duplicate id", payout.ID)
	}
	r.m.payouts[payout.ID] = clonePayout(payout)
	return nil
}

func (r memoryPayouts) FindById(_ context.Context, id string) (*domain.Payout, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	return clonePayout(r.m.payouts[id]), nil
}

func (r memoryPayouts) FindByGatewayID(_ context.Context, gatewayPayoutID string) (*domain.Payout, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	for _, p := range r.m.payouts {
		if p.GatewayPayoutID == gatewayPayoutID {
			return clonePayout(p), nil
		}
	}
	return nil, nil
}

func (r memoryPayouts) FindBySeller(_ context.Context, sellerID string) ([]domain.Payout, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []domain.Payout
	for _, p := range r.m.payouts {
		if p.SellerID == sellerID {
			out = append(out, *clonePayout(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r memoryPayouts) UpdatePayoutStatus(_ context.Context, id string, from, to domain.PayoutStatus) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	p, ok := r.m.payouts[id]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	p.UpdatedAt = time.Now()
	return true, nil
}

type memoryEvents struct{ m *MemoryStore }

func (r memoryEvents) AppendEvent(_ context.Context, ev *domain.WebhookEvent) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c := *ev
	c.Data = append([]byte(nil), ev.Data...)
	r.m.events = append(r.m.events, c)
	return nil
}

type memorySellers struct{ m *MemoryStore }

func (r memorySellers) HasActiveStore(_ context.Context, sellerID string) (bool, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	return r.m.sellers[sellerID], nil
}
