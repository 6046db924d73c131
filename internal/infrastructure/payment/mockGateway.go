package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"storefront-payments/internal/domain"
)

// MockGateway is an in-memory PaymentGateway. Session and payout creation are
// deduplicated by idempotency key the way the real provider does it.
type MockGateway struct {
	mu            sync.RWMutex
	sessions      map[string]*mockSession
	sessionByKey  map[string]string
	payouts       map[string]*PayoutResult
	payoutByKey   map[string]string
	failNext      map[string]error
	createCalls   int
	statusCalls   int
	checkoutURLFn func(id string) string
}

type mockSession struct {
	status SessionStatus
}

var _ PaymentGateway = (*MockGateway)(nil)

func NewMockGateway() *MockGateway {
	return &MockGateway{
		sessions:     make(map[string]*mockSession),
		sessionByKey: make(map[string]string),
		payouts:      make(map[string]*PayoutResult),
		payoutByKey:  make(map[string]string),
		failNext:     make(map[string]error),
		checkoutURLFn: func(id string) string {
			return "https://checkout.example.test/" + id
		},
	}
}

// FailNext makes the next call of the named method ("create_session", "get_status",
// "create_payout", "list_payouts") return err.
func (g *MockGateway) FailNext(method string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext[method] = err
}

func (g *MockGateway) takeFailure(method string) error {
	err, ok := g.failNext[method]
	if ok {
		delete(g.failNext, method)
	}
	return err
}

// SetSessionStatus moves a session to raw status. Completing a session stamps paidAt.
func (g *MockGateway) SetSessionStatus(sessionID string, status domain.RawStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[sessionID]
	if !ok {
		return fmt.Errorf("unknown session %s", sessionID)
	}
	s.status.Status = status
	if status == domain.RawCompleted && s.status.PaidAt == nil {
		now := time.Now().UTC()
		s.status.PaidAt = &now
	}
	return nil
}

// SetPayoutStatus changes a gateway payout's status.
func (g *MockGateway) SetPayoutStatus(payoutID string, status domain.PayoutStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.payouts[payoutID]; ok {
		p.Status = status
	}
}

// AddPayout registers a payout that exists only on the gateway side.
func (g *MockGateway) AddPayout(p PayoutResult) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := p
	g.payouts[p.ID] = &c
}

func (g *MockGateway) SessionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}

func (g *MockGateway) CreateCalls() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.createCalls
}

func (g *MockGateway) StatusCalls() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.statusCalls
}

func (g *MockGateway) CreateCheckoutSession(_ context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	if err := g.takeFailure("create_session"); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		if id, ok := g.sessionByKey[req.IdempotencyKey]; ok {
			s := g.sessions[id]
			return &CheckoutSession{SessionID: id, CheckoutURL: g.checkoutURLFn(id), Status: s.status.Status}, nil
		}
	}

	id := "cs_" + uuid.NewString()
	st := SessionStatus{
		SessionID: id,
		Status:    domain.RawPending,
		Currency:  req.Currency,
		Reference: req.OrderID,
		OrderID:   req.OrderID,
	}
	for _, it := range req.LineItems {
		minor := domain.ToMinorUnits(it.UnitPrice)
		st.LineItems = append(st.LineItems, SessionLineItem{Name: it.Name, Price: minor, Quantity: it.Quantity})
		st.Amount += minor * int64(it.Quantity)
	}
	g.sessions[id] = &mockSession{status: st}
	if req.IdempotencyKey != "" {
		g.sessionByKey[req.IdempotencyKey] = id
	}
	return &CheckoutSession{SessionID: id, CheckoutURL: g.checkoutURLFn(id), Status: domain.RawPending}, nil
}

func (g *MockGateway) GetCheckoutSessionStatus(_ context.Context, sessionID string) (*SessionStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusCalls++
	if err := g.takeFailure("get_status"); err != nil {
		return nil, err
	}
	s, ok := g.sessions[sessionID]
	if !ok {
		return nil, &GatewayError{Status: 404, Message: "checkout session not found", Code: "not_found"}
	}
	c := s.status
	c.LineItems = append([]SessionLineItem(nil), s.status.LineItems...)
	return &c, nil
}

func (g *MockGateway) CreatePayout(_ context.Context, req PayoutRequest) (*PayoutResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure("create_payout"); err != nil {
		return nil, err
	}
	if req.IdempotencyKey != "" {
		if id, ok := g.payoutByKey[req.IdempotencyKey]; ok {
			c := *g.payouts[id]
			return &c, nil
		}
	}

	p := &PayoutResult{
		ID:       "po_" + uuid.NewString(),
		Status:   domain.PayoutPending,
		Amount:   req.Amount,
		Currency: req.Currency,
		Metadata: map[string]string{"sellerId": req.SellerID, "payoutId": req.PayoutID},
	}
	g.payouts[p.ID] = p
	if req.IdempotencyKey != "" {
		g.payoutByKey[req.IdempotencyKey] = p.ID
	}
	c := *p
	return &c, nil
}

func (g *MockGateway) ListPayouts(_ context.Context, limit int) ([]PayoutResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailure("list_payouts"); err != nil {
		return nil, err
	}
	out := make([]PayoutResult, 0, len(g.payouts))
	for _, p := range g.payouts {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, *p)
	}
	return out, nil
}
