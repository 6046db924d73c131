package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"storefront-payments/internal/config"
	"storefront-payments/internal/domain"
	"storefront-payments/internal/infrastructure/payment"
	"storefront-payments/internal/repo"
)

type CreatePayoutRequest struct {
	SellerID string
	// Amount is in major units.
	Amount        decimal.Decimal
	PayoutAccount string
	Description   string
	OrderIDs      []string
}

type PayoutService interface {
	// AvailableBalance is the seller's withdrawable amount in minor units. It is never negative.
	AvailableBalance(ctx context.Context, sellerID string) (int64, error)
	CreatePayout(ctx context.Context, req CreatePayoutRequest) (*domain.Payout, error)
	// ApplyPayoutStatus moves a pending payout to a terminal status once.
	ApplyPayoutStatus(ctx context.Context, gatewayPayoutID, payoutID string, status domain.PayoutStatus) (bool, error)
	// FindOrphanedPayouts lists gateway payouts with no local record.
	FindOrphanedPayouts(ctx context.Context, limit int) ([]payment.PayoutResult, error)
}

type payoutService struct {
	orders   repo.OrderRepo
	payouts  repo.PayoutRepo
	sellers  repo.SellerRepo
	gateway  payment.PaymentGateway
	ratio    decimal.Decimal
	currency string
	logger   *slog.Logger
	now      func() time.Time
}

func NewPayoutService(
	cfg *config.Config,
	orders repo.OrderRepo,
	payouts repo.PayoutRepo,
	sellers repo.SellerRepo,
	gateway payment.PaymentGateway,
	logger *slog.Logger,
) PayoutService {
	return &payoutService{
		orders:   orders,
		payouts:  payouts,
		sellers:  sellers,
		gateway:  gateway,
		ratio:    cfg.SellerShareRatio,
		currency: cfg.Currency,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *payoutService) AvailableBalance(ctx context.Context, sellerID string) (int64, error) {
	orders, err := s.orders.FindPaidBySeller(ctx, sellerID)
	if err != nil {
		return 0, fmt.Errorf("load paid orders for %s: %w", sellerID, err)
	}

	earned := decimal.Zero
	for _, o := range orders {
		if o.Status != domain.OrderPaid {
			continue
		}
		for _, it := range o.CartItems {
			if it.SellerID != sellerID {
				continue
			}
			earned = earned.Add(decimal.NewFromInt(it.LineTotal()).Mul(s.ratio))
		}
	}

	payouts, err := s.payouts.FindBySeller(ctx, sellerID)
	if err != nil {
		return 0, fmt.Errorf("load payouts for %s: %w", sellerID, err)
	}
	var reserved int64
	for _, p := range payouts {
		if p.Status.Reserves() {
			reserved += p.Amount
		}
	}

	balance := earned.Floor().IntPart() - reserved
	if balance < 0 {
		return 0, nil
	}
	return balance, nil
}

func (s *payoutService) CreatePayout(ctx context.Context, req CreatePayoutRequest) (*domain.Payout, error) {
	fe := fieldErrors{}
	if strings.TrimSpace(req.SellerID) == "" {
		fe.add("sellerId", "is required")
	}
	if err := domain.ValidateMajorAmount(req.Amount); err != nil {
		fe.add("amount", err.Error())
	}
	if strings.TrimSpace(req.PayoutAccount) == "" {
		fe.add("payoutAccount", "is required")
	}
	if err := fe.err(); err != nil {
		return nil, err
	}

	active, err := s.sellers.HasActiveStore(ctx, req.SellerID)
	if err != nil {
		return nil, fmt.Errorf("check store for %s: %w", req.SellerID, err)
	}
	if !active {
		return nil, ErrInvalidSeller
	}

	amount := domain.ToMinorUnits(req.Amount)
	if amount <= 0 || amount > domain.MaxMinorAmount {
		return nil, &ValidationError{Fields: map[string]string{"amount": "is out of range"}}
	}
	available, err := s.AvailableBalance(ctx, req.SellerID)
	if err != nil {
		return nil, err
	}
	if amount > available {
		return nil, fmt.Errorf("%w: requested %d, available %d", ErrInsufficientBalance, amount, available)
	}

	now := s.now()
	payoutID := fmt.Sprintf("payout_%s_%s_%s", req.SellerID, strconv.FormatInt(now.UnixMilli(), 10), randSuffix())

	// Gateway first: a failed call must not leave a local payout behind.
	res, err := s.gateway.CreatePayout(ctx, payment.PayoutRequest{
		PayoutID:           payoutID,
		SellerID:           req.SellerID,
		Amount:             amount,
		Currency:           s.currency,
		DestinationAccount: req.PayoutAccount,
		Metadata:           map[string]string{"description": req.Description},
		IdempotencyKey:     payment.IdempotencyKey(req.SellerID, payment.OpCreatePayout, now),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "gateway payout failed", "seller_id", req.SellerID, "amount", amount, "err", err)
		return nil, err
	}

	status := res.Status
	if status == "" {
		status = domain.PayoutPending
	}
	p := &domain.Payout{
		ID:              payoutID,
		GatewayPayoutID: res.ID,
		SellerID:        req.SellerID,
		Amount:          amount,
		Currency:        s.currency,
		PayoutAccount:   req.PayoutAccount,
		Description:     req.Description,
		Status:          status,
		OrderIDs:        req.OrderIDs,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.payouts.CreatePayout(ctx, p); err != nil {
		// The gateway payout exists without a local row; the orphan sweep reports it.
		s.logger.ErrorContext(ctx, "payout record write failed after gateway success",
			"payout_id", payoutID, "gateway_payout_id", res.ID, "err", err)
		return nil, fmt.Errorf("record payout %s: %w", payoutID, err)
	}

	s.logger.InfoContext(ctx, "payout created",
		"payout_id", p.ID, "gateway_payout_id", p.GatewayPayoutID, "seller_id", p.SellerID, "amount", p.Amount)
	return p, nil
}

func (s *payoutService) ApplyPayoutStatus(ctx context.Context, gatewayPayoutID, payoutID string, status domain.PayoutStatus) (bool, error) {
	var (
		p   *domain.Payout
		err error
	)
	if gatewayPayoutID != "" {
		p, err = s.payouts.FindByGatewayID(ctx, gatewayPayoutID)
		if err != nil {
			return false, err
		}
	}
	if p == nil && payoutID != "" {
		p, err = s.payouts.FindById(ctx, payoutID)
		if err != nil {
			return false, err
		}
	}
	if p == nil {
		return false, ErrPayoutNotFound
	}
	if p.Status.IsTerminal() {
		return false, nil
	}

	ok, err := s.payouts.UpdatePayoutStatus(ctx, p.ID, domain.PayoutPending, status)
	if err != nil {
		return false, fmt.Errorf("update payout %s: %w", p.ID, err)
	}
	if ok {
		s.logger.InfoContext(ctx, "payout status changed", "payout_id", p.ID, "to", status)
	}
	return ok, nil
}

func (s *payoutService) FindOrphanedPayouts(ctx context.Context, limit int) ([]payment.PayoutResult, error) {
	remote, err := s.gateway.ListPayouts(ctx, limit)
	if err != nil {
		return nil, err
	}
	var orphans []payment.PayoutResult
	for _, r := range remote {
		local, err := s.payouts.FindByGatewayID(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		if local == nil {
			orphans = append(orphans, r)
		}
	}
	return orphans, nil
}

func randSuffix() string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 6)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}
