package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"storefront-payments/internal/domain"
)

type PayoutRepo interface {
	CreatePayout(ctx context.Context, payout *domain.Payout) error
	FindById(ctx context.Context, id string) (*domain.Payout, error)
	FindByGatewayID(ctx context.Context, gatewayPayoutID string) (*domain.Payout, error)
	FindBySeller(ctx context.Context, sellerID string) ([]domain.Payout, error)
	// UpdatePayoutStatus moves a payout from one status to another and reports false
	// when the payout was no longer in the from status.
	UpdatePayoutStatus(ctx context.Context, id string, from, to domain.PayoutStatus) (bool, error)
}

type payoutRepo struct {
	db *sql.DB
}

func NewPayoutRepo(db *sql.DB) PayoutRepo {
	return &payoutRepo{db: db}
}

const payoutColumns = `id, gateway_payout_id, seller_id, amount, currency, payout_account, description,
	status, order_ids, created_at, updated_at`

func scanPayout(row rowScanner) (*domain.Payout, error) {
	var (
		p        domain.Payout
		orderIDs []byte
	)
	err := row.Scan(
		&p.ID,
		&p.GatewayPayoutID,
		&p.SellerID,
		&p.Amount,
		&p.Currency,
		&p.PayoutAccount,
		&p.Description,
		&p.Status,
		&orderIDs,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(orderIDs, &p.OrderIDs); err != nil {
		return nil, fmt.Errorf("decode order_ids of payout %s: %w", p.ID, err)
	}
	return &p, nil
}

func (r *payoutRepo) CreatePayout(ctx context.Context, payout *domain.Payout) error {
	orderIDs := payout.OrderIDs
	if orderIDs == nil {
		orderIDs = []string{}
	}
	b, err := json.Marshal(orderIDs)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO payouts (id, gateway_payout_id, seller_id, amount, currency, payout_account, description,
			status, order_ids, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		payout.ID, payout.GatewayPayoutID, payout.SellerID, payout.Amount, payout.Currency, payout.PayoutAccount,
		payout.Description, payout.Status, string(b), payout.CreatedAt, payout.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payout %s: %w", payout.ID, err)
	}
	return nil
}

func (r *payoutRepo) FindById(ctx context.Context, id string) (*domain.Payout, error) {
	p, err := scanPayout(r.db.QueryRowContext(ctx, "SELECT "+payoutColumns+" FROM payouts WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (r *payoutRepo) FindByGatewayID(ctx context.Context, gatewayPayoutID string) (*domain.Payout, error) {
	p, err := scanPayout(r.db.QueryRowContext(ctx,
		"SELECT "+payoutColumns+" FROM payouts WHERE gateway_payout_id = $1", gatewayPayoutID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (r *payoutRepo) FindBySeller(ctx context.Context, sellerID string) ([]domain.Payout, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+payoutColumns+" FROM payouts WHERE seller_id = $1 ORDER BY created_at", sellerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payouts []domain.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, *p)
	}
	return payouts, rows.Err()
}

func (r *payoutRepo) UpdatePayoutStatus(ctx context.Context, id string, from, to domain.PayoutStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payouts
		SET status = $3,
		    updated_at = $4
		WHERE id = $1 AND status = $2`,
		id, from, to, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("update payout %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
