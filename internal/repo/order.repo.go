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

// OrderRepo is the Order Store. FindById and FindBySessionID return (nil, nil) when nothing matches.
type OrderRepo interface {
	CreateOrder(ctx context.Context, order *domain.Order) error
	FindById(ctx context.Context, id string) (*domain.Order, error)
	FindBySessionID(ctx context.Context, sessionID string) (*domain.Order, error)
	// UpdateOrder writes the mutable fields only if the stored version still equals
	// expectedVersion. It reports false when another writer got there first.
	UpdateOrder(ctx context.Context, order *domain.Order, expectedVersion int64) (bool, error)
	FindStuckOrders(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Order, error)
	FindPaidBySeller(ctx context.Context, sellerID string) ([]domain.Order, error)
	// FindPendingPaidEvents lists paid orders whose order.paid event is still
	// unpublished and that have not been written for olderThan.
	FindPendingPaidEvents(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Order, error)
}

type orderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) OrderRepo {
	return &orderRepo{db: db}
}

const orderColumns = `id, status, payment_status, session_status, checkout_session_id, payment_method,
	cart_items, total_amount, currency, customer_info, delivery_address, payment_details,
	paid_at, paid_event_pending, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order          domain.Order
		sessionID      sql.NullString
		cartItems      []byte
		customerInfo   []byte
		address        []byte
		paymentDetails []byte
		paidAt         sql.NullTime
	)
	err := row.Scan(
		&order.ID,
		&order.Status,
		&order.PaymentStatus,
		&order.SessionStatus,
		&sessionID,
		&order.PaymentMethod,
		&cartItems,
		&order.TotalAmount,
		&order.Currency,
		&customerInfo,
		&address,
		&paymentDetails,
		&paidAt,
		&order.PaidEventPending,
		&order.Version,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	order.CheckoutSessionID = sessionID.String
	if paidAt.Valid {
		t := paidAt.Time
		order.PaidAt = &t
	}
	if err := json.Unmarshal(cartItems, &order.CartItems); err != nil {
		return nil, fmt.Errorf("decode cart_items of order %s: %w", order.ID, err)
	}
	if err := json.Unmarshal(customerInfo, &order.CustomerInfo); err != nil {
		return nil, fmt.Errorf("decode customer_info of order %s: %w", order.ID, err)
	}
	if err := json.Unmarshal(address, &order.DeliveryAddress); err != nil {
		return nil, fmt.Errorf("decode delivery_address of order %s: %w", order.ID, err)
	}
	if len(paymentDetails) > 0 {
		var d domain.PaymentDetails
		if err := json.Unmarshal(paymentDetails, &d); err != nil {
			return nil, fmt.Errorf("decode payment_details of order %s: %w", order.ID, err)
		}
		order.PaymentDetails = &d
	}
	return &order, nil
}

func (r *orderRepo) CreateOrder(ctx context.Context, order *domain.Order) error {
	cartItems, err := json.Marshal(order.CartItems)
	if err != nil {
		return fmt.Errorf("encode cart items: %w", err)
	}
	customerInfo, err := json.Marshal(order.CustomerInfo)
	if err != nil {
		return fmt.Errorf("encode customer info: %w", err)
	}
	address, err := json.Marshal(order.DeliveryAddress)
	if err != nil {
		return fmt.Errorf("encode delivery address: %w", err)
	}
	if order.Version == 0 {
		order.Version = 1
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO orders (id, status, payment_status, session_status, checkout_session_id, payment_method,
			cart_items, total_amount, currency, customer_info, delivery_address, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		order.ID, order.Status, order.PaymentStatus, order.SessionStatus, nullString(order.CheckoutSessionID),
		order.PaymentMethod, string(cartItems), order.TotalAmount, order.Currency, string(customerInfo),
		string(address), order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", order.ID, err)
	}
	return nil
}

func (r *orderRepo) FindById(ctx context.Context, id string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // not found
	}
	if err != nil {
		return nil, err // system error
	}
	return order, nil
}

func (r *orderRepo) FindBySessionID(ctx context.Context, sessionID string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE checkout_session_id = $1", sessionID)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (r *orderRepo) UpdateOrder(ctx context.Context, order *domain.Order, expectedVersion int64) (bool, error) {
	var details any
	if order.PaymentDetails != nil {
		b, err := json.Marshal(order.PaymentDetails)
		if err != nil {
			return false, fmt.Errorf("encode payment details: %w", err)
		}
		details = string(b)
	}
	var paidAt any
	if order.PaidAt != nil {
		paidAt = *order.PaidAt
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    payment_status = $2,
		    session_status = $3,
		    checkout_session_id = $4,
		    payment_details = $5,
		    paid_at = $6,
		    paid_event_pending = $7,
		    updated_at = $8,
		    version = version + 1
		WHERE id = $9 AND version = $10`,
		order.Status, order.PaymentStatus, order.SessionStatus, nullString(order.CheckoutSessionID),
		details, paidAt, order.PaidEventPending, order.UpdatedAt, order.ID, expectedVersion,
	)
	if err != nil {
		return false, fmt.Errorf("update order %s: %w", order.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	order.Version = expectedVersion + 1
	return true, nil
}

func (r *orderRepo) FindStuckOrders(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+orderColumns+` FROM orders
		WHERE status IN ($1, $2) AND checkout_session_id IS NOT NULL AND updated_at < $3
		ORDER BY updated_at
		LIMIT $4`,
		domain.OrderPendingPayment, domain.OrderProcessingPayment, time.Now().Add(-olderThan), limit,
	)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

// FindPaidBySeller filters by seller in the database through the cart_items GIN index.
func (r *orderRepo) FindPaidBySeller(ctx context.Context, sellerID string) ([]domain.Order, error) {
	filter, err := json.Marshal([]map[string]string{{"sellerId": sellerID}})
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE status = $1 AND cart_items @> $2::jsonb",
		domain.OrderPaid, string(filter),
	)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

func (r *orderRepo) FindPendingPaidEvents(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+orderColumns+` FROM orders
		WHERE paid_event_pending AND updated_at <= $1
		ORDER BY updated_at
		LIMIT $2`,
		time.Now().Add(-olderThan), limit,
	)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

func collectOrders(rows *sql.Rows) ([]domain.Order, error) {
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
