package repo

import (
	"context"
	"database/sql"
)

// SellerRepo answers whether a seller runs an active store. Store CRUD lives elsewhere.
type SellerRepo interface {
	HasActiveStore(ctx context.Context, sellerID string) (bool, error)
}

type sellerRepo struct {
	db *sql.DB
}

func NewSellerRepo(db *sql.DB) SellerRepo {
	return &sellerRepo{db: db}
}

func (r *sellerRepo) HasActiveStore(ctx context.Context, sellerID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM stores WHERE seller_id = $1 AND active)", sellerID,
	).Scan(&exists)
	return exists, err
}
