package repo

import (
	"context"
	"database/sql"
	"fmt"

	"storefront-payments/internal/domain"
)

// WebhookEventRepo is the append-only webhook audit log. There is no read path on purpose.
type WebhookEventRepo interface {
	AppendEvent(ctx context.Context, ev *domain.WebhookEvent) error
}

type webhookEventRepo struct {
	db *sql.DB
}

func NewWebhookEventRepo(db *sql.DB) WebhookEventRepo {
	return &webhookEventRepo{db: db}
}

func (r *webhookEventRepo) AppendEvent(ctx context.Context, ev *domain.WebhookEvent) error {
	var data any
	if len(ev.Data) > 0 {
		data = string(ev.Data)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_events (id, event, data, signature, verified, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.Event, data, ev.Signature, ev.Verified, ev.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("append webhook event %s: %w", ev.ID, err)
	}
	return nil
}
