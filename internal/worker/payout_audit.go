package worker

import (
	"context"
	"log/slog"
	"time"

	"storefront-payments/internal/infrastructure/payment"
	"storefront-payments/internal/service"
)

const payoutAuditLimit = 200

// PayoutAuditWorker reports gateway payouts that have no local record, which
// happens when the local write fails after the gateway accepted the payout.
// It only reports; fixing an orphan is an operator decision.
type PayoutAuditWorker struct {
	payouts  service.PayoutService
	interval time.Duration
	logger   *slog.Logger
}

func NewPayoutAuditWorker(payouts service.PayoutService, interval time.Duration, logger *slog.Logger) *PayoutAuditWorker {
	return &PayoutAuditWorker{payouts: payouts, interval: interval, logger: logger}
}

func (w *PayoutAuditWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.Error("payout audit failed", "err", err)
			}
		}
	}
}

func (w *PayoutAuditWorker) RunOnce(ctx context.Context) ([]payment.PayoutResult, error) {
	orphans, err := w.payouts.FindOrphanedPayouts(ctx, payoutAuditLimit)
	if err != nil {
		return nil, err
	}
	for _, o := range orphans {
		w.logger.Warn("orphaned gateway payout",
			"gateway_payout_id", o.ID,
			"local_payout_id", o.Metadata["payoutId"],
			"seller_id", o.Metadata["sellerId"],
			"amount", o.Amount,
			"status", o.Status,
		)
	}
	return orphans, nil
}
