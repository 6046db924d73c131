package worker

import (
	"context"
	"log/slog"
	"time"

	"storefront-payments/internal/service"
)

const paidEventBatch = 100

// PaidEventWorker republishes order.paid events whose first publish failed.
// Events younger than retryAge are left to the request that created them.
type PaidEventWorker struct {
	relay    service.PaidEventRelay
	interval time.Duration
	retryAge time.Duration
	logger   *slog.Logger
}

func NewPaidEventWorker(relay service.PaidEventRelay, interval, retryAge time.Duration, logger *slog.Logger) *PaidEventWorker {
	return &PaidEventWorker{relay: relay, interval: interval, retryAge: retryAge, logger: logger}
}

func (w *PaidEventWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.Error("paid event relay failed", "err", err)
			}
		}
	}
}

func (w *PaidEventWorker) RunOnce(ctx context.Context) (service.RelayReport, error) {
	report, err := w.relay.Flush(ctx, w.retryAge, paidEventBatch)
	if err != nil {
		return report, err
	}
	if report.Pending > 0 {
		w.logger.Info("paid event relay finished",
			"pending", report.Pending,
			"published", report.Published,
			"failed", report.Failed,
		)
	}
	return report, nil
}
