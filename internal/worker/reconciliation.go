package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"storefront-payments/internal/domain"
	"storefront-payments/internal/infrastructure/payment"
	"storefront-payments/internal/repo"
	"storefront-payments/internal/service"
)

const stuckOrderBatch = 100

// ReconciliationWorker periodically re-polls orders whose payment has not
// settled, in case both the client poll and the webhook were lost.
type ReconciliationWorker struct {
	orderRepo repo.OrderRepo
	status    service.StatusService
	interval  time.Duration
	olderThan time.Duration
	logger    *slog.Logger
}

type SweepReport struct {
	Checked int
	Changed int
	Failed  int
}

func NewReconciliationWorker(
	orderRepo repo.OrderRepo,
	status service.StatusService,
	interval time.Duration,
	olderThan time.Duration,
	logger *slog.Logger,
) *ReconciliationWorker {
	return &ReconciliationWorker{
		orderRepo: orderRepo,
		status:    status,
		interval:  interval,
		olderThan: olderThan,
		logger:    logger,
	}
}

func (rw *ReconciliationWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	rw.logger.Info("reconciliation worker started", "interval", rw.interval, "older_than", rw.olderThan)

	for {
		select {
		case <-ctx.Done():
			rw.logger.Info("reconciliation worker stopped")
			return
		case <-ticker.C:
			if _, err := rw.RunOnce(ctx); err != nil {
				rw.logger.Error("reconciliation sweep failed", "err", err)
			}
		}
	}
}

// RunOnce sweeps one batch of stuck orders through the reconciliation engine.
func (rw *ReconciliationWorker) RunOnce(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	stuckOrders, err := rw.orderRepo.FindStuckOrders(ctx, rw.olderThan, stuckOrderBatch)
	if err != nil {
		return report, err
	}
	if len(stuckOrders) == 0 {
		return report, nil
	}

	rw.logger.Info("found stuck orders", "count", len(stuckOrders))

	for i := range stuckOrders {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		order := &stuckOrders[i]
		report.Checked++

		res, err := rw.status.SyncOrder(ctx, order, domain.SourceSweep)
		if err != nil {
			report.Failed++
			level := slog.LevelError
			if ge, ok := payment.AsGatewayError(err); ok && ge.Retryable() {
				level = slog.LevelWarn
			}
			if errors.Is(err, service.ErrConcurrentUpdate) {
				level = slog.LevelWarn
			}
			// Skip it; the next sweep tries again.
			rw.logger.Log(ctx, level, "stuck order check failed", "order_id", order.ID, "err", err)
			continue
		}
		if res.Changed {
			report.Changed++
			rw.logger.Info("stuck order settled", "order_id", order.ID, "from", res.Previous, "to", res.Order.Status)
		}
	}
	return report, nil
}
