package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"storefront-payments/internal/worker"
)

func sweepCmd() *cobra.Command {
	var (
		payoutsOnly bool
		ordersOnly  bool
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one stuck-order sweep, paid-event relay and orphaned-payout audit, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(false)
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if !payoutsOnly {
				report, err := worker.NewReconciliationWorker(a.orders, a.status, cfg.ReconcileInterval, cfg.StuckOrderAge, logger).RunOnce(cmd.Context())
				if err != nil {
					return fmt.Errorf("order sweep: %w", err)
				}
				fmt.Fprintf(out, "orders: checked=%d changed=%d failed=%d\n", report.Checked, report.Changed, report.Failed)

				relayed, err := worker.NewPaidEventWorker(a.paidEvents, cfg.ReconcileInterval, cfg.PaidEventRetryAge, logger).RunOnce(cmd.Context())
				if err != nil {
					return fmt.Errorf("paid event relay: %w", err)
				}
				fmt.Fprintf(out, "paid events: pending=%d published=%d failed=%d\n", relayed.Pending, relayed.Published, relayed.Failed)
			}
			if !ordersOnly {
				orphans, err := worker.NewPayoutAuditWorker(a.payoutSvc, cfg.PayoutSweepInterval, logger).RunOnce(cmd.Context())
				if err != nil {
					return fmt.Errorf("payout audit: %w", err)
				}
				fmt.Fprintf(out, "payouts: orphaned=%d\n", len(orphans))
				for _, o := range orphans {
					fmt.Fprintf(out, "  %s seller=%s amount=%d status=%s\n", o.ID, o.Metadata["sellerId"], o.Amount, o.Status)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&payoutsOnly, "payouts-only", false, "only audit gateway payouts")
	cmd.Flags().BoolVar(&ordersOnly, "orders-only", false, "only sweep stuck orders and pending paid events")
	cmd.MarkFlagsMutuallyExclusive("payouts-only", "orders-only")
	return cmd
}
