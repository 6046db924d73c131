package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"storefront-payments/internal/http/handlers"
	"storefront-payments/internal/http/server"
	"storefront-payments/internal/worker"
)

func serveCmd() *cobra.Command {
	var (
		addr      string
		noWorkers bool
		ginDebug  bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background sweeps",
		Long: `Run the payments HTTP API.

The stuck-order sweep, the order.paid relay and the orphaned-payout
audit run in the same process unless --no-workers is set.

Examples:
  storefront-payments serve
  storefront-payments serve --addr :9090 --no-workers`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(true)
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTPAddr = addr
			}
			if !ginDebug {
				gin.SetMode(gin.ReleaseMode)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			router := server.NewRouter(server.RouterDeps{
				Logger: logger,
				Payments: &handlers.PaymentHandler{
					Logger:           logger,
					Checkout:         a.checkout,
					Status:           a.status,
					Webhooks:         a.webhooks,
					Payouts:          a.payoutSvc,
					Currency:         cfg.Currency,
					EstimatedArrival: cfg.PayoutEstimatedArrival,
				},
				Health:         &handlers.HealthHandler{Check: a.health},
				Idempotency:    a.idempotency,
				AllowedOrigins: cfg.CORSAllowedOrigins,
			})
			srv := server.NewHTTPServer(cfg.HTTPAddr, router)

			if !noWorkers {
				go worker.NewReconciliationWorker(a.orders, a.status, cfg.ReconcileInterval, cfg.StuckOrderAge, logger).Run(ctx)
				go worker.NewPayoutAuditWorker(a.payoutSvc, cfg.PayoutSweepInterval, logger).Run(ctx)
				go worker.NewPaidEventWorker(a.paidEvents, cfg.ReconcileInterval, cfg.PaidEventRetryAge, logger).Run(ctx)
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("http server listening", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logger.Info("shutting down gracefully, press Ctrl+C again to force")
			stop()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("server forced to shutdown", "err", err)
				return err
			}
			logger.Info("server exiting")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides HTTP_ADDR)")
	cmd.Flags().BoolVar(&noWorkers, "no-workers", false, "do not run background sweeps in this process")
	cmd.Flags().BoolVar(&ginDebug, "gin-debug", false, "run gin in debug mode")
	return cmd
}
