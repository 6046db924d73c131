package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"storefront-payments/internal/config"
	"storefront-payments/internal/domain"
	"storefront-payments/internal/infrastructure/payment"
	"storefront-payments/internal/repo"
	"storefront-payments/internal/service"
)

const webhookSecret = "whsec_simulate"

// countingHook records how many times each order was announced as paid.
type countingHook struct {
	mu    sync.Mutex
	calls map[string]int
	total atomic.Int64
}

func (h *countingHook) OrderPaid(_ context.Context, order *domain.Order, _ domain.EventSource) error {
	h.mu.Lock()
	h.calls[order.ID]++
	h.mu.Unlock()
	h.total.Add(1)
	return nil
}

type options struct {
	orders     int
	pollers    int
	deliveries int
	verbose    bool
}

func main() {
	var opts options
	rootCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Race polls and duplicate webhooks against the reconciliation engine",
		Long: `Create orders against an in-memory store and fake gateway, then fire
concurrent status polls and duplicate webhook deliveries at each one while
the gateway settles. Exits non-zero unless every order is announced as paid
exactly once.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	rootCmd.Flags().IntVar(&opts.orders, "orders", 20, "number of orders to race")
	rootCmd.Flags().IntVar(&opts.pollers, "pollers", 8, "concurrent verify-status callers per order")
	rootCmd.Flags().IntVar(&opts.deliveries, "deliveries", 4, "duplicate webhook deliveries per order")
	rootCmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log every reconciliation")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, out io.Writer, opts options) error {
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := &config.Config{
		Currency:         "SLE",
		SellerShareRatio: decimal.RequireFromString("0.90"),
		AppBaseURL:       "http://localhost:3000",
	}
	store := repo.NewMemoryStore()
	gw := payment.NewMockGateway()
	hook := &countingHook{calls: map[string]int{}}

	reconciler := service.NewReconciler(store.Orders(), hook, logger)
	checkout := service.NewCheckoutService(cfg, store.Orders(), gw, logger)
	status := service.NewStatusService(store.Orders(), gw, reconciler, logger)
	payouts := service.NewPayoutService(cfg, store.Orders(), store.Payouts(), store.Sellers(), gw, logger)
	webhooks := service.NewWebhookService(webhookSecret, store.Orders(), store.WebhookEvents(), reconciler, payouts, logger)

	fmt.Fprintf(out, "--- STARTING SIMULATION (%d ORDERS, %d POLLERS, %d DELIVERIES) ---\n", opts.orders, opts.pollers, opts.deliveries)

	var stale, applied atomic.Int64
	for i := 0; i < opts.orders; i++ {
		res, err := checkout.CreateCheckout(ctx, service.CheckoutRequest{
			Items: []service.CheckoutItem{{
				ProductID: fmt.Sprintf("p%d", i),
				SellerID:  "seller_a",
				Name:      "Basket",
				Price:     decimal.RequireFromString("150.00"),
				Quantity:  1,
			}},
			Customer:        domain.CustomerInfo{Name: "Ada", Email: "ada@example.com"},
			DeliveryAddress: domain.DeliveryAddress{Line1: "1 Main St", City: "Freetown"},
			PaymentMethod:   "mobile_money",
		})
		if err != nil {
			logger.Warn("checkout failed", "err", err)
			continue
		}

		// The customer is still on the gateway page when the first polls land.
		if err := gw.SetSessionStatus(res.SessionID, domain.RawProcessing); err != nil {
			return fmt.Errorf("set session status: %w", err)
		}

		body := []byte(fmt.Sprintf(`{"event":"checkout_session.completed","data":{"id":%q}}`, res.SessionID))
		sig := payment.ComputeSignature(webhookSecret, body)

		var wg sync.WaitGroup
		start := make(chan struct{})
		for p := 0; p < opts.pollers; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				time.Sleep(time.Duration(rand.IntN(3)) * time.Millisecond)
				if _, err := status.VerifyStatus(ctx, res.OrderID, res.SessionID); err != nil {
					logger.Warn("poll failed", "order_id", res.OrderID, "err", err)
				}
			}()
		}
		for d := 0; d < opts.deliveries; d++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				time.Sleep(time.Duration(rand.IntN(3)) * time.Millisecond)
				out, err := webhooks.Handle(ctx, body, sig)
				if err != nil {
					logger.Warn("webhook rejected", "order_id", res.OrderID, "err", err)
					return
				}
				if out == service.OutcomeApplied {
					applied.Add(1)
				}
			}()
		}
		// The gateway settles while polls and webhooks are in flight.
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			time.Sleep(time.Duration(rand.IntN(2)) * time.Millisecond)
			if err := gw.SetSessionStatus(res.SessionID, domain.RawCompleted); err != nil {
				logger.Error("settle session failed", "order_id", res.OrderID, "session_id", res.SessionID, "err", err)
			}
		}()
		close(start)
		wg.Wait()

		// A late "processing" poll result must not regress the paid order.
		r, err := reconciler.Reconcile(ctx, service.StatusEvent{
			OrderID:   res.OrderID,
			SessionID: res.SessionID,
			RawStatus: domain.RawProcessing,
			InFlight:  true,
			Source:    domain.SourcePoll,
		})
		if err == nil && r.Stale {
			stale.Add(1)
		}

		o, _ := store.Orders().FindById(ctx, res.OrderID)
		hook.mu.Lock()
		announced := hook.calls[res.OrderID]
		hook.mu.Unlock()
		fmt.Fprintf(out, "[%d] %s -> %-16s version=%-3d paid_announcements=%d\n", i+1, o.ID, o.Status, o.Version, announced)
	}

	store.SetSellerActive("seller_a", true)
	bal, err := payouts.AvailableBalance(ctx, "seller_a")
	if err != nil {
		return fmt.Errorf("balance: %w", err)
	}

	fmt.Fprintln(out, "---------------------------------------------------")
	fmt.Fprintf(out, "orders paid announcements: %d (want %d)\n", hook.total.Load(), opts.orders)
	fmt.Fprintf(out, "webhook deliveries applied: %d\n", applied.Load())
	fmt.Fprintf(out, "late polls rejected as stale: %d\n", stale.Load())
	fmt.Fprintf(out, "webhook events audited: %d\n", len(store.Events()))
	fmt.Fprintf(out, "seller_a available balance: %s %s\n", domain.FromMinorUnits(bal).StringFixed(2), cfg.Currency)

	if hook.total.Load() != int64(opts.orders) {
		return errors.New("an order was announced as paid more or less than once")
	}
	fmt.Fprintln(out, "OK: every order settled exactly once")
	return nil
}
