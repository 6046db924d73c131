package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"storefront-payments/internal/poller"
)

func pollCmd() *cobra.Command {
	var (
		baseURL   string
		sessionID string
		interval  time.Duration
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "poll [order-id]",
		Short: "Poll verify-status on a running server until the order settles",
		Long: `Poll GET /payments/verify-status the way the checkout return page does,
printing each status change until the order reaches a terminal status.

Examples:
  storefront-payments poll ord_42
  storefront-payments poll ord_42 --session cs_99 --interval 2s`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(false)
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			out := cmd.OutOrStdout()
			p := poller.New(poller.NewHTTPClient(baseURL, 10*time.Second), interval, logger)
			p.OnChange = func(st poller.Status) {
				fmt.Fprintf(out, "%s  %-20s %s\n", time.Now().Format(time.TimeOnly), st.OrderStatus, st.StatusMessage)
			}

			final, err := p.Poll(ctx, args[0], sessionID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "settled: %s (payment %s)\n", final.OrderStatus, final.PaymentStatus)
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:8080", "server base URL")
	cmd.Flags().StringVar(&sessionID, "session", "", "checkout session id from the return URL")
	cmd.Flags().DurationVar(&interval, "interval", 3*time.Second, "poll interval")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "give up after this long")
	return cmd
}
