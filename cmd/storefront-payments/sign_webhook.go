package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"storefront-payments/internal/infrastructure/payment"
)

func signWebhookCmd() *cobra.Command {
	var (
		secret string
		file   string
		post   string
	)
	cmd := &cobra.Command{
		Use:   "sign-webhook",
		Short: "Sign a webhook body, and optionally deliver it",
		Long: `Compute the gateway signature for a webhook body read from --file
(or stdin) and print it. With --post the signed body is delivered to the
given URL, which is handy for replaying a gateway event locally.

Examples:
  storefront-payments sign-webhook --file event.json
  echo '{"event":"checkout_session.completed","data":{"id":"cs_99"}}' | \
    storefront-payments sign-webhook --post http://localhost:8080/payments/webhook`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("MONIME_WEBHOOK_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("--secret or MONIME_WEBHOOK_SECRET is required")
			}

			var body []byte
			var err error
			if file != "" {
				body, err = os.ReadFile(file)
			} else {
				body, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("read body: %w", err)
			}
			// Sign the bytes exactly as they will be sent.
			body = bytes.TrimRight(body, "\r\n")

			sig := payment.ComputeSignature(secret, body)
			out := cmd.OutOrStdout()
			if post == "" {
				fmt.Fprintf(out, "%s: %s\n", payment.SignatureHeader, sig)
				return nil
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, post, bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set(payment.SignatureHeader, sig)

			resp, err := (&http.Client{Timeout: 15 * time.Second}).Do(req)
			if err != nil {
				return fmt.Errorf("deliver webhook: %w", err)
			}
			defer resp.Body.Close()
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
			fmt.Fprintf(out, "%s\n%s\n", resp.Status, respBody)
			if resp.StatusCode >= 300 {
				return fmt.Errorf("webhook rejected with %s", resp.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "webhook secret (defaults to MONIME_WEBHOOK_SECRET)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the body from this file instead of stdin")
	cmd.Flags().StringVar(&post, "post", "", "deliver the signed body to this URL")
	return cmd
}
