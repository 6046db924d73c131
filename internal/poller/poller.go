// Package poller re-checks an order's payment status at a fixed interval until
// it settles, reporting every status change along the way.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

type Poller struct {
	fetcher  StatusFetcher
	interval time.Duration
	logger   *slog.Logger
	// OnChange is called with each status that differs from the previous one.
	OnChange func(Status)
}

func New(fetcher StatusFetcher, interval time.Duration, logger *slog.Logger) *Poller {
	return &Poller{fetcher: fetcher, interval: interval, logger: logger}
}

// Poll fetches immediately and then every interval until the order reaches a
// terminal status, ctx ends, or a non-retryable error occurs.
func (p *Poller) Poll(ctx context.Context, orderID, sessionID string) (*Status, error) {
	var last *Status
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		st, err := p.fetcher.FetchStatus(ctx, orderID, sessionID)
		switch {
		case err == nil:
			if last == nil || last.OrderStatus != st.OrderStatus {
				if p.OnChange != nil {
					p.OnChange(*st)
				}
			}
			last = st
			if st.OrderStatus.IsTerminal() {
				return st, nil
			}
		case retryable(err):
			p.logger.Warn("status poll failed, retrying", "order_id", orderID, "err", err)
		default:
			return last, err
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return false
}
