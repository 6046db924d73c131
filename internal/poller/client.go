package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storefront-payments/internal/domain"
)

// Status mirrors the verify-status response body.
type Status struct {
	Success        bool                   `json:"success"`
	OrderID        string                 `json:"orderId"`
	PaymentStatus  string                 `json:"paymentStatus"`
	OrderStatus    domain.OrderStatus     `json:"orderStatus"`
	StatusMessage  string                 `json:"statusMessage"`
	PaymentDetails *domain.PaymentDetails `json:"paymentDetails,omitempty"`
}

// StatusError is a non-2xx verify-status response or a transport failure (Code 0).
type StatusError struct {
	Code    int
	Message string
	Err     error
}

func (e *StatusError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("verify-status unreachable: %v", e.Err)
	}
	return fmt.Sprintf("verify-status %d: %s", e.Code, e.Message)
}

func (e *StatusError) Unwrap() error { return e.Err }

func (e *StatusError) Retryable() bool {
	return e.Code == 0 || e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

type StatusFetcher interface {
	FetchStatus(ctx context.Context, orderID, sessionID string) (*Status, error)
}

// HTTPClient calls GET /payments/verify-status on a running server.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{baseURL: strings.TrimRight(baseURL, "/"), http: &http.Client{Timeout: timeout}}
}

func (c *HTTPClient) FetchStatus(ctx context.Context, orderID, sessionID string) (*Status, error) {
	q := url.Values{}
	q.Set("orderId", orderID)
	if sessionID != "" {
		q.Set("checkoutSessionId", sessionID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/payments/verify-status?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &StatusError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &StatusError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return nil, &StatusError{Code: resp.StatusCode, Message: e.Error}
	}

	var st Status
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, &StatusError{Code: resp.StatusCode, Message: "malformed response", Err: err}
	}
	return &st, nil
}
