package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"storefront-payments/internal/config"
	"storefront-payments/internal/domain"
)

// Client talks to the Monime HTTP API.
type Client struct {
	baseURL       string
	accessToken   string
	spaceID       string
	webhookSecret string
	http          *http.Client
}

var _ PaymentGateway = (*Client)(nil)

func NewClient(cfg config.Gateway) *Client {
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		accessToken:   cfg.AccessToken,
		spaceID:       cfg.SpaceID,
		webhookSecret: cfg.WebhookSecret,
		http:          &http.Client{Timeout: cfg.Timeout},
	}
}

// VerifyWebhookSignature checks a webhook signature against the untouched request bytes.
func (c *Client) VerifyWebhookSignature(rawBody []byte, signature string) bool {
	return VerifySignature(c.webhookSecret, rawBody, signature)
}

type money struct {
	Currency string `json:"currency"`
	Value    int64  `json:"value"`
}

type envelope struct {
	Success  bool            `json:"success"`
	Messages []string        `json:"messages"`
	Result   json.RawMessage `json:"result"`
	Error    *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type checkoutLineItemWire struct {
	Type      string `json:"type"`
	Name      string `json:"name"`
	Reference string `json:"reference,omitempty"`
	Price     money  `json:"price"`
	Quantity  int    `json:"quantity"`
}

type checkoutSessionWire struct {
	Name       string                 `json:"name"`
	Reference  string                 `json:"reference"`
	SuccessURL string                 `json:"successUrl"`
	CancelURL  string                 `json:"cancelUrl"`
	LineItems  []checkoutLineItemWire `json:"lineItems"`
	Metadata   map[string]string      `json:"metadata,omitempty"`
}

type sessionWire struct {
	ID          string            `json:"id"`
	Status      string            `json:"status"`
	RedirectURL string            `json:"redirectUrl"`
	Reference   string            `json:"reference"`
	Metadata    map[string]string `json:"metadata"`
	Amount      *money            `json:"amount"`
	PaidAt      *time.Time        `json:"paidAt"`
	LineItems   struct {
		Data []checkoutLineItemWire `json:"data"`
	} `json:"lineItems"`
}

type payoutWire struct {
	ID          string            `json:"id"`
	Status      string            `json:"status"`
	Amount      money             `json:"amount"`
	Destination map[string]string `json:"destination,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (c *Client) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	body := checkoutSessionWire{
		Name:       "Order " + req.OrderID,
		Reference:  req.OrderID,
		SuccessURL: req.URLs.SuccessURL,
		CancelURL:  req.URLs.CancelURL,
		Metadata: map[string]string{
			"orderId":       req.OrderID,
			"customerName":  req.Customer.Name,
			"customerEmail": req.Customer.Email,
			"customerPhone": req.Customer.Phone,
		},
	}
	for _, it := range req.LineItems {
		body.LineItems = append(body.LineItems, checkoutLineItemWire{
			Type:      "custom",
			Name:      it.Name,
			Reference: it.Reference,
			Price:     money{Currency: req.Currency, Value: domain.ToMinorUnits(it.UnitPrice)},
			Quantity:  it.Quantity,
		})
	}

	var out sessionWire
	if err := c.do(ctx, http.MethodPost, "/v1/checkout-sessions", req.IdempotencyKey, body, &out); err != nil {
		return nil, err
	}
	status, err := parseSessionStatus(out.Status)
	if err != nil {
		return nil, err
	}
	return &CheckoutSession{SessionID: out.ID, CheckoutURL: out.RedirectURL, Status: status}, nil
}

func (c *Client) GetCheckoutSessionStatus(ctx context.Context, sessionID string) (*SessionStatus, error) {
	var out sessionWire
	if err := c.do(ctx, http.MethodGet, "/v1/checkout-sessions/"+url.PathEscape(sessionID), "", nil, &out); err != nil {
		return nil, err
	}
	status, err := parseSessionStatus(out.Status)
	if err != nil {
		return nil, err
	}

	res := &SessionStatus{
		SessionID: out.ID,
		Status:    status,
		PaidAt:    out.PaidAt,
		Reference: out.Reference,
		OrderID:   out.Metadata["orderId"],
	}
	for _, it := range out.LineItems.Data {
		res.LineItems = append(res.LineItems, SessionLineItem{Name: it.Name, Price: it.Price.Value, Quantity: it.Quantity})
		res.Currency = it.Price.Currency
		res.Amount += it.Price.Value * int64(it.Quantity)
	}
	if out.Amount != nil {
		res.Amount = out.Amount.Value
		res.Currency = out.Amount.Currency
	}
	return res, nil
}

func (c *Client) CreatePayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	meta := map[string]string{"sellerId": req.SellerID, "payoutId": req.PayoutID}
	for k, v := range req.Metadata {
		meta[k] = v
	}
	body := payoutWire{
		Amount:      money{Currency: req.Currency, Value: req.Amount},
		Destination: map[string]string{"account": req.DestinationAccount},
		Metadata:    meta,
	}

	var out payoutWire
	if err := c.do(ctx, http.MethodPost, "/v1/payouts", req.IdempotencyKey, body, &out); err != nil {
		return nil, err
	}
	return payoutFromWire(out), nil
}

func (c *Client) ListPayouts(ctx context.Context, limit int) ([]PayoutResult, error) {
	var out []payoutWire
	if err := c.do(ctx, http.MethodGet, "/v1/payouts?limit="+strconv.Itoa(limit), "", nil, &out); err != nil {
		return nil, err
	}
	res := make([]PayoutResult, 0, len(out))
	for _, p := range out {
		res = append(res, *payoutFromWire(p))
	}
	return res, nil
}

func payoutFromWire(p payoutWire) *PayoutResult {
	status := domain.PayoutPending
	switch strings.ToLower(p.Status) {
	case "completed", "succeeded":
		status = domain.PayoutCompleted
	case "failed", "cancelled":
		status = domain.PayoutFailed
	}
	return &PayoutResult{ID: p.ID, Status: status, Amount: p.Amount.Value, Currency: p.Amount.Currency, Metadata: p.Metadata}
}

func parseSessionStatus(s string) (domain.RawStatus, error) {
	raw := domain.RawStatus(strings.ToLower(s))
	switch raw {
	case domain.RawPending, domain.RawProcessing, domain.RawCompleted,
		domain.RawFailed, domain.RawCancelled, domain.RawExpired:
		return raw, nil
	}
	return "", &GatewayError{Status: http.StatusBadGateway, Message: fmt.Sprintf("unknown session status %q", s), Code: "unknown_status"}
}

func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	if c.spaceID != "" {
		req.Header.Set("Monime-Space-Id", c.spaceID)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &GatewayError{Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &GatewayError{Message: "read response", Err: err}
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		ge := &GatewayError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if decodeErr == nil {
			if env.Error != nil {
				ge.Code = env.Error.Code
				if env.Error.Message != "" {
					ge.Message = env.Error.Message
				}
			} else if len(env.Messages) > 0 {
				ge.Message = env.Messages[0]
			}
		}
		return ge
	}

	if decodeErr != nil {
		return &GatewayError{Status: resp.StatusCode, Message: "malformed response body", Err: decodeErr}
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return &GatewayError{Status: resp.StatusCode, Message: "malformed result", Err: err}
		}
	}
	return nil
}
