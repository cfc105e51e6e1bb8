// Package cardpay is the client of the hosted card-payment provider.
package cardpay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"escrow-ledger/config"
	"escrow-ledger/internal/adapter/gateway"
	"escrow-ledger/internal/core/ports"
	"escrow-ledger/internal/metrics"

	"github.com/rs/zerolog"
)

const provider = "cardpay"

// ProviderError is a well-formed answer with Success=false.
type ProviderError struct {
	Op      string
	Code    string
	Message string
	Details string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("cardpay %s rejected: code=%s %s %s", e.Op, e.Code, e.Message, e.Details)
}

// flexString accepts both JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type apiResponse struct {
	Success    bool       `json:"Success"`
	ErrorCode  flexString `json:"ErrorCode"`
	Message    string     `json:"Message"`
	Details    string     `json:"Details"`
	Status     string     `json:"Status"`
	PaymentID  flexString `json:"PaymentId"`
	PaymentURL string     `json:"PaymentURL"`
}

// Client implements ports.CardGateway.
type Client struct {
	baseURL     string
	terminalKey string
	password    string
	httpClient  gateway.HTTPClient
	log         zerolog.Logger
}

var _ ports.CardGateway = (*Client)(nil)

// NewClient creates a card-payment client. A nil httpClient gets a default
// client with cfg.Timeout.
func NewClient(cfg config.CardPayConfig, httpClient gateway.HTTPClient, log zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = gateway.NewHTTPClient(cfg.Timeout)
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		terminalKey: cfg.TerminalKey,
		password:    cfg.Password,
		httpClient:  httpClient,
		log:         log.With().Str("provider", provider).Logger(),
	}
}

// TerminalKey returns the configured terminal.
func (c *Client) TerminalKey() string {
	return c.terminalKey
}

// Init registers a payment and returns the hosted payment page.
func (c *Client) Init(ctx context.Context, req ports.CardInitRequest) (*ports.CardInitResult, error) {
	payload := map[string]any{
		"Amount":          req.AmountMinor,
		"OrderId":         req.OrderID,
		"Description":     req.Description,
		"NotificationURL": req.NotificationURL,
	}
	resp, err := c.call(ctx, "Init", payload)
	if err != nil {
		return nil, err
	}
	if resp.PaymentURL == "" {
		return nil, fmt.Errorf("cardpay Init: response without PaymentURL")
	}
	return &ports.CardInitResult{
		PaymentID:  string(resp.PaymentID),
		PaymentURL: resp.PaymentURL,
	}, nil
}

// Confirm captures an authorized payment.
func (c *Client) Confirm(ctx context.Context, paymentID string) error {
	_, err := c.call(ctx, "Confirm", map[string]any{"PaymentId": paymentID})
	return err
}

// Cancel voids or refunds a payment.
func (c *Client) Cancel(ctx context.Context, paymentID string) error {
	_, err := c.call(ctx, "Cancel", map[string]any{"PaymentId": paymentID})
	return err
}

// VerifyNotification checks the Token of an inbound notification.
func (c *Client) VerifyNotification(fields map[string]any) bool {
	token, ok := fields["Token"].(string)
	if !ok || token == "" {
		return false
	}
	return VerifyToken(NotificationToken(fields, c.password), token)
}

func (c *Client) call(ctx context.Context, op string, payload map[string]any) (resp *apiResponse, err error) {
	started := time.Now()
	defer func() { metrics.ObserveGateway(provider, strings.ToLower(op), started, err) }()

	payload["TerminalKey"] = c.terminalKey
	payload["Token"] = RequestToken(payload, c.password)

	raw, err := gateway.DoJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+"/"+op, nil, payload)
	if err != nil {
		c.log.Warn().Err(err).Str("op", op).Msg("cardpay: request failed")
		return nil, fmt.Errorf("cardpay %s: %w", op, err)
	}
	if !raw.OK() {
		c.log.Warn().Int("status", raw.StatusCode).Str("op", op).Msg("cardpay: non-2xx response")
		return nil, fmt.Errorf("cardpay %s: %w", op, gateway.NewStatusError(raw))
	}

	var out apiResponse
	if err := raw.Decode(&out); err != nil {
		return nil, fmt.Errorf("cardpay %s: %w", op, err)
	}
	if !out.Success {
		perr := &ProviderError{Op: op, Code: string(out.ErrorCode), Message: out.Message, Details: out.Details}
		c.log.Warn().Str("op", op).Str("error_code", perr.Code).Str("message", perr.Message).Msg("cardpay: request rejected")
		return nil, perr
	}
	return &out, nil
}
