// Package fiscal is the client of the fiscal-receipt service.
package fiscal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"escrow-ledger/config"
	"escrow-ledger/internal/adapter/gateway"
	"escrow-ledger/internal/core/ports"
	"escrow-ledger/internal/metrics"

	"github.com/rs/zerolog"
)

const (
	provider        = "fiscal"
	timestampLayout = "02.01.2006 15:04:05"
	paymentTypeCard = 1
)

type company struct {
	INN            string `json:"inn"`
	SNO            string `json:"sno"`
	PaymentAddress string `json:"payment_address"`
	Email          string `json:"email,omitempty"`
}

type vat struct {
	Type string `json:"type"`
}

type item struct {
	Name          string            `json:"name"`
	Price         float64           `json:"price"`
	Quantity      float64           `json:"quantity"`
	Sum           float64           `json:"sum"`
	PaymentMethod string            `json:"payment_method"`
	PaymentObject string            `json:"payment_object"`
	VAT           vat               `json:"vat"`
	AgentInfo     map[string]string `json:"agent_info,omitempty"`
	SupplierInfo  map[string]string `json:"supplier_info,omitempty"`
}

type payment struct {
	Type int     `json:"type"`
	Sum  float64 `json:"sum"`
}

type receiptBody struct {
	Client   map[string]string `json:"client"`
	Company  company           `json:"company"`
	Items    []item            `json:"items"`
	Payments []payment         `json:"payments"`
	Total    float64           `json:"total"`
}

type receiptRequest struct {
	Timestamp  string            `json:"timestamp"`
	ExternalID string            `json:"external_id"`
	Service    map[string]string `json:"service"`
	Receipt    receiptBody       `json:"receipt"`
}

type apiError struct {
	Error map[string]any `json:"error"`
}

type tokenResponse struct {
	Token string         `json:"token"`
	Error map[string]any `json:"error"`
	Data  struct {
		Token string `json:"token"`
	} `json:"data"`
}

// Client implements ports.FiscalClient. The auth token is cached and
// refreshed once when the service reports it expired.
type Client struct {
	cfg         config.FiscalConfig
	baseURL     string
	callbackURL string
	httpClient  gateway.HTTPClient
	log         zerolog.Logger
	now         func() time.Time

	mu    sync.Mutex
	token string
}

var _ ports.FiscalClient = (*Client)(nil)

// NewClient creates a fiscal client; callbackURL receives receipt status callbacks.
func NewClient(cfg config.FiscalConfig, callbackURL string, httpClient gateway.HTTPClient, log zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = gateway.NewHTTPClient(cfg.Timeout)
	}
	return &Client{
		cfg:         cfg,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		callbackURL: callbackURL,
		httpClient:  httpClient,
		log:         log.With().Str("provider", provider).Logger(),
		now:         time.Now,
	}
}

// Issue registers a sale or refund receipt.
func (c *Client) Issue(ctx context.Context, r ports.FiscalReceipt) (err error) {
	started := time.Now()
	defer func() { metrics.ObserveGateway(provider, string(r.Kind), started, err) }()

	switch r.Kind {
	case ports.ReceiptKindSell, ports.ReceiptKindSellRefund:
	default:
		return fmt.Errorf("fiscal: unknown receipt kind %q", r.Kind)
	}

	path := fmt.Sprintf("/%s/%s", c.cfg.GroupCode, r.Kind)
	resp, err := c.postAuthorized(ctx, path, c.buildRequest(r))
	if err != nil {
		return err
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
	default:
		c.log.Warn().Int("status", resp.StatusCode).Str("external_id", r.ExternalID).Msg("fiscal: receipt rejected")
		return fmt.Errorf("fiscal %s: %w", r.Kind, gateway.NewStatusError(resp))
	}

	c.log.Info().Str("external_id", r.ExternalID).Str("kind", string(r.Kind)).Msg("fiscal: receipt registered")
	return nil
}

func (c *Client) buildRequest(r ports.FiscalReceipt) receiptRequest {
	total, _ := r.Amount.Float64()

	it := item{
		Name:          r.ItemName,
		Price:         total,
		Quantity:      1,
		Sum:           total,
		PaymentMethod: "full_payment",
		PaymentObject: "service",
		VAT:           vat{Type: "none"},
	}
	if r.SupplierINN != "" {
		it.SupplierInfo = map[string]string{"inn": r.SupplierINN}
		if c.cfg.AgentType != "" {
			it.AgentInfo = map[string]string{"type": c.cfg.AgentType}
		}
	}

	client := map[string]string{}
	if r.Email != "" {
		client["email"] = r.Email
	}

	return receiptRequest{
		Timestamp:  c.now().Format(timestampLayout),
		ExternalID: r.ExternalID,
		Service:    map[string]string{"callback_url": c.callbackURL},
		Receipt: receiptBody{
			Client: client,
			Company: company{
				INN:            c.cfg.CompanyINN,
				SNO:            c.cfg.TaxSystem,
				PaymentAddress: c.cfg.PaymentAddress,
				Email:          c.cfg.CompanyEmail,
			},
			Items:    []item{it},
			Payments: []payment{{Type: paymentTypeCard, Sum: total}},
			Total:    total,
		},
	}
}

func (c *Client) postAuthorized(ctx context.Context, path string, body any) (*gateway.Response, error) {
	token, err := c.authenticate(ctx, false)
	if err != nil {
		return nil, err
	}

	resp, err := gateway.DoJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+path, http.Header{"Token": {token}}, body)
	if err != nil {
		return nil, fmt.Errorf("fiscal %s: %w", path, err)
	}
	if !isExpiredToken(resp) {
		return resp, nil
	}

	c.log.Debug().Msg("fiscal: token expired, re-authenticating")
	if token, err = c.authenticate(ctx, true); err != nil {
		return nil, err
	}
	resp, err = gateway.DoJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+path, http.Header{"Token": {token}}, body)
	if err != nil {
		return nil, fmt.Errorf("fiscal %s: %w", path, err)
	}
	return resp, nil
}

func (c *Client) authenticate(ctx context.Context, force bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && !force {
		return c.token, nil
	}

	resp, err := gateway.DoJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+"/getToken", nil,
		map[string]string{"login": c.cfg.Login, "pass": c.cfg.Password})
	if err != nil {
		return "", fmt.Errorf("fiscal auth: %w", err)
	}
	if !resp.OK() {
		return "", fmt.Errorf("fiscal auth: %w", gateway.NewStatusError(resp))
	}

	var out tokenResponse
	if err := resp.Decode(&out); err != nil {
		return "", fmt.Errorf("fiscal auth: %w", err)
	}
	if len(out.Error) > 0 {
		return "", fmt.Errorf("fiscal auth error: %v", out.Error)
	}

	token := out.Token
	if token == "" {
		token = out.Data.Token
	}
	if token == "" {
		return "", fmt.Errorf("fiscal auth: token not received")
	}
	c.token = token
	return token, nil
}

func isExpiredToken(resp *gateway.Response) bool {
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return true
	}

	var body apiError
	if err := json.Unmarshal(resp.Body, &body); err != nil || body.Error == nil {
		return false
	}
	if code, _ := body.Error["code"].(string); code == "ExpiredToken" {
		return true
	}
	text, _ := body.Error["text"].(string)
	return strings.Contains(strings.ToLower(text), "expired")
}
