// Package payout is the client of the payout provider.
package payout

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"escrow-ledger/config"
	"escrow-ledger/internal/adapter/gateway"
	"escrow-ledger/internal/core/ports"
	"escrow-ledger/internal/metrics"

	"github.com/rs/zerolog"
)

const provider = "payout"

// Requisite type ids understood by the provider.
const (
	requisiteCard = 8
	requisiteSBP  = 10
)

// ErrRejected is returned when the provider answered but did not accept the payout.
type ErrRejected struct {
	StatusCode int
	Message    string
}

func (e *ErrRejected) Error() string {
	return fmt.Sprintf("payout rejected (status %d): %s", e.StatusCode, e.Message)
}

type requisite struct {
	TypeID        int    `json:"type_id"`
	AccountNumber string `json:"account_number"`
	SBPBankID     string `json:"sbp_bank_id,omitempty"`
}

type submitPayload struct {
	CustomerPaymentID string    `json:"customer_payment_id"`
	Amount            float64   `json:"amount"`
	FirstName         string    `json:"first_name"`
	LastName          string    `json:"last_name"`
	MiddleName        string    `json:"middle_name,omitempty"`
	Phone             string    `json:"phone"`
	Requisite         requisite `json:"requisite"`
}

type submitResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

type statusResponse struct {
	Status string `json:"status"`
}

// Client implements ports.PayoutGateway.
type Client struct {
	baseURL    string
	clientKey  string
	httpClient gateway.HTTPClient
	log        zerolog.Logger
}

var _ ports.PayoutGateway = (*Client)(nil)

// NewClient creates a payout client. A nil httpClient gets a default client
// with cfg.Timeout.
func NewClient(cfg config.PayoutConfig, httpClient gateway.HTTPClient, log zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = gateway.NewHTTPClient(cfg.Timeout)
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		clientKey:  cfg.ClientKey,
		httpClient: httpClient,
		log:        log.With().Str("provider", provider).Logger(),
	}
}

// buildPayload maps a payout request onto the provider's body.
func buildPayload(req ports.PayoutRequest) submitPayload {
	var r requisite
	if req.Method.NeedsBank() {
		r = requisite{TypeID: requisiteSBP, AccountNumber: req.Phone, SBPBankID: req.BankID}
	} else {
		r = requisite{TypeID: requisiteCard, AccountNumber: req.AccountNumber}
	}

	amount, _ := req.Amount.Float64()
	return submitPayload{
		CustomerPaymentID: req.ExternalID,
		Amount:            amount,
		FirstName:         req.FirstName,
		LastName:          req.LastName,
		MiddleName:        req.MiddleName,
		Phone:             req.Phone,
		Requisite:         r,
	}
}

// Submit sends one payout. Anything but HTTP 200 with success=true is a rejection.
func (c *Client) Submit(ctx context.Context, req ports.PayoutRequest) (err error) {
	started := time.Now()
	defer func() { metrics.ObserveGateway(provider, "submit", started, err) }()

	if !req.Method.IsValid() {
		return fmt.Errorf("payout: unsupported method %q", req.Method)
	}

	resp, err := gateway.DoJSON(ctx, c.httpClient, http.MethodPost,
		c.baseURL+"/services/openapi/payments/smart", c.header(), buildPayload(req))
	if err != nil {
		c.log.Warn().Err(err).Str("external_id", req.ExternalID).Msg("payout: submit failed")
		return fmt.Errorf("payout submit: %w", err)
	}

	var out submitResponse
	decodeErr := resp.Decode(&out)
	if resp.StatusCode != http.StatusOK || decodeErr != nil || !out.Success {
		msg := out.Message
		if msg == "" {
			msg = out.Error
		}
		if msg == "" && decodeErr != nil {
			msg = decodeErr.Error()
		}
		c.log.Warn().
			Str("external_id", req.ExternalID).
			Int("status", resp.StatusCode).
			Str("message", msg).
			Msg("payout: submit rejected")
		return &ErrRejected{StatusCode: resp.StatusCode, Message: msg}
	}

	c.log.Info().Str("external_id", req.ExternalID).Msg("payout: submit accepted")
	return nil
}

// Status returns the provider status of a payout, lower-cased.
func (c *Client) Status(ctx context.Context, externalID string) (status string, err error) {
	started := time.Now()
	defer func() { metrics.ObserveGateway(provider, "status", started, err) }()

	resp, err := gateway.DoJSON(ctx, c.httpClient, http.MethodGet,
		c.baseURL+"/v1/payments/customer/"+url.PathEscape(externalID), c.header(), nil)
	if err != nil {
		return "", fmt.Errorf("payout status: %w", err)
	}
	if !resp.OK() {
		return "", fmt.Errorf("payout status: %w", gateway.NewStatusError(resp))
	}

	var out statusResponse
	if err := resp.Decode(&out); err != nil {
		return "", fmt.Errorf("payout status: %w", err)
	}
	return strings.ToLower(out.Status), nil
}

func (c *Client) header() http.Header {
	return http.Header{"Client-Key": {c.clientKey}}
}
