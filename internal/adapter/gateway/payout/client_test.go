package payout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"escrow-ledger/config"
	"escrow-ledger/internal/core/domain"
	"escrow-ledger/internal/core/ports"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockHTTPClient struct {
	doFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return m.doFunc(req)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.PayoutConfig{BaseURL: srv.URL, ClientKey: "ck-test"}, srv.Client(), zerolog.Nop())
}

func sbpRequest() ports.PayoutRequest {
	return ports.PayoutRequest{
		ExternalID: "wd_01",
		Amount:     decimal.RequireFromString("1500.50"),
		FirstName:  "Ivan",
		LastName:   "Petrov",
		Phone:      "+79001234567",
		Method:     domain.PayoutMethodSBP,
		BankID:     "100000000004",
	}
}

func TestBuildPayload(t *testing.T) {
	p := buildPayload(sbpRequest())
	assert.Equal(t, "wd_01", p.CustomerPaymentID)
	assert.Equal(t, 1500.5, p.Amount)
	assert.Equal(t, requisite{TypeID: 10, AccountNumber: "+79001234567", SBPBankID: "100000000004"}, p.Requisite)

	card := ports.PayoutRequest{
		ExternalID:    "wd_02",
		Amount:        decimal.NewFromInt(1000),
		Method:        domain.PayoutMethodCard,
		AccountNumber: "4111111111111111",
		MiddleName:    "Sergeevich",
	}
	p = buildPayload(card)
	assert.Equal(t, requisite{TypeID: 8, AccountNumber: "4111111111111111"}, p.Requisite)
	assert.Equal(t, "Sergeevich", p.MiddleName)
}

func TestClient_Submit_Accepted(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/services/openapi/payments/smart", r.URL.Path)
		assert.Equal(t, "ck-test", r.Header.Get("Client-Key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "wd_01", body["customer_payment_id"])
		_, hasMiddle := body["middle_name"]
		assert.False(t, hasMiddle)

		_, _ = w.Write([]byte(`{"success":true,"item":{"id":1}}`))
	})

	require.NoError(t, c.Submit(context.Background(), sbpRequest()))
}

func TestClient_Submit_Rejected(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"success false", http.StatusOK, `{"success":false,"message":"invalid requisite"}`},
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`},
		{"not json", http.StatusOK, `<html></html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			err := c.Submit(context.Background(), sbpRequest())
			var rejected *ErrRejected
			require.ErrorAs(t, err, &rejected)
			assert.Equal(t, tt.status, rejected.StatusCode)
		})
	}
}

func TestClient_Submit_TransportError(t *testing.T) {
	c := NewClient(config.PayoutConfig{BaseURL: "http://payout.invalid"}, &mockHTTPClient{
		doFunc: func(*http.Request) (*http.Response, error) { return nil, errors.New("timeout") },
	}, zerolog.Nop())

	err := c.Submit(context.Background(), sbpRequest())
	require.Error(t, err)
	var rejected *ErrRejected
	assert.False(t, errors.As(err, &rejected))
}

func TestClient_Submit_InvalidMethod(t *testing.T) {
	c := NewClient(config.PayoutConfig{}, &mockHTTPClient{}, zerolog.Nop())
	req := sbpRequest()
	req.Method = "crypto"
	assert.Error(t, c.Submit(context.Background(), req))
}

func TestClient_Status(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/payments/customer/wd_01", r.URL.Path)
		assert.Equal(t, "ck-test", r.Header.Get("Client-Key"))
		_, _ = w.Write([]byte(`{"status":"DONE"}`))
	})

	status, err := c.Status(context.Background(), "wd_01")
	require.NoError(t, err)
	assert.Equal(t, "done", status)
}

func TestClient_Status_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.Status(context.Background(), "wd_missing")
	assert.ErrorContains(t, err, "unexpected status 404")
}
