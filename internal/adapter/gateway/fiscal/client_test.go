package fiscal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"escrow-ledger/config"
	"escrow-ledger/internal/core/ports"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) config.FiscalConfig {
	return config.FiscalConfig{
		BaseURL:        baseURL,
		Login:          "login",
		Password:       "pass",
		GroupCode:      "group_1",
		CompanyINN:     "7700000000",
		CompanyEmail:   "shop@example.com",
		PaymentAddress: "https://market.example",
		TaxSystem:      "usn_income_outcome",
		AgentType:      "another",
	}
}

func saleReceipt() ports.FiscalReceipt {
	return ports.FiscalReceipt{
		Kind:        ports.ReceiptKindSell,
		ExternalID:  "buy_01",
		Email:       "buyer@example.com",
		ItemName:    "Курсовая работа",
		Amount:      decimal.RequireFromString("100"),
		SupplierINN: "500100732259",
	}
}

func TestClient_Issue_Sell(t *testing.T) {
	var authCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/getToken":
			atomic.AddInt32(&authCalls, 1)
			var creds map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
			assert.Equal(t, "login", creds["login"])
			assert.Equal(t, "pass", creds["pass"])
			_, _ = w.Write([]byte(`{"token":"tok-1","error":null}`))
		case "/group_1/sell":
			assert.Equal(t, "tok-1", r.Header.Get("Token"))

			var body receiptRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "buy_01", body.ExternalID)
			assert.Equal(t, "01.02.2026 10:30:00", body.Timestamp)
			assert.Equal(t, "https://market.example/api/v1/webhooks/receipt", body.Service["callback_url"])
			assert.Equal(t, "buyer@example.com", body.Receipt.Client["email"])
			assert.Equal(t, "usn_income_outcome", body.Receipt.Company.SNO)
			require.Len(t, body.Receipt.Items, 1)
			assert.Equal(t, 100.0, body.Receipt.Items[0].Sum)
			assert.Equal(t, "500100732259", body.Receipt.Items[0].SupplierInfo["inn"])
			assert.Equal(t, "another", body.Receipt.Items[0].AgentInfo["type"])
			assert.Equal(t, []payment{{Type: 1, Sum: 100}}, body.Receipt.Payments)

			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"uuid":"abc","status":"wait","error":null}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), "https://market.example/api/v1/webhooks/receipt", srv.Client(), zerolog.Nop())
	c.now = func() time.Time { return time.Date(2026, 2, 1, 10, 30, 0, 0, time.UTC) }

	require.NoError(t, c.Issue(context.Background(), saleReceipt()))
	require.NoError(t, c.Issue(context.Background(), saleReceipt()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&authCalls), "token is cached")
}

func TestClient_Issue_RefreshesExpiredToken(t *testing.T) {
	var authCalls, refundCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/getToken":
			n := atomic.AddInt32(&authCalls, 1)
			_ = json.NewEncoder(w).Encode(map[string]string{"token": map[int32]string{1: "old", 2: "new"}[n]})
		case "/group_1/sell_refund":
			atomic.AddInt32(&refundCalls, 1)
			if r.Header.Get("Token") == "old" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":{"code":"ExpiredToken","text":"Token expired"}}`))
				return
			}
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"status":"wait"}`))
		}
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), "", srv.Client(), zerolog.Nop())
	r := saleReceipt()
	r.Kind = ports.ReceiptKindSellRefund

	require.NoError(t, c.Issue(context.Background(), r))
	assert.Equal(t, int32(2), atomic.LoadInt32(&authCalls))
	assert.Equal(t, int32(2), atomic.LoadInt32(&refundCalls))
}

func TestClient_Issue_Unauthorized401Retries(t *testing.T) {
	var sellCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/getToken" {
			_, _ = w.Write([]byte(`{"token":"t"}`))
			return
		}
		if atomic.AddInt32(&sellCalls, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), "", srv.Client(), zerolog.Nop())
	require.NoError(t, c.Issue(context.Background(), saleReceipt()))
	assert.Equal(t, int32(2), atomic.LoadInt32(&sellCalls))
}

func TestClient_Issue_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/getToken" {
			_, _ = w.Write([]byte(`{"token":"t"}`))
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":32,"text":"validation failed"}}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), "", srv.Client(), zerolog.Nop())
	err := c.Issue(context.Background(), saleReceipt())
	assert.ErrorContains(t, err, "unexpected status 400")
}

func TestClient_AuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":{"code":12,"text":"wrong password"},"token":""}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), "", srv.Client(), zerolog.Nop())
	err := c.Issue(context.Background(), saleReceipt())
	assert.ErrorContains(t, err, "fiscal auth error")
}

func TestClient_Issue_UnknownKind(t *testing.T) {
	c := NewClient(testConfig("http://fiscal.invalid"), "", nil, zerolog.Nop())
	r := saleReceipt()
	r.Kind = "buy"
	assert.Error(t, c.Issue(context.Background(), r))
}

func TestBuildRequest_NoSupplier(t *testing.T) {
	c := NewClient(testConfig("http://fiscal.invalid"), "cb", nil, zerolog.Nop())
	r := saleReceipt()
	r.SupplierINN = ""
	r.Email = ""

	req := c.buildRequest(r)
	assert.Nil(t, req.Receipt.Items[0].SupplierInfo)
	assert.Nil(t, req.Receipt.Items[0].AgentInfo)
	assert.Empty(t, req.Receipt.Client)
}
