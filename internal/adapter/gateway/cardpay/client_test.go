package cardpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"escrow-ledger/config"
	"escrow-ledger/internal/core/ports"

	"github.com/rs/zerolog"
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
	return NewClient(config.CardPayConfig{
		BaseURL:     srv.URL + "/",
		TerminalKey: "TinkoffBankTest",
		Password:    "usaf8fw8fsw21g",
		Timeout:     time.Second,
	}, srv.Client(), zerolog.Nop())
}

func TestRequestToken(t *testing.T) {
	fields := map[string]any{
		"TerminalKey": "TinkoffBankTest",
		"Amount":      int64(19200),
		"OrderId":     "21090",
		"Description": "Подарочная карта на 1000 рублей",
		"Token":       "ignored",
		"DATA":        map[string]any{"Phone": "+71234567890"},
		"Receipt":     map[string]any{"Email": "a@test.ru"},
	}

	assert.Equal(t, "44a2c8230d1154e7e67c36eceb381690a6c5ee4e969353d79e319fceca64285f",
		RequestToken(fields, "usaf8fw8fsw21g"))
}

func TestNotificationToken(t *testing.T) {
	var fields map[string]any
	dec := json.NewDecoder(bytes.NewBufferString(`{
		"TerminalKey": "TinkoffBankTest",
		"OrderId": "dep_1",
		"Success": true,
		"Status": "CONFIRMED",
		"PaymentId": 13660,
		"ErrorCode": "0",
		"Amount": 100000,
		"CardId": 322264,
		"Pan": "430000******0777",
		"ExpDate": "1122",
		"DATA": {"Route": "ACQ"},
		"Token": "x"
	}`))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&fields))

	want := "f27e294b5b3c9fe707d448ccbc8bc19e6affca9bd64ecb84dd40ed1f42327c37"
	assert.Equal(t, want, NotificationToken(fields, "pwd"))

	fields["Success"] = "TRUE"
	assert.Equal(t, want, NotificationToken(fields, "pwd"), "Success is compared lower-case")

	fields["NotificationURL"] = "https://example.com/hook"
	assert.Equal(t, want, NotificationToken(fields, "pwd"), "NotificationURL is excluded")

	fields["Amount"] = json.Number("100001")
	assert.NotEqual(t, want, NotificationToken(fields, "pwd"))
}

func TestClient_VerifyNotification(t *testing.T) {
	c := NewClient(config.CardPayConfig{TerminalKey: "T", Password: "secret"}, nil, zerolog.Nop())

	fields := map[string]any{"TerminalKey": "T", "OrderId": "dep_1", "Status": "CONFIRMED", "Success": true}
	fields["Token"] = NotificationToken(fields, "secret")
	assert.True(t, c.VerifyNotification(fields))

	fields["Status"] = "REFUNDED"
	assert.False(t, c.VerifyNotification(fields))

	delete(fields, "Token")
	assert.False(t, c.VerifyNotification(fields))
}

func TestClient_Init(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Init", r.URL.Path)

		var body map[string]any
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		require.NoError(t, dec.Decode(&body))
		assert.Equal(t, "TinkoffBankTest", body["TerminalKey"])
		assert.Equal(t, json.Number("150000"), body["Amount"])
		assert.Equal(t, "dep_01", body["OrderId"])
		assert.Equal(t, RequestToken(body, "usaf8fw8fsw21g"), body["Token"])

		_, _ = w.Write([]byte(`{"Success":true,"ErrorCode":"0","PaymentId":3093639567,"PaymentURL":"https://pay.example/abc"}`))
	})

	res, err := c.Init(context.Background(), ports.CardInitRequest{
		AmountMinor:     150000,
		OrderID:         "dep_01",
		Description:     "Пополнение баланса",
		NotificationURL: "https://market.example/api/v1/webhooks/card",
	})
	require.NoError(t, err)
	assert.Equal(t, "3093639567", res.PaymentID)
	assert.Equal(t, "https://pay.example/abc", res.PaymentURL)
}

func TestClient_Init_Rejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Success":false,"ErrorCode":"204","Message":"Неверный токен"}`))
	})

	_, err := c.Init(context.Background(), ports.CardInitRequest{AmountMinor: 100, OrderID: "dep_02"})
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "204", perr.Code)
	assert.Equal(t, "Init", perr.Op)
}

func TestClient_Init_HTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.Init(context.Background(), ports.CardInitRequest{AmountMinor: 100, OrderID: "dep_03"})
	assert.ErrorContains(t, err, "unexpected status 503")
}

func TestClient_ConfirmAndCancel(t *testing.T) {
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "777", body["PaymentId"])
		_, _ = w.Write([]byte(`{"Success":true,"ErrorCode":"0","Status":"CONFIRMED"}`))
	})

	require.NoError(t, c.Confirm(context.Background(), "777"))
	require.NoError(t, c.Cancel(context.Background(), "777"))
	assert.Equal(t, []string{"/Confirm", "/Cancel"}, paths)
}

func TestClient_TransportError(t *testing.T) {
	client := &mockHTTPClient{doFunc: func(*http.Request) (*http.Response, error) {
		return nil, errors.New("dial tcp: timeout")
	}}
	c := NewClient(config.CardPayConfig{BaseURL: "http://cardpay.invalid"}, client, zerolog.Nop())

	err := c.Cancel(context.Background(), "1")
	assert.ErrorContains(t, err, "dial tcp")
}

func TestClient_BodyClosedOnDecodeFailure(t *testing.T) {
	body := io.NopCloser(bytes.NewBufferString("not json"))
	client := &mockHTTPClient{doFunc: func(*http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Body: body}, nil
	}}
	c := NewClient(config.CardPayConfig{BaseURL: "http://cardpay.invalid"}, client, zerolog.Nop())

	assert.Error(t, c.Confirm(context.Background(), "1"))
}
