package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mkopaji/internal/config"
	httpx "mkopaji/internal/http"
	"mkopaji/internal/pending"
	"mkopaji/internal/provider"
	"mkopaji/internal/provider/mock"
	"mkopaji/internal/provider/mpesa"
	paysvc "mkopaji/internal/services/payment"
)

// daraja is a minimal stand-in for the Safaricom API.
func daraja(t *testing.T) *httptest.Server {
	t.Helper()
	var seq atomic.Int32
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/oauth/v1/generate":
			_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":"3599"}`))
		case "/mpesa/stkpush/v1/processrequest":
			n := seq.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"MerchantRequestID":   fmt.Sprintf("m-%d", n),
				"CheckoutRequestID":   fmt.Sprintf("ws_CO_%d", n),
				"ResponseCode":        "0",
				"ResponseDescription": "Success. Request accepted for processing",
				"CustomerMessage":     "Success. Request accepted for processing",
			})
		case "/mpesa/stkpushquery/v1/query":
			var in map[string]any
			_ = json.NewDecoder(r.Body).Decode(&in)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ResponseCode":      "0",
				"CheckoutRequestID": in["CheckoutRequestID"],
				"ResultCode":        "0",
				"ResultDesc":        "The service request is processed successfully.",
			})
		default:
			http.NotFound(w, r)
		}
	}))
}

func newApp(t *testing.T, darajaURL string) (http.Handler, *paysvc.Service) {
	t.Helper()
	cfg := config.Cfg{
		App: config.AppCfg{Env: "test", Port: "0"},
		Mpesa: config.MpesaCfg{
			Environment:     "sandbox",
			ConsumerKey:     "key",
			ConsumerSecret:  "secret",
			Shortcode:       "174379",
			Passkey:         "passkey",
			CallbackURL:     "https://example.test/hooks/mpesa/stk",
			TransactionType: "CustomerPayBillOnline",
			BaseURL:         darajaURL,
			Timeout:         5 * time.Second,
		},
		Retry: config.RetryCfg{InitialInterval: time.Millisecond, MaxAttempts: 1},
		Sec:   config.SecurityCfg{AdminToken: "admin"},
	}

	reg := provider.NewRegistry()
	reg.RegisterProvider(mpesa.New(cfg.Mpesa, cfg.Retry))
	reg.RegisterProvider(mock.New())

	tracker := pending.NewTracker(pending.NewMemoryStore(), pending.DefaultTimeout)
	svc, err := paysvc.NewServiceFromRegistry(reg, tracker, nil, paysvc.Options{
		Shortcode:    cfg.Mpesa.Shortcode,
		Environment:  cfg.Mpesa.Environment,
		AutoFallback: true,
	})
	require.NoError(t, err)
	return httpx.NewRouter(httpx.RouterDependencies{Config: cfg, Payments: svc}), svc
}

func call(t *testing.T, h http.Handler, method, path, body string, headers ...string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func TestPaymentFlow(t *testing.T) {
	srv := daraja(t)
	defer srv.Close()
	h, svc := newApp(t, srv.URL)

	const push = `{"phoneNumber":"0712345678","amount":100,"accountReference":"INV-1","transactionDesc":"Order"}`

	code, body := call(t, h, http.MethodPost, "/api/payments/stk-push", push)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "ws_CO_1", body["checkoutRequestId"])
	assert.Equal(t, "mpesa", body["provider"])

	code, body = call(t, h, http.MethodPost, "/api/payments/stk-push", push)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "ws_CO_2", body["checkoutRequestId"], "a repeat push reaches M-Pesa")

	code, body = call(t, h, http.MethodGet, "/api/payments/service-status", "")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["pendingRequests"])

	code, body = call(t, h, http.MethodPost, "/hooks/mpesa/stk", `{"Body":{"stkCallback":{
		"MerchantRequestID":"m-2","CheckoutRequestID":"ws_CO_2","ResultCode":0,
		"ResultDesc":"The service request is processed successfully.",
		"CallbackMetadata":{"Item":[{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"}]}}}}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Accepted", body["ResultDesc"])
	assert.Zero(t, svc.Status(t.Context()).PendingRequests)

	code, body = call(t, h, http.MethodPost, "/api/payments/stk-push", push)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ws_CO_3", body["checkoutRequestId"])

	code, body = call(t, h, http.MethodGet, "/api/payments/status/ws_CO_3", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, provider.StatusSuccess, body["status"])
	assert.Zero(t, svc.Status(t.Context()).PendingRequests)
}

func TestMockModeStatus(t *testing.T) {
	srv := daraja(t)
	defer srv.Close()
	h, _ := newApp(t, srv.URL)

	code, body := call(t, h, http.MethodPost, "/api/payments/admin/mock-mode", `{"enabled":true}`, "X-Admin-Token", "admin")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "mock", body["provider"])

	code, body = call(t, h, http.MethodGet, "/api/payments/status/mock_abc", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["isMock"])
	assert.Equal(t, "mock", body["provider"])
}
