package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestConfig(baseURL string) *Config {
	cfg := &Config{
		ClientID:     "cid",
		ClientSecret: "secret",
		BaseURL:      baseURL,
		WebhookID:    "WH-1",
		PartnerID:    "PARTNER",
	}
	cfg.normalize()
	return cfg
}

// newPaypalServer 模拟令牌接口，其余请求交给 handler
func newPaypalServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/oauth2/token" {
			user, pass, ok := r.BasicAuth()
			if !ok || user != "cid" || pass != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
			return
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestParseConfigAndNormalize(t *testing.T) {
	cfg, err := ParseConfig(map[string]interface{}{
		"client_id":     " cid ",
		"client_secret": " secret ",
		"base_url":      "https://api-m.sandbox.paypal.com/",
		"webhook_id":    "WH-1",
	})
	if err != nil {
		t.Fatalf("ParseConfig error: %v", err)
	}
	if cfg.ClientID != "cid" || cfg.BaseURL != "https://api-m.sandbox.paypal.com" {
		t.Fatalf("config not normalized: %+v", cfg)
	}
	if cfg.PayoutNote == "" {
		t.Fatalf("payout note should have default value")
	}
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("ValidateConfig should pass, got: %v", err)
	}
	cfg.WebhookID = ""
	if err := ValidateConfig(cfg); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid without webhook id, got %v", err)
	}
}

func TestCreatePayoutSendsRequestID(t *testing.T) {
	var gotRequestID string
	var payload map[string]interface{}
	server := newPaypalServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payments/payouts" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		gotRequestID = r.Header.Get("PayPal-Request-Id")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &payload)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"batch_header":{"payout_batch_id":"BATCH-9","batch_status":"PENDING"}}`))
	})

	result, err := CreatePayout(context.Background(), newTestConfig(server.URL), PayoutInput{
		Receiver: "aff@example.com",
		Amount:   "12.50",
		Currency: "usd",
		BatchID:  "commission_payout_3",
	})
	if err != nil {
		t.Fatalf("CreatePayout failed: %v", err)
	}
	if result.BatchID != "BATCH-9" {
		t.Fatalf("unexpected batch id: %s", result.BatchID)
	}
	if gotRequestID != "commission_payout_3" {
		t.Fatalf("expected request id header, got %q", gotRequestID)
	}
	if readString(payload, "sender_batch_header", "sender_batch_id") != "commission_payout_3" {
		t.Fatalf("sender batch id not set: %#v", payload)
	}
	if readString(payload, "items", "0", "recipient_type") != "EMAIL" {
		t.Fatalf("expected email recipient: %#v", payload)
	}
	if readString(payload, "items", "0", "amount", "currency") != "USD" {
		t.Fatalf("currency should be upper-cased: %#v", payload)
	}
}

func TestCreatePayoutSurfacesProviderError(t *testing.T) {
	server := newPaypalServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"name":"INSUFFICIENT_FUNDS","message":"Sender does not have sufficient funds."}`))
	})
	_, err := CreatePayout(context.Background(), newTestConfig(server.URL), PayoutInput{
		Receiver: "PAYERID1",
		Amount:   "1.00",
		Currency: "USD",
		BatchID:  "commission_payout_4",
	})
	if !errors.Is(err, ErrResponseInvalid) {
		t.Fatalf("expected ErrResponseInvalid, got %v", err)
	}
	if !strings.Contains(err.Error(), "INSUFFICIENT_FUNDS") {
		t.Fatalf("provider error name missing: %v", err)
	}
}

func TestGetMerchantStatus(t *testing.T) {
	server := newPaypalServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/customer/partners/PARTNER/merchant-integrations/M1" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"merchant_id":"M1","payments_receivable":true,"primary_email_confirmed":false}`))
	})
	status, err := GetMerchantStatus(context.Background(), newTestConfig(server.URL), "M1")
	if err != nil {
		t.Fatalf("GetMerchantStatus failed: %v", err)
	}
	if !status.PaymentsReceivable || status.PrimaryEmailConfirmed {
		t.Fatalf("unexpected status: %+v", status)
	}

	cfg := newTestConfig(server.URL)
	cfg.PartnerID = ""
	if _, err := GetMerchantStatus(context.Background(), cfg, "M1"); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid without partner id, got %v", err)
	}
}

func TestGetOrderReadsCapture(t *testing.T) {
	server := newPaypalServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"ORDER-1","status":"COMPLETED","purchase_units":[{"payments":{"captures":[{"id":"CAP-1","status":"COMPLETED","amount":{"value":"20.00","currency_code":"USD"},"create_time":"2026-01-02T03:04:05Z"}]}}]}`))
	})
	result, err := GetOrder(context.Background(), newTestConfig(server.URL), "ORDER-1")
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if result.CaptureID != "CAP-1" || result.Amount != "20.00" || result.PaidAt == nil {
		t.Fatalf("unexpected order result: %+v", result)
	}
}

func TestVerifyWebhookSignature(t *testing.T) {
	status := "SUCCESS"
	server := newPaypalServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"verification_status":"` + status + `"}`))
	})
	cfg := newTestConfig(server.URL)
	headers := http.Header{}
	headers.Set("Paypal-Transmission-Id", "t1")
	headers.Set("Paypal-Transmission-Time", "2026-01-01T00:00:00Z")
	headers.Set("Paypal-Cert-Url", "https://api.paypal.com/cert")
	headers.Set("Paypal-Auth-Algo", "SHA256withRSA")
	headers.Set("Paypal-Transmission-Sig", "sig")

	if err := VerifyWebhookSignature(context.Background(), cfg, headers, map[string]interface{}{"id": "WH-EVT"}); err != nil {
		t.Fatalf("verify should pass, got %v", err)
	}
	status = "FAILURE"
	if err := VerifyWebhookSignature(context.Background(), cfg, headers, map[string]interface{}{"id": "WH-EVT"}); !errors.Is(err, ErrWebhookVerifyFailed) {
		t.Fatalf("expected ErrWebhookVerifyFailed, got %v", err)
	}
	headers.Del("Paypal-Transmission-Sig")
	if err := VerifyWebhookSignature(context.Background(), cfg, headers, map[string]interface{}{"id": "WH-EVT"}); !errors.Is(err, ErrWebhookVerifyFailed) {
		t.Fatalf("expected missing header to fail, got %v", err)
	}
}

func TestWebhookEventCaptureCompleted(t *testing.T) {
	body := []byte(`{"id":"WH-1","event_type":"PAYMENT.CAPTURE.COMPLETED","create_time":"2026-01-02T03:04:05Z","resource":{"id":"CAP-1","custom_id":"DJ100","amount":{"value":"20.00","currency_code":"usd"},"supplementary_data":{"related_ids":{"order_id":"ORDER-1"}}}}`)
	event, err := ParseWebhookEvent(body)
	if err != nil {
		t.Fatalf("ParseWebhookEvent failed: %v", err)
	}
	if status, ok := event.Status(); !ok || status != StatusCompleted {
		t.Fatalf("unexpected status: %s %v", status, ok)
	}
	if event.OrderNo() != "DJ100" || event.RelatedOrderID() != "ORDER-1" || event.CaptureID() != "CAP-1" {
		t.Fatalf("unexpected refs: %s %s %s", event.OrderNo(), event.RelatedOrderID(), event.CaptureID())
	}
	if amount, currency := event.Amount(); amount != "20.00" || currency != "USD" {
		t.Fatalf("unexpected amount: %s %s", amount, currency)
	}
	if event.OccurredAt() == nil {
		t.Fatalf("expected occurred at")
	}
}

func TestWebhookEventRefundResolvesCapture(t *testing.T) {
	body := []byte(`{"id":"WH-2","event_type":"PAYMENT.CAPTURE.REFUNDED","resource":{"id":"REF-1","invoice_id":"DJ100","links":[{"rel":"self","href":"https://api.paypal.com/v2/payments/refunds/REF-1"},{"rel":"up","href":"https://api.paypal.com/v2/payments/captures/CAP-1"}]}}`)
	event, err := ParseWebhookEvent(body)
	if err != nil {
		t.Fatalf("ParseWebhookEvent failed: %v", err)
	}
	if status, ok := event.Status(); !ok || status != StatusRefunded {
		t.Fatalf("unexpected status: %s %v", status, ok)
	}
	if event.CaptureID() != "CAP-1" {
		t.Fatalf("expected capture from up link, got %s", event.CaptureID())
	}
	if event.OrderNo() != "DJ100" {
		t.Fatalf("unexpected order no: %s", event.OrderNo())
	}
}

func TestWebhookEventUnknownType(t *testing.T) {
	event, err := ParseWebhookEvent([]byte(`{"id":"WH-3","event_type":"BILLING.PLAN.CREATED","resource":{}}`))
	if err != nil {
		t.Fatalf("ParseWebhookEvent failed: %v", err)
	}
	if _, ok := event.Status(); ok {
		t.Fatalf("unknown event should not map")
	}
	if _, err := ParseWebhookEvent([]byte(`{"event_type":"X"}`)); !errors.Is(err, ErrResponseInvalid) {
		t.Fatalf("missing id should be rejected, got %v", err)
	}
}
