package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vacstation/backend/libs/retry"
	"vacstation/backend/services/billing-service/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *MercadoPago {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewMercadoPago(Config{
		BaseURL:         srv.URL,
		AccessToken:     "test-token",
		NotificationURL: "https://example.test/api/payments/webhook",
		Retry:           retry.Config{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	}, zap.NewNop())
}

func TestGetPaymentMapsAuthoritativeFields(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payments/123" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("unexpected auth header %q", got)
		}
		_, _ = w.Write([]byte(`{"id":123,"status":"approved","transaction_amount":10.5,"external_reference":"tok-1","payment_method_id":"pix"}`))
	})

	p, err := client.GetPayment(context.Background(), "123")
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if p.ID != "123" || p.Status != models.PaymentApproved || p.Amount != 1050 || p.CorrelationToken != "tok-1" || p.Method != "pix" {
		t.Fatalf("unexpected payment %+v", p)
	}
}

func TestGetPaymentNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	if _, err := client.GetPayment(context.Background(), "999"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetPaymentRetriesServerErrors(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"id":7,"status":"in_process","transaction_amount":3,"external_reference":"tok"}`))
	})

	p, err := client.GetPayment(context.Background(), "7")
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if p.Status != models.PaymentPending {
		t.Fatalf("expected in_process to map to pending, got %s", p.Status)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestGetPaymentUnavailableAfterRetries(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	if _, err := client.GetPayment(context.Background(), "7"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestCreateIntentOneTime(t *testing.T) {
	var got preferenceRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/checkout/preferences" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Idempotency-Key") != "tok-1" {
			t.Errorf("expected idempotency key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"id":"pref-1","init_point":"https://pay.example/pref-1"}`))
	})

	intent, err := client.CreateIntent(context.Background(), IntentRequest{
		Token:  "tok-1",
		Amount: 2550,
		Kind:   models.IntentOneTime,
		Method: "pix",
		Payer:  Payer{Email: "a@b.c"},
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.ID != "pref-1" || intent.RedirectURL != "https://pay.example/pref-1" {
		t.Fatalf("unexpected intent %+v", intent)
	}
	if got.ExternalReference != "tok-1" || len(got.Items) != 1 || got.Items[0].UnitPrice != 25.5 || got.Items[0].CurrencyID != "BRL" {
		t.Fatalf("unexpected preference body %+v", got)
	}
	if got.NotificationURL == "" || got.PaymentMethods == nil {
		t.Fatalf("expected notification url and pix method filter")
	}
}

func TestCreateIntentRecurring(t *testing.T) {
	var got preapprovalRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/preapproval" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"id":"sub-1","init_point":"https://pay.example/sub-1"}`))
	})

	if _, err := client.CreateIntent(context.Background(), IntentRequest{
		Token:  "tok-2",
		Amount: 5000,
		Kind:   models.IntentRecurring,
		Payer:  Payer{Email: "a@b.c"},
	}); err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if got.AutoRecurring.FrequencyType != "months" || got.AutoRecurring.TransactionAmount != 50 || got.ExternalReference != "tok-2" {
		t.Fatalf("unexpected preapproval body %+v", got)
	}
}

func TestCreateIntentRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"invalid payer"}`))
	})
	_, err := client.CreateIntent(context.Background(), IntentRequest{Token: "t", Amount: 1, Payer: Payer{Email: "x"}})
	if !errors.Is(err, ErrRejectedRequest) {
		t.Fatalf("expected rejected request, got %v", err)
	}
}

func TestGetAuthorizedPaymentUsesChargeID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":555,"status":"processed","transaction_amount":50,"external_reference":"tok-sub","payment":{"id":987,"status":"approved"}}`))
	})
	p, err := client.GetAuthorizedPayment(context.Background(), "555")
	if err != nil {
		t.Fatalf("get authorized payment: %v", err)
	}
	if p.ID != "987" || p.Status != models.PaymentApproved || p.Amount != 5000 || p.CorrelationToken != "tok-sub" {
		t.Fatalf("unexpected payment %+v", p)
	}
}

func TestAmountConversion(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"10", 1000},
		{"10.5", 1050},
		{"0.015", 2},
		{"19.994", 1999},
	}
	for _, tc := range cases {
		if got := ToMinorUnits(decimal.RequireFromString(tc.in)); got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.in, tc.want, got)
		}
	}
	if FromMinorUnits(1050).String() != "10.5" {
		t.Fatalf("unexpected decimal %s", FromMinorUnits(1050))
	}
}

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]models.PaymentStatus{
		"approved":     models.PaymentApproved,
		"rejected":     models.PaymentRejected,
		"cancelled":    models.PaymentRejected,
		"charged_back": models.PaymentRejected,
		"pending":      models.PaymentPending,
		"in_process":   models.PaymentPending,
		"authorized":   models.PaymentPending,
		"":             models.PaymentPending,
	}
	for raw, want := range cases {
		if got := NormalizeStatus(raw); got != want {
			t.Fatalf("%q: expected %s, got %s", raw, want, got)
		}
	}
}
