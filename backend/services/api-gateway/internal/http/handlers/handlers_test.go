package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"vacstation/backend/libs/ledger"
	"vacstation/backend/services/api-gateway/internal/clients"
	"vacstation/backend/services/api-gateway/internal/http/middleware"
)

type captured struct {
	method  string
	path    string
	query   string
	body    string
	headers http.Header
}

type recorder struct {
	mu   sync.Mutex
	last captured
}

func (r *recorder) get() captured {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func upstream(t *testing.T, status int, reply string) (*httptest.Server, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.last = captured{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, body: string(body), headers: r.Header.Clone()}
		rec.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func authed(r *http.Request, accountID string) *http.Request {
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"account_id": accountID}).SignedString([]byte("s"))
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}

func through(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	middleware.AuthMiddleware("s")(h).ServeHTTP(w, r)
	return w
}

func TestActivateForwardsAccountAndBody(t *testing.T) {
	srv, rec := upstream(t, http.StatusPaymentRequired, `{"error":"insufficient balance"}`)
	h := NewSessionsHandlers(clients.NewSessionsClient(srv.URL, srv.Client()), zap.NewNop())

	req := authed(httptest.NewRequest(http.MethodPost, "/api/machines/activate", strings.NewReader(`{"device_id":"vac-1","minutes":5}`)), "acct-1")
	w := through(h.Activate, req)
	got := rec.get()

	if w.Code != http.StatusPaymentRequired || !strings.Contains(w.Body.String(), "insufficient") {
		t.Fatalf("upstream reply not relayed: %d %s", w.Code, w.Body.String())
	}
	if got.method != http.MethodPost || got.path != "/sessions/activate" || got.body != `{"device_id":"vac-1","minutes":5}` {
		t.Fatalf("unexpected upstream request %+v", got)
	}
	if got.headers.Get("X-Account-ID") != "acct-1" || got.headers.Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected upstream headers %v", got.headers)
	}
}

func TestSessionsMeForwardsQuery(t *testing.T) {
	srv, rec := upstream(t, http.StatusOK, `{"sessions":[]}`)
	h := NewSessionsHandlers(clients.NewSessionsClient(srv.URL, srv.Client()), zap.NewNop())

	w := through(h.Me, authed(httptest.NewRequest(http.MethodGet, "/api/sessions/me?limit=5", nil), "acct-2"))
	got := rec.get()
	if w.Code != http.StatusOK || got.path != "/sessions/me" || got.query != "limit=5" || got.headers.Get("X-Account-ID") != "acct-2" {
		t.Fatalf("unexpected %d %+v", w.Code, got)
	}
}

func TestBillingRoutes(t *testing.T) {
	srv, rec := upstream(t, http.StatusOK, `{"balance":150}`)
	h := NewBillingHandlers(clients.NewBillingClient(srv.URL, srv.Client()), zap.NewNop())

	if w := through(h.Balance, authed(httptest.NewRequest(http.MethodGet, "/api/balance", nil), "acct-1")); w.Code != http.StatusOK || rec.get().path != "/billing/me/balance" {
		t.Fatalf("balance: %d %+v", w.Code, rec.get())
	}
	w := through(h.Payments, authed(httptest.NewRequest(http.MethodGet, "/api/payments?limit=2", nil), "acct-1"))
	if got := rec.get(); w.Code != http.StatusOK || got.path != "/billing/me/payments" || got.query != "limit=2" {
		t.Fatalf("payments: %d %+v", w.Code, got)
	}
	req := authed(httptest.NewRequest(http.MethodPost, "/api/payments/topups", strings.NewReader(`{"amount":1000}`)), "acct-1")
	w = through(h.CreateTopUp, req)
	if got := rec.get(); w.Code != http.StatusOK || got.path != "/billing/me/topups" || got.body != `{"amount":1000}` {
		t.Fatalf("topup: %d %+v", w.Code, got)
	}
}

func TestRelayRequiresAccount(t *testing.T) {
	srv, _ := upstream(t, http.StatusOK, `{}`)
	h := NewBillingHandlers(clients.NewBillingClient(srv.URL, srv.Client()), zap.NewNop())

	w := httptest.NewRecorder()
	h.Balance(w, httptest.NewRequest(http.MethodGet, "/api/balance", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestRelayUpstreamDown(t *testing.T) {
	srv, _ := upstream(t, http.StatusOK, `{}`)
	client := clients.NewBillingClient(srv.URL, srv.Client())
	srv.Close()

	w := through(NewBillingHandlers(client, zap.NewNop()).Balance, authed(httptest.NewRequest(http.MethodGet, "/api/balance", nil), "acct-1"))
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}

func TestWebhookPassthrough(t *testing.T) {
	srv, rec := upstream(t, http.StatusInternalServerError, `{"error":"temporarily unable to process notification"}`)
	h := NewWebhookHandler(clients.NewBillingClient(srv.URL, srv.Client()), zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook?type=payment", strings.NewReader(`{"type":"payment","data":{"id":"123"}}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", "ts=1,v1=abc")
	req.Header.Set("X-Request-Id", "req-1")
	req.Header.Set("Authorization", "Bearer leaked")
	w := httptest.NewRecorder()
	h(w, req)
	got := rec.get()

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("billing status must reach the payment gateway, got %d", w.Code)
	}
	if got.path != "/webhooks/mercadopago" || got.query != "type=payment" || got.body != `{"type":"payment","data":{"id":"123"}}` {
		t.Fatalf("unexpected upstream request %+v", got)
	}
	if got.headers.Get("X-Signature") != "ts=1,v1=abc" || got.headers.Get("X-Request-Id") != "req-1" || got.headers.Get("Authorization") != "" {
		t.Fatalf("unexpected upstream headers %v", got.headers)
	}
}

func TestHealthDegraded(t *testing.T) {
	h := NewHealthHandler(map[string]Check{
		"redis": func(context.Context) error { return io.EOF },
	})
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), `"redis":"unreachable"`) {
		t.Fatalf("unexpected %d %s", w.Code, w.Body.String())
	}
}

func TestBalanceStreamPushesUpdates(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	notifier := ledger.NewRedisNotifier(client, zap.NewNop())

	stream := NewBalanceStream(notifier, time.Second, nil, zap.NewNop())
	srv := httptest.NewServer(middleware.AuthMiddleware("s")(stream))
	t.Cleanup(srv.Close)

	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"account_id": "acct-1"}).SignedString([]byte("s"))
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/balance/stream?access_token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()
	if err := notifier.Publish(ctx, ledger.Update{AccountID: "acct-2", Balance: 1}); err != nil {
		t.Fatalf("publish other: %v", err)
	}
	if err := notifier.Publish(ctx, ledger.Update{AccountID: "acct-1", Balance: 250, Delta: 100, Reference: "pay-1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var update ledger.Update
	if err := json.Unmarshal(data, &update); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if update.AccountID != "acct-1" || update.Balance != 250 || update.Reference != "pay-1" {
		t.Fatalf("unexpected update %+v", update)
	}
}

func TestBalanceStreamRequiresToken(t *testing.T) {
	srv := httptest.NewServer(middleware.AuthMiddleware("s")(NewBalanceStream(nil, time.Second, nil, zap.NewNop())))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/balance/stream"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 response, got %v", resp)
	}
}

func TestBalanceStreamChecksOrigin(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	notifier := ledger.NewRedisNotifier(client, zap.NewNop())

	stream := NewBalanceStream(notifier, time.Second, []string{"https://app.vacstation.example/"}, zap.NewNop())
	srv := httptest.NewServer(middleware.AuthMiddleware("s")(stream))
	t.Cleanup(srv.Close)

	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"account_id": "acct-1"}).SignedString([]byte("s"))
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/balance/stream?access_token=" + token

	tests := []struct {
		origin string
		ok     bool
	}{
		{"https://evil.example", false},
		{"https://app.vacstation.example", true},
		{srv.URL, true},
	}
	for _, tt := range tests {
		conn, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{tt.origin}})
		if tt.ok {
			if err != nil {
				t.Fatalf("%s: dial: %v", tt.origin, err)
			}
			conn.Close()
			continue
		}
		if err == nil {
			conn.Close()
			t.Fatalf("%s: expected handshake to fail", tt.origin)
		}
		if resp == nil || resp.StatusCode != http.StatusForbidden {
			t.Fatalf("%s: expected 403, got %v", tt.origin, resp)
		}
	}
}
