package httpserver

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"vacstation/backend/services/api-gateway/internal/clients"
	"vacstation/backend/services/api-gateway/internal/http/handlers"
	"vacstation/backend/services/api-gateway/internal/http/middleware"
)

func newTestRouter(t *testing.T) (http.Handler, *atomic.Int32) {
	t.Helper()
	calls := &atomic.Int32{}
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(up.Close)

	billing := clients.NewBillingClient(up.URL, up.Client())
	sessions := clients.NewSessionsClient(up.URL, up.Client())
	router := NewRouter(RouterDeps{
		SessionsHandlers: handlers.NewSessionsHandlers(sessions, zap.NewNop()),
		BillingHandlers:  handlers.NewBillingHandlers(billing, zap.NewNop()),
		Webhook:          handlers.NewWebhookHandler(billing, zap.NewNop()),
		HealthHandler:    handlers.NewHealthHandler(nil),
	}, middleware.AuthMiddleware("s"))
	return router, calls
}

func TestRouterAuthBoundary(t *testing.T) {
	router, calls := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/machines/activate", nil))
	if w.Code != http.StatusUnauthorized || calls.Load() != 0 {
		t.Fatalf("activate without token: %d, upstream calls %d", w.Code, calls.Load())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/payments/webhook", nil))
	if w.Code != http.StatusOK || calls.Load() != 1 {
		t.Fatalf("webhook must pass without token: %d, upstream calls %d", w.Code, calls.Load())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("health: %d", w.Code)
	}
}

func TestRouterMethodGuard(t *testing.T) {
	router, _ := newTestRouter(t)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/payments/webhook", nil))
	if w.Code != http.StatusMethodNotAllowed || len(w.Header().Values("Allow")) != 2 {
		t.Fatalf("unexpected %d %v", w.Code, w.Header())
	}
}
