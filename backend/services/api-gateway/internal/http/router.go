package httpserver

import (
	"net/http"

	libhttp "vacstation/backend/libs/httpserver"
	"vacstation/backend/services/api-gateway/internal/http/handlers"
)

// RouterDeps collects handler dependencies.
type RouterDeps struct {
	SessionsHandlers *handlers.SessionsHandlers
	BillingHandlers  *handlers.BillingHandlers
	BalanceStream    http.Handler
	Webhook          http.HandlerFunc
	HealthHandler    http.HandlerFunc
}

// NewRouter wires HTTP routes with middleware.
func NewRouter(deps RouterDeps, authMiddleware func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/health", method(http.MethodGet, deps.HealthHandler))
	mux.Handle("/api/payments/webhook", methods([]string{http.MethodPost, http.MethodGet}, deps.Webhook))

	authenticated := func(handler http.Handler) http.Handler {
		return libhttp.Chain(handler, authMiddleware)
	}

	mux.Handle("/api/machines/activate", method(http.MethodPost, authenticated(deps.SessionsHandlers.Activate)))
	mux.Handle("/api/machines/deactivate", method(http.MethodPost, authenticated(deps.SessionsHandlers.Deactivate)))
	mux.Handle("/api/sessions/me", method(http.MethodGet, authenticated(deps.SessionsHandlers.Me)))
	mux.Handle("/api/balance", method(http.MethodGet, authenticated(deps.BillingHandlers.Balance)))
	mux.Handle("/api/payments", method(http.MethodGet, authenticated(deps.BillingHandlers.Payments)))
	mux.Handle("/api/payments/topups", method(http.MethodPost, authenticated(deps.BillingHandlers.CreateTopUp)))
	if deps.BalanceStream != nil {
		mux.Handle("/api/balance/stream", method(http.MethodGet, authenticated(deps.BalanceStream)))
	}

	return mux
}

func method(expected string, handler http.Handler) http.Handler {
	return methods([]string{expected}, handler)
}

func methods(allowed []string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, m := range allowed {
			if r.Method == m {
				handler.ServeHTTP(w, r)
				return
			}
		}
		for _, m := range allowed {
			w.Header().Add("Allow", m)
		}
		w.WriteHeader(http.StatusMethodNotAllowed)
	})
}
