package httpserver

import (
	"net/http"
	"sort"
	"strings"
)

// Routes groups HTTP handlers.
type Routes struct {
	Webhook            http.Handler
	Balance            http.HandlerFunc
	Transactions       http.HandlerFunc
	Payments           http.HandlerFunc
	TopUps             http.HandlerFunc
	CreateTopUp        http.HandlerFunc
	CancelSubscription http.HandlerFunc
	Health             http.HandlerFunc
	Metrics            http.Handler
}

// NewRouter registers service endpoints.
func NewRouter(routes Routes) http.Handler {
	mux := http.NewServeMux()
	if routes.Webhook != nil {
		mux.Handle("/webhooks/mercadopago", methods([]string{http.MethodPost, http.MethodGet}, routes.Webhook.ServeHTTP))
	}
	if routes.Balance != nil {
		mux.Handle("/billing/me/balance", method(http.MethodGet, routes.Balance))
	}
	if routes.Transactions != nil {
		mux.Handle("/billing/me/transactions", method(http.MethodGet, routes.Transactions))
	}
	if routes.Payments != nil {
		mux.Handle("/billing/me/payments", method(http.MethodGet, routes.Payments))
	}
	if routes.TopUps != nil || routes.CreateTopUp != nil {
		mux.Handle("/billing/me/topups", byMethod(map[string]http.HandlerFunc{
			http.MethodGet:  routes.TopUps,
			http.MethodPost: routes.CreateTopUp,
		}))
	}
	if routes.CancelSubscription != nil {
		mux.Handle("/billing/me/subscriptions/cancel", method(http.MethodPost, routes.CancelSubscription))
	}
	if routes.Health != nil {
		mux.Handle("/health", method(http.MethodGet, routes.Health))
	}
	if routes.Metrics != nil {
		mux.Handle("/metrics", routes.Metrics)
	}
	return mux
}

func method(expected string, handler http.HandlerFunc) http.HandlerFunc {
	return methods([]string{expected}, handler)
}

func methods(allowed []string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, m := range allowed {
			if r.Method == m {
				handler(w, r)
				return
			}
		}
		w.Header().Set("Allow", strings.Join(allowed, ", "))
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func byMethod(handlers map[string]http.HandlerFunc) http.HandlerFunc {
	var allowed []string
	for m, h := range handlers {
		if h != nil {
			allowed = append(allowed, m)
		}
	}
	sort.Strings(allowed)
	return func(w http.ResponseWriter, r *http.Request) {
		if h := handlers[r.Method]; h != nil {
			h(w, r)
			return
		}
		w.Header().Set("Allow", strings.Join(allowed, ", "))
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
