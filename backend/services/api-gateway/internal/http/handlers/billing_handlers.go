package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"vacstation/backend/services/api-gateway/internal/clients"
)

// BillingHandlers proxies billing-service endpoints.
type BillingHandlers struct {
	Balance     http.HandlerFunc
	Payments    http.HandlerFunc
	CreateTopUp http.HandlerFunc
}

// NewBillingHandlers returns handler.
func NewBillingHandlers(client *clients.BillingClient, logger *zap.Logger) *BillingHandlers {
	const service = "billing service"
	return &BillingHandlers{
		Balance: relay(logger, service, func(r *http.Request, accountID string, _ []byte) (*clients.Response, error) {
			return client.Balance(r.Context(), accountID)
		}),
		Payments: relay(logger, service, func(r *http.Request, accountID string, _ []byte) (*clients.Response, error) {
			return client.Payments(r.Context(), accountID, r.URL.RawQuery)
		}),
		CreateTopUp: relay(logger, service, func(r *http.Request, accountID string, body []byte) (*clients.Response, error) {
			return client.CreateTopUp(r.Context(), accountID, body)
		}),
	}
}
