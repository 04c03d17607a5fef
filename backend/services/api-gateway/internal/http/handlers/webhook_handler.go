package handlers

import (
	"io"
	"net/http"

	"go.uber.org/zap"

	"vacstation/backend/services/api-gateway/internal/clients"
)

const maxWebhookBody = 64 << 10

// NewWebhookHandler relays payment notifications to billing-service without
// authentication. Billing verifies the signature; the status it answers is
// passed back so the payment gateway redelivers on 5xx.
func NewWebhookHandler(client *clients.BillingClient, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable body")
			return
		}
		resp, err := client.Webhook(r.Context(), r.Method, r.URL.RawQuery, body, r.Header)
		if err != nil {
			logger.Error("webhook relay failed", zap.Error(err))
			// 5xx keeps the notification queued at the payment gateway.
			writeError(w, http.StatusBadGateway, "billing service unavailable")
			return
		}
		writeRaw(w, resp)
	}
}
