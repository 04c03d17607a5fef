package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"vacstation/backend/services/billing-service/internal/service"
)

const maxWebhookBody = 64 << 10

// NotificationHandler processes one gateway delivery.
type NotificationHandler interface {
	HandleNotification(ctx context.Context, d service.Delivery) (service.Ack, error)
}

// WebhookHandler receives payment gateway notifications.
type WebhookHandler struct {
	reconciler NotificationHandler
	logger     *zap.Logger
}

// NewWebhookHandler builds handler.
func NewWebhookHandler(reconciler NotificationHandler, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler, logger: logger}
}

// ServeHTTP answers 200 for every notification that was handled or safely
// discarded, and 500 when the gateway must redeliver. GET is a liveness
// check used by the gateway dashboard.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Warn("failed to read webhook body", zap.Error(err))
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	ack, err := h.reconciler.HandleNotification(r.Context(), service.Delivery{
		Body:      body,
		Signature: r.Header.Get("X-Signature"),
		RequestID: r.Header.Get("X-Request-Id"),
	})
	if err != nil {
		if errors.Is(err, service.ErrTransient) {
			h.logger.Warn("webhook left for redelivery", zap.Error(err))
		} else {
			h.logger.Error("unexpected reconciler error", zap.Error(err))
		}
		writeError(w, http.StatusInternalServerError, "temporarily unable to process notification")
		return
	}
	writeJSON(w, http.StatusOK, ack)
}
