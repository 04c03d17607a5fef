package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"vacstation/backend/services/api-gateway/internal/clients"
)

// SessionsHandlers proxies sessions-service endpoints.
type SessionsHandlers struct {
	Activate   http.HandlerFunc
	Deactivate http.HandlerFunc
	Me         http.HandlerFunc
}

// NewSessionsHandlers returns handler.
func NewSessionsHandlers(client *clients.SessionsClient, logger *zap.Logger) *SessionsHandlers {
	const service = "sessions service"
	return &SessionsHandlers{
		Activate: relay(logger, service, func(r *http.Request, accountID string, body []byte) (*clients.Response, error) {
			return client.Activate(r.Context(), accountID, body)
		}),
		Deactivate: relay(logger, service, func(r *http.Request, accountID string, body []byte) (*clients.Response, error) {
			return client.Deactivate(r.Context(), accountID, body)
		}),
		Me: relay(logger, service, func(r *http.Request, accountID string, _ []byte) (*clients.Response, error) {
			return client.SessionsMe(r.Context(), accountID, r.URL.RawQuery)
		}),
	}
}
