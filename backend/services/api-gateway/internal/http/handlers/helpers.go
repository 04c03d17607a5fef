package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"vacstation/backend/services/api-gateway/internal/clients"
	"vacstation/backend/services/api-gateway/internal/http/middleware"
)

const maxBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeRaw(w http.ResponseWriter, resp *clients.Response) {
	contentType := resp.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.Status)
	if resp.Body != nil {
		_, _ = w.Write(resp.Body)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// upstreamCall forwards one authenticated request.
type upstreamCall func(r *http.Request, accountID string, body []byte) (*clients.Response, error)

// relay authenticates the caller, forwards the request and copies the
// upstream reply back. service names the upstream in errors.
func relay(logger *zap.Logger, service string, call upstreamCall) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := middleware.AccountIDFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		var body []byte
		if r.Body != nil && r.Method != http.MethodGet {
			var err error
			body, err = io.ReadAll(io.LimitReader(r.Body, maxBody))
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid body")
				return
			}
		}
		resp, err := call(r, accountID, body)
		if err != nil {
			logger.Error("proxy failed", zap.String("service", service), zap.String("path", r.URL.Path), zap.Error(err))
			writeError(w, http.StatusBadGateway, service+" unavailable")
			return
		}
		writeRaw(w, resp)
	}
}
