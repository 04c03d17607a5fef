package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"vacstation/backend/libs/ledger"
	"vacstation/backend/services/sessions-service/internal/repository"
	"vacstation/backend/services/sessions-service/internal/service"
)

const (
	accountIDHeader = "X-Account-ID"
	defaultLimit    = 50
	maxLimit        = 200
	maxBody         = 1 << 20
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// accountID reads the caller forwarded by the gateway. It writes the error
// response itself when the header is missing.
func accountID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get(accountIDHeader))
	if id == "" {
		writeError(w, http.StatusUnauthorized, "missing account id header")
		return "", false
	}
	return id, true
}

func limitParam(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

// statusFor maps coordinator errors to HTTP statuses.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusPaymentRequired, "insufficient balance"
	case errors.Is(err, repository.ErrDeviceBusy):
		return http.StatusConflict, "device busy"
	case errors.Is(err, service.ErrSessionNotRunning):
		return http.StatusConflict, "session is not running"
	case errors.Is(err, service.ErrDeviceCommandFailure):
		return http.StatusBadGateway, "device did not start, amount refunded"
	case errors.Is(err, repository.ErrSessionNotFound):
		return http.StatusNotFound, "session not found"
	case errors.Is(err, repository.ErrDeviceNotFound):
		return http.StatusNotFound, "device not found"
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, ledger.ErrContention), errors.Is(err, service.ErrStateConflict):
		return http.StatusServiceUnavailable, "temporarily busy, retry"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
