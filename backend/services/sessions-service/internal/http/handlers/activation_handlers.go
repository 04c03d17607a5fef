package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"vacstation/backend/services/sessions-service/internal/models"
	"vacstation/backend/services/sessions-service/internal/service"
)

// Activator opens and stops sessions.
type Activator interface {
	Open(ctx context.Context, in service.OpenInput) (*models.Session, error)
	Stop(ctx context.Context, in service.StopInput) (*models.Session, error)
}

// ActivationHandlers serves machine activation endpoints.
type ActivationHandlers struct {
	activator Activator
	logger    *zap.Logger
}

// NewActivationHandlers builds handler set.
func NewActivationHandlers(activator Activator, logger *zap.Logger) *ActivationHandlers {
	return &ActivationHandlers{activator: activator, logger: logger}
}

type activateRequest struct {
	DeviceID string `json:"device_id"`
	Minutes  int    `json:"minutes"`
}

type deactivateRequest struct {
	SessionID string `json:"session_id"`
	DeviceID  string `json:"device_id"`
}

// Activate handles POST /sessions/activate.
func (h *ActivationHandlers) Activate(w http.ResponseWriter, r *http.Request) {
	account, ok := accountID(w, r)
	if !ok {
		return
	}
	var req activateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := h.activator.Open(r.Context(), service.OpenInput{
		AccountID: account,
		DeviceID:  req.DeviceID,
		Minutes:   req.Minutes,
	})
	if err != nil {
		h.fail(w, "activation failed", err, zap.String("device_id", req.DeviceID))
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// Deactivate handles POST /sessions/deactivate.
func (h *ActivationHandlers) Deactivate(w http.ResponseWriter, r *http.Request) {
	account, ok := accountID(w, r)
	if !ok {
		return
	}
	var req deactivateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := h.activator.Stop(r.Context(), service.StopInput{
		AccountID: account,
		SessionID: req.SessionID,
		DeviceID:  req.DeviceID,
	})
	if err != nil {
		h.fail(w, "deactivation failed", err, zap.String("session_id", req.SessionID), zap.String("device_id", req.DeviceID))
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *ActivationHandlers) fail(w http.ResponseWriter, msg string, err error, fields ...zap.Field) {
	status, text := statusFor(err)
	fields = append(fields, zap.Error(err))
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, fields...)
	} else {
		h.logger.Debug(msg, fields...)
	}
	writeError(w, status, text)
}
