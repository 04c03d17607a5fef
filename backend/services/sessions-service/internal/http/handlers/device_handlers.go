package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"vacstation/backend/services/sessions-service/internal/models"
	"vacstation/backend/services/sessions-service/internal/repository"
	"vacstation/backend/services/sessions-service/internal/service"
)

// DeviceAPI is the device facing side of the coordinator.
type DeviceAPI interface {
	HandleDeviceEvent(ctx context.Context, event models.DeviceEvent) error
	DeviceStatus(ctx context.Context, deviceID string) (*service.DeviceStatus, error)
	Device(ctx context.Context, deviceID string) (*models.Device, error)
	RegisterDevice(ctx context.Context, device *models.Device) error
	DeviceHistory(ctx context.Context, deviceID string, limit int) ([]models.HistoryRecord, error)
}

// Sweeper runs one reconciliation pass on demand.
type Sweeper interface {
	SweepOnce(ctx context.Context) (service.SweepReport, error)
}

// DeviceHandlers serves device callbacks and station displays.
type DeviceHandlers struct {
	devices DeviceAPI
	sweeper Sweeper
	logger  *zap.Logger
}

// NewDeviceHandlers builds handler set.
func NewDeviceHandlers(devices DeviceAPI, sweeper Sweeper, logger *zap.Logger) *DeviceHandlers {
	return &DeviceHandlers{devices: devices, sweeper: sweeper, logger: logger}
}

// Event handles POST /internal/devices/events.
func (h *DeviceHandlers) Event(w http.ResponseWriter, r *http.Request) {
	var event models.DeviceEvent
	if err := decodeJSON(w, r, &event); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if event.DeviceID == "" && event.SessionID == "" {
		writeError(w, http.StatusBadRequest, "device_id or session_id is required")
		return
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	if err := h.devices.HandleDeviceEvent(r.Context(), event); err != nil {
		status, msg := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("device event failed", zap.String("device_id", event.DeviceID), zap.Error(err))
		}
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "ok"})
}

// Status handles GET /devices/status?device_id=.
func (h *DeviceHandlers) Status(w http.ResponseWriter, r *http.Request) {
	deviceID := strings.TrimSpace(r.URL.Query().Get("device_id"))
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}
	device, err := h.devices.Device(r.Context(), deviceID)
	if err != nil && !errors.Is(err, repository.ErrDeviceNotFound) {
		writeError(w, http.StatusInternalServerError, "failed to load device")
		return
	}
	status, err := h.devices.DeviceStatus(r.Context(), deviceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load device status")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"device": device,
		"status": status,
	})
}

// Register handles POST /internal/devices.
func (h *DeviceHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var device models.Device
	if err := decodeJSON(w, r, &device); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.devices.RegisterDevice(r.Context(), &device); err != nil {
		status, msg := statusFor(err)
		writeError(w, status, msg)
		return
	}
	h.logger.Info("device registered", zap.String("device_id", device.ID), zap.Int64("rate_per_minute", device.RatePerMinute))
	writeJSON(w, http.StatusOK, device)
}

// History handles GET /internal/devices/history?device_id=.
func (h *DeviceHandlers) History(w http.ResponseWriter, r *http.Request) {
	deviceID := strings.TrimSpace(r.URL.Query().Get("device_id"))
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}
	records, err := h.devices.DeviceHistory(r.Context(), deviceID, limitParam(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch history")
		return
	}
	if records == nil {
		records = []models.HistoryRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": records})
}

// Sweep handles POST /internal/sessions/sweep.
func (h *DeviceHandlers) Sweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.sweeper.SweepOnce(r.Context())
	if err != nil {
		h.logger.Error("manual sweep failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
