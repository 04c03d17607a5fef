package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"vacstation/backend/services/sessions-service/internal/models"
	redisstore "vacstation/backend/services/sessions-service/internal/redis"
	"vacstation/backend/services/sessions-service/internal/repository"
)

// DeviceStatus is what a station display polls.
type DeviceStatus struct {
	DeviceID  string     `json:"device_id"`
	Busy      bool       `json:"busy"`
	SessionID string     `json:"session_id,omitempty"`
	State     string     `json:"state,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Session returns one session owned by accountID.
func (c *Coordinator) Session(ctx context.Context, accountID, sessionID string) (*models.Session, error) {
	session, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.AccountID != accountID {
		return nil, repository.ErrSessionNotFound
	}
	return session, nil
}

// Sessions lists an account's sessions, newest first.
func (c *Coordinator) Sessions(ctx context.Context, accountID string, limit int) ([]models.Session, error) {
	return c.sessions.ListByAccount(ctx, accountID, limit)
}

// History lists an account's activation history, newest first.
func (c *Coordinator) History(ctx context.Context, accountID string, limit int) ([]models.HistoryRecord, error) {
	return c.history.ListByAccount(ctx, accountID, limit)
}

// DeviceHistory lists activations of one device.
func (c *Coordinator) DeviceHistory(ctx context.Context, deviceID string, limit int) ([]models.HistoryRecord, error) {
	return c.history.ListByDevice(ctx, deviceID, limit)
}

// Active lists sessions that still hold a device.
func (c *Coordinator) Active(ctx context.Context, limit int) ([]models.Session, error) {
	return c.sessions.ListOpen(ctx, limit)
}

// StaleDebited lists sessions debited longer than olderThan ago that never
// reached the device.
func (c *Coordinator) StaleDebited(ctx context.Context, olderThan time.Duration, limit int) ([]models.Session, error) {
	return c.sessions.ListStale(ctx, models.StateDebited, c.now().Add(-olderThan), limit)
}

// DeviceStatus answers from the cache and falls back to the session store.
func (c *Coordinator) DeviceStatus(ctx context.Context, deviceID string) (*DeviceStatus, error) {
	status := &DeviceStatus{DeviceID: deviceID}
	if c.cache != nil {
		cached, err := c.cache.Get(ctx, deviceID)
		if err == nil {
			status.Busy = true
			status.SessionID = cached.SessionID
			status.State = cached.State
			if !cached.ExpiresAt.IsZero() {
				expires := cached.ExpiresAt
				status.ExpiresAt = &expires
			}
			return status, nil
		}
		if !errors.Is(err, redisstore.ErrNotCached) {
			c.logger.Warn("active cache unavailable", zap.String("device_id", deviceID), zap.Error(err))
		}
	}

	session, err := c.sessions.OpenByDevice(ctx, deviceID)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return status, nil
	}
	if err != nil {
		return nil, err
	}
	status.Busy = true
	status.SessionID = session.ID
	status.State = string(session.State)
	status.ExpiresAt = session.ExpiresAt
	return status, nil
}

// RegisterDevice adds or reprices a device.
func (c *Coordinator) RegisterDevice(ctx context.Context, device *models.Device) error {
	device.ID = strings.TrimSpace(device.ID)
	if device.ID == "" || device.RatePerMinute <= 0 {
		return fmt.Errorf("%w: device id and positive rate are required", ErrInvalidRequest)
	}
	return c.devices.Upsert(ctx, device)
}

// Device returns device metadata.
func (c *Coordinator) Device(ctx context.Context, deviceID string) (*models.Device, error) {
	return c.devices.Get(ctx, deviceID)
}
