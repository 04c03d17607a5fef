package models

import "time"

// Device is a vacuum station and its price.
type Device struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Location      string    `json:"location"`
	RatePerMinute int64     `json:"rate_per_minute"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DeviceEventType is reported by the device agent.
type DeviceEventType string

const (
	DeviceAccepted DeviceEventType = "accepted"
	DeviceRejected DeviceEventType = "rejected"
	DeviceError    DeviceEventType = "error"
	DeviceStopped  DeviceEventType = "stopped"
)

// DeviceEvent is a callback from a device about its current session.
type DeviceEvent struct {
	DeviceID  string          `json:"device_id"`
	SessionID string          `json:"session_id,omitempty"`
	Type      DeviceEventType `json:"type"`
	Reason    string          `json:"reason,omitempty"`
	At        time.Time       `json:"at"`
}
