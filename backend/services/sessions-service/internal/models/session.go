package models

import "time"

// SessionState is a step of the activation lifecycle. States only move
// forward.
type SessionState string

const (
	StateRequested   SessionState = "requested"
	StateDebited     SessionState = "debited"
	StateCommandSent SessionState = "command_sent"
	StateRunning     SessionState = "running"
	StateCompleting  SessionState = "completing"
	StateCompleted   SessionState = "completed"
	StateFailed      SessionState = "failed"
	StateRefunded    SessionState = "refunded"
	StateRejected    SessionState = "rejected"
)

// Terminal reports whether no further transition is possible.
func (s SessionState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateRefunded, StateRejected:
		return true
	}
	return false
}

// Open reports whether the session still holds its device.
func (s SessionState) Open() bool {
	return !s.Terminal()
}

// Session is one activation of a device against a debited reservation.
// Cost is fixed when the session is requested.
type Session struct {
	ID                    string       `json:"id"`
	DeviceID              string       `json:"device_id"`
	AccountID             string       `json:"account_id"`
	RatePerMinute         int64        `json:"rate_per_minute"`
	ReservedMinutes       int          `json:"reserved_minutes"`
	Cost                  int64        `json:"cost"`
	State                 SessionState `json:"state"`
	StartedAt             *time.Time   `json:"started_at,omitempty"`
	ExpiresAt             *time.Time   `json:"expires_at,omitempty"`
	EndedAt               *time.Time   `json:"ended_at,omitempty"`
	ActualDurationMinutes *int         `json:"actual_duration_minutes,omitempty"`
	FailureReason         string       `json:"failure_reason,omitempty"`
	RefundedAt            *time.Time   `json:"refunded_at,omitempty"`
	CreatedAt             time.Time    `json:"created_at"`
	UpdatedAt             time.Time    `json:"updated_at"`
}

// SessionPatch carries the columns set together with a state transition.
// Nil fields are left untouched.
type SessionPatch struct {
	StartedAt             *time.Time
	ExpiresAt             *time.Time
	EndedAt               *time.Time
	ActualDurationMinutes *int
	FailureReason         *string
}

// Apply copies the non-nil fields onto s.
func (p SessionPatch) Apply(s *Session) {
	if p.StartedAt != nil {
		s.StartedAt = p.StartedAt
	}
	if p.ExpiresAt != nil {
		s.ExpiresAt = p.ExpiresAt
	}
	if p.EndedAt != nil {
		s.EndedAt = p.EndedAt
	}
	if p.ActualDurationMinutes != nil {
		s.ActualDurationMinutes = p.ActualDurationMinutes
	}
	if p.FailureReason != nil {
		s.FailureReason = *p.FailureReason
	}
}
