package models

import "time"

// HistoryStatus is the audit status of an activation.
type HistoryStatus string

const (
	HistoryInProgress HistoryStatus = "in_progress"
	HistoryCompleted  HistoryStatus = "completed"
	HistoryFailed     HistoryStatus = "failed"
	HistoryRefunded   HistoryStatus = "refunded"
)

// HistoryRecord is the durable projection of a session. It is writable only
// while Status is in_progress.
type HistoryRecord struct {
	SessionID       string        `json:"session_id"`
	DeviceID        string        `json:"device_id"`
	AccountID       string        `json:"account_id"`
	ReservedMinutes int           `json:"reserved_minutes"`
	Cost            int64         `json:"cost"`
	Status          HistoryStatus `json:"status"`
	StartedAt       time.Time     `json:"started_at"`
	EndedAt         *time.Time    `json:"ended_at,omitempty"`
	DurationMinutes *int          `json:"duration_minutes,omitempty"`
	Reason          string        `json:"reason,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// HistoryUpdate is a partial update of an open record.
type HistoryUpdate struct {
	Status          *HistoryStatus
	EndedAt         *time.Time
	DurationMinutes *int
	Reason          *string
}

// Apply copies the non-nil fields onto r.
func (u HistoryUpdate) Apply(r *HistoryRecord) {
	if u.Status != nil {
		r.Status = *u.Status
	}
	if u.EndedAt != nil {
		r.EndedAt = u.EndedAt
	}
	if u.DurationMinutes != nil {
		r.DurationMinutes = u.DurationMinutes
	}
	if u.Reason != nil {
		r.Reason = *u.Reason
	}
}
