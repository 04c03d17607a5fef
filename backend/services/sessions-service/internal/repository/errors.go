package repository

import "errors"

var (
	// ErrSessionNotFound indicates an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrDeviceBusy means the device already has an open session.
	ErrDeviceBusy = errors.New("device busy")
	// ErrDeviceNotFound indicates an unknown device id.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrHistoryNotFound indicates no history row for the session.
	ErrHistoryNotFound = errors.New("activation history not found")
	// ErrHistoryFrozen means the history row is final and can no longer change.
	ErrHistoryFrozen = errors.New("activation history is frozen")
	// ErrHistoryExists means a row was already appended for the session.
	ErrHistoryExists = errors.New("activation history already exists")
)
