package service

import (
	"context"
	"time"

	"vacstation/backend/libs/ledger"
	"vacstation/backend/services/sessions-service/internal/models"
	redisstore "vacstation/backend/services/sessions-service/internal/redis"
)

// SessionStore persists the session state machine. Transition is a
// compare-and-set on the current state.
type SessionStore interface {
	Claim(ctx context.Context, s *models.Session) error
	Release(ctx context.Context, id string) error
	Transition(ctx context.Context, id string, from []models.SessionState, to models.SessionState, patch models.SessionPatch) (bool, error)
	MarkRefunded(ctx context.Context, id string, at time.Time) error
	Get(ctx context.Context, id string) (*models.Session, error)
	OpenByDevice(ctx context.Context, deviceID string) (*models.Session, error)
	ListByAccount(ctx context.Context, accountID string, limit int) ([]models.Session, error)
	ListOpen(ctx context.Context, limit int) ([]models.Session, error)
	ListStale(ctx context.Context, state models.SessionState, olderThan time.Time, limit int) ([]models.Session, error)
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]models.Session, error)
	ListUnrefunded(ctx context.Context, limit int) ([]models.Session, error)
	ListRejectedSince(ctx context.Context, since time.Time, limit int) ([]models.Session, error)
}

// HistoryStore is the activation audit trail.
type HistoryStore interface {
	Append(ctx context.Context, rec *models.HistoryRecord) error
	Update(ctx context.Context, sessionID string, u models.HistoryUpdate) error
	Get(ctx context.Context, sessionID string) (*models.HistoryRecord, error)
	ListByAccount(ctx context.Context, accountID string, limit int) ([]models.HistoryRecord, error)
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]models.HistoryRecord, error)
}

// DeviceStore holds device metadata and prices.
type DeviceStore interface {
	Upsert(ctx context.Context, device *models.Device) error
	Get(ctx context.Context, id string) (*models.Device, error)
	RatePerMinute(ctx context.Context, id string) (int64, error)
}

// Wallet is the subset of the ledger that spends and refunds.
type Wallet interface {
	DebitWithKey(ctx context.Context, accountID string, amount int64, key, reference string) (int64, error)
	Credit(ctx context.Context, accountID string, amount int64, key string) (ledger.CreditResult, error)
	Entry(ctx context.Context, key string) (ledger.Entry, error)
}

// CommandSender delivers ON/OFF commands to a device.
type CommandSender interface {
	Send(ctx context.Context, deviceID string, cmd redisstore.Command) error
}

// ActiveCache is the per-device view of the running session.
type ActiveCache interface {
	Save(ctx context.Context, session redisstore.ActiveSession) error
	Get(ctx context.Context, deviceID string) (*redisstore.ActiveSession, error)
	Delete(ctx context.Context, deviceID, sessionID string) error
}
