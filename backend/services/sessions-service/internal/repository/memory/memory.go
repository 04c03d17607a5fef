// Package memory holds in-process stores with the same contracts as the
// Postgres repositories. They back tests and single-node demos.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"vacstation/backend/services/sessions-service/internal/models"
	"vacstation/backend/services/sessions-service/internal/repository"
)

// Sessions is an in-memory session store.
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	openBy   map[string]string
	now      func() time.Time
}

// NewSessions returns an empty store.
func NewSessions() *Sessions {
	return &Sessions{
		sessions: make(map[string]*models.Session),
		openBy:   make(map[string]string),
		now:      time.Now,
	}
}

// Claim stores s unless its device already has an open session.
func (m *Sessions) Claim(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.openBy[s.DeviceID]; busy {
		return repository.ErrDeviceBusy
	}
	now := m.now()
	s.CreatedAt, s.UpdatedAt = now, now
	cp := *s
	m.sessions[s.ID] = &cp
	m.openBy[s.DeviceID] = s.ID
	return nil
}

func (m *Sessions) Release(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.State != models.StateRequested {
		return repository.ErrSessionNotFound
	}
	delete(m.sessions, id)
	delete(m.openBy, s.DeviceID)
	return nil
}

func (m *Sessions) Transition(_ context.Context, id string, from []models.SessionState, to models.SessionState, patch models.SessionPatch) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false, nil
	}
	matched := false
	for _, state := range from {
		if s.State == state {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	s.State = to
	patch.Apply(s)
	s.UpdatedAt = m.now()
	if to.Terminal() && m.openBy[s.DeviceID] == id {
		delete(m.openBy, s.DeviceID)
	}
	return true, nil
}

func (m *Sessions) MarkRefunded(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok && s.RefundedAt == nil {
		s.RefundedAt = &at
	}
	return nil
}

func (m *Sessions) Get(_ context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Sessions) OpenByDevice(_ context.Context, deviceID string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.openBy[deviceID]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	cp := *m.sessions[id]
	return &cp, nil
}

func (m *Sessions) ListByAccount(_ context.Context, accountID string, limit int) ([]models.Session, error) {
	return m.filter(limit, false, func(s *models.Session) bool { return s.AccountID == accountID }), nil
}

func (m *Sessions) ListOpen(_ context.Context, limit int) ([]models.Session, error) {
	return m.filter(limit, false, func(s *models.Session) bool { return s.State.Open() }), nil
}

func (m *Sessions) ListStale(_ context.Context, state models.SessionState, olderThan time.Time, limit int) ([]models.Session, error) {
	return m.filter(limit, true, func(s *models.Session) bool {
		return s.State == state && s.UpdatedAt.Before(olderThan)
	}), nil
}

func (m *Sessions) ListOverdue(_ context.Context, now time.Time, limit int) ([]models.Session, error) {
	return m.filter(limit, true, func(s *models.Session) bool {
		return s.State == models.StateRunning && s.ExpiresAt != nil && s.ExpiresAt.Before(now)
	}), nil
}

func (m *Sessions) ListUnrefunded(_ context.Context, limit int) ([]models.Session, error) {
	return m.filter(limit, true, func(s *models.Session) bool {
		return (s.State == models.StateFailed || s.State == models.StateRefunded) && s.RefundedAt == nil
	}), nil
}

func (m *Sessions) ListRejectedSince(_ context.Context, since time.Time, limit int) ([]models.Session, error) {
	return m.filter(limit, true, func(s *models.Session) bool {
		return s.State == models.StateRejected && s.RefundedAt == nil && !s.UpdatedAt.Before(since)
	}), nil
}

// SetClock overrides the clock used for created_at and updated_at.
func (m *Sessions) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Sessions) filter(limit int, oldestFirst bool, keep func(*models.Session) bool) []models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Session
	for _, s := range m.sessions {
		if keep(s) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if oldestFirst {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// History is an in-memory activation history.
type History struct {
	mu      sync.Mutex
	records map[string]*models.HistoryRecord
}

// NewHistory returns an empty store.
func NewHistory() *History {
	return &History{records: make(map[string]*models.HistoryRecord)}
}

func (h *History) Append(_ context.Context, rec *models.HistoryRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.records[rec.SessionID]; ok {
		return repository.ErrHistoryExists
	}
	if rec.Status == "" {
		rec.Status = models.HistoryInProgress
	}
	now := time.Now()
	rec.CreatedAt, rec.UpdatedAt = now, now
	cp := *rec
	h.records[rec.SessionID] = &cp
	return nil
}

func (h *History) Update(_ context.Context, sessionID string, u models.HistoryUpdate) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.records[sessionID]
	if !ok {
		return repository.ErrHistoryNotFound
	}
	if rec.Status != models.HistoryInProgress {
		return repository.ErrHistoryFrozen
	}
	u.Apply(rec)
	rec.UpdatedAt = time.Now()
	return nil
}

func (h *History) Get(_ context.Context, sessionID string) (*models.HistoryRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.records[sessionID]
	if !ok {
		return nil, repository.ErrHistoryNotFound
	}
	cp := *rec
	return &cp, nil
}

func (h *History) ListByAccount(_ context.Context, accountID string, limit int) ([]models.HistoryRecord, error) {
	return h.filter(limit, func(r *models.HistoryRecord) bool { return r.AccountID == accountID }), nil
}

func (h *History) ListByDevice(_ context.Context, deviceID string, limit int) ([]models.HistoryRecord, error) {
	return h.filter(limit, func(r *models.HistoryRecord) bool { return r.DeviceID == deviceID }), nil
}

func (h *History) filter(limit int, keep func(*models.HistoryRecord) bool) []models.HistoryRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []models.HistoryRecord
	for _, r := range h.records {
		if keep(r) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Devices is an in-memory device catalogue.
type Devices struct {
	mu      sync.Mutex
	devices map[string]models.Device
}

// NewDevices returns an empty catalogue.
func NewDevices() *Devices {
	return &Devices{devices: make(map[string]models.Device)}
}

func (d *Devices) Upsert(_ context.Context, device *models.Device) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	if existing, ok := d.devices[device.ID]; ok {
		device.CreatedAt = existing.CreatedAt
	} else {
		device.CreatedAt = now
	}
	device.UpdatedAt = now
	d.devices[device.ID] = *device
	return nil
}

func (d *Devices) Get(_ context.Context, id string) (*models.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	device, ok := d.devices[id]
	if !ok {
		return nil, repository.ErrDeviceNotFound
	}
	return &device, nil
}

func (d *Devices) RatePerMinute(ctx context.Context, id string) (int64, error) {
	device, err := d.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return device.RatePerMinute, nil
}
