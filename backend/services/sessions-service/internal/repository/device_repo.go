package repository

import (
	"context"
	"database/sql"
	"errors"

	"vacstation/backend/services/sessions-service/internal/models"
)

// DeviceRepository stores station metadata and per-minute price.
type DeviceRepository struct {
	db *sql.DB
}

// NewDeviceRepository returns repository.
func NewDeviceRepository(db *sql.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// Upsert persists device info.
func (r *DeviceRepository) Upsert(ctx context.Context, device *models.Device) error {
	const query = `
		INSERT INTO devices (id, name, location, rate_per_minute, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			location = EXCLUDED.location,
			rate_per_minute = EXCLUDED.rate_per_minute,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`
	return r.db.QueryRowContext(ctx, query, device.ID, device.Name, device.Location, device.RatePerMinute).
		Scan(&device.CreatedAt, &device.UpdatedAt)
}

// Get loads a device.
func (r *DeviceRepository) Get(ctx context.Context, id string) (*models.Device, error) {
	const query = `
		SELECT id, name, location, rate_per_minute, created_at, updated_at
		FROM devices
		WHERE id = $1
	`
	var d models.Device
	err := r.db.QueryRowContext(ctx, query, id).Scan(&d.ID, &d.Name, &d.Location, &d.RatePerMinute, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// RatePerMinute returns the configured price of a device.
func (r *DeviceRepository) RatePerMinute(ctx context.Context, id string) (int64, error) {
	var rate int64
	err := r.db.QueryRowContext(ctx, `SELECT rate_per_minute FROM devices WHERE id = $1`, id).Scan(&rate)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrDeviceNotFound
	}
	return rate, err
}
