package service

import (
	"context"
	"errors"

	"vacstation/backend/services/sessions-service/internal/repository"
)

// RateService resolves the price per minute of a device.
type RateService struct {
	devices  DeviceStore
	fallback int64
}

// NewRateService returns a resolver. fallback prices devices that are not
// in the catalogue; zero makes unknown devices an error.
func NewRateService(devices DeviceStore, fallback int64) *RateService {
	return &RateService{devices: devices, fallback: fallback}
}

// RatePerMinute returns the rate in minor units.
func (s *RateService) RatePerMinute(ctx context.Context, deviceID string) (int64, error) {
	rate, err := s.devices.RatePerMinute(ctx, deviceID)
	if errors.Is(err, repository.ErrDeviceNotFound) && s.fallback > 0 {
		return s.fallback, nil
	}
	if err != nil {
		return 0, err
	}
	return rate, nil
}
