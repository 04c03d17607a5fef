package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotCached is returned when a device has no cached session.
var ErrNotCached = errors.New("active session not cached")

// ActiveSession is the per-device view served to status polls.
type ActiveSession struct {
	SessionID string    `json:"session_id"`
	DeviceID  string    `json:"device_id"`
	AccountID string    `json:"account_id"`
	State     string    `json:"state"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store manages active session cache.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore returns redis-backed store. Entries outlive the reservation by
// ttl so a lost delete cannot pin a device forever.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func (s *Store) key(deviceID string) string {
	return fmt.Sprintf("sessions:active:%s", deviceID)
}

// Save caches session until its expiry plus the grace ttl.
func (s *Store) Save(ctx context.Context, session ActiveSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	ttl := s.ttl
	if !session.ExpiresAt.IsZero() {
		ttl += time.Until(session.ExpiresAt)
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	return s.client.Set(ctx, s.key(session.DeviceID), data, ttl).Err()
}

// Get returns cached session.
func (s *Store) Get(ctx context.Context, deviceID string) (*ActiveSession, error) {
	result, err := s.client.Get(ctx, s.key(deviceID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotCached
	}
	if err != nil {
		return nil, err
	}
	var session ActiveSession
	if err := json.Unmarshal([]byte(result), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// Delete removes the cached session of deviceID if it still belongs to
// sessionID.
func (s *Store) Delete(ctx context.Context, deviceID, sessionID string) error {
	cached, err := s.Get(ctx, deviceID)
	if errors.Is(err, ErrNotCached) {
		return nil
	}
	if err != nil {
		return err
	}
	if cached.SessionID != sessionID {
		return nil
	}
	return s.client.Del(ctx, s.key(deviceID)).Err()
}
