package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/smukkama/sensor-dashboard/internal/telemetry"
)

const keyPrefix = "dashboard:snapshot:"

// SnapshotStore keeps the last good telemetry snapshot in Redis
type SnapshotStore struct {
	redis  *redis.Client
	device string
	ttl    time.Duration
}

// NewSnapshotStore creates a store for one device
func NewSnapshotStore(redisClient *redis.Client, device string, ttl time.Duration) *SnapshotStore {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &SnapshotStore{redis: redisClient, device: device, ttl: ttl}
}

func (s *SnapshotStore) key() string {
	return keyPrefix + s.device
}

// LoadSnapshot returns the stored snapshot, or nil when none exists
func (s *SnapshotStore) LoadSnapshot(ctx context.Context) (*telemetry.Snapshot, error) {
	data, err := s.redis.Get(ctx, s.key()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot from Redis: %w", err)
	}

	var snap telemetry.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// SaveSnapshot stores snap with the configured expiry. Only successful polls
// are worth keeping, so snapshots carrying a fetch error are skipped.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, snap *telemetry.Snapshot) error {
	if snap == nil || snap.LastFetchError != telemetry.ErrorNone {
		return nil
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := s.redis.Set(ctx, s.key(), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set snapshot in Redis: %w", err)
	}
	return nil
}

// DeleteSnapshot removes the stored snapshot
func (s *SnapshotStore) DeleteSnapshot(ctx context.Context) error {
	return s.redis.Del(ctx, s.key()).Err()
}
