package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// SnapshotStore persists queue snapshots under a single key
type SnapshotStore struct {
	client *redis.Client
	key    string
}

// Load returns the stored snapshot, or nil when none has been saved
func (s *SnapshotStore) Load(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}
	return data, nil
}

// Save overwrites the stored snapshot
func (s *SnapshotStore) Save(ctx context.Context, data []byte) error {
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}
