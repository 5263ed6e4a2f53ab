package redis

import (
	"context"
	"sort"

	"github.com/goodtune/screentime/internal/storage"
	"github.com/redis/go-redis/v9"
)

type deviceStore struct {
	client *redis.Client
	keys   keys
}

var _ storage.DeviceStore = (*deviceStore)(nil)

// Register adds a device to the known set
func (s *deviceStore) Register(ctx context.Context, deviceID string) error {
	return s.client.SAdd(ctx, s.keys.devices(), deviceID).Err()
}

// List returns every known device, sorted
func (s *deviceStore) List(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.keys.devices()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}
