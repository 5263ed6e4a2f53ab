package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/goodtune/screentime/internal/storage"
	"github.com/redis/go-redis/v9"
)

var putBattery = redis.NewScript(putBatteryScript)

type batteryStore struct {
	client *redis.Client
	keys   keys
}

// Put overwrites the latest battery sample of a device
func (s *batteryStore) Put(ctx context.Context, state storage.BatteryState) error {
	keys := []string{s.keys.battery(state.DeviceID), s.keys.devices()}
	args := []interface{}{
		state.DeviceID,
		state.Level,
		strconv.FormatBool(state.Charging),
		state.ObservedAt.UTC().Format(time.RFC3339Nano),
	}

	return putBattery.Run(ctx, s.client, keys, args...).Err()
}

// Get retrieves the latest battery sample of a device
func (s *batteryStore) Get(ctx context.Context, deviceID string) (*storage.BatteryState, error) {
	data, err := s.client.HGetAll(ctx, s.keys.battery(deviceID)).Result()
	if err != nil {
		return nil, err
	}

	return parseBatteryState(data)
}
