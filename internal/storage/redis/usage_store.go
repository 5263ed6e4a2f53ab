package redis

import (
	"context"
	"errors"
	"time"

	"github.com/goodtune/screentime/internal/storage"
	"github.com/redis/go-redis/v9"
)

var commitTransition = redis.NewScript(commitTransitionScript)

type usageStore struct {
	client *redis.Client
	keys   keys
}

// Commit applies a session transition in a single script invocation
func (s *usageStore) Commit(ctx context.Context, tx storage.Transition) error {
	keys := []string{
		s.keys.devices(),
		s.keys.session(tx.DeviceID),
		s.keys.openSessions(),
	}

	open := "0"
	var sessionID, appName, startedAt string
	if tx.Open != nil {
		open = "1"
		sessionID = tx.Open.ID
		appName = tx.Open.AppName
		startedAt = tx.Open.StartedAt.UTC().Format(time.RFC3339Nano)
	}

	args := []interface{}{tx.DeviceID, open, sessionID, appName, startedAt}
	for _, delta := range tx.Deltas {
		fields := counterFields(delta)
		if len(fields) == 0 {
			continue
		}
		keys = append(keys, s.keys.usage(delta.Date, tx.DeviceID))
		args = append(args, len(fields)/2)
		args = append(args, fields...)
	}

	return commitTransition.Run(ctx, s.client, keys, args...).Err()
}

// GetDayCounters retrieves the counters of one device and day
func (s *usageStore) GetDayCounters(ctx context.Context, deviceID, date string) (*storage.DayCounters, error) {
	data, err := s.client.HGetAll(ctx, s.keys.usage(date, deviceID)).Result()
	if err != nil {
		return nil, err
	}

	return parseDayCounters(deviceID, date, data)
}

// ListDayCounters returns counters for several days of one device
func (s *usageStore) ListDayCounters(ctx context.Context, deviceID string, dates []string) ([]storage.DayCounters, error) {
	if len(dates) == 0 {
		return []storage.DayCounters{}, nil
	}

	// Use pipeline for batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(dates))
	for i, date := range dates {
		cmds[i] = pipe.HGetAll(ctx, s.keys.usage(date, deviceID))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	counters := make([]storage.DayCounters, 0, len(dates))
	for i, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil {
			return nil, err
		}

		day, err := parseDayCounters(deviceID, dates[i], data)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		counters = append(counters, *day)
	}

	return counters, nil
}

// ListOpenSessions returns the open session of every device that has one
func (s *usageStore) ListOpenSessions(ctx context.Context) ([]storage.OpenSession, error) {
	deviceIDs, err := s.client.SMembers(ctx, s.keys.openSessions()).Result()
	if err != nil {
		return nil, err
	}

	if len(deviceIDs) == 0 {
		return []storage.OpenSession{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(deviceIDs))
	for i, id := range deviceIDs {
		cmds[i] = pipe.HGetAll(ctx, s.keys.session(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	sessions := make([]storage.OpenSession, 0, len(deviceIDs))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		session, err := parseOpenSession(data)
		if err == nil {
			sessions = append(sessions, *session)
		}
	}

	return sessions, nil
}

// DeleteDayCountersBefore deletes day counters dated before cutoffDate
func (s *usageStore) DeleteDayCountersBefore(ctx context.Context, cutoffDate string) (int, error) {
	var cursor uint64
	var deletedCount int

	for {
		var found []string
		var err error
		found, cursor, err = s.client.Scan(ctx, cursor, s.keys.usagePattern(), 100).Result()
		if err != nil {
			return deletedCount, err
		}

		toDelete := make([]string, 0, len(found))
		for _, key := range found {
			// Dates are YYYY-MM-DD so lexical order is chronological
			if date, ok := s.keys.usageDate(key); ok && date < cutoffDate {
				toDelete = append(toDelete, key)
			}
		}

		if len(toDelete) > 0 {
			deleted, err := s.client.Del(ctx, toDelete...).Result()
			if err != nil {
				return deletedCount, err
			}
			deletedCount += int(deleted)
		}

		if cursor == 0 {
			break
		}
	}

	return deletedCount, nil
}
