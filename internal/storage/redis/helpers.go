package redis

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goodtune/screentime/internal/storage"
)

// Hash fields of a usage key
const (
	fieldTotal         = "total"
	fieldAppPrefix     = "app:"
	fieldHourPrefix    = "hour:"
	fieldAppHourPrefix = "app_hour:"
)

func hourField(hour int) string {
	return fmt.Sprintf("%s%02d", fieldHourPrefix, hour)
}

func appHourField(hour int, app string) string {
	return fmt.Sprintf("%s%02d:%s", fieldAppHourPrefix, hour, app)
}

// counterFields flattens day counters into field/increment pairs, skipping zeros.
func counterFields(c storage.DayCounters) []interface{} {
	var args []interface{}
	if c.Total != 0 {
		args = append(args, fieldTotal, c.Total)
	}

	apps := make([]string, 0, len(c.Apps))
	for app := range c.Apps {
		apps = append(apps, app)
	}
	sort.Strings(apps)
	for _, app := range apps {
		if ms := c.Apps[app]; ms != 0 {
			args = append(args, fieldAppPrefix+app, ms)
		}
	}

	for hour, ms := range c.Hours {
		if ms != 0 {
			args = append(args, hourField(hour), ms)
		}
	}

	for _, app := range apps {
		for hour, ms := range c.AppHours[app] {
			if ms != 0 {
				args = append(args, appHourField(hour, app), ms)
			}
		}
	}

	return args
}

// parseDayCounters converts a Redis hash to DayCounters
func parseDayCounters(deviceID, date string, data map[string]string) (*storage.DayCounters, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	counters := storage.NewDayCounters(deviceID, date)
	for field, raw := range data {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", field, err)
		}

		switch {
		case field == fieldTotal:
			counters.Total = value
		case strings.HasPrefix(field, fieldAppPrefix):
			counters.Apps[strings.TrimPrefix(field, fieldAppPrefix)] = value
		case strings.HasPrefix(field, fieldHourPrefix):
			hour, err := parseHour(strings.TrimPrefix(field, fieldHourPrefix))
			if err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", field, err)
			}
			counters.Hours[hour] = value
		case strings.HasPrefix(field, fieldAppHourPrefix):
			rest := strings.TrimPrefix(field, fieldAppHourPrefix)
			hourPart, app, ok := strings.Cut(rest, ":")
			if !ok {
				return nil, fmt.Errorf("malformed field %s", field)
			}
			hour, err := parseHour(hourPart)
			if err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", field, err)
			}
			hours := counters.AppHours[app]
			hours[hour] = value
			counters.AppHours[app] = hours
		}
	}

	return counters, nil
}

func parseHour(s string) (int, error) {
	hour, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if hour < 0 || hour >= storage.HoursPerDay {
		return 0, fmt.Errorf("hour %d out of range", hour)
	}
	return hour, nil
}

// parseOpenSession converts a Redis hash to OpenSession
func parseOpenSession(data map[string]string) (*storage.OpenSession, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	startedAt, err := time.Parse(time.RFC3339Nano, data["started_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}

	return &storage.OpenSession{
		ID:        data["id"],
		DeviceID:  data["device_id"],
		AppName:   data["app_name"],
		StartedAt: startedAt,
	}, nil
}

// parseBatteryState converts a Redis hash to BatteryState
func parseBatteryState(data map[string]string) (*storage.BatteryState, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	level, err := strconv.Atoi(data["level"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse level: %w", err)
	}

	charging, err := strconv.ParseBool(data["charging"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse charging: %w", err)
	}

	observedAt, err := time.Parse(time.RFC3339Nano, data["observed_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse observed_at: %w", err)
	}

	return &storage.BatteryState{
		DeviceID:   data["device_id"],
		Level:      level,
		Charging:   charging,
		ObservedAt: observedAt,
	}, nil
}
