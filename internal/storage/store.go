package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Usage() UsageStore
	Battery() BatteryStore
	Devices() DeviceStore
}

// UsageStore manages durable day counters and the open session of each device.
type UsageStore interface {
	// Commit atomically applies a session transition: counter deltas, the
	// device's open session after the transition, and device registration.
	Commit(ctx context.Context, tx Transition) error
	GetDayCounters(ctx context.Context, deviceID, date string) (*DayCounters, error)
	// ListDayCounters returns counters for the requested dates, omitting dates
	// without data.
	ListDayCounters(ctx context.Context, deviceID string, dates []string) ([]DayCounters, error)
	ListOpenSessions(ctx context.Context) ([]OpenSession, error)
	DeleteDayCountersBefore(ctx context.Context, cutoffDate string) (int, error)
}

// BatteryStore manages the latest battery sample of each device.
type BatteryStore interface {
	Put(ctx context.Context, state BatteryState) error
	Get(ctx context.Context, deviceID string) (*BatteryState, error)
}

// DeviceStore manages the set of known devices.
type DeviceStore interface {
	Register(ctx context.Context, deviceID string) error
	List(ctx context.Context) ([]string, error)
}
