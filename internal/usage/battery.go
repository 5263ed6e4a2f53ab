package usage

import (
	"context"
	"errors"

	"github.com/goodtune/screentime/internal/clock"
	"github.com/goodtune/screentime/internal/metrics"
	"github.com/goodtune/screentime/internal/storage"
	"github.com/rs/zerolog"
)

// BatteryTracker keeps the latest battery sample of each device.
type BatteryTracker struct {
	store   storage.BatteryStore
	clock   clock.Clock
	retries int
	logger  zerolog.Logger
}

// NewBatteryTracker creates a new battery tracker
func NewBatteryTracker(store storage.BatteryStore, clk clock.Clock, retries int, logger zerolog.Logger) *BatteryTracker {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if retries < 0 {
		retries = DefaultWriteRetries
	}

	return &BatteryTracker{
		store:   store,
		clock:   clk,
		retries: retries,
		logger:  logger.With().Str("component", "battery-tracker").Logger(),
	}
}

// RecordBattery overwrites the device's battery state. level must be in
// (0, 100]; a rejected sample leaves the prior state in place.
func (b *BatteryTracker) RecordBattery(ctx context.Context, deviceID string, level int, charging bool) error {
	if err := validateDeviceID(deviceID); err != nil {
		metrics.EventsIngested.WithLabelValues("battery", "invalid").Inc()
		return err
	}
	if level <= 0 || level > 100 {
		metrics.EventsIngested.WithLabelValues("battery", "invalid").Inc()
		return invalidInputf("battery level must be between 1 and 100, got %d", level)
	}

	state := storage.BatteryState{
		DeviceID:   deviceID,
		Level:      level,
		Charging:   charging,
		ObservedAt: b.clock.Now(),
	}

	err := withRetry(ctx, b.logger, "put_battery", b.retries, func() error {
		return b.store.Put(ctx, state)
	})
	if err != nil {
		b.logger.Error().Err(err).Str("device_id", deviceID).Msg("Failed to store battery state")
		metrics.EventsIngested.WithLabelValues("battery", "error").Inc()
		return storageError("store battery state", err)
	}

	metrics.EventsIngested.WithLabelValues("battery", "ok").Inc()
	b.logger.Debug().
		Str("device_id", deviceID).
		Int("level", level).
		Bool("charging", charging).
		Msg("Recorded battery state")

	return nil
}

// LatestBattery returns the device's battery state, or nil when the
// device never reported one.
func (b *BatteryTracker) LatestBattery(ctx context.Context, deviceID string) (*storage.BatteryState, error) {
	state, err := b.store.Get(ctx, deviceID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("load battery state", err)
	}
	return state, nil
}
