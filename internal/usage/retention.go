package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/screentime/internal/clock"
	"github.com/goodtune/screentime/internal/localtime"
	"github.com/goodtune/screentime/internal/metrics"
	"github.com/goodtune/screentime/internal/storage"
	"github.com/rs/zerolog"
)

// RetentionScheduler deletes day counters older than the retention period
// once a day at a fixed local time.
type RetentionScheduler struct {
	store         storage.UsageStore
	zone          localtime.Zone
	clock         clock.Clock
	cleanupTime   time.Time // Time of day to clean up (only hour and minute are used)
	retentionDays int
	logger        zerolog.Logger
	hooks         []func(cutoffDate string)
	stopChan      chan struct{}
	doneChan      chan struct{}
}

// NewRetentionScheduler creates a new retention scheduler
func NewRetentionScheduler(store storage.UsageStore, zone localtime.Zone, clk clock.Clock, cleanupTime string, retentionDays int, logger zerolog.Logger) (*RetentionScheduler, error) {
	// Parse cleanup time (HH:MM format)
	parsedTime, err := time.Parse("15:04", cleanupTime)
	if err != nil {
		return nil, fmt.Errorf("invalid cleanup time %q: %w", cleanupTime, err)
	}
	if retentionDays < 0 {
		return nil, fmt.Errorf("retention days must not be negative, got %d", retentionDays)
	}
	if clk == nil {
		clk = clock.RealClock{}
	}

	return &RetentionScheduler{
		store:         store,
		zone:          zone,
		clock:         clk,
		cleanupTime:   parsedTime,
		retentionDays: retentionDays,
		logger:        logger.With().Str("component", "retention-scheduler").Logger(),
		stopChan:      make(chan struct{}),
		doneChan:      make(chan struct{}),
	}, nil
}

// OnSweep registers a hook called with the cutoff date after every
// successful cleanup. Hooks must be registered before Start.
func (rs *RetentionScheduler) OnSweep(hook func(cutoffDate string)) {
	rs.hooks = append(rs.hooks, hook)
}

// Start begins the retention scheduler. With a zero retention period
// nothing is ever deleted and Start is a no-op.
func (rs *RetentionScheduler) Start() {
	if rs.retentionDays == 0 {
		close(rs.doneChan)
		rs.logger.Info().Msg("Counter retention disabled")
		return
	}

	go rs.run()
	rs.logger.Info().
		Str("cleanup_time", rs.cleanupTime.Format("15:04")).
		Int("retention_days", rs.retentionDays).
		Msg("Counter retention scheduler started")
}

// Stop stops the retention scheduler and waits for a running cleanup.
func (rs *RetentionScheduler) Stop() {
	close(rs.stopChan)
	<-rs.doneChan
	rs.logger.Info().Msg("Counter retention scheduler stopped")
}

// run is the main scheduler loop
func (rs *RetentionScheduler) run() {
	defer close(rs.doneChan)

	for {
		next := rs.nextCleanup(rs.clock.Now())
		wait := next.Sub(rs.clock.Now())

		rs.logger.Info().
			Time("next_cleanup", next).
			Dur("wait_duration", wait).
			Msg("Scheduled next counter cleanup")

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			if _, err := rs.RunOnce(ctx); err != nil {
				rs.logger.Error().Err(err).Msg("Failed to clean up old day counters")
			}
			cancel()
		case <-rs.stopChan:
			timer.Stop()
			return
		}
	}
}

// nextCleanup returns the next cleanup instant strictly after now, in the
// configured zone.
func (rs *RetentionScheduler) nextCleanup(now time.Time) time.Time {
	today := rs.zone.StartOfDay(now).Add(
		time.Duration(rs.cleanupTime.Hour())*time.Hour +
			time.Duration(rs.cleanupTime.Minute())*time.Minute,
	)

	// If we've already passed today's cleanup time, schedule for tomorrow
	if !now.Before(today) {
		return today.AddDate(0, 0, 1)
	}
	return today
}

// CutoffDate returns the oldest local date that is kept at now.
func (rs *RetentionScheduler) CutoffDate(now time.Time) string {
	return rs.zone.Date(rs.zone.StartOfDay(now).AddDate(0, 0, -rs.retentionDays))
}

// RunOnce deletes every day counter dated before the cutoff.
func (rs *RetentionScheduler) RunOnce(ctx context.Context) (int, error) {
	cutoff := rs.CutoffDate(rs.clock.Now())

	deleted, err := rs.store.DeleteDayCountersBefore(ctx, cutoff)
	if err != nil {
		metrics.StorageErrors.WithLabelValues("delete_day_counters").Inc()
		return 0, storageError("delete day counters", err)
	}

	metrics.CountersDeleted.Add(float64(deleted))
	rs.logger.Info().
		Int("counters_deleted", deleted).
		Str("cutoff_date", cutoff).
		Msg("Counter cleanup complete")

	for _, hook := range rs.hooks {
		hook(cutoff)
	}

	return deleted, nil
}
