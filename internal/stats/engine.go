// Package stats answers daily, weekly and monthly usage queries in the
// configured local timezone, for one device or merged across the fleet.
package stats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/goodtune/screentime/internal/clock"
	"github.com/goodtune/screentime/internal/localtime"
	"github.com/goodtune/screentime/internal/metrics"
	"github.com/goodtune/screentime/internal/storage"
	"github.com/goodtune/screentime/internal/usage"
)

// DefaultFleetConcurrency bounds concurrent per-device reads in fleet merges.
const DefaultFleetConcurrency = 8

// SessionSource provides the open session of a device. Lookups must not
// block on ingestion.
type SessionSource interface {
	OpenSession(deviceID string) (storage.OpenSession, bool)
}

// DeviceLister lists every known device.
type DeviceLister interface {
	Devices(ctx context.Context) ([]string, error)
}

// Config holds query engine configuration
type Config struct {
	Zone             localtime.Zone
	Clock            clock.Clock
	CacheSize        int
	CacheTTL         time.Duration
	FleetConcurrency int
}

// Engine is the read-only aggregation query engine.
type Engine struct {
	counters storage.UsageStore
	sessions SessionSource
	devices  DeviceLister
	zone     localtime.Zone
	clock    clock.Clock
	cache    *dayCache
	fleet    int
	logger   zerolog.Logger
}

// NewEngine creates a new query engine
func NewEngine(counters storage.UsageStore, sessions SessionSource, devices DeviceLister, config Config, logger zerolog.Logger) *Engine {
	if config.Clock == nil {
		config.Clock = clock.RealClock{}
	}
	if config.FleetConcurrency <= 0 {
		config.FleetConcurrency = DefaultFleetConcurrency
	}

	return &Engine{
		counters: counters,
		sessions: sessions,
		devices:  devices,
		zone:     config.Zone,
		clock:    config.Clock,
		cache:    newDayCache(config.CacheSize, config.CacheTTL),
		fleet:    config.FleetConcurrency,
		logger:   logger.With().Str("component", "query-engine").Logger(),
	}
}

// Invalidate drops cached results of the device from the local day of
// since onwards. It matches usage.CommitHook.
func (e *Engine) Invalidate(deviceID string, since time.Time) {
	e.cache.invalidate(deviceID, e.zone.Date(since))
}

// Expire drops cached days dated before cutoffDate once retention has
// deleted their counters.
func (e *Engine) Expire(cutoffDate string) {
	e.cache.expire(cutoffDate)
}

// Devices returns every known device.
func (e *Engine) Devices(ctx context.Context) ([]string, error) {
	return e.devices.Devices(ctx)
}

// DailyStats returns the device's usage on the local date.
func (e *Engine) DailyStats(ctx context.Context, deviceID, date string) (DailyStats, error) {
	timer := prometheus.NewTimer(metrics.QueryDuration.WithLabelValues("daily"))
	defer timer.ObserveDuration()

	if err := validateDevice(deviceID); err != nil {
		return DailyStats{}, err
	}
	date, err := e.parseDate(date)
	if err != nil {
		return DailyStats{}, err
	}

	days, err := e.loadDays(ctx, deviceID, []string{date})
	if err != nil {
		return DailyStats{}, err
	}
	return days[0], nil
}

// DailyStatsAllDevices returns the element-wise sum of DailyStats over
// every known device.
func (e *Engine) DailyStatsAllDevices(ctx context.Context, date string) (DailyStats, error) {
	timer := prometheus.NewTimer(metrics.QueryDuration.WithLabelValues("daily_all"))
	defer timer.ObserveDuration()

	date, err := e.parseDate(date)
	if err != nil {
		return DailyStats{}, err
	}

	total := newDailyStats("", date)
	err = e.forEachDevice(ctx, func(ctx context.Context, deviceID string) (func(), error) {
		days, err := e.loadDays(ctx, deviceID, []string{date})
		if err != nil {
			return nil, err
		}
		return func() { total.merge(days[0]) }, nil
	})
	if err != nil {
		return DailyStats{}, err
	}
	return total, nil
}

// WeeklyAppStats returns usage of app, or of all apps when app is empty,
// over the Monday-based local week weekOffset weeks from the current one.
func (e *Engine) WeeklyAppStats(ctx context.Context, deviceID, app string, weekOffset int) (PeriodStats, error) {
	timer := prometheus.NewTimer(metrics.QueryDuration.WithLabelValues("weekly"))
	defer timer.ObserveDuration()

	if err := validateDevice(deviceID); err != nil {
		return PeriodStats{}, err
	}
	return e.periodStats(ctx, deviceID, app, e.weekDates(weekOffset))
}

// WeeklyAppStatsAllDevices merges WeeklyAppStats over every known device.
func (e *Engine) WeeklyAppStatsAllDevices(ctx context.Context, app string, weekOffset int) (PeriodStats, error) {
	timer := prometheus.NewTimer(metrics.QueryDuration.WithLabelValues("weekly_all"))
	defer timer.ObserveDuration()

	return e.periodStatsAllDevices(ctx, app, e.weekDates(weekOffset))
}

// MonthlyAppStats returns usage of app, or of all apps when app is empty,
// over the local calendar month monthOffset months from the current one.
func (e *Engine) MonthlyAppStats(ctx context.Context, deviceID, app string, monthOffset int) (PeriodStats, error) {
	timer := prometheus.NewTimer(metrics.QueryDuration.WithLabelValues("monthly"))
	defer timer.ObserveDuration()

	if err := validateDevice(deviceID); err != nil {
		return PeriodStats{}, err
	}
	return e.periodStats(ctx, deviceID, app, e.monthDates(monthOffset))
}

// MonthlyAppStatsAllDevices merges MonthlyAppStats over every known device.
func (e *Engine) MonthlyAppStatsAllDevices(ctx context.Context, app string, monthOffset int) (PeriodStats, error) {
	timer := prometheus.NewTimer(metrics.QueryDuration.WithLabelValues("monthly_all"))
	defer timer.ObserveDuration()

	return e.periodStatsAllDevices(ctx, app, e.monthDates(monthOffset))
}

func (e *Engine) weekDates(weekOffset int) []string {
	start := e.zone.WeekStart(e.clock.Now(), weekOffset)
	return e.zone.Days(start, start.AddDate(0, 0, 7))
}

func (e *Engine) monthDates(monthOffset int) []string {
	start := e.zone.MonthStart(e.clock.Now(), monthOffset)
	return e.zone.Days(start, start.AddDate(0, 1, 0))
}

func (e *Engine) periodStats(ctx context.Context, deviceID, app string, dates []string) (PeriodStats, error) {
	app = strings.TrimSpace(app)

	days, err := e.loadDays(ctx, deviceID, dates)
	if err != nil {
		return PeriodStats{}, err
	}

	period := newPeriodStats(deviceID, app, dates)
	for i, day := range days {
		period.addDay(i, day)
	}
	return period, nil
}

func (e *Engine) periodStatsAllDevices(ctx context.Context, app string, dates []string) (PeriodStats, error) {
	total := newPeriodStats("", strings.TrimSpace(app), dates)

	err := e.forEachDevice(ctx, func(ctx context.Context, deviceID string) (func(), error) {
		period, err := e.periodStats(ctx, deviceID, app, dates)
		if err != nil {
			return nil, err
		}
		return func() { total.merge(period) }, nil
	})
	if err != nil {
		return PeriodStats{}, err
	}
	return total, nil
}

// forEachDevice runs fn for every known device with bounded concurrency.
// The merge functions fn returns are applied in device order once every
// read succeeded.
func (e *Engine) forEachDevice(ctx context.Context, fn func(ctx context.Context, deviceID string) (func(), error)) error {
	deviceIDs, err := e.devices.Devices(ctx)
	if err != nil {
		return err
	}

	merges := make([]func(), len(deviceIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.fleet)
	for i, deviceID := range deviceIDs {
		i, deviceID := i, deviceID
		g.Go(func() error {
			merge, err := fn(gctx, deviceID)
			if err != nil {
				return err
			}
			merges[i] = merge
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, merge := range merges {
		merge()
	}
	return nil
}

// loadDays returns the device's stats for each date, in order. Completed
// days come from the cache when possible; the rest are read from storage
// in one round trip and topped up with the open session.
func (e *Engine) loadDays(ctx context.Context, deviceID string, dates []string) ([]DailyStats, error) {
	now := e.clock.Now()
	today := e.zone.Date(now)
	gen := e.cache.generation()

	days := make([]DailyStats, len(dates))
	index := make(map[string]int, len(dates))
	var missing []string

	for i, date := range dates {
		if date < today {
			if day, ok := e.cache.get(deviceID, date); ok {
				days[i] = day
				continue
			}
		}
		days[i] = newDailyStats(deviceID, date)
		index[date] = i
		missing = append(missing, date)
	}

	if len(missing) == 0 {
		return days, nil
	}

	stored, err := e.readCounters(ctx, deviceID, missing)
	if err != nil {
		e.logger.Error().Err(err).Str("device_id", deviceID).Msg("Failed to read day counters")
		return nil, fmt.Errorf("%w: read day counters: %w", usage.ErrStorage, err)
	}
	for _, c := range stored {
		if i, ok := index[c.Date]; ok {
			days[i].addCounters(c)
		}
	}

	if session, ok := e.sessions.OpenSession(deviceID); ok {
		for _, c := range e.openOverlap(session, now, missing) {
			days[index[c.Date]].addCounters(c)
		}
	}

	for _, date := range missing {
		if date < today {
			e.cache.put(gen, days[index[date]])
		}
	}

	return days, nil
}

// readCounters reads the stored counters of dates. A single day is a plain
// hash read; several days go through one pipeline.
func (e *Engine) readCounters(ctx context.Context, deviceID string, dates []string) ([]storage.DayCounters, error) {
	if len(dates) != 1 {
		return e.counters.ListDayCounters(ctx, deviceID, dates)
	}

	day, err := e.counters.GetDayCounters(ctx, deviceID, dates[0])
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []storage.DayCounters{*day}, nil
}

// openOverlap buckets the part of the open session that falls into dates,
// truncated at now. dates must be ascending.
func (e *Engine) openOverlap(session storage.OpenSession, now time.Time, dates []string) []storage.DayCounters {
	start, end, ok := e.window(session.StartedAt, now, dates)
	if !ok {
		return nil
	}

	wanted := make(map[string]bool, len(dates))
	for _, date := range dates {
		wanted[date] = true
	}

	var out []storage.DayCounters
	for _, c := range usage.Bucketize(e.zone, session.DeviceID, session.AppName, start, end) {
		if wanted[c.Date] {
			out = append(out, c)
		}
	}
	return out
}

// window clips [start, end) to the local days spanned by dates, so bucketing
// an open session costs the size of the query, not the age of the session.
func (e *Engine) window(start, end time.Time, dates []string) (time.Time, time.Time, bool) {
	if len(dates) == 0 {
		return time.Time{}, time.Time{}, false
	}
	first, err := e.zone.ParseDate(dates[0])
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	last, err := e.zone.ParseDate(dates[len(dates)-1])
	if err != nil {
		return time.Time{}, time.Time{}, false
	}

	if start.Before(first) {
		start = first
	}
	if limit := last.AddDate(0, 0, 1); end.After(limit) {
		end = limit
	}
	return start, end, start.Before(end)
}

// parseDate validates a local date and returns it in canonical form.
func (e *Engine) parseDate(date string) (string, error) {
	day, err := e.zone.ParseDate(strings.TrimSpace(date))
	if err != nil {
		return "", fmt.Errorf("%w: %v", usage.ErrInvalidInput, err)
	}
	return e.zone.Date(day), nil
}

func validateDevice(deviceID string) error {
	if strings.TrimSpace(deviceID) == "" {
		return fmt.Errorf("%w: device_id is required", usage.ErrInvalidInput)
	}
	return nil
}
