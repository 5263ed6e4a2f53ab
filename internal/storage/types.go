package storage

import (
	"time"
)

// HoursPerDay is the number of hourly buckets kept per day.
const HoursPerDay = 24

// DayCounters aggregates usage per device and local calendar day. All
// durations are milliseconds.
type DayCounters struct {
	Date     string                        `json:"date"`
	DeviceID string                        `json:"device_id"`
	Total    int64                         `json:"total_ms"`
	Apps     map[string]int64              `json:"apps"`
	Hours    [HoursPerDay]int64            `json:"hours"`
	AppHours map[string][HoursPerDay]int64 `json:"app_hours"`
}

// NewDayCounters returns empty counters for a device and date.
func NewDayCounters(deviceID, date string) *DayCounters {
	return &DayCounters{
		Date:     date,
		DeviceID: deviceID,
		Apps:     make(map[string]int64),
		AppHours: make(map[string][HoursPerDay]int64),
	}
}

// Add accumulates millis into the day total, the app total, the hour
// bucket and the app's hour bucket.
func (c *DayCounters) Add(app string, hour int, millis int64) {
	if millis <= 0 || hour < 0 || hour >= HoursPerDay {
		return
	}
	c.Total += millis
	c.Apps[app] += millis
	c.Hours[hour] += millis
	hours := c.AppHours[app]
	hours[hour] += millis
	c.AppHours[app] = hours
}

// OpenSession is the session currently open on a device.
type OpenSession struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	AppName   string    `json:"app_name"`
	StartedAt time.Time `json:"started_at"`
}

// Transition is the durable effect of one recorded app switch.
type Transition struct {
	DeviceID string
	// Deltas holds increments, one entry per affected local day.
	Deltas []DayCounters
	// Open is the session open after the transition, nil when none is.
	Open *OpenSession
}

// BatteryState is the latest battery sample of a device.
type BatteryState struct {
	DeviceID   string    `json:"device_id"`
	Level      int       `json:"level"`
	Charging   bool      `json:"charging"`
	ObservedAt time.Time `json:"observed_at"`
}
