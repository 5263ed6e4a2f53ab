// Package localtime computes local calendar days and hours from a single
// fleet-wide UTC offset. Nothing here consults the host timezone.
package localtime

import (
	"fmt"
	"time"
)

const (
	// DateLayout is the layout of local calendar dates used throughout the engine.
	DateLayout = "2006-01-02"

	// HoursPerDay is the length of every hourly histogram.
	HoursPerDay = 24

	// MinOffsetHours and MaxOffsetHours bound the configurable UTC offset.
	MinOffsetHours = -12
	MaxOffsetHours = 14

	hourMillis = int64(time.Hour / time.Millisecond)
)

// Zone is a fixed UTC offset expressed in whole hours.
type Zone struct {
	offsetHours int
	loc         *time.Location
}

// NewZone creates a Zone for the given signed offset in hours.
func NewZone(offsetHours int) (Zone, error) {
	if offsetHours < MinOffsetHours || offsetHours > MaxOffsetHours {
		return Zone{}, fmt.Errorf("utc offset %d out of range [%d, %d]", offsetHours, MinOffsetHours, MaxOffsetHours)
	}
	name := fmt.Sprintf("UTC%+d", offsetHours)
	return Zone{
		offsetHours: offsetHours,
		loc:         time.FixedZone(name, offsetHours*3600),
	}, nil
}

// MustZone is like NewZone but panics on an out of range offset.
func MustZone(offsetHours int) Zone {
	z, err := NewZone(offsetHours)
	if err != nil {
		panic(err)
	}
	return z
}

// OffsetHours returns the configured offset.
func (z Zone) OffsetHours() int {
	return z.offsetHours
}

// Location returns the fixed location backing the zone.
func (z Zone) Location() *time.Location {
	if z.loc == nil {
		return time.UTC
	}
	return z.loc
}

// In converts t to local time.
func (z Zone) In(t time.Time) time.Time {
	return t.In(z.Location())
}

// Date returns the local calendar date of t.
func (z Zone) Date(t time.Time) string {
	return z.In(t).Format(DateLayout)
}

// ParseDate parses a local calendar date and returns local midnight of that day.
func (z Zone) ParseDate(s string) (time.Time, error) {
	day, err := time.ParseInLocation(DateLayout, s, z.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (expected YYYY-MM-DD): %w", s, err)
	}
	return day, nil
}

// StartOfDay returns local midnight of the day containing t.
func (z Zone) StartOfDay(t time.Time) time.Time {
	l := z.In(t)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, z.Location())
}

// WeekStart returns local midnight of the Monday starting the week that is
// weekOffset weeks away from the week containing now.
func (z Zone) WeekStart(now time.Time, weekOffset int) time.Time {
	day := z.StartOfDay(now)
	sinceMonday := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -sinceMonday+7*weekOffset)
}

// MonthStart returns local midnight of the first day of the calendar month
// that is monthOffset months away from the month containing now.
func (z Zone) MonthStart(now time.Time, monthOffset int) time.Time {
	l := z.In(now)
	return time.Date(l.Year(), l.Month()+time.Month(monthOffset), 1, 0, 0, 0, 0, z.Location())
}

// Days lists the local dates from start up to, but excluding, end. Both
// bounds are expected to be local midnights.
func (z Zone) Days(start, end time.Time) []string {
	var days []string
	for d := z.StartOfDay(start); d.Before(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d.Format(DateLayout))
	}
	return days
}

// Slice is the part of an interval falling into one local hour.
type Slice struct {
	Date   string
	Hour   int
	Millis int64
}

// Split divides [start, end) at every local hour boundary, which includes
// every local midnight. Durations are whole milliseconds so the slices always
// sum to end-start exactly. An empty or inverted interval yields no slices.
func (z Zone) Split(start, end time.Time) []Slice {
	s, e := start.UnixMilli(), end.UnixMilli()
	if e <= s {
		return nil
	}

	offset := int64(z.offsetHours) * hourMillis
	var slices []Slice
	for s < e {
		next := floorDiv(s+offset, hourMillis)*hourMillis + hourMillis - offset
		if next > e {
			next = e
		}
		local := time.UnixMilli(s).In(z.Location())
		slices = append(slices, Slice{
			Date:   local.Format(DateLayout),
			Hour:   local.Hour(),
			Millis: next - s,
		})
		s = next
	}
	return slices
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
