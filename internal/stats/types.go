package stats

import (
	"sort"

	"github.com/goodtune/screentime/internal/storage"
)

// DailyStats is the usage of one device, or the whole fleet, on one local
// calendar day. Durations are milliseconds.
type DailyStats struct {
	Date           string                                `json:"date"`
	DeviceID       string                                `json:"device_id"`
	TotalUsage     int64                                 `json:"total_usage"`
	AppStats       map[string]int64                      `json:"app_stats"`
	HourlyStats    [storage.HoursPerDay]int64            `json:"hourly_stats"`
	AppHourlyStats map[string][storage.HoursPerDay]int64 `json:"app_hourly_stats"`
}

func newDailyStats(deviceID, date string) DailyStats {
	return DailyStats{
		Date:           date,
		DeviceID:       deviceID,
		AppStats:       make(map[string]int64),
		AppHourlyStats: make(map[string][storage.HoursPerDay]int64),
	}
}

// addCounters accumulates stored or derived day counters.
func (d *DailyStats) addCounters(c storage.DayCounters) {
	d.TotalUsage += c.Total
	for app, ms := range c.Apps {
		d.AppStats[app] += ms
	}
	for h, ms := range c.Hours {
		d.HourlyStats[h] += ms
	}
	for app, hours := range c.AppHours {
		merged := d.AppHourlyStats[app]
		for h, ms := range hours {
			merged[h] += ms
		}
		d.AppHourlyStats[app] = merged
	}
}

// merge adds other element-wise.
func (d *DailyStats) merge(other DailyStats) {
	d.addCounters(storage.DayCounters{
		Total:    other.TotalUsage,
		Apps:     other.AppStats,
		Hours:    other.HourlyStats,
		AppHours: other.AppHourlyStats,
	})
}

func (d DailyStats) clone() DailyStats {
	c := newDailyStats(d.DeviceID, d.Date)
	c.merge(d)
	return c
}

// TopApps returns up to n apps by usage, largest first. n <= 0 returns all.
func (d DailyStats) TopApps(n int) []AppUsage {
	return topApps(d.AppStats, n)
}

// DayTotal is the usage on one day of a period.
type DayTotal struct {
	Date       string `json:"date"`
	TotalUsage int64  `json:"total_usage"`
}

// PeriodStats is the usage over a week or calendar month, optionally
// restricted to one app.
type PeriodStats struct {
	DeviceID   string           `json:"device_id"`
	App        string           `json:"app,omitempty"`
	StartDate  string           `json:"start_date"`
	EndDate    string           `json:"end_date"`
	Days       []DayTotal       `json:"daily_usage"`
	TotalUsage int64            `json:"total_usage"`
	AppStats   map[string]int64 `json:"app_stats"`
}

func newPeriodStats(deviceID, app string, dates []string) PeriodStats {
	p := PeriodStats{
		DeviceID: deviceID,
		App:      app,
		Days:     make([]DayTotal, len(dates)),
		AppStats: make(map[string]int64),
	}
	for i, date := range dates {
		p.Days[i].Date = date
	}
	if len(dates) > 0 {
		p.StartDate = dates[0]
		p.EndDate = dates[len(dates)-1]
	}
	return p
}

// addDay folds the stats of the i-th day into the period.
func (p *PeriodStats) addDay(i int, day DailyStats) {
	if p.App == "" {
		p.Days[i].TotalUsage += day.TotalUsage
		p.TotalUsage += day.TotalUsage
		for app, ms := range day.AppStats {
			p.AppStats[app] += ms
		}
		return
	}

	ms := day.AppStats[p.App]
	p.Days[i].TotalUsage += ms
	p.TotalUsage += ms
	if ms > 0 {
		p.AppStats[p.App] += ms
	}
}

// merge adds other element-wise. Both must cover the same dates.
func (p *PeriodStats) merge(other PeriodStats) {
	for i := range p.Days {
		p.Days[i].TotalUsage += other.Days[i].TotalUsage
	}
	p.TotalUsage += other.TotalUsage
	for app, ms := range other.AppStats {
		p.AppStats[app] += ms
	}
}

// TopApps returns up to n apps by usage, largest first. n <= 0 returns all.
func (p PeriodStats) TopApps(n int) []AppUsage {
	return topApps(p.AppStats, n)
}

// AppUsage is one app's usage in a ranking.
type AppUsage struct {
	App        string `json:"app"`
	TotalUsage int64  `json:"total_usage"`
}

func topApps(apps map[string]int64, n int) []AppUsage {
	ranked := make([]AppUsage, 0, len(apps))
	for app, ms := range apps {
		ranked = append(ranked, AppUsage{App: app, TotalUsage: ms})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].TotalUsage != ranked[j].TotalUsage {
			return ranked[i].TotalUsage > ranked[j].TotalUsage
		}
		return ranked[i].App < ranked[j].App
	})

	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
