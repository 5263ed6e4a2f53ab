package usage

import (
	"time"

	"github.com/goodtune/screentime/internal/localtime"
	"github.com/goodtune/screentime/internal/storage"
)

// Bucketize attributes [start, end) of app usage to local days and hours.
// The result holds one entry per local day touched, in chronological order.
// An inverted interval is clamped to zero and yields nothing.
func Bucketize(zone localtime.Zone, deviceID, app string, start, end time.Time) []storage.DayCounters {
	var days []storage.DayCounters
	index := make(map[string]int)

	for _, s := range zone.Split(start, end) {
		i, ok := index[s.Date]
		if !ok {
			i = len(days)
			index[s.Date] = i
			days = append(days, *storage.NewDayCounters(deviceID, s.Date))
		}
		days[i].Add(app, s.Hour, s.Millis)
	}

	return days
}

func totalMillis(days []storage.DayCounters) int64 {
	var total int64
	for _, d := range days {
		total += d.Total
	}
	return total
}
