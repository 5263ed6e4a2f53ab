package usage

import (
	"testing"
	"time"

	"github.com/goodtune/screentime/internal/localtime"
)

func TestBucketizeMidnightSplit(t *testing.T) {
	zone := localtime.MustZone(8)
	loc := zone.Location()

	start := time.Date(2024, 3, 5, 23, 50, 0, 0, loc)
	end := time.Date(2024, 3, 6, 0, 10, 0, 0, loc)

	days := Bucketize(zone, "phone", "Maps", start, end)
	if len(days) != 2 {
		t.Fatalf("Expected 2 days, got %d", len(days))
	}

	tenMinutes := (10 * time.Minute).Milliseconds()

	if days[0].Date != "2024-03-05" || days[0].Total != tenMinutes || days[0].Hours[23] != tenMinutes {
		t.Errorf("Unexpected first day: %+v", days[0])
	}
	if days[1].Date != "2024-03-06" || days[1].Total != tenMinutes || days[1].Hours[0] != tenMinutes {
		t.Errorf("Unexpected second day: %+v", days[1])
	}
	if days[0].AppHours["Maps"][23] != tenMinutes {
		t.Errorf("Expected app hour bucket of %d, got %d", tenMinutes, days[0].AppHours["Maps"][23])
	}
}

func TestBucketizeExactSum(t *testing.T) {
	zone := localtime.MustZone(-5)

	start := time.Date(2024, 3, 5, 8, 17, 3, 123_456_789, time.UTC)
	end := start.Add(26*time.Hour + 7*time.Minute + 999*time.Millisecond)

	days := Bucketize(zone, "phone", "Maps", start, end)

	want := end.UnixMilli() - start.UnixMilli()
	if got := totalMillis(days); got != want {
		t.Errorf("Expected %d ms in total, got %d", want, got)
	}

	var hourSum int64
	for _, d := range days {
		for _, h := range d.Hours {
			hourSum += h
		}
	}
	if hourSum != want {
		t.Errorf("Expected hour buckets to sum to %d, got %d", want, hourSum)
	}
}

func TestBucketizeInverted(t *testing.T) {
	zone := localtime.MustZone(0)
	now := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

	if days := Bucketize(zone, "phone", "Maps", now, now.Add(-time.Minute)); len(days) != 0 {
		t.Errorf("Expected no buckets for an inverted interval, got %+v", days)
	}
}
