package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"github.com/goodtune/screentime/internal/clock"
	"github.com/goodtune/screentime/internal/localtime"
	"github.com/goodtune/screentime/internal/storage"
	"github.com/goodtune/screentime/internal/storage/redis"
	"github.com/goodtune/screentime/internal/storage/storagetest"
	"github.com/goodtune/screentime/internal/usage"
)

type engineFixture struct {
	engine   *Engine
	recorder *usage.Recorder
	battery  *usage.BatteryTracker
	store    *redis.Store
	mr       *miniredis.Miniredis
	clock    *clock.TestClock
	zone     localtime.Zone
}

// newEngineFixture wires a recorder and engine the way the server does,
// with now at 2024-03-06 (a Wednesday) 12:00 local.
func newEngineFixture(t *testing.T, offsetHours int, cacheSize int) *engineFixture {
	t.Helper()

	store, mr := storagetest.NewStore(t)
	zone := localtime.MustZone(offsetHours)
	clk := clock.NewTestClock(time.Date(2024, 3, 6, 12, 0, 0, 0, zone.Location()))

	recorder := usage.NewRecorder(store.Usage(), store.Devices(), usage.Config{Zone: zone, Clock: clk}, zerolog.Nop())
	directory := usage.NewDirectory(store.Devices(), recorder)
	engine := NewEngine(store.Usage(), recorder, directory, Config{
		Zone:      zone,
		Clock:     clk,
		CacheSize: cacheSize,
		CacheTTL:  time.Hour,
	}, zerolog.Nop())
	recorder.OnCommit(engine.Invalidate)

	return &engineFixture{
		engine:   engine,
		recorder: recorder,
		battery:  usage.NewBatteryTracker(store.Battery(), clk, 0, zerolog.Nop()),
		store:    store,
		mr:       mr,
		clock:    clk,
		zone:     zone,
	}
}

func (f *engineFixture) local(day, hour, minute int) time.Time {
	return time.Date(2024, 3, day, hour, minute, 0, 0, f.zone.Location())
}

func (f *engineFixture) record(t *testing.T, deviceID, app string, running bool, at time.Time) {
	t.Helper()
	err := f.recorder.RecordUsage(context.Background(), usage.AppSwitch{
		DeviceID:   deviceID,
		AppName:    app,
		Running:    usage.Running(running),
		ObservedAt: at,
	})
	if err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}
}

func (f *engineFixture) session(t *testing.T, deviceID, app string, start, end time.Time) {
	t.Helper()
	f.record(t, deviceID, app, true, start)
	f.record(t, deviceID, app, false, end)
}

func ms(d time.Duration) int64 {
	return d.Milliseconds()
}

func TestDailyStatsEmptyDay(t *testing.T) {
	f := newEngineFixture(t, 0, 0)

	day, err := f.engine.DailyStats(context.Background(), "phone", "2024-03-01")
	if err != nil {
		t.Fatalf("DailyStats failed: %v", err)
	}

	if day.TotalUsage != 0 || len(day.AppStats) != 0 || len(day.AppHourlyStats) != 0 {
		t.Errorf("Expected zero result, got %+v", day)
	}
	if day.AppStats == nil || day.AppHourlyStats == nil {
		t.Error("Expected empty maps rather than nil")
	}
	for h, v := range day.HourlyStats {
		if v != 0 {
			t.Errorf("Expected hour %d to be zero, got %d", h, v)
		}
	}
}

func TestDailyStatsInvalidDate(t *testing.T) {
	f := newEngineFixture(t, 0, 0)

	for _, date := range []string{"", "yesterday", "2024-13-01", "2024-3-5"} {
		if _, err := f.engine.DailyStats(context.Background(), "phone", date); !errors.Is(err, usage.ErrInvalidInput) {
			t.Errorf("DailyStats(%q): expected ErrInvalidInput, got %v", date, err)
		}
		if _, err := f.engine.DailyStatsAllDevices(context.Background(), date); !errors.Is(err, usage.ErrInvalidInput) {
			t.Errorf("DailyStatsAllDevices(%q): expected ErrInvalidInput, got %v", date, err)
		}
	}
}

func TestDailyStatsBreakdown(t *testing.T) {
	f := newEngineFixture(t, 0, 0)

	f.session(t, "phone", "Maps", f.local(6, 9, 30), f.local(6, 10, 15))
	f.session(t, "phone", "Mail", f.local(6, 10, 15), f.local(6, 10, 45))

	day, err := f.engine.DailyStats(context.Background(), "phone", "2024-03-06")
	if err != nil {
		t.Fatalf("DailyStats failed: %v", err)
	}

	if day.TotalUsage != ms(75*time.Minute) {
		t.Errorf("Expected 75 minutes, got %d ms", day.TotalUsage)
	}
	if day.AppStats["Maps"] != ms(45*time.Minute) || day.AppStats["Mail"] != ms(30*time.Minute) {
		t.Errorf("Unexpected app stats %+v", day.AppStats)
	}
	if day.HourlyStats[9] != ms(30*time.Minute) || day.HourlyStats[10] != ms(45*time.Minute) {
		t.Errorf("Unexpected hourly stats %+v", day.HourlyStats)
	}
	if day.AppHourlyStats["Maps"][10] != ms(15*time.Minute) {
		t.Errorf("Expected Maps to have 15 minutes at 10:00, got %d", day.AppHourlyStats["Maps"][10])
	}

	top := day.TopApps(1)
	if len(top) != 1 || top[0].App != "Maps" {
		t.Errorf("Expected Maps as top app, got %+v", top)
	}
}

func TestDailyStatsIncludesOpenSession(t *testing.T) {
	f := newEngineFixture(t, 0, 0)

	f.record(t, "phone", "Maps", true, f.local(6, 11, 0))

	day, err := f.engine.DailyStats(context.Background(), "phone", "2024-03-06")
	if err != nil {
		t.Fatalf("DailyStats failed: %v", err)
	}
	if day.TotalUsage != ms(time.Hour) || day.HourlyStats[11] != ms(time.Hour) {
		t.Errorf("Expected the open hour to count up to now, got %+v", day)
	}

	f.clock.Advance(30 * time.Minute)

	day, err = f.engine.DailyStats(context.Background(), "phone", "2024-03-06")
	if err != nil {
		t.Fatalf("DailyStats failed: %v", err)
	}
	if day.TotalUsage != ms(90*time.Minute) {
		t.Errorf("Expected 90 minutes, got %d ms", day.TotalUsage)
	}
}

func TestDailyStatsOpenSessionAcrossMidnight(t *testing.T) {
	f := newEngineFixture(t, 8, 16)

	f.record(t, "phone", "Maps", true, f.local(5, 23, 0))
	f.clock.Set(f.local(6, 0, 30))

	yesterday, err := f.engine.DailyStats(context.Background(), "phone", "2024-03-05")
	if err != nil {
		t.Fatalf("DailyStats failed: %v", err)
	}
	if yesterday.TotalUsage != ms(time.Hour) {
		t.Errorf("Expected 1 hour yesterday, got %d ms", yesterday.TotalUsage)
	}

	today, err := f.engine.DailyStats(context.Background(), "phone", "2024-03-06")
	if err != nil {
		t.Fatalf("DailyStats failed: %v", err)
	}
	if today.TotalUsage != ms(30*time.Minute) {
		t.Errorf("Expected 30 minutes today, got %d ms", today.TotalUsage)
	}

	// Closing the session must not change yesterday, cached or not.
	f.clock.Set(f.local(6, 1, 0))
	f.record(t, "phone", "Maps", false, f.local(6, 1, 0))

	yesterday, err = f.engine.DailyStats(context.Background(), "phone", "2024-03-05")
	if err != nil {
		t.Fatalf("DailyStats failed: %v", err)
	}
	if yesterday.TotalUsage != ms(time.Hour) {
		t.Errorf("Expected 1 hour yesterday after close, got %d ms", yesterday.TotalUsage)
	}
}

func TestDailyStatsCacheInvalidatedByCommit(t *testing.T) {
	f := newEngineFixture(t, 0, 16)

	f.session(t, "phone", "Maps", f.local(4, 9, 0), f.local(4, 10, 0))

	day, err := f.engine.DailyStats(context.Background(), "phone", "2024-03-04")
	if err != nil {
		t.Fatalf("DailyStats failed: %v", err)
	}
	if day.TotalUsage != ms(time.Hour) {
		t.Fatalf("Expected 1 hour, got %d ms", day.TotalUsage)
	}

	// A late event for a past day.
	f.session(t, "phone", "Mail", f.local(4, 20, 0), f.local(4, 20, 30))

	day, err = f.engine.DailyStats(context.Background(), "phone", "2024-03-04")
	if err != nil {
		t.Fatalf("DailyStats failed: %v", err)
	}
	if day.TotalUsage != ms(90*time.Minute) {
		t.Errorf("Expected cached day to be refreshed to 90 minutes, got %d ms", day.TotalUsage)
	}

	// Mutating a result must not leak into the cache.
	day.AppStats["Mail"] = 0
	day, _ = f.engine.DailyStats(context.Background(), "phone", "2024-03-04")
	if day.AppStats["Mail"] != ms(30*time.Minute) {
		t.Errorf("Expected cached result to be isolated from callers, got %+v", day.AppStats)
	}
}

func TestDailyStatsAllDevicesIsElementWiseSum(t *testing.T) {
	f := newEngineFixture(t, 0, 16)
	ctx := context.Background()

	f.session(t, "phone", "Maps", f.local(6, 9, 0), f.local(6, 9, 40))
	f.session(t, "tablet", "Maps", f.local(6, 9, 30), f.local(6, 11, 0))
	f.record(t, "tablet", "Video", true, f.local(6, 11, 30))
	if err := f.battery.RecordBattery(ctx, "watch", 70, false); err != nil {
		t.Fatalf("RecordBattery failed: %v", err)
	}

	all, err := f.engine.DailyStatsAllDevices(ctx, "2024-03-06")
	if err != nil {
		t.Fatalf("DailyStatsAllDevices failed: %v", err)
	}

	devices, err := f.engine.Devices(ctx)
	if err != nil {
		t.Fatalf("Devices failed: %v", err)
	}
	if len(devices) != 3 {
		t.Fatalf("Expected 3 devices, got %v", devices)
	}

	want := newDailyStats("", "2024-03-06")
	for _, id := range devices {
		day, err := f.engine.DailyStats(ctx, id, "2024-03-06")
		if err != nil {
			t.Fatalf("DailyStats(%s) failed: %v", id, err)
		}
		want.merge(day)
	}

	if all.TotalUsage != want.TotalUsage || all.HourlyStats != want.HourlyStats {
		t.Errorf("Expected %+v, got %+v", want, all)
	}
	for app, v := range want.AppStats {
		if all.AppStats[app] != v {
			t.Errorf("App %s: expected %d, got %d", app, v, all.AppStats[app])
		}
		if all.AppHourlyStats[app] != want.AppHourlyStats[app] {
			t.Errorf("App %s: hourly stats differ", app)
		}
	}
	if all.AppStats["Maps"] != ms(130*time.Minute) {
		t.Errorf("Expected 130 minutes of Maps, got %d ms", all.AppStats["Maps"])
	}
}

func TestWeeklyPreviousWeek(t *testing.T) {
	f := newEngineFixture(t, 0, 16)
	loc := f.zone.Location()

	// Wednesday of the previous week
	start := time.Date(2024, 2, 28, 14, 0, 0, 0, loc)
	f.session(t, "phone", "Maps", start, start.Add(2*time.Hour))
	f.session(t, "phone", "Mail", f.local(5, 8, 0), f.local(5, 9, 0))

	week, err := f.engine.WeeklyAppStats(context.Background(), "phone", "", -1)
	if err != nil {
		t.Fatalf("WeeklyAppStats failed: %v", err)
	}

	if week.StartDate != "2024-02-26" || week.EndDate != "2024-03-03" {
		t.Errorf("Expected week 2024-02-26..2024-03-03, got %s..%s", week.StartDate, week.EndDate)
	}
	if len(week.Days) != 7 {
		t.Fatalf("Expected 7 days, got %d", len(week.Days))
	}
	if week.TotalUsage != ms(2*time.Hour) {
		t.Errorf("Expected 2 hours, got %d ms", week.TotalUsage)
	}
	for i, d := range week.Days {
		want := int64(0)
		if d.Date == "2024-02-28" {
			want = ms(2 * time.Hour)
		}
		if d.TotalUsage != want {
			t.Errorf("Day %d (%s): expected %d, got %d", i, d.Date, want, d.TotalUsage)
		}
	}
	if len(week.AppStats) != 1 || week.AppStats["Maps"] != ms(2*time.Hour) {
		t.Errorf("Unexpected app totals %+v", week.AppStats)
	}
}

func TestWeeklyAppFilter(t *testing.T) {
	f := newEngineFixture(t, 0, 0)

	f.session(t, "phone", "Maps", f.local(4, 9, 0), f.local(4, 10, 0))
	f.session(t, "phone", "Mail", f.local(5, 9, 0), f.local(5, 9, 20))
	f.record(t, "phone", "Maps", true, f.local(6, 11, 0))

	week, err := f.engine.WeeklyAppStats(context.Background(), "phone", "Maps", 0)
	if err != nil {
		t.Fatalf("WeeklyAppStats failed: %v", err)
	}

	if week.StartDate != "2024-03-04" {
		t.Errorf("Expected week to start on Monday 2024-03-04, got %s", week.StartDate)
	}
	if week.TotalUsage != ms(2*time.Hour) {
		t.Errorf("Expected 2 hours of Maps including the open session, got %d ms", week.TotalUsage)
	}
	if week.Days[1].TotalUsage != 0 {
		t.Errorf("Expected Mail to be filtered out on Tuesday, got %d", week.Days[1].TotalUsage)
	}
	if _, ok := week.AppStats["Mail"]; ok {
		t.Errorf("Expected only Maps in app totals, got %+v", week.AppStats)
	}
}

func TestWeeklyAllDevices(t *testing.T) {
	f := newEngineFixture(t, 0, 16)

	f.session(t, "phone", "Maps", f.local(4, 9, 0), f.local(4, 10, 0))
	f.session(t, "tablet", "Maps", f.local(4, 9, 0), f.local(4, 9, 30))
	f.session(t, "tablet", "Video", f.local(5, 20, 0), f.local(5, 21, 0))

	week, err := f.engine.WeeklyAppStatsAllDevices(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("WeeklyAppStatsAllDevices failed: %v", err)
	}

	if week.Days[0].TotalUsage != ms(90*time.Minute) || week.Days[1].TotalUsage != ms(time.Hour) {
		t.Errorf("Unexpected daily totals %+v", week.Days)
	}
	if week.TotalUsage != ms(150*time.Minute) {
		t.Errorf("Expected 150 minutes, got %d ms", week.TotalUsage)
	}

	top := week.TopApps(0)
	if len(top) != 2 || top[0].App != "Maps" || top[1].App != "Video" {
		t.Errorf("Unexpected ranking %+v", top)
	}
}

func TestMonthlyCalendarMonths(t *testing.T) {
	f := newEngineFixture(t, 0, 16)
	loc := f.zone.Location()

	f.session(t, "phone", "Maps", time.Date(2024, 2, 29, 23, 0, 0, 0, loc), time.Date(2024, 3, 1, 1, 0, 0, 0, loc))

	feb, err := f.engine.MonthlyAppStats(context.Background(), "phone", "", -1)
	if err != nil {
		t.Fatalf("MonthlyAppStats failed: %v", err)
	}
	if feb.StartDate != "2024-02-01" || feb.EndDate != "2024-02-29" || len(feb.Days) != 29 {
		t.Errorf("Expected leap February, got %s..%s (%d days)", feb.StartDate, feb.EndDate, len(feb.Days))
	}
	if feb.TotalUsage != ms(time.Hour) {
		t.Errorf("Expected 1 hour in February, got %d ms", feb.TotalUsage)
	}

	mar, err := f.engine.MonthlyAppStats(context.Background(), "phone", "Maps", 0)
	if err != nil {
		t.Fatalf("MonthlyAppStats failed: %v", err)
	}
	if len(mar.Days) != 31 || mar.TotalUsage != ms(time.Hour) || mar.Days[0].TotalUsage != ms(time.Hour) {
		t.Errorf("Unexpected March stats %+v", mar)
	}

	all, err := f.engine.MonthlyAppStatsAllDevices(context.Background(), "", -1)
	if err != nil {
		t.Fatalf("MonthlyAppStatsAllDevices failed: %v", err)
	}
	if all.TotalUsage != feb.TotalUsage {
		t.Errorf("Expected fleet February to match the only device, got %d", all.TotalUsage)
	}
}

func TestQueriesRejectEmptyDevice(t *testing.T) {
	f := newEngineFixture(t, 0, 0)
	ctx := context.Background()

	if _, err := f.engine.DailyStats(ctx, "", "2024-03-06"); !errors.Is(err, usage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
	if _, err := f.engine.WeeklyAppStats(ctx, " ", "", 0); !errors.Is(err, usage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
	if _, err := f.engine.MonthlyAppStats(ctx, "", "", 0); !errors.Is(err, usage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestStoredSessions(t *testing.T) {
	f := newEngineFixture(t, 0, 0)
	ctx := context.Background()

	f.record(t, "phone", "Maps", true, f.local(6, 11, 0))

	sessions, err := LoadStoredSessions(ctx, f.store.Usage())
	if err != nil {
		t.Fatalf("LoadStoredSessions failed: %v", err)
	}

	offline := NewEngine(f.store.Usage(), sessions, usage.NewDirectory(f.store.Devices(), nil), Config{Zone: f.zone, Clock: f.clock}, zerolog.Nop())
	day, err := offline.DailyStats(ctx, "phone", "2024-03-06")
	if err != nil {
		t.Fatalf("DailyStats failed: %v", err)
	}
	if day.TotalUsage != ms(time.Hour) {
		t.Errorf("Expected persisted open session to count, got %d ms", day.TotalUsage)
	}

	if _, ok := sessions.OpenSession("tablet"); ok {
		t.Error("Expected no session for unknown device")
	}
}

func TestDayCacheGeneration(t *testing.T) {
	c := newDayCache(8, time.Minute)

	gen := c.generation()
	c.invalidate("phone", "2024-03-01")

	day := newDailyStats("phone", "2024-03-02")
	day.addCounters(storage.DayCounters{Total: 5, Apps: map[string]int64{"Maps": 5}})
	c.put(gen, day)

	if _, ok := c.get("phone", "2024-03-02"); ok {
		t.Error("Expected stale put to be dropped")
	}

	c.put(c.generation(), day)
	if got, ok := c.get("phone", "2024-03-02"); !ok || got.TotalUsage != 5 {
		t.Errorf("Expected cached day, got %+v (%v)", got, ok)
	}

	c.invalidate("phone", "2024-03-03")
	if _, ok := c.get("phone", "2024-03-02"); !ok {
		t.Error("Expected earlier day to survive invalidation")
	}
	c.invalidate("phone", "2024-03-02")
	if _, ok := c.get("phone", "2024-03-02"); ok {
		t.Error("Expected day to be invalidated")
	}
}

func TestDailyStatsLongRunningSession(t *testing.T) {
	f := newEngineFixture(t, 8, 0)
	ctx := context.Background()

	f.record(t, "phone", "Maps", true, f.clock.Now().AddDate(-50, 0, 0))

	today, err := f.engine.DailyStats(ctx, "phone", "2024-03-06")
	if err != nil {
		t.Fatalf("DailyStats failed: %v", err)
	}
	if today.TotalUsage != ms(12*time.Hour) {
		t.Errorf("Expected 12h today, got %d ms", today.TotalUsage)
	}
	if today.HourlyStats[0] != ms(time.Hour) || today.HourlyStats[11] != ms(time.Hour) || today.HourlyStats[12] != 0 {
		t.Errorf("Unexpected hourly split: %v", today.HourlyStats)
	}

	yesterday, err := f.engine.DailyStats(ctx, "phone", "2024-03-05")
	if err != nil {
		t.Fatalf("DailyStats failed: %v", err)
	}
	if yesterday.TotalUsage != ms(24*time.Hour) {
		t.Errorf("Expected 24h yesterday, got %d ms", yesterday.TotalUsage)
	}

	week, err := f.engine.WeeklyAppStats(ctx, "phone", "", 0)
	if err != nil {
		t.Fatalf("WeeklyAppStats failed: %v", err)
	}
	if week.TotalUsage != ms(2*24*time.Hour+12*time.Hour) {
		t.Errorf("Expected Monday to Wednesday noon, got %d ms", week.TotalUsage)
	}
}

func TestOpenSessionWindowClipsToDates(t *testing.T) {
	f := newEngineFixture(t, 8, 0)
	now := f.clock.Now()

	start, end, ok := f.engine.window(now.AddDate(-50, 0, 0), now, []string{"2024-03-06"})
	if !ok {
		t.Fatal("Expected an overlap with today")
	}
	if !start.Equal(f.local(6, 0, 0)) || !end.Equal(now) {
		t.Errorf("Expected [%v, %v), got [%v, %v)", f.local(6, 0, 0), now, start, end)
	}

	start, end, ok = f.engine.window(now.AddDate(-50, 0, 0), now, []string{"2024-03-01", "2024-03-02"})
	if !ok {
		t.Fatal("Expected an overlap with the past days")
	}
	if !start.Equal(f.local(1, 0, 0)) || !end.Equal(f.local(3, 0, 0)) {
		t.Errorf("Expected [%v, %v), got [%v, %v)", f.local(1, 0, 0), f.local(3, 0, 0), start, end)
	}

	if _, _, ok := f.engine.window(now, now, []string{"2024-03-01"}); ok {
		t.Error("Expected no overlap for a session started after the dates")
	}
}

func TestRetentionSweepExpiresCachedDays(t *testing.T) {
	f := newEngineFixture(t, 0, 16)
	ctx := context.Background()

	f.session(t, "phone", "Maps", f.local(1, 10, 0), f.local(1, 11, 0))

	day, err := f.engine.DailyStats(ctx, "phone", "2024-03-01")
	if err != nil {
		t.Fatalf("DailyStats failed: %v", err)
	}
	if day.TotalUsage != ms(time.Hour) {
		t.Fatalf("Expected 1h, got %d ms", day.TotalUsage)
	}

	retention, err := usage.NewRetentionScheduler(f.store.Usage(), f.zone, f.clock, "03:00", 3, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRetentionScheduler failed: %v", err)
	}
	retention.OnSweep(f.engine.Expire)

	if _, err := retention.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	day, err = f.engine.DailyStats(ctx, "phone", "2024-03-01")
	if err != nil {
		t.Fatalf("DailyStats failed: %v", err)
	}
	if day.TotalUsage != 0 {
		t.Errorf("Expected deleted day to read as empty, got %d ms", day.TotalUsage)
	}
}

func TestQueriesReportStorageFailure(t *testing.T) {
	f := newEngineFixture(t, 0, 0)
	ctx := context.Background()

	f.mr.SetError("connection lost")
	defer f.mr.SetError("")

	if _, err := f.engine.DailyStats(ctx, "phone", "2024-03-05"); !errors.Is(err, usage.ErrStorage) {
		t.Errorf("DailyStats: expected ErrStorage, got %v", err)
	}
	if _, err := f.engine.WeeklyAppStats(ctx, "phone", "", 0); !errors.Is(err, usage.ErrStorage) {
		t.Errorf("WeeklyAppStats: expected ErrStorage, got %v", err)
	}
}
