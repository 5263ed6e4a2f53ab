package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/goodtune/screentime/internal/api"
	"github.com/goodtune/screentime/internal/clock"
	"github.com/goodtune/screentime/internal/config"
	"github.com/goodtune/screentime/internal/localtime"
	"github.com/goodtune/screentime/internal/stats"
	"github.com/goodtune/screentime/internal/usage"
)

var (
	statsDevice string
	statsDate   string
	statsOffset int
	statsApp    string
	statsTop    int
	statsJSON   bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Query usage statistics",
	Long:  `Query usage statistics directly from storage, using the persisted open sessions for "so far" figures.`,
}

var statsDailyCmd = &cobra.Command{
	Use:   "daily",
	Short: "Show one day's usage",
	Example: `  screentime stats daily --device phone --date 2024-03-06
  screentime -c config.yaml stats daily --device all`,
	RunE: runStatsDaily,
}

var statsWeeklyCmd = &cobra.Command{
	Use:   "weekly",
	Short: "Show a Monday-based week's usage",
	Example: `  screentime stats weekly --device phone --offset -1
  screentime stats weekly --device all --app Maps`,
	RunE: runStatsWeekly,
}

var statsMonthlyCmd = &cobra.Command{
	Use:     "monthly",
	Short:   "Show a calendar month's usage",
	Example: `  screentime stats monthly --device phone --offset -1`,
	RunE:    runStatsMonthly,
}

func init() {
	statsCmd.PersistentFlags().StringVar(&statsDevice, "device", api.AllDevices, `Device ID, or "all" for the whole fleet`)
	statsCmd.PersistentFlags().IntVar(&statsTop, "top", 10, "Number of top apps to show (0 shows all)")
	statsCmd.PersistentFlags().BoolVar(&statsJSON, "json", false, "Print the raw JSON result")

	statsDailyCmd.Flags().StringVar(&statsDate, "date", "", "Local date as YYYY-MM-DD (default today)")

	for _, c := range []*cobra.Command{statsWeeklyCmd, statsMonthlyCmd} {
		c.Flags().IntVar(&statsOffset, "offset", 0, "Period offset from the current one (-1 is the previous)")
		c.Flags().StringVar(&statsApp, "app", "", "Restrict to one app")
	}

	statsCmd.AddCommand(statsDailyCmd, statsWeeklyCmd, statsMonthlyCmd)
	rootCmd.AddCommand(statsCmd)
}

// openEngine builds a read-only query engine over the configured store.
func openEngine(ctx context.Context) (*stats.Engine, localtime.Zone, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, localtime.Zone{}, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Load has already range-checked the offset
	zone := localtime.MustZone(cfg.Usage.UTCOffsetHours)

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, localtime.Zone{}, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	closeStore := func() { _ = store.Close() }

	sessions, err := stats.LoadStoredSessions(ctx, store.Usage())
	if err != nil {
		closeStore()
		return nil, localtime.Zone{}, nil, err
	}

	engine := stats.NewEngine(
		store.Usage(),
		sessions,
		usage.NewDirectory(store.Devices(), nil),
		stats.Config{
			Zone:             zone,
			Clock:            clock.RealClock{},
			FleetConcurrency: cfg.Query.FleetConcurrency,
		},
		zerolog.Nop(),
	)

	return engine, zone, closeStore, nil
}

func runStatsDaily(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	engine, zone, closeStore, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	date := statsDate
	if date == "" {
		date = zone.Date(time.Now())
	}

	var day stats.DailyStats
	if statsDevice == api.AllDevices {
		day, err = engine.DailyStatsAllDevices(ctx, date)
	} else {
		day, err = engine.DailyStats(ctx, statsDevice, date)
	}
	if err != nil {
		return err
	}

	if statsJSON {
		return printJSON(os.Stdout, day)
	}

	printHeader(os.Stdout, fmt.Sprintf("%s on %s", deviceLabel(statsDevice), day.Date), day.TotalUsage)
	printTopApps(os.Stdout, day.TopApps(statsTop))
	printHours(os.Stdout, day.HourlyStats[:])
	return nil
}

func runStatsWeekly(cmd *cobra.Command, args []string) error {
	return runStatsPeriod(func(ctx context.Context, engine *stats.Engine) (stats.PeriodStats, error) {
		if statsDevice == api.AllDevices {
			return engine.WeeklyAppStatsAllDevices(ctx, statsApp, statsOffset)
		}
		return engine.WeeklyAppStats(ctx, statsDevice, statsApp, statsOffset)
	})
}

func runStatsMonthly(cmd *cobra.Command, args []string) error {
	return runStatsPeriod(func(ctx context.Context, engine *stats.Engine) (stats.PeriodStats, error) {
		if statsDevice == api.AllDevices {
			return engine.MonthlyAppStatsAllDevices(ctx, statsApp, statsOffset)
		}
		return engine.MonthlyAppStats(ctx, statsDevice, statsApp, statsOffset)
	})
}

func runStatsPeriod(query func(ctx context.Context, engine *stats.Engine) (stats.PeriodStats, error)) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	engine, _, closeStore, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	period, err := query(ctx, engine)
	if err != nil {
		return err
	}

	if statsJSON {
		return printJSON(os.Stdout, period)
	}

	title := fmt.Sprintf("%s from %s to %s", deviceLabel(statsDevice), period.StartDate, period.EndDate)
	if period.App != "" {
		title += " (" + period.App + ")"
	}
	printHeader(os.Stdout, title, period.TotalUsage)
	printTopApps(os.Stdout, period.TopApps(statsTop))

	cyan := color.New(color.FgCyan, color.Bold)
	_, _ = cyan.Fprintln(os.Stdout, "\nBy day")
	for _, d := range period.Days {
		fmt.Fprintf(os.Stdout, "  %s  %s\n", d.Date, formatMillis(d.TotalUsage))
	}
	return nil
}

func deviceLabel(deviceID string) string {
	if deviceID == api.AllDevices {
		return "All devices"
	}
	return deviceID
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printHeader(w io.Writer, title string, total int64) {
	cyan := color.New(color.FgCyan, color.Bold)
	_, _ = cyan.Fprintln(w, title)
	fmt.Fprintf(w, "Total: %s\n", formatMillis(total))
}

func printTopApps(w io.Writer, apps []stats.AppUsage) {
	if len(apps) == 0 {
		return
	}

	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)

	_, _ = cyan.Fprintln(w, "\nTop apps")
	for i, app := range apps {
		_, _ = green.Fprintf(w, "  %2d. %-30s %s\n", i+1, app.App, formatMillis(app.TotalUsage))
	}
}

// printHours draws one bar per hour, scaled to the busiest hour.
func printHours(w io.Writer, hours []int64) {
	var peak int64
	for _, ms := range hours {
		if ms > peak {
			peak = ms
		}
	}
	if peak == 0 {
		return
	}

	cyan := color.New(color.FgCyan, color.Bold)
	yellow := color.New(color.FgYellow)

	_, _ = cyan.Fprintln(w, "\nBy hour")
	for h, ms := range hours {
		bar := strings.Repeat("#", int(ms*40/peak))
		fmt.Fprintf(w, "  %02d:00 ", h)
		_, _ = yellow.Fprintf(w, "%-40s", bar)
		fmt.Fprintf(w, " %s\n", formatMillis(ms))
	}
}

func formatMillis(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(time.Second).String()
}
