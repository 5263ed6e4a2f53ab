package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/goodtune/screentime/internal/clock"
	"github.com/goodtune/screentime/internal/localtime"
	"github.com/goodtune/screentime/internal/stats"
	"github.com/goodtune/screentime/internal/storage"
	"github.com/goodtune/screentime/internal/usage"
)

// AllDevices is the device path segment that selects fleet-wide stats.
const AllDevices = "all"

// SessionRecorder ingests app-state events.
type SessionRecorder interface {
	RecordUsage(ctx context.Context, sw usage.AppSwitch) error
	RecentSwitches(deviceID string) []usage.SwitchEvent
}

// BatteryRecorder ingests and serves battery samples.
type BatteryRecorder interface {
	RecordBattery(ctx context.Context, deviceID string, level int, charging bool) error
	LatestBattery(ctx context.Context, deviceID string) (*storage.BatteryState, error)
}

// StatsQuerier answers aggregate usage queries.
type StatsQuerier interface {
	Devices(ctx context.Context) ([]string, error)
	DailyStats(ctx context.Context, deviceID, date string) (stats.DailyStats, error)
	DailyStatsAllDevices(ctx context.Context, date string) (stats.DailyStats, error)
	WeeklyAppStats(ctx context.Context, deviceID, app string, weekOffset int) (stats.PeriodStats, error)
	WeeklyAppStatsAllDevices(ctx context.Context, app string, weekOffset int) (stats.PeriodStats, error)
	MonthlyAppStats(ctx context.Context, deviceID, app string, monthOffset int) (stats.PeriodStats, error)
	MonthlyAppStatsAllDevices(ctx context.Context, app string, monthOffset int) (stats.PeriodStats, error)
}

// Handler serves the ingestion and query endpoints.
type Handler struct {
	recorder SessionRecorder
	battery  BatteryRecorder
	stats    StatsQuerier
	zone     localtime.Zone
	clock    clock.Clock
	logger   zerolog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(recorder SessionRecorder, battery BatteryRecorder, querier StatsQuerier, zone localtime.Zone, clk clock.Clock, logger zerolog.Logger) *Handler {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Handler{
		recorder: recorder,
		battery:  battery,
		stats:    querier,
		zone:     zone,
		clock:    clk,
		logger:   logger.With().Str("handler", "api").Logger(),
	}
}

type batteryRequest struct {
	DeviceID string `json:"device_id"`
	Level    *int   `json:"level"`
	Charging bool   `json:"charging"`
}

type usageRequest struct {
	DeviceID   string     `json:"device_id"`
	AppName    string     `json:"app_name"`
	Running    *bool      `json:"running"`
	ObservedAt *time.Time `json:"observed_at"`
}

// RecordBattery ingests a battery sample.
func (h *Handler) RecordBattery(w http.ResponseWriter, r *http.Request) {
	var req batteryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Level == nil {
		writeError(w, http.StatusBadRequest, "level is required")
		return
	}

	if err := h.battery.RecordBattery(r.Context(), req.DeviceID, *req.Level, req.Charging); err != nil {
		writeServiceError(w, h.logger, err, "record battery state")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "recorded"})
}

// RecordUsage ingests an app-state event.
func (h *Handler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	var req usageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	sw := usage.AppSwitch{
		DeviceID: req.DeviceID,
		AppName:  req.AppName,
		Running:  req.Running,
	}
	if req.ObservedAt != nil {
		sw.ObservedAt = *req.ObservedAt
	}

	if err := h.recorder.RecordUsage(r.Context(), sw); err != nil {
		writeServiceError(w, h.logger, err, "record usage")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "recorded"})
}

// ListDevices returns every known device.
func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.stats.Devices(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "list devices")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"devices": devices,
		"count":   len(devices),
	})
}

// LatestBattery returns the device's battery state, null when unknown.
func (h *Handler) LatestBattery(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := singleDevice(w, r)
	if !ok {
		return
	}

	state, err := h.battery.LatestBattery(r.Context(), deviceID)
	if err != nil {
		writeServiceError(w, h.logger, err, "load battery state")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"device_id": deviceID,
		"battery":   state,
	})
}

// RecentSwitches returns the device's recent app-state events.
func (h *Handler) RecentSwitches(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := singleDevice(w, r)
	if !ok {
		return
	}

	switches := h.recorder.RecentSwitches(deviceID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"device_id": deviceID,
		"switches":  switches,
		"count":     len(switches),
	})
}

// DailyStats returns a day's stats; date defaults to today.
func (h *Handler) DailyStats(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["device"]
	date := r.URL.Query().Get("date")
	if date == "" {
		date = h.zone.Date(h.clock.Now())
	}

	var (
		day stats.DailyStats
		err error
	)
	if deviceID == AllDevices {
		day, err = h.stats.DailyStatsAllDevices(r.Context(), date)
	} else {
		day, err = h.stats.DailyStats(r.Context(), deviceID, date)
	}
	if err != nil {
		writeServiceError(w, h.logger, err, "compute daily stats")
		return
	}

	writeJSON(w, http.StatusOK, day)
}

// WeeklyStats returns Monday-based week stats.
func (h *Handler) WeeklyStats(w http.ResponseWriter, r *http.Request) {
	h.periodStats(w, r, "weekly", h.stats.WeeklyAppStats, h.stats.WeeklyAppStatsAllDevices)
}

// MonthlyStats returns calendar month stats.
func (h *Handler) MonthlyStats(w http.ResponseWriter, r *http.Request) {
	h.periodStats(w, r, "monthly", h.stats.MonthlyAppStats, h.stats.MonthlyAppStatsAllDevices)
}

func (h *Handler) periodStats(
	w http.ResponseWriter,
	r *http.Request,
	name string,
	device func(ctx context.Context, deviceID, app string, offset int) (stats.PeriodStats, error),
	fleet func(ctx context.Context, app string, offset int) (stats.PeriodStats, error),
) {
	deviceID := mux.Vars(r)["device"]
	query := r.URL.Query()
	app := query.Get("app")

	offset := 0
	if offsetStr := query.Get("offset"); offsetStr != "" {
		n, err := strconv.Atoi(offsetStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "offset must be an integer")
			return
		}
		offset = n
	}

	var (
		period stats.PeriodStats
		err    error
	)
	if deviceID == AllDevices {
		period, err = fleet(r.Context(), app, offset)
	} else {
		period, err = device(r.Context(), deviceID, app, offset)
	}
	if err != nil {
		writeServiceError(w, h.logger, err, "compute "+name+" stats")
		return
	}

	writeJSON(w, http.StatusOK, period)
}

// singleDevice extracts the device path variable, rejecting the fleet
// sentinel on endpoints that serve one device.
func singleDevice(w http.ResponseWriter, r *http.Request) (string, bool) {
	deviceID := mux.Vars(r)["device"]
	if deviceID == AllDevices {
		writeError(w, http.StatusBadRequest, "device \"all\" is only valid for stats")
		return "", false
	}
	return deviceID, true
}
