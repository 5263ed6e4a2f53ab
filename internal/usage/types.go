package usage

import (
	"time"
)

// AppSwitch is a raw app-state sample reported by a device.
type AppSwitch struct {
	DeviceID string
	AppName  string
	// Running is nil when the client omitted it, which means running.
	Running *bool
	// ObservedAt defaults to the ingestion time when zero.
	ObservedAt time.Time
}

// SwitchEvent is an accepted app-state event as kept in the recent-event buffer.
type SwitchEvent struct {
	AppName    string    `json:"app_name"`
	Running    bool      `json:"running"`
	ObservedAt time.Time `json:"observed_at"`
}

// Running returns a pointer to v, for building AppSwitch values.
func Running(v bool) *bool {
	return &v
}
