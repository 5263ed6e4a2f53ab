package usage

import (
	"time"

	"github.com/goodtune/screentime/internal/storage"
)

// stepKind names the outcome of applying one event to a device's session
// state machine. A device is either in NoSession or Open(app, startedAt).
type stepKind int

const (
	// stepNoop covers a duplicate start for the open app and a stop that
	// matches no open session.
	stepNoop stepKind = iota
	// stepOpen starts a session from NoSession.
	stepOpen
	// stepClose ends the open session and returns to NoSession.
	stepClose
	// stepSwitch ends the open session and starts one for another app.
	stepSwitch
)

func (k stepKind) String() string {
	switch k {
	case stepOpen:
		return "open"
	case stepClose:
		return "close"
	case stepSwitch:
		return "switch"
	default:
		return "noop"
	}
}

// step is the resolved transition for one event.
type step struct {
	kind stepKind
	// closing is the session that ends at endedAt, if any.
	closing *storage.OpenSession
	endedAt time.Time
	// next is the open session after the step, nil for NoSession.
	next *storage.OpenSession
}

// resolve is the single resolution path for every event. current is the
// open session before the event, nil when none is open.
func resolve(deviceID string, current *storage.OpenSession, ev SwitchEvent, newID func() string) step {
	if !ev.Running {
		if current != nil && current.AppName == ev.AppName {
			return step{kind: stepClose, closing: current, endedAt: ev.ObservedAt}
		}
		return step{kind: stepNoop, next: current}
	}

	if current != nil && current.AppName == ev.AppName {
		return step{kind: stepNoop, next: current}
	}

	next := &storage.OpenSession{
		ID:        newID(),
		DeviceID:  deviceID,
		AppName:   ev.AppName,
		StartedAt: ev.ObservedAt,
	}
	if current == nil {
		return step{kind: stepOpen, next: next}
	}
	return step{kind: stepSwitch, closing: current, endedAt: ev.ObservedAt, next: next}
}
