package usage

import (
	"testing"
	"time"

	"github.com/goodtune/screentime/internal/storage"
)

func TestResolve(t *testing.T) {
	t0 := time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(15 * time.Minute)

	open := &storage.OpenSession{ID: "s1", DeviceID: "phone", AppName: "Maps", StartedAt: t0}
	newID := func() string { return "s2" }

	tests := []struct {
		name        string
		current     *storage.OpenSession
		event       SwitchEvent
		wantKind    stepKind
		wantClosing bool
		wantNextApp string
	}{
		{
			name:        "start with no session opens",
			event:       SwitchEvent{AppName: "Maps", Running: true, ObservedAt: t1},
			wantKind:    stepOpen,
			wantNextApp: "Maps",
		},
		{
			name:     "stop with no session is a noop",
			event:    SwitchEvent{AppName: "Maps", Running: false, ObservedAt: t1},
			wantKind: stepNoop,
		},
		{
			name:        "stop for the open app closes",
			current:     open,
			event:       SwitchEvent{AppName: "Maps", Running: false, ObservedAt: t1},
			wantKind:    stepClose,
			wantClosing: true,
		},
		{
			name:        "stop for another app keeps the session",
			current:     open,
			event:       SwitchEvent{AppName: "Mail", Running: false, ObservedAt: t1},
			wantKind:    stepNoop,
			wantNextApp: "Maps",
		},
		{
			name:        "start for the open app keeps the session",
			current:     open,
			event:       SwitchEvent{AppName: "Maps", Running: true, ObservedAt: t1},
			wantKind:    stepNoop,
			wantNextApp: "Maps",
		},
		{
			name:        "start for another app switches",
			current:     open,
			event:       SwitchEvent{AppName: "Mail", Running: true, ObservedAt: t1},
			wantKind:    stepSwitch,
			wantClosing: true,
			wantNextApp: "Mail",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := resolve("phone", tt.current, tt.event, newID)

			if st.kind != tt.wantKind {
				t.Fatalf("Expected %s, got %s", tt.wantKind, st.kind)
			}
			if (st.closing != nil) != tt.wantClosing {
				t.Fatalf("Expected closing=%v, got %+v", tt.wantClosing, st.closing)
			}
			if tt.wantClosing && !st.endedAt.Equal(t1) {
				t.Errorf("Expected session to end at %v, got %v", t1, st.endedAt)
			}

			if tt.wantNextApp == "" {
				if st.next != nil {
					t.Errorf("Expected no open session, got %+v", st.next)
				}
				return
			}
			if st.next == nil || st.next.AppName != tt.wantNextApp {
				t.Fatalf("Expected open session for %s, got %+v", tt.wantNextApp, st.next)
			}
		})
	}
}

func TestResolveSameAppKeepsStart(t *testing.T) {
	t0 := time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)
	open := &storage.OpenSession{ID: "s1", DeviceID: "phone", AppName: "Maps", StartedAt: t0}

	st := resolve("phone", open, SwitchEvent{AppName: "Maps", Running: true, ObservedAt: t0.Add(time.Hour)}, func() string {
		t.Fatal("Expected no new session ID to be generated")
		return ""
	})

	if st.next != open {
		t.Errorf("Expected the open session to be kept unchanged")
	}
}

func TestResolveNewSession(t *testing.T) {
	t0 := time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)

	st := resolve("phone", nil, SwitchEvent{AppName: "Maps", Running: true, ObservedAt: t0}, func() string { return "abc" })

	want := storage.OpenSession{ID: "abc", DeviceID: "phone", AppName: "Maps", StartedAt: t0}
	if *st.next != want {
		t.Errorf("Expected %+v, got %+v", want, *st.next)
	}
}
