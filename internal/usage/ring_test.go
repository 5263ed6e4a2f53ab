package usage

import (
	"fmt"
	"testing"
)

func TestRingEvictsOldest(t *testing.T) {
	r := newRing(3)

	for i := 0; i < 5; i++ {
		r.push(SwitchEvent{AppName: fmt.Sprintf("app-%d", i)})
	}

	got := r.snapshot()
	want := []string{"app-2", "app-3", "app-4"}
	if len(got) != len(want) {
		t.Fatalf("Expected %d events, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].AppName != want[i] {
			t.Errorf("Event %d: expected %s, got %s", i, want[i], got[i].AppName)
		}
	}
}

func TestRingPartial(t *testing.T) {
	r := newRing(4)
	r.push(SwitchEvent{AppName: "a"})
	r.push(SwitchEvent{AppName: "b"})

	got := r.snapshot()
	if len(got) != 2 || got[0].AppName != "a" || got[1].AppName != "b" {
		t.Errorf("Expected [a b], got %+v", got)
	}
}

func TestRingDefaultCapacity(t *testing.T) {
	r := newRing(0)
	if len(r.buf) != DefaultRecentEventCapacity {
		t.Errorf("Expected capacity %d, got %d", DefaultRecentEventCapacity, len(r.buf))
	}
	if got := r.snapshot(); len(got) != 0 {
		t.Errorf("Expected empty snapshot, got %d events", len(got))
	}
}
