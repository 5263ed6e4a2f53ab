package usage

// ring is a fixed-capacity FIFO of recent events. Once full, each push
// overwrites the oldest entry.
type ring struct {
	buf   []SwitchEvent
	start int
	size  int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = DefaultRecentEventCapacity
	}
	return &ring{buf: make([]SwitchEvent, capacity)}
}

func (r *ring) push(ev SwitchEvent) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = ev
		r.size++
		return
	}
	r.buf[r.start] = ev
	r.start = (r.start + 1) % len(r.buf)
}

// snapshot copies the contents, oldest first.
func (r *ring) snapshot() []SwitchEvent {
	out := make([]SwitchEvent, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
