package usage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goodtune/screentime/internal/clock"
	"github.com/goodtune/screentime/internal/localtime"
	"github.com/goodtune/screentime/internal/metrics"
	"github.com/goodtune/screentime/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultRecentEventCapacity is the per-device recent-event buffer size.
const DefaultRecentEventCapacity = 100

// CommitHook is called after a transition was committed for a device.
// Derived results covering instants at or after since may be stale.
type CommitHook func(deviceID string, since time.Time)

// Config holds recorder configuration
type Config struct {
	Zone                localtime.Zone
	RecentEventCapacity int
	WriteRetries        int
	Clock               clock.Clock
}

// Recorder reconstructs usage sessions from app-state events and commits
// their durations to durable day counters. It is the only writer of
// counters and open-session state.
type Recorder struct {
	store    storage.UsageStore
	devices  storage.DeviceStore
	zone     localtime.Zone
	clock    clock.Clock
	capacity int
	retries  int
	logger   zerolog.Logger

	mu       sync.RWMutex
	registry map[string]*deviceRecord

	hooksMu sync.RWMutex
	hooks   []CommitHook
}

// deviceRecord is the session reconstruction state of one device.
type deviceRecord struct {
	// mu serializes events for the device, including their durable commit.
	mu sync.Mutex

	// open is the published open-session snapshot, read without mu.
	open atomic.Pointer[storage.OpenSession]

	// registered is set once the device is in the durable directory.
	registered atomic.Bool

	recentMu sync.Mutex
	recent   *ring
}

// NewRecorder creates a new session recorder
func NewRecorder(store storage.UsageStore, devices storage.DeviceStore, config Config, logger zerolog.Logger) *Recorder {
	if config.RecentEventCapacity <= 0 {
		config.RecentEventCapacity = DefaultRecentEventCapacity
	}
	if config.WriteRetries < 0 {
		config.WriteRetries = DefaultWriteRetries
	}
	if config.Clock == nil {
		config.Clock = clock.RealClock{}
	}

	return &Recorder{
		store:    store,
		devices:  devices,
		zone:     config.Zone,
		clock:    config.Clock,
		capacity: config.RecentEventCapacity,
		retries:  config.WriteRetries,
		logger:   logger.With().Str("component", "session-recorder").Logger(),
		registry: make(map[string]*deviceRecord),
	}
}

// OnCommit registers a hook run after every committed transition.
func (r *Recorder) OnCommit(hook CommitHook) {
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// Restore loads open sessions persisted by a previous process.
func (r *Recorder) Restore(ctx context.Context) error {
	sessions, err := r.store.ListOpenSessions(ctx)
	if err != nil {
		return storageError("list open sessions", err)
	}

	for i := range sessions {
		session := sessions[i]
		rec := r.device(session.DeviceID)
		rec.open.Store(&session)
		rec.registered.Store(true)
	}
	metrics.OpenSessions.Set(float64(len(sessions)))

	r.logger.Info().Int("open_sessions", len(sessions)).Msg("Restored open sessions")
	return nil
}

// RecordUsage applies one app-state event to its device.
func (r *Recorder) RecordUsage(ctx context.Context, sw AppSwitch) error {
	running := sw.Running == nil || *sw.Running
	appName := strings.TrimSpace(sw.AppName)

	if err := validateDeviceID(sw.DeviceID); err != nil {
		metrics.EventsIngested.WithLabelValues("usage", "invalid").Inc()
		return err
	}
	if running && appName == "" {
		metrics.EventsIngested.WithLabelValues("usage", "invalid").Inc()
		return invalidInputf("app_name is required unless running is false")
	}

	observedAt := sw.ObservedAt
	if observedAt.IsZero() {
		observedAt = r.clock.Now()
	}

	ev := SwitchEvent{
		AppName:    appName,
		Running:    running,
		ObservedAt: observedAt,
	}

	rec := r.device(sw.DeviceID)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.pushRecent(ev)

	current := rec.open.Load()
	st := resolve(sw.DeviceID, current, ev, uuid.NewString)

	if st.kind == stepNoop {
		r.logger.Debug().
			Str("device_id", sw.DeviceID).
			Str("app", appName).
			Bool("running", running).
			Msg("Event does not change session state")
		metrics.EventsIngested.WithLabelValues("usage", "noop").Inc()
		return r.ensureRegistered(ctx, sw.DeviceID, rec)
	}

	tx := storage.Transition{DeviceID: sw.DeviceID, Open: st.next}
	if st.closing != nil {
		tx.Deltas = Bucketize(r.zone, sw.DeviceID, st.closing.AppName, st.closing.StartedAt, st.endedAt)
	}

	// The in-memory transition is applied only once the commit succeeded
	err := withRetry(ctx, r.logger, "commit_transition", r.retries, func() error {
		return r.store.Commit(ctx, tx)
	})
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("device_id", sw.DeviceID).
			Str("step", st.kind.String()).
			Msg("Failed to commit session transition")
		metrics.EventsIngested.WithLabelValues("usage", "error").Inc()
		return storageError("commit session transition", err)
	}

	rec.open.Store(st.next)
	rec.registered.Store(true)
	metrics.EventsIngested.WithLabelValues("usage", st.kind.String()).Inc()

	switch {
	case current == nil && st.next != nil:
		metrics.OpenSessions.Inc()
	case current != nil && st.next == nil:
		metrics.OpenSessions.Dec()
	}

	since := ev.ObservedAt
	if st.closing != nil {
		r.logClosed(sw.DeviceID, st.closing, st.endedAt, tx.Deltas)
		if st.closing.StartedAt.Before(since) {
			since = st.closing.StartedAt
		}
	}
	if st.next != nil {
		r.logger.Info().
			Str("session_id", st.next.ID).
			Str("device_id", sw.DeviceID).
			Str("app", st.next.AppName).
			Time("started_at", st.next.StartedAt).
			Msg("Started usage session")
	}

	r.notify(sw.DeviceID, since)
	return nil
}

func (r *Recorder) logClosed(deviceID string, session *storage.OpenSession, endedAt time.Time, deltas []storage.DayCounters) {
	millis := totalMillis(deltas)

	metrics.SessionsClosed.Inc()
	metrics.UsageSecondsRecorded.WithLabelValues(deviceID).Add(float64(millis) / 1000)

	if endedAt.Before(session.StartedAt) {
		r.logger.Warn().
			Str("session_id", session.ID).
			Str("device_id", deviceID).
			Time("started_at", session.StartedAt).
			Time("ended_at", endedAt).
			Msg("Session ended before it started, duration clamped to zero")
	}

	r.logger.Info().
		Str("session_id", session.ID).
		Str("device_id", deviceID).
		Str("app", session.AppName).
		Int64("duration_ms", millis).
		Int("days", len(deltas)).
		Msg("Closed usage session")
}

func (r *Recorder) ensureRegistered(ctx context.Context, deviceID string, rec *deviceRecord) error {
	if rec.registered.Load() {
		return nil
	}

	err := withRetry(ctx, r.logger, "register_device", r.retries, func() error {
		return r.devices.Register(ctx, deviceID)
	})
	if err != nil {
		r.logger.Error().Err(err).Str("device_id", deviceID).Msg("Failed to register device")
		return storageError("register device", err)
	}

	rec.registered.Store(true)
	return nil
}

func (r *Recorder) notify(deviceID string, since time.Time) {
	r.hooksMu.RLock()
	defer r.hooksMu.RUnlock()
	for _, hook := range r.hooks {
		hook(deviceID, since)
	}
}

// OpenSession returns a snapshot of the device's open session. It never
// waits for in-flight ingestion on the device.
func (r *Recorder) OpenSession(deviceID string) (storage.OpenSession, bool) {
	rec := r.lookup(deviceID)
	if rec == nil {
		return storage.OpenSession{}, false
	}

	session := rec.open.Load()
	if session == nil {
		return storage.OpenSession{}, false
	}
	return *session, true
}

// RecentSwitches returns the device's recent events, oldest first.
func (r *Recorder) RecentSwitches(deviceID string) []SwitchEvent {
	rec := r.lookup(deviceID)
	if rec == nil {
		return []SwitchEvent{}
	}

	rec.recentMu.Lock()
	defer rec.recentMu.Unlock()
	return rec.recent.snapshot()
}

// KnownDevices returns every device whose events reached durable storage.
func (r *Recorder) KnownDevices() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.registry))
	for id, rec := range r.registry {
		if rec.registered.Load() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (r *Recorder) lookup(deviceID string) *deviceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.registry[deviceID]
}

// device returns the record for deviceID, creating it on first use.
func (r *Recorder) device(deviceID string) *deviceRecord {
	if rec := r.lookup(deviceID); rec != nil {
		return rec
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.registry[deviceID]; ok {
		return rec
	}
	rec := &deviceRecord{recent: newRing(r.capacity)}
	r.registry[deviceID] = rec
	return rec
}

func (rec *deviceRecord) pushRecent(ev SwitchEvent) {
	rec.recentMu.Lock()
	defer rec.recentMu.Unlock()
	rec.recent.push(ev)
}

// maxDeviceIDLength bounds device identifiers, which end up in storage keys.
const maxDeviceIDLength = 128

func validateDeviceID(deviceID string) error {
	if strings.TrimSpace(deviceID) == "" {
		return invalidInputf("device_id is required")
	}
	if len(deviceID) > maxDeviceIDLength {
		return invalidInputf("device_id exceeds %d characters", maxDeviceIDLength)
	}
	return nil
}
