package stats

import (
	"context"
	"fmt"

	"github.com/goodtune/screentime/internal/storage"
	"github.com/goodtune/screentime/internal/usage"
)

// StoredSessions is a SessionSource over the open sessions persisted at one
// point in time. It serves processes that query storage without running a
// recorder.
type StoredSessions map[string]storage.OpenSession

// LoadStoredSessions reads every persisted open session.
func LoadStoredSessions(ctx context.Context, store storage.UsageStore) (StoredSessions, error) {
	sessions, err := store.ListOpenSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list open sessions: %w", usage.ErrStorage, err)
	}

	out := make(StoredSessions, len(sessions))
	for _, s := range sessions {
		out[s.DeviceID] = s
	}
	return out, nil
}

// OpenSession implements SessionSource.
func (s StoredSessions) OpenSession(deviceID string) (storage.OpenSession, bool) {
	session, ok := s[deviceID]
	return session, ok
}
