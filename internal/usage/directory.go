package usage

import (
	"context"
	"sort"

	"github.com/goodtune/screentime/internal/storage"
)

// Directory lists every device seen by the battery tracker or the session
// recorder.
type Directory struct {
	store    storage.DeviceStore
	recorder *Recorder
}

// NewDirectory creates a device directory. recorder may be nil.
func NewDirectory(store storage.DeviceStore, recorder *Recorder) *Directory {
	return &Directory{store: store, recorder: recorder}
}

// Devices returns the sorted device IDs.
func (d *Directory) Devices(ctx context.Context) ([]string, error) {
	stored, err := d.store.List(ctx)
	if err != nil {
		return nil, storageError("list devices", err)
	}

	seen := make(map[string]struct{}, len(stored))
	ids := make([]string, 0, len(stored))
	for _, id := range stored {
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	// Restored devices may predate the directory set.
	if d.recorder != nil {
		for _, id := range d.recorder.KnownDevices() {
			if _, ok := seen[id]; !ok {
				ids = append(ids, id)
			}
		}
	}

	sort.Strings(ids)
	return ids, nil
}
