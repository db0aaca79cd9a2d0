package settings

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// Watcher polls the store for version changes and reports changed keys.
type Watcher struct {
	store    *Store
	interval time.Duration
	last     map[string]int64
}

// NewWatcher creates a watcher. The current versions become the baseline,
// so only changes made after this call are reported.
func NewWatcher(store *Store, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	last, err := store.Versions()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read initial setting versions")
		last = make(map[string]int64)
	}
	return &Watcher{
		store:    store,
		interval: interval,
		last:     last,
	}
}

// Poll checks once and returns the keys changed since the previous poll.
func (w *Watcher) Poll() []string {
	changed, current, err := w.store.Changed(w.last)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to poll settings")
		return nil
	}
	w.last = current
	sort.Strings(changed)
	return changed
}

// Run polls until ctx is cancelled, calling onChange with each non-empty batch.
func (w *Watcher) Run(ctx context.Context, onChange func(keys []string)) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if keys := w.Poll(); len(keys) > 0 {
				log.Debug().Strs("keys", keys).Msg("Settings changed")
				onChange(keys)
			}
		}
	}
}

// RequiresReload reports whether any of keys is a user-facing preference.
// Internal keys written by the daemon itself never trigger a reload.
func RequiresReload(keys []string) bool {
	for _, k := range keys {
		if !IsInternal(k) {
			return true
		}
	}
	return false
}
