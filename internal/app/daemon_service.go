package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/sunddc/internal/config"
	"github.com/dokzlo13/sunddc/internal/daemon"
	"github.com/dokzlo13/sunddc/internal/ddc"
	"github.com/dokzlo13/sunddc/internal/geo"
	"github.com/dokzlo13/sunddc/internal/ledger"
	"github.com/dokzlo13/sunddc/internal/monitor"
	"github.com/dokzlo13/sunddc/internal/settings"
	"github.com/dokzlo13/sunddc/internal/trigger"
)

// DaemonService owns the running daemon handle and reinitializes it when
// user preferences change.
type DaemonService struct {
	cfg         *config.Config
	store       *settings.Store
	control     *ddc.Client
	recorder    ledger.Recorder
	refresher   *geo.Refresher
	refreshSpec cron.Schedule

	mu      sync.Mutex
	handle  *daemon.Handle
	stopped bool
	reloads int

	stopBackground context.CancelFunc
	background     sync.WaitGroup
}

// NewDaemonService creates the service. The refresh cron expression is
// validated here so a typo fails at startup.
func NewDaemonService(cfg *config.Config, store *settings.Store, control *ddc.Client, recorder ledger.Recorder, refresher *geo.Refresher) (*DaemonService, error) {
	spec, err := trigger.ParseRefreshSpec(cfg.Refresh.Cron)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh cron %q: %w", cfg.Refresh.Cron, err)
	}
	return &DaemonService{
		cfg:         cfg,
		store:       store,
		control:     control,
		recorder:    recorder,
		refresher:   refresher,
		refreshSpec: spec,
	}, nil
}

// Start launches the daemon, the settings watcher and, when the locator
// supports it, the location follower.
func (s *DaemonService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.startLocked(ctx); err != nil {
		return err
	}

	watcher := settings.NewWatcher(s.store, s.cfg.Changes.PollInterval.Duration())
	bctx, cancel := context.WithCancel(ctx)
	s.stopBackground = cancel

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		watcher.Run(bctx, func(keys []string) { s.onChange(bctx, keys) })
	}()

	if s.refresher != nil {
		s.background.Add(1)
		go func() {
			defer s.background.Done()
			if err := s.refresher.Follow(bctx); err != nil {
				log.Warn().Err(err).Msg("Stopped following location updates")
			}
		}()
	}
	return nil
}

// Stop shuts the daemon down for good, resetting monitors if the user asked
// for it.
func (s *DaemonService) Stop() {
	// The watcher takes the lock on reload, so it is stopped first
	if s.stopBackground != nil {
		s.stopBackground()
	}
	s.background.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true
	if s.handle != nil {
		s.handle.Shutdown(true)
		s.handle = nil
	}
}

// Running reports whether a daemon handle is alive.
func (s *DaemonService) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == nil {
		return false
	}
	select {
	case <-s.handle.Done():
		return false
	default:
		return true
	}
}

// Active reports whether a transition is in progress.
func (s *DaemonService) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle != nil && s.handle.Active()
}

func (s *DaemonService) onChange(ctx context.Context, keys []string) {
	if settings.RequiresReload(keys) {
		log.Info().Strs("keys", keys).Msg("Preferences changed, reinitializing")
		notify(stateReloading)
		if err := s.Reload(ctx); err != nil {
			log.Error().Err(err).Msg("Reinitialization failed")
		}
		notify(stateReady)
		return
	}

	sched, err := s.store.Snapshot()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read preferences")
		return
	}

	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	if h != nil {
		h.Update(sched)
	}
}

// Reload stops the running daemon without resetting monitors and starts a
// new one from a fresh preference snapshot.
func (s *DaemonService) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	if s.handle != nil {
		s.handle.Shutdown(false)
		s.handle = nil
	}
	s.reloads++
	return s.startLocked(ctx)
}

func (s *DaemonService) startLocked(ctx context.Context) error {
	sched, err := s.store.Snapshot()
	if err != nil {
		return fmt.Errorf("failed to read preferences: %w", err)
	}

	disabled := sched.DisabledMonitors
	registry := monitor.NewRegistry(s.control, func() []string { return disabled })

	var refresh func(context.Context) error
	now := time.Now
	if s.refresher != nil {
		refresh = s.refresher.Refresh
		now = s.refresher.Now
	}

	var hotplug time.Duration
	if s.cfg.DDC.Hotplug.IsEnabled() {
		hotplug = s.cfg.DDC.Hotplug.Interval.Duration()
	}

	// The handle lives until Shutdown; cancelling the app context must not
	// skip the reset on exit.
	s.handle = daemon.Start(context.WithoutCancel(ctx), daemon.Deps{
		Schedule:         sched,
		Control:          s.control,
		Scanner:          registry,
		Recorder:         s.recorder,
		Refresh:          refresh,
		RefreshSchedule:  s.refreshSpec,
		RefreshOnStartup: s.cfg.Refresh.IsOnStartup(),
		Now:              now,
		HotplugInterval:  hotplug,
		HotplugSettle:    s.cfg.DDC.Hotplug.Settle.Duration(),
	})
	return nil
}
