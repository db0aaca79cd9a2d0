// Package daemon runs the brightness scheduler: one goroutine owns the
// transition engine and the trigger loop, so trigger checks and transition
// steps never interleave.
package daemon

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/sunddc/internal/ddc"
	"github.com/dokzlo13/sunddc/internal/ledger"
	"github.com/dokzlo13/sunddc/internal/settings"
	"github.com/dokzlo13/sunddc/internal/transition"
	"github.com/dokzlo13/sunddc/internal/trigger"
)

const (
	// DefaultInitialDelay is the wait before the first trigger check.
	DefaultInitialDelay = 2 * time.Second
	// DefaultHotplugSettle is the wait between a change of the monitor set
	// and the trigger check it causes.
	DefaultHotplugSettle = 4 * time.Second
	resetTimeout         = 30 * time.Second
)

// Control is the control channel the daemon drives.
type Control interface {
	transition.Channel
	Available() bool
}

// Deps are the collaborators of one daemon instance.
type Deps struct {
	Schedule settings.Schedule
	Control  Control
	Scanner  transition.Scanner
	Recorder ledger.Recorder

	// Refresh updates the cached sun times. It runs on its own goroutine.
	Refresh          func(ctx context.Context) error
	RefreshSchedule  cron.Schedule
	RefreshOnStartup bool

	// HotplugInterval is how often the monitor set is re-detected. Zero
	// disables hotplug detection.
	HotplugInterval time.Duration
	HotplugSettle   time.Duration

	// Optional, for tests
	NewTicker    transition.TickerFunc
	Now          func() time.Time
	InitialDelay time.Duration
}

// Handle controls one running daemon. A reload is Shutdown(false) followed by
// a new Start.
type Handle struct {
	cancel  context.CancelFunc
	done    chan struct{}
	updates chan settings.Schedule

	reset    atomic.Bool
	active   atomic.Bool
	stopOnce sync.Once
	refresh  sync.WaitGroup

	// Owned by the run goroutine
	sched     settings.Schedule
	control   Control
	scanner   transition.Scanner
	available bool
	engine    *transition.Engine
	loop      *trigger.Loop
	newTicker transition.TickerFunc
	now       func() time.Time
	delay     time.Duration

	hotplug  time.Duration
	settle   time.Duration
	attached []ddc.MonitorID
	baseline bool
}

// Start launches the daemon goroutine and returns its handle.
func Start(ctx context.Context, deps Deps) *Handle {
	ctx, cancel := context.WithCancel(ctx)

	newTicker := deps.NewTicker
	if newTicker == nil {
		newTicker = transition.NewTimeTicker
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	delay := deps.InitialDelay
	if delay <= 0 {
		delay = DefaultInitialDelay
	}
	settle := deps.HotplugSettle
	if settle <= 0 {
		settle = DefaultHotplugSettle
	}

	h := &Handle{
		cancel:    cancel,
		done:      make(chan struct{}),
		updates:   make(chan settings.Schedule),
		sched:     deps.Schedule,
		control:   deps.Control,
		scanner:   deps.Scanner,
		newTicker: newTicker,
		now:       now,
		delay:     delay,
		hotplug:   deps.HotplugInterval,
		settle:    settle,
	}

	h.engine = transition.New(deps.Control, deps.Scanner, transition.Options{
		StepDelay: deps.Schedule.StepDelay,
		Max:       deps.Schedule.SunriseTarget,
		Min:       deps.Schedule.SunsetTarget,
	}, newTicker, deps.Recorder)

	available := deps.Control.Available()
	h.available = available
	if deps.Schedule.Enabled && !available {
		log.Error().Msg("DDC control tool unavailable, brightness scheduling is inert until reload")
	}

	var onRefresh func()
	if deps.Refresh != nil {
		onRefresh = func() { h.spawnRefresh(ctx, deps.Refresh) }
	}
	h.loop = trigger.New(deps.Schedule, h.engine, available, deps.RefreshSchedule, onRefresh)

	if deps.Schedule.Enabled && deps.RefreshOnStartup && onRefresh != nil {
		onRefresh()
	}

	log.Info().
		Bool("enabled", deps.Schedule.Enabled).
		Bool("automatic_location", deps.Schedule.UseAutomaticLocation).
		Int("max", deps.Schedule.SunriseTarget).
		Int("min", deps.Schedule.SunsetTarget).
		Dur("step_delay", deps.Schedule.StepDelay).
		Msg("Daemon started")

	go h.run(ctx)
	return h
}

// Update hands new cached sun times to the trigger loop without a reload.
// It returns once the daemon goroutine has taken the snapshot.
func (h *Handle) Update(sched settings.Schedule) {
	select {
	case h.updates <- sched:
	case <-h.done:
	}
}

// Active reports whether a transition session is running.
func (h *Handle) Active() bool { return h.active.Load() }

// Done is closed once the daemon goroutine has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Shutdown stops the daemon and waits for it. With reset set and
// reset-on-exit enabled, every tracked monitor is written back to full
// brightness first. Reloads pass reset=false.
func (h *Handle) Shutdown(reset bool) {
	h.stopOnce.Do(func() {
		h.reset.Store(reset)
		h.cancel()
	})
	<-h.done
	h.refresh.Wait()
}

func (h *Handle) run(ctx context.Context) {
	defer close(h.done)

	minute := h.newTicker(trigger.Interval)
	defer minute.Stop()

	initial := time.NewTimer(h.delay)
	defer initial.Stop()

	var hotplug <-chan time.Time
	if h.hotplug > 0 {
		t := h.newTicker(h.hotplug)
		defer t.Stop()
		hotplug = t.C()
	}

	// Armed while a monitor set change waits to settle
	var settle *time.Timer
	var settled <-chan time.Time
	defer func() {
		if settle != nil {
			settle.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			h.finish()
			return

		case <-initial.C:
			h.loop.Check(ctx, h.now())

		case <-minute.C():
			h.loop.Tick(ctx, h.now())

		case <-h.engine.C():
			h.engine.Step(ctx)

		case <-hotplug:
			if h.monitorsChanged(ctx) {
				if settle == nil {
					settle = time.NewTimer(h.settle)
				} else {
					settle.Reset(h.settle)
				}
				settled = settle.C
			}

		case <-settled:
			settled = nil
			log.Info().Int("monitors", len(h.attached)).Msg("Monitor set changed, checking schedule")
			h.loop.Check(ctx, h.now())

		case sched := <-h.updates:
			h.sched.CachedSunrise = sched.CachedSunrise
			h.sched.CachedSunset = sched.CachedSunset
			h.loop.SetSchedule(h.sched)
			log.Debug().
				Str("sunrise", sched.CachedSunrise).
				Str("sunset", sched.CachedSunset).
				Msg("Cached sun times updated")
		}
		h.active.Store(h.engine.Active())
	}
}

// monitorsChanged re-detects the monitors and reports whether a monitor
// appeared or went away since the last poll. The first poll only records the
// set. Detection is skipped while it could not lead to a new session.
func (h *Handle) monitorsChanged(ctx context.Context) bool {
	if !h.sched.Enabled || !h.available || h.engine.Active() {
		return false
	}

	ids := h.scanner.Scan(ctx)
	changed := h.baseline && !sameMonitors(h.attached, ids)
	h.attached = ids
	h.baseline = true

	// Losing every monitor gives nothing to catch up
	return changed && len(ids) > 0
}

func sameMonitors(a, b []ddc.MonitorID) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[ddc.MonitorID]bool, len(a))
	for _, id := range a {
		seen[id] = true
	}
	for _, id := range b {
		if !seen[id] {
			return false
		}
	}
	return true
}

func (h *Handle) finish() {
	h.engine.Stop()
	h.active.Store(false)

	if h.reset.Load() && h.sched.ResetOnExit && h.control.Available() {
		// The run context is already cancelled
		ctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
		defer cancel()
		log.Info().Int("monitors", h.engine.Monitors().Len()).Msg("Resetting monitors to full brightness")
		h.engine.ResetAll(ctx)
	}

	log.Info().Msg("Daemon stopped")
}

func (h *Handle) spawnRefresh(ctx context.Context, refresh func(context.Context) error) {
	h.refresh.Add(1)
	go func() {
		defer h.refresh.Done()
		// Failures are logged and stored by the refresher
		_ = refresh(ctx)
	}()
}
