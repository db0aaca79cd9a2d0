// Package transition moves monitor brightness toward a target in small steps.
//
// An Engine is not safe for concurrent use. The daemon drives it from a single
// goroutine: Start when a trigger fires, Step on every value received from C.
package transition

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/sunddc/internal/ddc"
	"github.com/dokzlo13/sunddc/internal/ledger"
	"github.com/dokzlo13/sunddc/internal/metrics"
)

const (
	// StepSize is the brightness change per monitor per tick.
	StepSize = 5
	// DesyncThreshold is the largest drift from the last known value that is
	// still attributed to the engine itself.
	DesyncThreshold = 10
	// ResetBrightness is written to every tracked monitor on reset.
	ResetBrightness = 100
)

// Direction of a transition.
type Direction int

const (
	Brightening Direction = iota
	Dimming
)

func (d Direction) String() string {
	if d == Dimming {
		return "dimming"
	}
	return "brightening"
}

// State of the engine.
type State int

const (
	Idle State = iota
	Scanning
	Stepping
)

func (s State) String() string {
	switch s {
	case Scanning:
		return "scanning"
	case Stepping:
		return "stepping"
	default:
		return "idle"
	}
}

// Channel reads and writes monitor brightness.
type Channel interface {
	Read(ctx context.Context, id ddc.MonitorID) (int, error)
	Write(ctx context.Context, id ddc.MonitorID, value int) error
}

// Scanner lists the monitors that take part in a session.
type Scanner interface {
	Scan(ctx context.Context) []ddc.MonitorID
}

// Options configure an engine.
type Options struct {
	StepDelay time.Duration
	Max       int // target when brightening
	Min       int // target when dimming
}

// Engine is the step-wise brightness convergence loop.
type Engine struct {
	channel   Channel
	scanner   Scanner
	recorder  ledger.Recorder
	newTicker TickerFunc
	opts      Options

	state     State
	direction Direction
	monitors  *MonitorState
	ticker    Ticker

	session   string
	source    string
	steps     int
	startedAt time.Time
}

// New creates an idle engine. A nil newTicker uses time.Ticker and a nil
// recorder discards history.
func New(channel Channel, scanner Scanner, opts Options, newTicker TickerFunc, recorder ledger.Recorder) *Engine {
	if opts.StepDelay < time.Second {
		opts.StepDelay = time.Second
	}
	if newTicker == nil {
		newTicker = NewTimeTicker
	}
	if recorder == nil {
		recorder = ledger.Nop{}
	}
	return &Engine{
		channel:   channel,
		scanner:   scanner,
		recorder:  recorder,
		newTicker: newTicker,
		opts:      opts,
		monitors:  NewMonitorState(),
	}
}

// State returns the current state.
func (e *Engine) State() State { return e.state }

// Active reports whether a session is running.
func (e *Engine) Active() bool { return e.state != Idle }

// Direction returns the direction of the current or last session.
func (e *Engine) Direction() Direction { return e.direction }

// Monitors exposes the last known brightness per monitor.
func (e *Engine) Monitors() *MonitorState { return e.monitors }

// C returns the tick channel of the running session, or nil when idle.
// Receiving from a nil channel blocks forever, so callers can select on it
// unconditionally.
func (e *Engine) C() <-chan time.Time {
	if e.ticker == nil {
		return nil
	}
	return e.ticker.C()
}

// Start begins a new session. A running session is superseded: its ticker is
// stopped and its monitor history is kept, so already tracked monitors are not
// read again.
func (e *Engine) Start(ctx context.Context, dir Direction, source string) {
	if e.ticker != nil {
		e.stopTicker()
		e.record(ledger.EventTransitionSuperseded, map[string]any{"by": dir.String()})
		metrics.SessionFinished("superseded")
	}

	e.state = Scanning
	e.direction = dir
	e.session = uuid.NewString()
	e.source = source
	e.steps = 0
	e.startedAt = time.Now()

	ids := e.scanner.Scan(ctx)
	e.monitors.Retain(ids)

	for _, id := range ids {
		if e.monitors.Has(id) {
			continue
		}
		value, err := e.channel.Read(ctx, id)
		if err != nil {
			if errors.Is(err, ddc.ErrToolUnavailable) {
				e.abort(err)
				return
			}
			log.Debug().Err(err).Str("display", string(id)).Msg("Could not seed monitor brightness, skipping")
			continue
		}
		e.monitors.Set(id, value)
	}
	metrics.SetTracked(e.monitors.Len())

	e.ticker = e.newTicker(e.opts.StepDelay)
	e.state = Stepping
	metrics.SetActive(true)

	log.Info().
		Str("session", e.session).
		Str("direction", dir.String()).
		Str("source", source).
		Int("monitors", e.monitors.Len()).
		Int("target", e.target()).
		Dur("step_delay", e.opts.StepDelay).
		Msg("Transition started")

	e.record(ledger.EventTransitionStarted, map[string]any{
		"direction": dir.String(),
		"target":    e.target(),
		"monitors":  e.monitors.Len(),
	})
}

// Step runs one tick: every tracked monitor moves one step toward the target.
// It returns false when no monitor had work left, in which case the session
// has ended and the engine is idle.
func (e *Engine) Step(ctx context.Context) bool {
	if e.state != Stepping {
		return false
	}

	target := e.target()
	worked := false

	for _, id := range e.monitors.IDs() {
		current, err := e.channel.Read(ctx, id)
		if err != nil {
			if errors.Is(err, ddc.ErrToolUnavailable) {
				e.abort(err)
				return false
			}
			log.Debug().Err(err).Str("display", string(id)).Msg("Brightness read failed, skipping monitor this tick")
			continue
		}

		last, _ := e.monitors.Get(id)
		if abs(current-last) > DesyncThreshold {
			metrics.DesyncSkip()
			log.Debug().
				Str("display", string(id)).
				Int("current", current).
				Int("last_known", last).
				Msg("Brightness changed externally, leaving monitor alone")
			continue
		}

		next, ok := NextValue(current, target, e.direction)
		if !ok {
			continue
		}

		if err := e.channel.Write(ctx, id, next); err != nil {
			if errors.Is(err, ddc.ErrToolUnavailable) {
				e.abort(err)
				return false
			}
			log.Debug().Err(err).Str("display", string(id)).Int("value", next).Msg("Brightness write failed")
		}

		e.monitors.Set(id, next)
		worked = true
		metrics.Step()
	}

	if !worked {
		e.complete()
		return false
	}

	e.steps++
	return true
}

// Stop ends the running session, if any, without touching the monitors.
func (e *Engine) Stop() {
	if e.ticker == nil && e.state == Idle {
		return
	}
	e.stopTicker()
	e.state = Idle
	metrics.SetActive(false)
	metrics.SessionFinished("cancelled")
	e.record(ledger.EventTransitionCancelled, map[string]any{"steps": e.steps})
}

// ResetAll writes ResetBrightness to every tracked monitor. Failures are ignored.
func (e *Engine) ResetAll(ctx context.Context) {
	for _, id := range e.monitors.IDs() {
		if err := e.channel.Write(ctx, id, ResetBrightness); err != nil {
			log.Debug().Err(err).Str("display", string(id)).Msg("Reset write failed")
		}
	}
}

// NextValue returns the next brightness on the way from current to target,
// never overshooting. ok is false when current is already at or past target
// in the direction of travel.
func NextValue(current, target int, dir Direction) (next int, ok bool) {
	if dir == Brightening {
		if current >= target {
			return current, false
		}
		return min(target, current+StepSize), true
	}

	if current <= target {
		return current, false
	}
	return max(target, current-StepSize), true
}

func (e *Engine) target() int {
	if e.direction == Brightening {
		return e.opts.Max
	}
	return e.opts.Min
}

func (e *Engine) complete() {
	e.stopTicker()
	e.state = Idle
	metrics.SetActive(false)
	metrics.SessionFinished("completed")

	log.Info().
		Str("session", e.session).
		Str("direction", e.direction.String()).
		Int("steps", e.steps).
		Dur("elapsed", time.Since(e.startedAt)).
		Msg("Transition completed")

	e.record(ledger.EventTransitionCompleted, map[string]any{
		"steps":   e.steps,
		"elapsed": time.Since(e.startedAt).String(),
	})
}

func (e *Engine) abort(err error) {
	e.stopTicker()
	e.state = Idle
	metrics.SetActive(false)
	metrics.SessionFinished("aborted")

	log.Warn().Err(err).Str("session", e.session).Msg("Transition aborted")
	e.record(ledger.EventTransitionAborted, map[string]any{"error": err.Error()})
}

func (e *Engine) stopTicker() {
	if e.ticker != nil {
		e.ticker.Stop()
		e.ticker = nil
	}
}

func (e *Engine) record(eventType ledger.EventType, payload map[string]any) {
	if err := e.recorder.Append(eventType, e.session, e.source, payload); err != nil {
		log.Warn().Err(err).Str("event", string(eventType)).Msg("Failed to record transition event")
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
