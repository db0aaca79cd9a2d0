// Package trigger decides once a minute whether a brightness transition
// should begin.
package trigger

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/sunddc/internal/metrics"
	"github.com/dokzlo13/sunddc/internal/settings"
	"github.com/dokzlo13/sunddc/internal/solar"
	"github.com/dokzlo13/sunddc/internal/transition"
)

// Interval between trigger evaluations.
const Interval = time.Minute

// DefaultRefreshSpec refreshes cached sun times at 03:00 local time.
const DefaultRefreshSpec = "0 3 * * *"

// Starter is the part of the transition engine the loop drives.
type Starter interface {
	Start(ctx context.Context, dir transition.Direction, source string)
	Active() bool
}

// Loop evaluates the schedule against wall-clock time.
type Loop struct {
	sched     settings.Schedule
	resolver  *solar.Resolver
	engine    Starter
	available bool

	refresh   cron.Schedule
	onRefresh func()
}

// New creates a trigger loop for one schedule snapshot. available reports
// whether the control tool exists; without it every check is a no-op.
// onRefresh is called (fire-and-forget) whenever refresh matches the minute.
func New(sched settings.Schedule, engine Starter, available bool, refresh cron.Schedule, onRefresh func()) *Loop {
	return &Loop{
		sched:     sched,
		resolver:  solar.NewResolver(sched),
		engine:    engine,
		available: available,
		refresh:   refresh,
		onRefresh: onRefresh,
	}
}

// SetSchedule replaces the schedule snapshot, typically after the refresher
// stored new cached sun times.
func (l *Loop) SetSchedule(sched settings.Schedule) {
	l.sched = sched
	l.resolver = solar.NewResolver(sched)
}

// ParseRefreshSpec parses a standard five-field cron expression.
func ParseRefreshSpec(spec string) (cron.Schedule, error) {
	if spec == "" {
		spec = DefaultRefreshSpec
	}
	return cron.ParseStandard(spec)
}

// Tick runs one minute's work: the transition check, then the sun time
// refresh when due.
func (l *Loop) Tick(ctx context.Context, now time.Time) {
	if !l.sched.Enabled {
		return
	}

	l.Check(ctx, now)

	if l.onRefresh != nil && l.RefreshDue(now) {
		log.Info().Time("now", now).Msg("Requesting sun time refresh")
		l.onRefresh()
	}
}

// Check evaluates the trigger rules at now and starts a transition on a match.
func (l *Loop) Check(ctx context.Context, now time.Time) solar.Decision {
	if !l.sched.Enabled || !l.available {
		return solar.Decision{}
	}
	if l.engine.Active() {
		return solar.Decision{}
	}

	sunrise, okRise := l.resolver.Resolve(solar.Sunrise)
	sunset, okSet := l.resolver.Resolve(solar.Sunset)
	if !okRise || !okSet {
		log.Debug().
			Bool("sunrise_known", okRise).
			Bool("sunset_known", okSet).
			Msg("Sun times not known yet, skipping check")
		return solar.Decision{}
	}

	decision := solar.Decide(l.sched, sunrise, sunset, now)
	if !decision.Start {
		return decision
	}

	dir := transition.Dimming
	if decision.Brightening {
		dir = transition.Brightening
	}

	metrics.Trigger(dir.String(), string(decision.Reason))
	log.Info().
		Str("reason", string(decision.Reason)).
		Str("direction", dir.String()).
		Str("sunrise", solar.FormatClock(sunrise)).
		Str("sunset", solar.FormatClock(sunset)).
		Msg("Trigger matched")

	l.engine.Start(ctx, dir, string(decision.Reason))
	return decision
}

// RefreshDue reports whether the refresh schedule fires in now's minute.
func (l *Loop) RefreshDue(now time.Time) bool {
	if l.refresh == nil {
		return false
	}
	minute := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute(), 0, 0, now.Location())
	return l.refresh.Next(minute.Add(-time.Second)).Equal(minute)
}
