// Package solar resolves the day's sunrise and sunset minute and decides
// whether a brightness transition should start.
package solar

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dokzlo13/sunddc/internal/settings"
)

// Prefix selects which end of the day to resolve.
type Prefix string

const (
	Sunrise Prefix = "sunrise"
	Sunset  Prefix = "sunset"
)

// MinutesPerDay bounds a minute-of-day value.
const MinutesPerDay = 24 * 60

// Resolver turns a schedule snapshot into minute-of-day values.
type Resolver struct {
	sched settings.Schedule
}

// NewResolver creates a resolver for one schedule snapshot.
func NewResolver(sched settings.Schedule) *Resolver {
	return &Resolver{sched: sched}
}

// Resolve returns the minute of day for prefix.
// In automatic-location mode the cached HH:MM string is used; a missing or
// malformed value yields false rather than a guessed time.
func (r *Resolver) Resolve(prefix Prefix) (int, bool) {
	if r.sched.UseAutomaticLocation {
		cached := r.sched.CachedSunrise
		if prefix == Sunset {
			cached = r.sched.CachedSunset
		}
		return ParseClock(cached)
	}

	if prefix == Sunset {
		return r.sched.FixedSunsetMinute(), true
	}
	return r.sched.FixedSunriseMinute(), true
}

// ParseClock parses "HH:MM" into a minute of day. Anything else, including
// "HH:MM:SS", is rejected: the refresher only writes HH:MM, so another shape
// means a hand-edited value and is treated as unknown rather than guessed.
func ParseClock(s string) (int, bool) {
	hh, mm, found := strings.Cut(strings.TrimSpace(s), ":")
	if !found {
		return 0, false
	}

	hour, err := strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return 0, false
	}
	minute, err := strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return 0, false
	}
	return hour*60 + minute, true
}

// FormatClock formats a minute of day as "HH:MM".
func FormatClock(minute int) string {
	minute = ((minute % MinutesPerDay) + MinutesPerDay) % MinutesPerDay
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}
