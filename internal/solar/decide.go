package solar

import (
	"time"

	"github.com/dokzlo13/sunddc/internal/settings"
)

// Reason explains why a transition was chosen.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonSunrise        Reason = "sunrise"
	ReasonSunset         Reason = "sunset"
	ReasonCatchUpSunrise Reason = "catch_up_sunrise"
	ReasonCatchUpSunset  Reason = "catch_up_sunset"
)

// Decision is the outcome of one trigger evaluation.
type Decision struct {
	Start       bool
	Brightening bool
	Reason      Reason
}

// IsNearMinute reports whether now is at target, or in the second half of the
// following minute. The extra half minute covers a poll that lands just after
// the target minute rolled over.
func IsNearMinute(target, nowMin, nowSec int) bool {
	return nowMin == target || (nowMin == target+1 && nowSec >= 30)
}

// IsDaytime reports whether nowMin lies in [sunrise, sunset).
func IsDaytime(sunrise, sunset, nowMin int) bool {
	return sunrise <= nowMin && nowMin < sunset
}

// Clock splits a local time into minute of day and seconds within the minute.
func Clock(now time.Time) (minute, second int) {
	return now.Hour()*60 + now.Minute(), now.Second()
}

// Decide evaluates the trigger rules in order; the first match wins.
//
//  1. sunrise enabled and near the sunrise minute: brighten
//  2. sunset enabled and near the sunset minute: dim
//  3. daytime with sunrise catch-up: brighten
//  4. nighttime with sunset catch-up: dim
func Decide(sched settings.Schedule, sunrise, sunset int, now time.Time) Decision {
	nowMin, nowSec := Clock(now)
	daytime := IsDaytime(sunrise, sunset, nowMin)

	switch {
	case sched.SunriseEnabled && IsNearMinute(sunrise, nowMin, nowSec):
		return Decision{Start: true, Brightening: true, Reason: ReasonSunrise}
	case sched.SunsetEnabled && IsNearMinute(sunset, nowMin, nowSec):
		return Decision{Start: true, Brightening: false, Reason: ReasonSunset}
	case daytime && sched.CatchUpSunrise && sched.SunriseEnabled:
		return Decision{Start: true, Brightening: true, Reason: ReasonCatchUpSunrise}
	case !daytime && sched.CatchUpSunset && sched.SunsetEnabled:
		return Decision{Start: true, Brightening: false, Reason: ReasonCatchUpSunset}
	}
	return Decision{}
}
