package solar

import (
	"testing"
	"time"

	"github.com/dokzlo13/sunddc/internal/settings"
)

func at(hour, minute, second int) time.Time {
	return time.Date(2026, time.June, 1, hour, minute, second, 0, time.Local)
}

func TestIsNearMinute(t *testing.T) {
	const target = 360
	tests := []struct {
		name   string
		nowMin int
		nowSec int
		want   bool
	}{
		{name: "exact_minute", nowMin: target, nowSec: 0, want: true},
		{name: "exact_minute_late", nowMin: target, nowSec: 59, want: true},
		{name: "next_minute_29s", nowMin: target + 1, nowSec: 29, want: false},
		{name: "next_minute_30s", nowMin: target + 1, nowSec: 30, want: true},
		{name: "two_minutes_later", nowMin: target + 2, nowSec: 0, want: false},
		{name: "minute_before", nowMin: target - 1, nowSec: 59, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNearMinute(target, tt.nowMin, tt.nowSec); got != tt.want {
				t.Errorf("IsNearMinute(%d, %d, %d) = %v, want %v", target, tt.nowMin, tt.nowSec, got, tt.want)
			}
		})
	}
}

func TestIsDaytime(t *testing.T) {
	if !IsDaytime(360, 1200, 360) {
		t.Error("sunrise minute is daytime")
	}
	if IsDaytime(360, 1200, 1200) {
		t.Error("sunset minute is night")
	}
	if IsDaytime(360, 1200, 100) {
		t.Error("early morning is night")
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{in: "06:00", want: 360, ok: true},
		{in: "20:00", want: 1200, ok: true},
		{in: "6:05", want: 365, ok: true},
		{in: "00:00", want: 0, ok: true},
		{in: "23:59", want: 1439, ok: true},
		{in: "", ok: false},
		{in: "garbage", ok: false},
		{in: "xx:10", ok: false},
		{in: "10:yy", ok: false},
		{in: "24:00", ok: false},
		{in: "06:00:00", ok: false},
		{in: "12:60", ok: false},
	}

	for _, tt := range tests {
		got, ok := ParseClock(tt.in)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("ParseClock(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestFormatClock(t *testing.T) {
	if got := FormatClock(365); got != "06:05" {
		t.Errorf("FormatClock(365) = %q", got)
	}
	if got := FormatClock(1439); got != "23:59" {
		t.Errorf("FormatClock(1439) = %q", got)
	}
}

func TestResolve(t *testing.T) {
	fixed := settings.Schedule{SunriseHour: 6, SunriseMinute: 30, SunsetHour: 20, SunsetMinute: 15}
	r := NewResolver(fixed)
	if got, ok := r.Resolve(Sunrise); !ok || got != 390 {
		t.Errorf("fixed sunrise = %d, %v", got, ok)
	}
	if got, ok := r.Resolve(Sunset); !ok || got != 1215 {
		t.Errorf("fixed sunset = %d, %v", got, ok)
	}

	auto := fixed
	auto.UseAutomaticLocation = true
	auto.CachedSunrise = "05:48"
	r = NewResolver(auto)
	if got, ok := r.Resolve(Sunrise); !ok || got != 348 {
		t.Errorf("cached sunrise = %d, %v", got, ok)
	}
	// Missing cached value must not fall back to the fixed time or midnight
	if got, ok := r.Resolve(Sunset); ok {
		t.Errorf("missing cached sunset resolved to %d", got)
	}

	auto.CachedSunset = "nonsense"
	r = NewResolver(auto)
	if _, ok := r.Resolve(Sunset); ok {
		t.Error("corrupt cached sunset must not resolve")
	}
}

func TestDecide(t *testing.T) {
	all := settings.Schedule{
		SunriseEnabled: true,
		SunsetEnabled:  true,
		CatchUpSunrise: true,
		CatchUpSunset:  true,
	}
	noCatchUp := all
	noCatchUp.CatchUpSunrise = false
	noCatchUp.CatchUpSunset = false

	sunriseOff := all
	sunriseOff.SunriseEnabled = false

	tests := []struct {
		name  string
		sched settings.Schedule
		now   time.Time
		want  Decision
	}{
		{
			name:  "sunrise_minute",
			sched: noCatchUp,
			now:   at(6, 0, 5),
			want:  Decision{Start: true, Brightening: true, Reason: ReasonSunrise},
		},
		{
			name:  "sunrise_grace_window",
			sched: noCatchUp,
			now:   at(6, 1, 30),
			want:  Decision{Start: true, Brightening: true, Reason: ReasonSunrise},
		},
		{
			name:  "sunset_minute",
			sched: noCatchUp,
			now:   at(20, 0, 0),
			want:  Decision{Start: true, Brightening: false, Reason: ReasonSunset},
		},
		{
			name:  "midday_catch_up",
			sched: all,
			now:   at(10, 0, 0),
			want:  Decision{Start: true, Brightening: true, Reason: ReasonCatchUpSunrise},
		},
		{
			name:  "night_catch_up",
			sched: all,
			now:   at(23, 0, 0),
			want:  Decision{Start: true, Brightening: false, Reason: ReasonCatchUpSunset},
		},
		{
			name:  "early_morning_catch_up",
			sched: all,
			now:   at(2, 0, 0),
			want:  Decision{Start: true, Brightening: false, Reason: ReasonCatchUpSunset},
		},
		{
			name:  "midday_without_catch_up",
			sched: noCatchUp,
			now:   at(10, 0, 0),
			want:  Decision{},
		},
		{
			name:  "catch_up_needs_sunrise_enabled",
			sched: sunriseOff,
			now:   at(10, 0, 0),
			want:  Decision{},
		},
		{
			name:  "sunrise_disabled_at_sunrise_minute",
			sched: func() settings.Schedule { s := sunriseOff; s.CatchUpSunset = false; return s }(),
			now:   at(6, 0, 0),
			want:  Decision{},
		},
		{
			name:  "nothing_enabled",
			sched: settings.Schedule{},
			now:   at(6, 0, 0),
			want:  Decision{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.sched, 360, 1200, tt.now)
			if got != tt.want {
				t.Errorf("Decide at %s = %+v, want %+v", tt.now.Format("15:04:05"), got, tt.want)
			}
		})
	}
}
