package settings

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dokzlo13/sunddc/internal/config"
)

// Preference keys
const (
	KeyEnabled              = "enabled"
	KeyAutoBrightenSunrise  = "auto-brighten-sunrise"
	KeyAutoDimSunset        = "auto-dim-sunset"
	KeyMaxBrightness        = "max-brightness"
	KeyMinBrightness        = "min-brightness"
	KeySunriseHour          = "sunrise-hour"
	KeySunriseMinute        = "sunrise-minute"
	KeySunsetHour           = "sunset-hour"
	KeySunsetMinute         = "sunset-minute"
	KeyUseAutomaticLocation = "use-automatic-location"
	KeyCachedSunrise        = "cached-sunrise-time"
	KeyCachedSunset         = "cached-sunset-time"
	KeyCatchUpSunrise       = "catch-up-sunrise"
	KeyCatchUpSunset        = "catch-up-sunset"
	KeyStepDelay            = "dim-step-delay"
	KeyDisabledMonitors     = "disabled-monitors"
	KeyResetOnExit          = "reset-on-exit"
	KeyLastError            = "last-error"
)

// Kind is the value type of a preference key.
type Kind int

const (
	KindBool Kind = iota
	KindInt
	KindString
	KindStrings
)

type keySpec struct {
	kind     Kind
	min, max int
}

var keySpecs = map[string]keySpec{
	KeyEnabled:              {kind: KindBool},
	KeyAutoBrightenSunrise:  {kind: KindBool},
	KeyAutoDimSunset:        {kind: KindBool},
	KeyMaxBrightness:        {kind: KindInt, min: 0, max: 100},
	KeyMinBrightness:        {kind: KindInt, min: 0, max: 100},
	KeySunriseHour:          {kind: KindInt, min: 0, max: 23},
	KeySunriseMinute:        {kind: KindInt, min: 0, max: 59},
	KeySunsetHour:           {kind: KindInt, min: 0, max: 23},
	KeySunsetMinute:         {kind: KindInt, min: 0, max: 59},
	KeyUseAutomaticLocation: {kind: KindBool},
	KeyCachedSunrise:        {kind: KindString},
	KeyCachedSunset:         {kind: KindString},
	KeyCatchUpSunrise:       {kind: KindBool},
	KeyCatchUpSunset:        {kind: KindBool},
	KeyStepDelay:            {kind: KindInt, min: 1, max: 3600},
	KeyDisabledMonitors:     {kind: KindStrings},
	KeyResetOnExit:          {kind: KindBool},
	KeyLastError:            {kind: KindString},
}

// internalKeys are written by the daemon itself. Changes to them must not
// reinitialize the daemon, or every refresh would restart it.
var internalKeys = map[string]bool{
	KeyCachedSunrise: true,
	KeyCachedSunset:  true,
	KeyLastError:     true,
}

// IsInternal reports whether key is written by the daemon itself.
func IsInternal(key string) bool {
	return internalKeys[key]
}

// Keys returns all known preference keys, sorted.
func Keys() []string {
	keys := make([]string, 0, len(keySpecs))
	for k := range keySpecs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// KindOf returns the value type of key.
func KindOf(key string) (Kind, bool) {
	spec, ok := keySpecs[key]
	return spec.kind, ok
}

// ParseValue converts command line text into a typed value for key and
// validates its range.
func ParseValue(key, text string) (any, error) {
	spec, ok := keySpecs[key]
	if !ok {
		return nil, fmt.Errorf("unknown key %q", key)
	}

	switch spec.kind {
	case KindBool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return nil, fmt.Errorf("%s: expected true or false: %w", key, err)
		}
		return b, nil
	case KindInt:
		n, err := strconv.Atoi(strings.TrimSpace(text))
		if err != nil {
			return nil, fmt.Errorf("%s: expected an integer: %w", key, err)
		}
		if n < spec.min || n > spec.max {
			return nil, fmt.Errorf("%s: %d out of range [%d, %d]", key, n, spec.min, spec.max)
		}
		return n, nil
	case KindStrings:
		var items []string
		for _, part := range strings.Split(text, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
		if items == nil {
			items = []string{}
		}
		return items, nil
	default:
		return text, nil
	}
}

// defaultValues maps the YAML defaults section onto preference keys.
func defaultValues(d config.Defaults) map[string]any {
	disabled := d.DisabledMonitors
	if disabled == nil {
		disabled = []string{}
	}
	return map[string]any{
		KeyEnabled:              d.Enabled,
		KeyAutoBrightenSunrise:  d.AutoBrightenSunrise,
		KeyAutoDimSunset:        d.AutoDimSunset,
		KeyMaxBrightness:        d.MaxBrightness,
		KeyMinBrightness:        d.MinBrightness,
		KeySunriseHour:          d.SunriseHour,
		KeySunriseMinute:        d.SunriseMinute,
		KeySunsetHour:           d.SunsetHour,
		KeySunsetMinute:         d.SunsetMinute,
		KeyUseAutomaticLocation: d.UseAutomaticLocation,
		KeyCachedSunrise:        "",
		KeyCachedSunset:         "",
		KeyCatchUpSunrise:       d.CatchUpSunrise,
		KeyCatchUpSunset:        d.CatchUpSunset,
		KeyStepDelay:            d.StepDelay,
		KeyDisabledMonitors:     disabled,
		KeyResetOnExit:          d.ResetOnExit,
		KeyLastError:            "",
	}
}
