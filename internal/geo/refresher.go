package geo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/sunddc/internal/config"
	"github.com/dokzlo13/sunddc/internal/ledger"
	"github.com/dokzlo13/sunddc/internal/metrics"
	"github.com/dokzlo13/sunddc/internal/settings"
)

// ErrNoLocation is returned when neither coordinates, a place name nor
// Geoclue are configured.
var ErrNoLocation = errors.New("no location source configured")

// Preferences is the part of the settings store the refresher uses.
type Preferences interface {
	Snapshot() (settings.Schedule, error)
	Set(key string, value any) error
}

// Refresher fetches today's sun times and caches them as local HH:MM
// strings. Only one refresh runs at a time; overlapping requests are dropped.
type Refresher struct {
	locator  Locator
	provider SunProvider
	prefs    Preferences
	recorder ledger.Recorder
	tz       *time.Location
	now      func() time.Time

	running sync.Mutex
}

// NewRefresher wires a locator and a provider to the settings store.
// A nil locator makes every refresh fail with ErrNoLocation.
func NewRefresher(locator Locator, provider SunProvider, prefs Preferences, recorder ledger.Recorder, tz *time.Location) *Refresher {
	if recorder == nil {
		recorder = ledger.Nop{}
	}
	if tz == nil {
		tz = time.Local
	}
	return &Refresher{
		locator:  locator,
		provider: provider,
		prefs:    prefs,
		recorder: recorder,
		tz:       tz,
		now:      time.Now,
	}
}

// Refresh updates cached-sunrise-time and cached-sunset-time. It does
// nothing unless automatic location is enabled. Failures are stored in
// last-error and returned; the cached values stay as they were.
func (r *Refresher) Refresh(ctx context.Context) error {
	if !r.running.TryLock() {
		log.Debug().Msg("Sun time refresh already running, skipping")
		return nil
	}
	defer r.running.Unlock()

	sched, err := r.prefs.Snapshot()
	if err != nil {
		return fmt.Errorf("failed to read preferences: %w", err)
	}
	if !sched.UseAutomaticLocation {
		log.Debug().Msg("Automatic location disabled, not refreshing sun times")
		return nil
	}

	if r.locator == nil {
		return r.fail(ErrNoLocation)
	}
	loc, err := r.locator.Locate(ctx)
	if err != nil {
		return r.fail(fmt.Errorf("locate: %w", err))
	}

	times, err := r.provider.SunTimes(ctx, *loc, r.now().In(r.tz))
	if err != nil {
		return r.fail(fmt.Errorf("sun times: %w", err))
	}

	sunrise := times.Sunrise.In(r.tz).Format("15:04")
	sunset := times.Sunset.In(r.tz).Format("15:04")

	for key, value := range map[string]string{
		settings.KeyCachedSunset:  sunset,
		settings.KeyCachedSunrise: sunrise,
		settings.KeyLastError:     "",
	} {
		if err := r.prefs.Set(key, value); err != nil {
			return fmt.Errorf("failed to store %s: %w", key, err)
		}
	}

	metrics.LocationRefresh("ok")
	log.Info().
		Str("sunrise", sunrise).
		Str("sunset", sunset).
		Str("location", loc.Name).
		Msg("Sun times refreshed")

	r.record(ledger.EventSunTimesRefreshed, map[string]any{
		"sunrise":   sunrise,
		"sunset":    sunset,
		"location":  loc.Name,
		"latitude":  loc.Latitude,
		"longitude": loc.Longitude,
	})
	return nil
}

// Mover is a Locator that can report position changes as they happen.
type Mover interface {
	Watch(ctx context.Context, onMove func()) error
}

// Follow refreshes the sun times every time the locator reports a new
// position. It returns immediately when the locator cannot report moves,
// otherwise it blocks until ctx is done.
func (r *Refresher) Follow(ctx context.Context) error {
	m, ok := r.locator.(Mover)
	if !ok {
		return nil
	}
	return m.Watch(ctx, func() {
		log.Debug().Msg("Location changed, refreshing sun times")
		// Failures are logged and stored by Refresh
		_ = r.Refresh(ctx)
	})
}

// Now returns the current time in the zone the cached sun times are written
// in. Trigger checks compare against them and must use this clock.
func (r *Refresher) Now() time.Time { return r.now().In(r.tz) }

func (r *Refresher) fail(err error) error {
	metrics.LocationRefresh("error")
	log.Warn().Err(err).Msg("Sun time refresh failed, keeping cached values")

	if setErr := r.prefs.Set(settings.KeyLastError, err.Error()); setErr != nil {
		log.Warn().Err(setErr).Msg("Failed to store last error")
	}
	r.record(ledger.EventSunTimesFailed, map[string]any{"error": err.Error()})
	return err
}

func (r *Refresher) record(eventType ledger.EventType, payload map[string]any) {
	if err := r.recorder.Append(eventType, "", "refresher", payload); err != nil {
		log.Warn().Err(err).Str("event", string(eventType)).Msg("Failed to record refresh event")
	}
}

// FromConfig builds the locator and provider selected by the geo section.
// Geoclue wins over coordinates, coordinates win over a place name. The
// returned locator is nil when nothing is configured.
func FromConfig(cfg config.GeoConfig, cache *Cache) (Locator, SunProvider, error) {
	timeout := cfg.HTTPTimeout.Duration()

	var locator Locator
	switch {
	case cfg.Geoclue:
		locator = NewGeoclueLocator("", timeout*3)
	case cfg.HasCoordinates():
		locator = NewFixedLocator(cfg.Name, cfg.Lat, cfg.Lon)
	case cfg.Name != "":
		locator = NewGeocodeLocator(cfg.Name, "", timeout, cache)
	}

	var provider SunProvider
	switch cfg.Provider {
	case "", "api":
		provider = NewAPIProvider(cfg.APIURL, timeout, cfg.APIRate.Duration())
	case "astro":
		provider = NewAstroProvider()
	default:
		return nil, nil, fmt.Errorf("unknown geo provider %q", cfg.Provider)
	}

	return locator, provider, nil
}

// LoadTimezone resolves a configured zone name. "Local" and "" give the
// system zone.
func LoadTimezone(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}
