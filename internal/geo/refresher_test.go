package geo

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dokzlo13/sunddc/internal/config"
	"github.com/dokzlo13/sunddc/internal/ledger"
	"github.com/dokzlo13/sunddc/internal/settings"
	"github.com/dokzlo13/sunddc/internal/solar"
	"github.com/dokzlo13/sunddc/internal/transition"
	"github.com/dokzlo13/sunddc/internal/trigger"
)

type fakePrefs struct {
	sched  settings.Schedule
	values map[string]any
}

func newFakePrefs(automatic bool) *fakePrefs {
	return &fakePrefs{
		sched:  settings.Schedule{UseAutomaticLocation: automatic},
		values: map[string]any{},
	}
}

func (f *fakePrefs) Snapshot() (settings.Schedule, error) { return f.sched, nil }

func (f *fakePrefs) Set(key string, value any) error {
	f.values[key] = value
	return nil
}

type fakeLocator struct {
	loc *Location
	err error
}

func (f fakeLocator) Locate(ctx context.Context) (*Location, error) { return f.loc, f.err }

type fakeProvider struct {
	times SunTimes
	err   error
	date  time.Time
}

func (f *fakeProvider) SunTimes(ctx context.Context, loc Location, date time.Time) (SunTimes, error) {
	f.date = date
	return f.times, f.err
}

type memRecorder struct {
	events []ledger.EventType
}

func (m *memRecorder) Append(eventType ledger.EventType, sessionID, source string, payload map[string]any) error {
	m.events = append(m.events, eventType)
	return nil
}

func TestRefresher_StoresLocalClock(t *testing.T) {
	tz := time.FixedZone("CEST", 2*60*60)
	prefs := newFakePrefs(true)
	prefs.values[settings.KeyLastError] = "old failure"
	provider := &fakeProvider{times: SunTimes{
		Sunrise: time.Date(2024, 6, 21, 3, 43, 56, 0, time.UTC),
		Sunset:  time.Date(2024, 6, 21, 20, 21, 58, 0, time.UTC),
	}}
	rec := &memRecorder{}

	r := NewRefresher(fakeLocator{loc: &Location{Name: "here"}}, provider, prefs, rec, tz)
	r.now = func() time.Time { return time.Date(2024, 6, 21, 1, 0, 0, 0, time.UTC) }

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if got := prefs.values[settings.KeyCachedSunrise]; got != "05:43" {
		t.Errorf("cached sunrise = %v, want 05:43", got)
	}
	if got := prefs.values[settings.KeyCachedSunset]; got != "22:21" {
		t.Errorf("cached sunset = %v, want 22:21", got)
	}
	if got := prefs.values[settings.KeyLastError]; got != "" {
		t.Errorf("last error = %v, want cleared", got)
	}
	if provider.date.Location() != tz || provider.date.Hour() != 3 {
		t.Errorf("provider asked for %v, want the local date", provider.date)
	}
	if len(rec.events) != 1 || rec.events[0] != ledger.EventSunTimesRefreshed {
		t.Errorf("events = %v", rec.events)
	}
}

func TestRefresher_FailureKeepsCache(t *testing.T) {
	tests := []struct {
		name     string
		locator  Locator
		provider *fakeProvider
	}{
		{name: "locate fails", locator: fakeLocator{err: errors.New("no fix")}, provider: &fakeProvider{}},
		{name: "provider fails", locator: fakeLocator{loc: &Location{}}, provider: &fakeProvider{err: errors.New("503")}},
		{name: "nothing configured", locator: nil, provider: &fakeProvider{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prefs := newFakePrefs(true)
			prefs.values[settings.KeyCachedSunrise] = "06:00"
			rec := &memRecorder{}

			r := NewRefresher(tt.locator, tt.provider, prefs, rec, time.UTC)
			if err := r.Refresh(context.Background()); err == nil {
				t.Fatal("expected error")
			}

			if prefs.values[settings.KeyCachedSunrise] != "06:00" {
				t.Errorf("cached sunrise changed to %v", prefs.values[settings.KeyCachedSunrise])
			}
			if msg, _ := prefs.values[settings.KeyLastError].(string); msg == "" {
				t.Error("last error not recorded")
			}
			if len(rec.events) != 1 || rec.events[0] != ledger.EventSunTimesFailed {
				t.Errorf("events = %v", rec.events)
			}
		})
	}
}

func TestRefresher_ManualModeSkips(t *testing.T) {
	prefs := newFakePrefs(false)
	provider := &fakeProvider{}
	r := NewRefresher(fakeLocator{loc: &Location{}}, provider, prefs, nil, time.UTC)

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(prefs.values) != 0 {
		t.Errorf("values written in manual mode: %v", prefs.values)
	}
	if !provider.date.IsZero() {
		t.Error("provider queried in manual mode")
	}
}

func TestFromConfig(t *testing.T) {
	base := config.Default().Geo

	tests := []struct {
		name     string
		mutate   func(*config.GeoConfig)
		locator  string
		provider string
		wantErr  bool
	}{
		{name: "nothing", mutate: func(c *config.GeoConfig) {}, locator: "<nil>", provider: "*geo.APIProvider"},
		{name: "coordinates", mutate: func(c *config.GeoConfig) { c.Lat = 1 }, locator: "*geo.FixedLocator", provider: "*geo.APIProvider"},
		{name: "place name", mutate: func(c *config.GeoConfig) { c.Name = "Oslo" }, locator: "*geo.GeocodeLocator", provider: "*geo.APIProvider"},
		{name: "geoclue wins", mutate: func(c *config.GeoConfig) { c.Geoclue = true; c.Lat = 1 }, locator: "*geo.GeoclueLocator", provider: "*geo.APIProvider"},
		{name: "astro", mutate: func(c *config.GeoConfig) { c.Provider = "astro" }, locator: "<nil>", provider: "*geo.AstroProvider"},
		{name: "unknown provider", mutate: func(c *config.GeoConfig) { c.Provider = "moon" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			locator, provider, err := FromConfig(cfg, nil)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("FromConfig: %v", err)
			}
			if got := typeName(locator); got != tt.locator {
				t.Errorf("locator = %s, want %s", got, tt.locator)
			}
			if got := typeName(provider); got != tt.provider {
				t.Errorf("provider = %s, want %s", got, tt.provider)
			}
		})
	}
}

func typeName(v any) string {
	if v == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%T", v)
}

func TestLoadTimezone(t *testing.T) {
	for _, name := range []string{"", "Local"} {
		tz, err := LoadTimezone(name)
		if err != nil || tz != time.Local {
			t.Errorf("LoadTimezone(%q) = %v, %v", name, tz, err)
		}
	}
	if _, err := LoadTimezone("Not/AZone"); err == nil {
		t.Error("expected error for unknown zone")
	}
}

type recordingStarter struct {
	dirs []transition.Direction
}

func (r *recordingStarter) Start(ctx context.Context, dir transition.Direction, source string) {
	r.dirs = append(r.dirs, dir)
}

func (r *recordingStarter) Active() bool { return false }

func TestRefresher_ClockMatchesCachedZone(t *testing.T) {
	jst := time.FixedZone("JST", 9*60*60)
	// 06:00 and 19:00 in Tokyo
	sunrise := time.Date(2024, 6, 20, 21, 0, 0, 0, time.UTC)
	provider := &fakeProvider{times: SunTimes{
		Sunrise: sunrise,
		Sunset:  time.Date(2024, 6, 21, 10, 0, 0, 0, time.UTC),
	}}
	prefs := newFakePrefs(true)

	r := NewRefresher(fakeLocator{loc: &Location{Name: "tokyo"}}, provider, prefs, nil, jst)
	r.now = func() time.Time { return sunrise }

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := prefs.values[settings.KeyCachedSunrise]; got != "06:00" {
		t.Fatalf("cached sunrise = %v, want 06:00", got)
	}

	sched := settings.Schedule{
		Enabled:              true,
		SunriseEnabled:       true,
		SunsetEnabled:        true,
		UseAutomaticLocation: true,
		CachedSunrise:        prefs.values[settings.KeyCachedSunrise].(string),
		CachedSunset:         prefs.values[settings.KeyCachedSunset].(string),
	}

	eng := &recordingStarter{}
	loop := trigger.New(sched, eng, true, nil, nil)

	if d := loop.Check(context.Background(), r.Now()); d.Reason != solar.ReasonSunrise {
		t.Errorf("decision at refresher clock %s = %+v, want sunrise", r.Now().Format("15:04 MST"), d)
	}
	if len(eng.dirs) != 1 || eng.dirs[0] != transition.Brightening {
		t.Errorf("starts = %v", eng.dirs)
	}

	// The same instant read in another zone misses the sunrise minute
	if d := loop.Check(context.Background(), sunrise.UTC()); d.Start {
		t.Errorf("decision at %s = %+v, want none", sunrise.UTC().Format("15:04 MST"), d)
	}
}

type movingLocator struct {
	fakeLocator
	moves int
}

func (m movingLocator) Watch(ctx context.Context, onMove func()) error {
	for i := 0; i < m.moves; i++ {
		onMove()
	}
	return nil
}

func TestRefresher_FollowRefreshesOnMove(t *testing.T) {
	rec := &memRecorder{}
	prefs := newFakePrefs(true)
	provider := &fakeProvider{times: SunTimes{
		Sunrise: time.Date(2024, 6, 21, 4, 0, 0, 0, time.UTC),
		Sunset:  time.Date(2024, 6, 21, 20, 0, 0, 0, time.UTC),
	}}
	locator := movingLocator{fakeLocator: fakeLocator{loc: &Location{Name: "moving"}}, moves: 2}

	r := NewRefresher(locator, provider, prefs, rec, time.UTC)
	if err := r.Follow(context.Background()); err != nil {
		t.Fatalf("Follow: %v", err)
	}

	if len(rec.events) != 2 {
		t.Fatalf("events = %v, want two refreshes", rec.events)
	}
	for _, e := range rec.events {
		if e != ledger.EventSunTimesRefreshed {
			t.Errorf("event = %s", e)
		}
	}
	if got := prefs.values[settings.KeyCachedSunrise]; got != "04:00" {
		t.Errorf("cached sunrise = %v", got)
	}
}

func TestRefresher_FollowWithoutMover(t *testing.T) {
	rec := &memRecorder{}
	r := NewRefresher(fakeLocator{loc: &Location{}}, &fakeProvider{}, newFakePrefs(true), rec, time.UTC)

	if err := r.Follow(context.Background()); err != nil {
		t.Fatalf("Follow: %v", err)
	}
	if len(rec.events) != 0 {
		t.Errorf("events = %v, want none", rec.events)
	}
}
