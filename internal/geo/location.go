// Package geo supplies sunrise and sunset times for the current position.
//
// A Locator finds the position (fixed coordinates, Geoclue, or a geocoded
// place name), a SunProvider turns it into sun times for a date, and the
// Refresher stores the result as local HH:MM strings in the settings store.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultNominatimURL is the public OpenStreetMap geocoding endpoint.
const DefaultNominatimURL = "https://nominatim.openstreetmap.org/search"

const userAgent = "sunddc/1.0"

// Location is a point on earth.
type Location struct {
	Name      string
	Latitude  float64
	Longitude float64
}

// SunTimes holds sunrise and sunset of one day.
type SunTimes struct {
	Sunrise time.Time
	Sunset  time.Time
}

// Locator finds the current position.
type Locator interface {
	Locate(ctx context.Context) (*Location, error)
}

// SunProvider computes sun times for a position and a date.
type SunProvider interface {
	SunTimes(ctx context.Context, loc Location, date time.Time) (SunTimes, error)
}

// FixedLocator always returns the configured coordinates.
type FixedLocator struct {
	loc Location
}

// NewFixedLocator creates a locator for known coordinates.
func NewFixedLocator(name string, lat, lon float64) *FixedLocator {
	return &FixedLocator{loc: Location{Name: name, Latitude: lat, Longitude: lon}}
}

// Locate implements Locator.
func (f *FixedLocator) Locate(ctx context.Context) (*Location, error) {
	loc := f.loc
	return &loc, nil
}

// GeocodeLocator resolves a place name through Nominatim.
// Lookups go memory, then the persistent cache, then the network.
type GeocodeLocator struct {
	name    string
	baseURL string
	client  *http.Client
	cache   *Cache

	mu     sync.Mutex
	cached *Location
}

// NewGeocodeLocator creates a locator for a place name. cache may be nil.
func NewGeocodeLocator(name, baseURL string, timeout time.Duration, cache *Cache) *GeocodeLocator {
	if baseURL == "" {
		baseURL = DefaultNominatimURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GeocodeLocator{
		name:    name,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		cache:   cache,
	}
}

// Locate implements Locator.
func (g *GeocodeLocator) Locate(ctx context.Context) (*Location, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cached != nil {
		loc := *g.cached
		return &loc, nil
	}

	if g.cache != nil {
		if loc, ok := g.cache.Get(g.name); ok {
			g.cached = loc
			return loc, nil
		}
	}

	loc, err := g.geocode(ctx)
	if err != nil {
		return nil, err
	}
	g.cached = loc

	if g.cache != nil {
		if err := g.cache.Put(g.name, loc); err != nil {
			log.Warn().Err(err).Str("query", g.name).Msg("Failed to write geocache")
		}
	}
	return loc, nil
}

func (g *GeocodeLocator) geocode(ctx context.Context) (*Location, error) {
	u, err := url.Parse(g.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid geocoding url: %w", err)
	}
	q := u.Query()
	q.Set("q", g.name)
	q.Set("format", "json")
	q.Set("limit", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocoding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocoding failed with status %d", resp.StatusCode)
	}

	var results []struct {
		Lat         string `json:"lat"`
		Lon         string `json:"lon"`
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("failed to decode geocoding response: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("location not found: %s", g.name)
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid latitude %q: %w", results[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid longitude %q: %w", results[0].Lon, err)
	}

	loc := &Location{Name: results[0].DisplayName, Latitude: lat, Longitude: lon}
	log.Info().
		Str("query", g.name).
		Str("resolved", loc.Name).
		Float64("lat", lat).
		Float64("lon", lon).
		Msg("Location geocoded via Nominatim")
	return loc, nil
}
