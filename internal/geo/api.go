package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// DefaultSunAPIURL is the sunrise-sunset.org JSON endpoint.
const DefaultSunAPIURL = "https://api.sunrise-sunset.org/json"

// APIProvider asks api.sunrise-sunset.org for sun times. Requests are
// spaced by a rate limiter so retries never hammer the free service.
type APIProvider struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewAPIProvider creates an API-backed provider. minInterval is the
// smallest gap between two requests; zero disables limiting.
func NewAPIProvider(baseURL string, timeout, minInterval time.Duration) *APIProvider {
	if baseURL == "" {
		baseURL = DefaultSunAPIURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &APIProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
	}
}

type sunAPIResponse struct {
	Status  string `json:"status"`
	Results struct {
		Sunrise string `json:"sunrise"`
		Sunset  string `json:"sunset"`
	} `json:"results"`
}

// SunTimes implements SunProvider. The returned times are in date's location.
func (p *APIProvider) SunTimes(ctx context.Context, loc Location, date time.Time) (SunTimes, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return SunTimes{}, fmt.Errorf("rate limiter: %w", err)
	}

	u, err := url.Parse(p.baseURL)
	if err != nil {
		return SunTimes{}, fmt.Errorf("invalid sun api url: %w", err)
	}
	q := u.Query()
	q.Set("lat", strconv.FormatFloat(loc.Latitude, 'f', 6, 64))
	q.Set("lng", strconv.FormatFloat(loc.Longitude, 'f', 6, 64))
	q.Set("date", date.Format("2006-01-02"))
	q.Set("formatted", "0")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return SunTimes{}, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return SunTimes{}, fmt.Errorf("sun api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return SunTimes{}, fmt.Errorf("sun api returned status %d", resp.StatusCode)
	}

	var body sunAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return SunTimes{}, fmt.Errorf("failed to decode sun api response: %w", err)
	}
	if body.Status != "OK" {
		return SunTimes{}, fmt.Errorf("sun api status %q", body.Status)
	}

	sunrise, err := time.Parse(time.RFC3339, body.Results.Sunrise)
	if err != nil {
		return SunTimes{}, fmt.Errorf("invalid sunrise %q: %w", body.Results.Sunrise, err)
	}
	sunset, err := time.Parse(time.RFC3339, body.Results.Sunset)
	if err != nil {
		return SunTimes{}, fmt.Errorf("invalid sunset %q: %w", body.Results.Sunset, err)
	}

	tz := date.Location()
	return SunTimes{Sunrise: sunrise.In(tz), Sunset: sunset.In(tz)}, nil
}
