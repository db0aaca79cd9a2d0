package geo

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrNoSunEvent is returned for polar day or polar night, when the sun never
// crosses the horizon on the requested date.
var ErrNoSunEvent = errors.New("sun does not rise or set on this date")

// horizonAngle is the solar altitude at sunrise/sunset, corrected for
// refraction and the solar disc.
const horizonAngle = -0.833

// AstroProvider computes sun times locally with the NOAA sunrise equation.
// It needs no network access.
type AstroProvider struct{}

// NewAstroProvider creates a local sun time calculator.
func NewAstroProvider() *AstroProvider {
	return &AstroProvider{}
}

// SunTimes implements SunProvider. The returned times are in date's location.
func (p *AstroProvider) SunTimes(ctx context.Context, loc Location, date time.Time) (SunTimes, error) {
	if err := ctx.Err(); err != nil {
		return SunTimes{}, err
	}

	// The equation expects the Julian day at noon
	jd := toJulianDay(date) + 0.5
	transit, dec := solarTransit(jd, loc.Longitude)

	latRad := loc.Latitude * math.Pi / 180.0
	angleRad := horizonAngle * math.Pi / 180.0
	cosOmega := (math.Sin(angleRad) - math.Sin(latRad)*math.Sin(dec)) / (math.Cos(latRad) * math.Cos(dec))
	if cosOmega > 1 || cosOmega < -1 {
		return SunTimes{}, ErrNoSunEvent
	}
	omega := math.Acos(cosOmega) * 180.0 / math.Pi

	tz := date.Location()
	return SunTimes{
		Sunrise: julianToTime(transit-omega/360.0, tz),
		Sunset:  julianToTime(transit+omega/360.0, tz),
	}, nil
}

// solarTransit returns the Julian date of solar noon and the sun's
// declination in radians.
func solarTransit(jd, lon float64) (transit, dec float64) {
	n := jd - 2451545.0 + 0.0008
	jStar := n - lon/360.0

	// Solar mean anomaly
	m := math.Mod(357.5291+0.98560028*jStar, 360.0)
	mRad := m * math.Pi / 180.0

	// Equation of center
	c := 1.9148*math.Sin(mRad) + 0.02*math.Sin(2*mRad) + 0.0003*math.Sin(3*mRad)

	// Ecliptic longitude
	lambda := math.Mod(m+c+180+102.9372, 360.0)
	lambdaRad := lambda * math.Pi / 180.0

	transit = 2451545.0 + jStar + 0.0053*math.Sin(mRad) - 0.0069*math.Sin(2*lambdaRad)
	dec = math.Asin(math.Sin(lambdaRad) * math.Sin(23.44*math.Pi/180.0))
	return transit, dec
}

// toJulianDay converts a calendar date to the Julian day at 00:00 UTC
func toJulianDay(t time.Time) float64 {
	y := float64(t.Year())
	m := float64(t.Month())
	d := float64(t.Day())

	if m <= 2 {
		y--
		m += 12
	}

	a := math.Floor(y / 100)
	b := 2 - a + math.Floor(a/4)

	return math.Floor(365.25*(y+4716)) + math.Floor(30.6001*(m+1)) + d + b - 1524.5
}

func julianToTime(jd float64, tz *time.Location) time.Time {
	unixTime := (jd - 2440587.5) * 86400.0
	sec := math.Floor(unixTime)
	return time.Unix(int64(sec), int64((unixTime-sec)*1e9)).In(tz)
}
