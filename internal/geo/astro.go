// Package geo computes sun times for the daylight sensor.
package geo

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// AstroTimes contains astronomical times for a day
type AstroTimes struct {
	Dawn    time.Time `json:"dawn"`
	Sunrise time.Time `json:"sunrise"`
	Noon    time.Time `json:"noon"`
	Sunset  time.Time `json:"sunset"`
	Dusk    time.Time `json:"dusk"`
}

// Calculator calculates astronomical times and caches them per location and day.
type Calculator struct {
	mu    sync.RWMutex
	cache map[string]*AstroTimes // by "lat,lon,date"
}

// NewCalculator creates a new astronomical calculator
func NewCalculator() *Calculator {
	return &Calculator{cache: make(map[string]*AstroTimes)}
}

// Times returns the sun times at lat/lon for the calendar day of date.
// The day is taken in date's location; the returned times are instants.
func (c *Calculator) Times(lat, lon float64, date time.Time) *AstroTimes {
	cacheKey := fmt.Sprintf("%.4f,%.4f,%s", lat, lon, date.Format("2006-01-02"))
	c.mu.RLock()
	cached, ok := c.cache[cacheKey]
	c.mu.RUnlock()
	if ok {
		return cached
	}

	times := calculate(lat, lon, date)

	c.mu.Lock()
	c.cache[cacheKey] = times
	c.mu.Unlock()
	return times
}

// calculate computes astronomical times using the NOAA sunrise equation
func calculate(lat, lon float64, date time.Time) *AstroTimes {
	// add 0.5 because the equation expects JD at noon, not midnight
	jd := toJulianDay(date) + 0.5
	loc := date.Location()

	return &AstroTimes{
		Dawn:    sunTime(jd, lat, lon, -6.0, true).In(loc),
		Sunrise: sunTime(jd, lat, lon, -0.833, true).In(loc),
		Noon:    julianToTime(solarTransit(jd, lon)).In(loc),
		Sunset:  sunTime(jd, lat, lon, -0.833, false).In(loc),
		Dusk:    sunTime(jd, lat, lon, -6.0, false).In(loc),
	}
}

// toJulianDay converts a date to Julian day number
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

// solarTerms returns the solar transit and the ecliptic longitude in radians.
func solarTerms(jd, lon float64) (jTransit, lambdaRad float64) {
	n := jd - 2451545.0 + 0.0008

	// Mean solar noon
	jStar := n - lon/360.0

	// Solar mean anomaly
	m := math.Mod(357.5291+0.98560028*jStar, 360.0)
	mRad := m * math.Pi / 180.0

	// Equation of center
	c := 1.9148*math.Sin(mRad) + 0.02*math.Sin(2*mRad) + 0.0003*math.Sin(3*mRad)

	// Ecliptic longitude
	lambda := math.Mod(m+c+180+102.9372, 360.0)
	lambdaRad = lambda * math.Pi / 180.0

	jTransit = 2451545.0 + jStar + 0.0053*math.Sin(mRad) - 0.0069*math.Sin(2*lambdaRad)
	return jTransit, lambdaRad
}

func solarTransit(jd, lon float64) float64 {
	t, _ := solarTerms(jd, lon)
	return t
}

// sunTime calculates the time the sun crosses angle degrees of elevation
func sunTime(jd, lat, lon, angle float64, rising bool) time.Time {
	jTransit, lambdaRad := solarTerms(jd, lon)

	// Declination of the sun
	dec := math.Asin(math.Sin(lambdaRad) * math.Sin(23.44*math.Pi/180.0))

	// Hour angle
	latRad := lat * math.Pi / 180.0
	angleRad := angle * math.Pi / 180.0
	cosOmega := (math.Sin(angleRad) - math.Sin(latRad)*math.Sin(dec)) / (math.Cos(latRad) * math.Cos(dec))

	// Polar day and night clamp to noon and midnight
	cosOmega = math.Max(-1, math.Min(1, cosOmega))

	omega := math.Acos(cosOmega) * 180.0 / math.Pi
	if rising {
		return julianToTime(jTransit - omega/360.0)
	}
	return julianToTime(jTransit + omega/360.0)
}

// julianToTime converts a Julian day to a UTC instant
func julianToTime(jd float64) time.Time {
	unix := (jd - 2440587.5) * 86400.0
	sec := math.Floor(unix)
	return time.Unix(int64(sec), int64((unix-sec)*1e9)).UTC()
}
