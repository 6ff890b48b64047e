package geo

import (
	"testing"
	"time"
)

func TestTimes(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		date     time.Time
		sunrise  time.Time
		sunset   time.Time
	}{
		{
			name:    "copenhagen midsummer",
			lat:     55.6761,
			lon:     12.5683,
			date:    time.Date(2024, 6, 21, 12, 0, 0, 0, time.UTC),
			sunrise: time.Date(2024, 6, 21, 2, 26, 0, 0, time.UTC),
			sunset:  time.Date(2024, 6, 21, 19, 58, 0, 0, time.UTC),
		},
		{
			name:    "new york january",
			lat:     40.7128,
			lon:     -74.006,
			date:    time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
			sunrise: time.Date(2024, 1, 15, 12, 19, 0, 0, time.UTC),
			sunset:  time.Date(2024, 1, 15, 21, 53, 0, 0, time.UTC),
		},
	}

	const tolerance = 5 * time.Minute
	calc := NewCalculator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			times := calc.Times(tt.lat, tt.lon, tt.date)
			if d := times.Sunrise.Sub(tt.sunrise).Abs(); d > tolerance {
				t.Errorf("Sunrise = %v, want %v", times.Sunrise, tt.sunrise)
			}
			if d := times.Sunset.Sub(tt.sunset).Abs(); d > tolerance {
				t.Errorf("Sunset = %v, want %v", times.Sunset, tt.sunset)
			}
			if !times.Dawn.Before(times.Sunrise) || !times.Sunset.Before(times.Dusk) {
				t.Errorf("twilight out of order: %+v", times)
			}
			if !times.Sunrise.Before(times.Noon) || !times.Noon.Before(times.Sunset) {
				t.Errorf("noon out of order: %+v", times)
			}
		})
	}
}

func TestTimesCached(t *testing.T) {
	calc := NewCalculator()
	date := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	a := calc.Times(52.52, 13.405, date)
	b := calc.Times(52.52, 13.405, date.Add(6*time.Hour))
	if a != b {
		t.Error("same day computed twice")
	}
}
