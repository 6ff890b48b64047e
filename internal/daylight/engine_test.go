package daylight

import (
	"testing"
	"time"

	"github.com/dokzlo13/huebridge/internal/datastore"
	"github.com/dokzlo13/huebridge/internal/eventbus"
	"github.com/dokzlo13/huebridge/internal/geo"
	"github.com/dokzlo13/huebridge/internal/storage/kv"
)

type testBridge struct {
	ds  *datastore.Datastore
	bus *eventbus.Bus
	now time.Time
	eng *Engine
}

func newTestBridge(t *testing.T, now time.Time) *testBridge {
	t.Helper()
	b := &testBridge{bus: eventbus.New(), now: now}
	b.ds = datastore.New(kv.NewMemoryBucket("test"), b.bus, datastore.Network{MAC: "aa:bb:cc:dd:ee:ff"},
		datastore.WithClock(func() time.Time { return b.now }))
	b.ds.SetTimezone("UTC")
	b.eng = New(b.ds, func(fn func()) bool { fn(); return true }, geo.NewCalculator())
	t.Cleanup(b.eng.Stop)
	return b
}

func (b *testBridge) locate(lat, long string) {
	s, _ := b.ds.Sensor(datastore.DaylightSensorID)
	s.Config["lat"] = lat
	s.Config["long"] = long
	b.ds.UpdateSensor(datastore.DaylightSensorID, s)
}

func (b *testBridge) daylight(t *testing.T) bool {
	t.Helper()
	s, _ := b.ds.Sensor(datastore.DaylightSensorID)
	v, ok := s.State["daylight"].(bool)
	if !ok {
		t.Fatalf("daylight state = %v", s.State["daylight"])
	}
	return v
}

func TestUnconfiguredHasNoTimer(t *testing.T) {
	b := newTestBridge(t, time.Date(2024, 6, 21, 12, 0, 0, 0, time.UTC))

	b.eng.Start()
	b.eng.Configure()

	if _, _, ok := b.eng.Next(); ok {
		t.Error("timer armed without coordinates")
	}
}

func TestTransitions(t *testing.T) {
	// Copenhagen, 2024-06-21: sunrise ~02:26 UTC, sunset ~19:58 UTC.
	// Default offsets move both 30 minutes earlier.
	tests := []struct {
		name     string
		now      time.Time
		daylight bool
		next     time.Time
		nextDay  bool
	}{
		{"before sunrise", time.Date(2024, 6, 21, 1, 0, 0, 0, time.UTC), false, time.Date(2024, 6, 21, 1, 56, 0, 0, time.UTC), true},
		{"midday", time.Date(2024, 6, 21, 12, 0, 0, 0, time.UTC), true, time.Date(2024, 6, 21, 19, 28, 0, 0, time.UTC), false},
		{"after sunset", time.Date(2024, 6, 21, 21, 0, 0, 0, time.UTC), false, time.Date(2024, 6, 22, 1, 56, 0, 0, time.UTC), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBridge(t, tt.now)
			b.locate("055.6761N", "012.5683E")

			b.eng.Configure()

			s, _ := b.ds.Sensor(datastore.DaylightSensorID)
			if s.Config["configured"] != true {
				t.Errorf("configured = %v, want true", s.Config["configured"])
			}
			if got := b.daylight(t); got != tt.daylight {
				t.Errorf("daylight = %v, want %v", got, tt.daylight)
			}
			at, state, ok := b.eng.Next()
			if !ok {
				t.Fatal("no transition armed")
			}
			if state != tt.nextDay {
				t.Errorf("next daylight = %v, want %v", state, tt.nextDay)
			}
			if d := at.Sub(tt.next).Abs(); d > 5*time.Minute {
				t.Errorf("next transition = %v, want about %v", at, tt.next)
			}
		})
	}
}

func TestFireFlipsAndRearms(t *testing.T) {
	b := newTestBridge(t, time.Date(2024, 6, 21, 12, 0, 0, 0, time.UTC))
	b.locate("55.6761", "12.5683")
	b.eng.Configure()

	var events []eventbus.Event
	b.bus.Subscribe(eventbus.SensorStateModified, func(ev eventbus.Event) { events = append(events, ev) })
	b.bus.Take()

	sunset, _, _ := b.eng.Next()
	b.now = sunset
	b.eng.mu.Lock()
	gen := b.eng.gen
	b.eng.mu.Unlock()
	b.eng.fire(gen)
	b.bus.Flush()

	if b.daylight(t) {
		t.Error("daylight still true after sunset")
	}
	at, state, ok := b.eng.Next()
	if !ok || !state || !at.After(sunset) {
		t.Errorf("Next() = %v %v %v, want a later sunrise", at, state, ok)
	}

	var sawDaylight bool
	for _, ev := range events {
		if ev.ID == datastore.DaylightSensorID && ev.Address == "/sensors/1/state/daylight" && ev.Value == false {
			sawDaylight = true
		}
	}
	if !sawDaylight {
		t.Errorf("no sensor-state-modified for daylight in %v", events)
	}
}

func TestStaleFireIgnored(t *testing.T) {
	b := newTestBridge(t, time.Date(2024, 6, 21, 12, 0, 0, 0, time.UTC))
	b.locate("55.6761", "12.5683")
	b.eng.Configure()

	b.eng.mu.Lock()
	stale := b.eng.gen
	b.eng.mu.Unlock()
	b.eng.Recompute()
	b.eng.fire(stale)

	if !b.daylight(t) {
		t.Error("stale fire changed the state")
	}
}

func TestParseCoordinate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"055.6761N", 55.6761, true},
		{"033.8688S", -33.8688, true},
		{"074.0060W", -74.006, true},
		{"12.5", 12.5, true},
		{"none", 0, false},
		{"north", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseCoordinate(tt.in)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("parseCoordinate(%q) = %v, %v, want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
