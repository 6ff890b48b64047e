// Package daylight drives the built-in daylight sensor from computed sunrise
// and sunset times.
package daylight

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huebridge/internal/datastore"
	"github.com/dokzlo13/huebridge/internal/eventbus"
	"github.com/dokzlo13/huebridge/internal/geo"
)

// Poster hands work to the bridge control loop. It returns false once the loop is closed.
type Poster func(func()) bool

// Engine keeps a single timer for the next daylight transition and re-arms it
// after every fire. There is no polling.
type Engine struct {
	ds   *datastore.Datastore
	post Poster
	calc *geo.Calculator

	mu        sync.Mutex
	timer     *time.Timer
	gen       uint64
	next      time.Time
	nextState bool
}

// New creates a daylight engine for sensor 1 of ds.
func New(ds *datastore.Datastore, post Poster, calc *geo.Calculator) *Engine {
	if calc == nil {
		calc = geo.NewCalculator()
	}
	return &Engine{ds: ds, post: post, calc: calc}
}

// Subscribe watches sensor 1 for a usable location and recomputes after a reload.
func (e *Engine) Subscribe(bus *eventbus.Bus) {
	onSensor := func(ev eventbus.Event) {
		if ev.ID == datastore.DaylightSensorID {
			e.Configure()
		}
	}
	bus.Subscribe(eventbus.SensorModified, onSensor)
	bus.Subscribe(eventbus.SensorConfigModified, onSensor)
	bus.Subscribe(eventbus.RuleEngineReload, func(eventbus.Event) { e.Recompute() })
}

// Start computes the first transition. Must be called on the control loop.
func (e *Engine) Start() {
	e.Recompute()
}

// Stop cancels the pending transition.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancel()
}

// Configure marks the sensor configured once latitude and longitude are set,
// then recomputes.
func (e *Engine) Configure() {
	s, ok := e.ds.Sensor(datastore.DaylightSensorID)
	if !ok {
		return
	}
	if _, _, ok := Coordinates(s); !ok {
		return
	}
	if s.Config["configured"] != true {
		s.Config["configured"] = true
		e.ds.UpdateSensor(datastore.DaylightSensorID, s)
		log.Info().Interface("lat", s.Config["lat"]).Interface("long", s.Config["long"]).Msg("Daylight sensor configured")
	}
	e.Recompute()
}

// Recompute sets the current daylight state and arms the timer for the next
// sunrise or sunset. An unconfigured sensor has no timer.
func (e *Engine) Recompute() {
	e.mu.Lock()
	e.cancel()
	e.mu.Unlock()

	s, ok := e.ds.Sensor(datastore.DaylightSensorID)
	if !ok {
		log.Warn().Msg("No daylight sensor found")
		return
	}
	if s.Config["configured"] != true {
		log.Debug().Msg("Daylight sensor not configured")
		return
	}
	lat, lon, ok := Coordinates(s)
	if !ok {
		return
	}

	now := e.ds.Now().In(e.ds.Location())
	times := e.calc.Times(lat, lon, now)
	sunrise := times.Sunrise.Add(-minutes(s.Config["sunriseoffset"]))
	sunset := times.Sunset.Add(minutes(s.Config["sunsetoffset"]))

	var daylight bool
	switch {
	case now.Before(sunrise):
		e.arm(sunrise, true)
	case !now.Before(sunset):
		tomorrow := e.calc.Times(lat, lon, now.AddDate(0, 0, 1))
		e.arm(tomorrow.Sunrise.Add(-minutes(s.Config["sunriseoffset"])), true)
	default:
		daylight = true
		e.arm(sunset, false)
	}

	if s.State["daylight"] != daylight {
		if err := e.ds.UpdateSensorState(datastore.DaylightSensorID, map[string]any{"daylight": daylight}); err != nil {
			log.Error().Err(err).Msg("Failed to update daylight state")
		}
	}
}

func (e *Engine) arm(at time.Time, state bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.gen++
	gen := e.gen
	e.next = at
	e.nextState = state
	d := at.Sub(e.ds.Now())
	e.timer = time.AfterFunc(d, func() {
		e.post(func() { e.fire(gen) })
	})

	log.Debug().Time("at", at).Bool("daylight", state).Msg("Daylight transition scheduled")
}

// cancel stops the timer. Callers hold mu.
func (e *Engine) cancel() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.gen++
	e.next = time.Time{}
}

func (e *Engine) fire(gen uint64) {
	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return
	}
	state := e.nextState
	e.timer = nil
	e.mu.Unlock()

	log.Info().Bool("daylight", state).Msg("Daylight transition")
	if err := e.ds.UpdateSensorState(datastore.DaylightSensorID, map[string]any{"daylight": state}); err != nil {
		log.Error().Err(err).Msg("Failed to update daylight state")
	}
	e.Recompute()
}

// Next returns the pending transition, if any.
func (e *Engine) Next() (at time.Time, daylight bool, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.next, e.nextState, e.timer != nil
}

// Coordinates reads the latitude and longitude configured on a daylight sensor.
func Coordinates(s *datastore.Sensor) (lat, lon float64, ok bool) {
	lat, ok = float(s.Config["lat"])
	if !ok {
		return 0, 0, false
	}
	lon, ok = float(s.Config["long"])
	return lat, lon, ok
}

func float(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		return parseCoordinate(t)
	}
	return 0, false
}

// parseCoordinate accepts plain decimal degrees and the Hue form with a
// hemisphere suffix, such as "055.6761N" or "012.5683E".
func parseCoordinate(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "none" {
		return 0, false
	}
	sign := 1.0
	switch s[len(s)-1] {
	case 'N', 'n', 'E', 'e':
		s = s[:len(s)-1]
	case 'S', 's', 'W', 'w':
		s = s[:len(s)-1]
		sign = -1
	}
	f, err := strconv.ParseFloat(s, 64)
	return sign * f, err == nil
}

func minutes(v any) time.Duration {
	f, _ := float(v)
	return time.Duration(f * float64(time.Minute))
}
