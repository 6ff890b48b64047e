package modules

import (
	"time"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/huebridge/internal/datastore"
	"github.com/dokzlo13/huebridge/internal/daylight"
	"github.com/dokzlo13/huebridge/internal/geo"
)

// GeoModule provides astronomical functions to Lua
type GeoModule struct {
	host       Host
	calculator *geo.Calculator
}

// NewGeoModule creates a geo module backed by a shared calculator
func NewGeoModule(host Host, calculator *geo.Calculator) *GeoModule {
	return &GeoModule{host: host, calculator: calculator}
}

// Loader is the module loader for Lua
func (m *GeoModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "today", L.NewFunction(m.today))
	L.SetField(mod, "times", L.NewFunction(m.times))

	L.Push(mod)
	return 1
}

// today() -> {dawn, sunrise, noon, sunset, dusk} for the daylight sensor's
// coordinates, or nil when the sensor is not configured.
func (m *GeoModule) today(L *lua.LState) int {
	ds := m.host.Datastore()
	s, ok := ds.Sensor(datastore.DaylightSensorID)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	lat, lon, ok := daylight.Coordinates(s)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(m.push(L, lat, lon, ds.Now().In(ds.Location())))
	return 1
}

// times(lat, lon, unix?) -> {dawn, sunrise, noon, sunset, dusk}
func (m *GeoModule) times(L *lua.LState) int {
	lat := float64(L.CheckNumber(1))
	lon := float64(L.CheckNumber(2))
	ds := m.host.Datastore()
	date := ds.Now()
	if L.GetTop() >= 3 {
		date = time.Unix(int64(L.CheckNumber(3)), 0)
	}
	L.Push(m.push(L, lat, lon, date.In(ds.Location())))
	return 1
}

// push builds the result table of Unix timestamps.
func (m *GeoModule) push(L *lua.LState, lat, lon float64, date time.Time) *lua.LTable {
	times := m.calculator.Times(lat, lon, date)

	result := L.NewTable()
	L.SetField(result, "dawn", lua.LNumber(times.Dawn.Unix()))
	L.SetField(result, "sunrise", lua.LNumber(times.Sunrise.Unix()))
	L.SetField(result, "noon", lua.LNumber(times.Noon.Unix()))
	L.SetField(result, "sunset", lua.LNumber(times.Sunset.Unix()))
	L.SetField(result, "dusk", lua.LNumber(times.Dusk.Unix()))

	log.Debug().
		Str("bridge", m.host.BridgeID()).
		Str("sunrise", times.Sunrise.Format("15:04")).
		Str("sunset", times.Sunset.Format("15:04")).
		Msg("Astronomical times calculated")

	return result
}
