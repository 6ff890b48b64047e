package datastore

import (
	"fmt"
	"sort"

	"github.com/dokzlo13/huebridge/internal/eventbus"
)

// DaylightSensorID is reserved for the virtual daylight sensor.
const DaylightSensorID = "1"

type sensorTemplate struct {
	modelID      string
	manufacturer string
	state        func() map[string]any
	config       func() map[string]any
}

var sensorTemplates = map[string]sensorTemplate{
	"ZLLTemperature": {
		modelID: "SML001", manufacturer: "Philips",
		state:  func() map[string]any { return map[string]any{"temperature": 0} },
		config: batteryConfig,
	},
	"ZLLPresence": {
		modelID: "SML001", manufacturer: "Philips",
		state: func() map[string]any { return map[string]any{"presence": false} },
		config: func() map[string]any {
			c := batteryConfig()
			c["sensitivity"] = 2
			c["sensitivitymax"] = 2
			return c
		},
	},
	"ZLLLightLevel": {
		modelID: "SML001", manufacturer: "Philips",
		state: func() map[string]any {
			return map[string]any{"lightlevel": 0, "dark": true, "daylight": false}
		},
		config: func() map[string]any {
			c := batteryConfig()
			c["tholddark"] = 16000
			c["tholdoffset"] = 7000
			return c
		},
	},
	"ZGPSwitch": {
		modelID: "ZGPSWITCH", manufacturer: "Philips",
		state:  func() map[string]any { return map[string]any{"buttonevent": 0} },
		config: func() map[string]any { return map[string]any{"on": true} },
	},
	"CLIPGenericStatus": {
		modelID: "GenericCLIP", manufacturer: "NodeRED",
		state:  func() map[string]any { return map[string]any{"status": 0} },
		config: clipConfig,
	},
	"CLIPGenericFlag": {
		modelID: "GenericCLIP", manufacturer: "NodeRED",
		state:  func() map[string]any { return map[string]any{"flag": false} },
		config: clipConfig,
	},
}

func batteryConfig() map[string]any {
	return map[string]any{"on": true, "battery": 100, "reachable": true}
}

func clipConfig() map[string]any {
	return map[string]any{"on": true, "reachable": true}
}

// SensorTypes lists the sensor types devices may register.
func SensorTypes() []string {
	types := make([]string, 0, len(sensorTemplates))
	for t := range sensorTemplates {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func newDaylightSensor() *Sensor {
	return &Sensor{
		State: map[string]any{"daylight": false, "lastupdated": "none"},
		Config: map[string]any{
			"on":            true,
			"configured":    false,
			"sunriseoffset": 30,
			"sunsetoffset":  -30,
			"lat":           "none",
			"long":          "none",
		},
		Name:             "Daylight",
		Type:             "Daylight",
		ModelID:          "PHDL00",
		ManufacturerName: "Philips",
		SWVersion:        "1.0",
	}
}

// CreateSensor registers a device sensor for clientID. Registering the same
// client again returns the existing ID.
func (d *Datastore) CreateSensor(typ, clientID, name string) (string, error) {
	tpl, ok := sensorTemplates[typ]
	if !ok {
		return "", fmt.Errorf("unsupported sensor type %q", typ)
	}
	for _, id := range d.state.Sensors.ids() {
		s := d.state.Sensors.List[id]
		if clientID != "" && s.ClientID == clientID {
			return id, nil
		}
	}

	state := tpl.state()
	state["lastupdated"] = "none"
	s := &Sensor{
		State:            state,
		Config:           tpl.config(),
		Name:             name,
		Type:             typ,
		ModelID:          tpl.modelID,
		ManufacturerName: tpl.manufacturer,
		SWVersion:        "1.0",
		ClientID:         clientID,
	}
	id := d.state.Sensors.add(s)
	s.UniqueID = lightUniqueID(d.net.MAC, id)
	if s.Name == "" {
		s.Name = typ + " " + id
	}
	d.markDirty(keySensors)
	return id, nil
}

// NewSensor creates a blank sensor, as POST /sensors does.
func (d *Datastore) NewSensor() string {
	s := &Sensor{
		State:  map[string]any{"lastupdated": "none"},
		Config: map[string]any{"on": true},
	}
	id := d.state.Sensors.add(s)
	d.markDirty(keySensors)
	return id
}

// Sensor returns the sensor with the given ID.
func (d *Datastore) Sensor(id string) (*Sensor, bool) {
	return d.state.Sensors.get(id)
}

// AllSensors returns every sensor keyed by ID.
func (d *Datastore) AllSensors() map[string]*Sensor {
	return d.state.Sensors.List
}

// UpdateSensor stores s under id.
func (d *Datastore) UpdateSensor(id string, s *Sensor) {
	d.state.Sensors.List[id] = s
	d.markDirty(keySensors)
}

// UpdateSensorState merges a device reported state into a sensor, stamps
// lastupdated and emits one sensor-state-modified event per key.
func (d *Datastore) UpdateSensorState(id string, patch map[string]any) error {
	s, ok := d.state.Sensors.get(id)
	if !ok {
		return fmt.Errorf("sensor %s: %w", id, ErrNotFound)
	}
	if s.State == nil {
		s.State = make(map[string]any)
	}
	keys := make([]string, 0, len(patch))
	for k := range patch {
		if k == "lastupdated" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s.State[k] = patch[k]
	}
	s.State["lastupdated"] = d.DateString()
	d.markDirty(keySensors)
	for _, k := range keys {
		d.Emit(eventbus.Event{
			Type:    eventbus.SensorStateModified,
			ID:      id,
			Object:  s,
			Address: "/sensors/" + id + "/state/" + k,
			Value:   patch[k],
		})
	}
	return nil
}

// DeleteSensor removes a sensor. The daylight sensor cannot be removed.
func (d *Datastore) DeleteSensor(id string) bool {
	if id == DaylightSensorID {
		return false
	}
	if !d.state.Sensors.remove(id) {
		return false
	}
	d.markDirty(keySensors)
	return true
}
