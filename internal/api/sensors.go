package api

import (
	"sort"

	"github.com/dokzlo13/huebridge/internal/datastore"
	"github.com/dokzlo13/huebridge/internal/eventbus"
)

// Sensors serves /api/<user>/sensors.
type Sensors struct {
	ds *datastore.Datastore
}

func (h *Sensors) Name() string { return "sensors" }

func (h *Sensors) Routes() []route {
	return []route{
		newRoute("get", `^/api/(\w+)/sensors$`, h.getAll),
		newRoute("post", `^/api/(\w+)/sensors$`, h.create),
		newRoute("post", `^/api/(\w+)/sensors/new$`, h.searchForNew),
		newRoute("get", `^/api/(\w+)/sensors/new$`, h.getAll),
		newRoute("get", `^/api/(\w+)/sensors/(\w+)$`, h.get),
		newRoute("put", `^/api/(\w+)/sensors/(\w+)$`, h.update),
		newRoute("delete", `^/api/(\w+)/sensors/(\w+)$`, h.delete),
		newRoute("put", `^/api/(\w+)/sensors/(\w+)/config$`, h.changeConfig),
		newRoute("put", `^/api/(\w+)/sensors/(\w+)/state$`, h.changeState),
	}
}

type sensorBody struct {
	Name             *string        `json:"name"`
	ModelID          *string        `json:"modelid"`
	SWVersion        *string        `json:"swversion"`
	Type             *string        `json:"type"`
	UniqueID         *string        `json:"uniqueid"`
	ManufacturerName *string        `json:"manufacturername"`
	Recycle          *bool          `json:"recycle"`
	Config           map[string]any `json:"config"`
	State            map[string]any `json:"state"`
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (h *Sensors) getAll(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	writeJSON(w, h.ds.AllSensors())
}

func (h *Sensors) create(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	var body sensorBody
	if !decodeBody(w, r, &body, "/sensors") {
		return
	}

	id := h.ds.NewSensor()
	s, _ := h.ds.Sensor(id)
	if body.Name != nil {
		s.Name = *body.Name
	}
	if body.ModelID != nil {
		s.ModelID = *body.ModelID
	}
	if body.SWVersion != nil {
		s.SWVersion = *body.SWVersion
	}
	if body.Type != nil {
		s.Type = *body.Type
	}
	if body.UniqueID != nil {
		s.UniqueID = *body.UniqueID
	}
	if body.ManufacturerName != nil {
		s.ManufacturerName = *body.ManufacturerName
	}
	if body.Recycle != nil {
		s.Recycle = *body.Recycle
	}
	for k, v := range body.Config {
		s.Config[k] = v
	}
	for k, v := range body.State {
		s.State[k] = v
	}
	h.ds.UpdateSensor(id, s)

	var res Multi
	res.Success("id", id)
	writeMulti(w, &res)
	h.ds.Emit(eventbus.Event{Type: eventbus.SensorCreated, ID: id, Object: s})
}

func (h *Sensors) searchForNew(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	var res Multi
	res.Success("/sensors", "Searching for new devices")
	writeMulti(w, &res)
}

func (h *Sensors) get(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	s, ok := h.ds.Sensor(m[2])
	if !ok {
		writeError(w, ErrResourceNotAvailable, "/sensors/"+m[2])
		return
	}
	writeJSON(w, s)
}

func (h *Sensors) update(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	id := m[2]
	address := "/sensors/" + id
	var body sensorBody
	if !decodeBody(w, r, &body, address) {
		return
	}
	s, ok := h.ds.Sensor(id)
	if !ok {
		writeError(w, ErrResourceNotAvailable, address)
		return
	}

	var res Multi
	if body.Name != nil {
		s.Name = *body.Name
		res.Success(address+"/name", s.Name)
	}
	if body.ModelID != nil {
		s.ModelID = *body.ModelID
		res.Success(address+"/modelid", s.ModelID)
	}
	if body.SWVersion != nil {
		s.SWVersion = *body.SWVersion
		res.Success(address+"/swversion", s.SWVersion)
	}
	if body.Type != nil {
		s.Type = *body.Type
		res.Success(address+"/type", s.Type)
	}
	if body.UniqueID != nil {
		s.UniqueID = *body.UniqueID
		res.Success(address+"/uniqueid", s.UniqueID)
	}
	if body.ManufacturerName != nil {
		s.ManufacturerName = *body.ManufacturerName
		res.Success(address+"/manufacturername", s.ManufacturerName)
	}
	if len(body.Config) > 0 && s.Config == nil {
		s.Config = map[string]any{}
	}
	for _, k := range sortedKeys(body.Config) {
		s.Config[k] = body.Config[k]
		res.Success(address+"/config/"+k, body.Config[k])
	}
	if len(body.State) > 0 && s.State == nil {
		s.State = map[string]any{}
	}
	for _, k := range sortedKeys(body.State) {
		s.State[k] = body.State[k]
		res.Success(address+"/state/"+k, body.State[k])
	}
	writeMulti(w, &res)
	h.ds.UpdateSensor(id, s)
	h.ds.Emit(eventbus.Event{Type: eventbus.SensorModified, ID: id, Object: s})
}

func (h *Sensors) delete(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	id := m[2]
	if !h.ds.DeleteSensor(id) {
		writeError(w, ErrResourceNotAvailable, "/sensors/"+id)
		return
	}
	writeRaw(w, []map[string]string{{"success": "/sensors/" + id + " deleted."}})
	h.ds.Emit(eventbus.Event{Type: eventbus.SensorDeleted, ID: id})
}

func (h *Sensors) changeConfig(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	id := m[2]
	address := "/sensors/" + id + "/config"
	var body map[string]any
	if !decodeBody(w, r, &body, address) {
		return
	}
	s, ok := h.ds.Sensor(id)
	if !ok {
		writeError(w, ErrResourceNotAvailable, "/sensors/"+id)
		return
	}
	if s.Config == nil {
		s.Config = map[string]any{}
	}

	var res Multi
	for _, k := range sortedKeys(body) {
		s.Config[k] = body[k]
		res.Success(address+"/"+k, body[k])
	}
	writeMulti(w, &res)
	h.ds.UpdateSensor(id, s)
	h.ds.Emit(eventbus.Event{Type: eventbus.SensorConfigModified, ID: id, Object: s})
}

// changeState merges the body into the sensor state. Each key produces its
// own sensor-state-modified event, which drives rule evaluation.
func (h *Sensors) changeState(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	id := m[2]
	address := "/sensors/" + id + "/state"
	var body map[string]any
	if !decodeBody(w, r, &body, address) {
		return
	}
	if err := h.ds.UpdateSensorState(id, body); err != nil {
		writeError(w, ErrResourceNotAvailable, "/sensors/"+id)
		return
	}

	var res Multi
	for _, k := range sortedKeys(body) {
		if k == "lastupdated" {
			continue
		}
		res.Success(address+"/"+k, body[k])
	}
	writeMulti(w, &res)
}
