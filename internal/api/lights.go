package api

import (
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huebridge/internal/datastore"
	"github.com/dokzlo13/huebridge/internal/eventbus"
)

// Lights serves /api/<user>/lights.
type Lights struct {
	ds *datastore.Datastore
}

func (h *Lights) Name() string { return "lights" }

func (h *Lights) Routes() []route {
	return []route{
		newRoute("get", `^/api/(\w+)/lights$`, h.getAll),
		newRoute("get", `^/api/(\w+)/lights/new$`, h.getAll),
		newRoute("post", `^/api/(\w+)/lights$`, h.searchForNew),
		newRoute("get", `^/api/(\w+)/lights/(\w+)$`, h.get),
		newRoute("put", `^/api/(\w+)/lights/(\w+)$`, h.setAttributes),
		newRoute("put", `^/api/(\w+)/lights/(\w+)/state$`, h.setState),
		newRoute("delete", `^/api/(\w+)/lights/(\w+)$`, h.delete),
	}
}

func (h *Lights) getAll(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	writeJSON(w, h.ds.AllLights())
}

func (h *Lights) searchForNew(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	var res Multi
	res.Success("/lights", "Searching for new devices")
	writeMulti(w, &res)
}

func (h *Lights) get(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	l, ok := h.ds.Light(m[2])
	if !ok {
		writeError(w, ErrResourceNotAvailable, "/lights/"+m[2])
		return
	}
	writeJSON(w, l)
}

type lightAttributes struct {
	Name *string `json:"name"`
}

func (h *Lights) setAttributes(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	id := m[2]
	address := "/lights/" + id
	var body lightAttributes
	if !decodeBody(w, r, &body, address) {
		return
	}
	l, ok := h.ds.Light(id)
	if !ok {
		writeError(w, ErrResourceNotAvailable, address)
		return
	}

	var res Multi
	if body.Name != nil {
		l.Name = *body.Name
		res.Success(address+"/name", l.Name)
	}
	h.ds.UpdateLight(id, l)
	writeMulti(w, &res)
	h.ds.Emit(eventbus.Event{Type: eventbus.LightModified, ID: id, Object: l})
}

func (h *Lights) setState(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	id := m[2]
	var patch datastore.StatePatch
	if !decodeBody(w, r, &patch, "/lights/"+id+"/state") {
		return
	}
	if _, ok := h.ds.Light(id); !ok {
		writeError(w, ErrResourceNotAvailable, "/lights/"+id)
		return
	}
	var res Multi
	h.updateState(id, &patch, &res, "/lights/"+id+"/state/")
	writeMulti(w, &res)
}

// updateState merges patch into the state of light id. Applied fields are
// reported to res under prefix when res is not nil; a missing light is
// reported as error 3. Every successful update emits light-state-modified.
func (h *Lights) updateState(id string, patch *datastore.StatePatch, res *Multi, prefix string) bool {
	l, ok := h.ds.Light(id)
	if !ok {
		log.Debug().Str("light", id).Msg("State update for unknown light")
		if res != nil {
			res.Error(ErrResourceNotAvailable, "/lights/"+id)
		}
		return false
	}

	p := patch.Clone()
	state := l.State
	state.Apply(&p, func(field string, value any) {
		if res != nil {
			res.Success(prefix+field, value)
		}
	})
	if err := h.ds.UpdateLightState(id, state); err != nil {
		return false
	}
	h.ds.Emit(eventbus.Event{Type: eventbus.LightStateModified, ID: id, Object: p})
	return true
}

func (h *Lights) delete(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	writeError(w, ErrInternal, "/lights/"+m[2])
}
