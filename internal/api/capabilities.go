package api

import "github.com/dokzlo13/huebridge/internal/datastore"

// Capabilities serves /api/<user>/capabilities.
type Capabilities struct {
	ds *datastore.Datastore
}

func (h *Capabilities) Name() string { return "capabilities" }

func (h *Capabilities) Routes() []route {
	return []route{
		newRoute("get", `^/api/(\w+)/capabilities$`, h.get),
		newRoute("get", `^/api/(\w+)/capabilities/timezones$`, h.timezones),
	}
}

func (h *Capabilities) get(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	writeJSON(w, h.ds.Capabilities())
}

func (h *Capabilities) timezones(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	writeJSON(w, datastore.Timezones)
}
