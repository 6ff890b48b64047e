package api

import (
	"encoding/json"

	"github.com/dokzlo13/huebridge/internal/datastore"
	"github.com/dokzlo13/huebridge/internal/eventbus"
)

// Groups serves /api/<user>/groups. Group 0 is the virtual group of all lights.
type Groups struct {
	ds     *datastore.Datastore
	lights *Lights
	scenes *Scenes
}

func (h *Groups) Name() string { return "groups" }

func (h *Groups) Routes() []route {
	return []route{
		newRoute("get", `^/api/(\w+)/groups$`, h.getAll),
		newRoute("post", `^/api/(\w+)/groups$`, h.create),
		newRoute("get", `^/api/(\w+)/groups/(\w+)$`, h.get),
		newRoute("put", `^/api/(\w+)/groups/(\w+)$`, h.setAttributes),
		newRoute("put", `^/api/(\w+)/groups/(\w+)/action$`, h.setState),
		newRoute("delete", `^/api/(\w+)/groups/(\w+)$`, h.delete),
	}
}

type groupStateBody struct {
	AllOn *bool `json:"all_on"`
	AnyOn *bool `json:"any_on"`
}

type groupStreamBody struct {
	Active    *bool   `json:"active"`
	ProxyMode *string `json:"proxymode"`
}

type groupBody struct {
	Name      *string          `json:"name"`
	Lights    *[]string        `json:"lights"`
	Type      *string          `json:"type"`
	State     *groupStateBody  `json:"state"`
	Recycle   *bool            `json:"recycle"`
	Class     *string          `json:"class"`
	Action    map[string]any   `json:"action"`
	Locations map[string]any   `json:"locations"`
	Stream    *groupStreamBody `json:"stream"`
}

func (b *groupBody) applyState(g *datastore.Group) {
	if b.State.AllOn != nil {
		g.State.AllOn = *b.State.AllOn
	}
	if b.State.AnyOn != nil {
		g.State.AnyOn = *b.State.AnyOn
	}
}

func (h *Groups) getAll(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	writeJSON(w, h.ds.AllGroups())
}

func (h *Groups) create(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	var body groupBody
	if !decodeBody(w, r, &body, "/groups") {
		return
	}

	id := h.ds.CreateGroup()
	g, _ := h.ds.Group(id)
	if body.Name != nil {
		g.Name = *body.Name
	}
	if body.Lights != nil {
		g.Lights = *body.Lights
	}
	if body.Type != nil {
		g.Type = *body.Type
	}
	if body.State != nil {
		body.applyState(g)
	}
	if body.Recycle != nil {
		g.Recycle = *body.Recycle
	}
	if body.Class != nil {
		g.Class = *body.Class
	}
	if body.Action != nil {
		g.Action = body.Action
	}
	h.ds.UpdateGroup(id, g)

	var res Multi
	res.Success("id", id)
	writeMulti(w, &res)
	h.ds.Emit(eventbus.Event{Type: eventbus.GroupCreated, ID: id, Object: g})
}

func (h *Groups) get(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	id := m[2]
	if id == "0" {
		writeJSON(w, h.ds.GroupZero())
		return
	}
	g, ok := h.ds.Group(id)
	if !ok {
		writeError(w, ErrResourceNotAvailable, "/groups/"+id)
		return
	}
	writeJSON(w, g)
}

func (h *Groups) setAttributes(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	id := m[2]
	address := "/groups/" + id
	var body groupBody
	if !decodeBody(w, r, &body, address) {
		return
	}
	g, ok := h.ds.Group(id)
	if !ok {
		writeError(w, ErrResourceNotAvailable, address)
		return
	}

	var res Multi
	if body.Name != nil {
		g.Name = *body.Name
		res.Success(address+"/name", g.Name)
	}
	if body.Lights != nil {
		g.Lights = *body.Lights
		res.Success(address+"/lights", g.Lights)
	}
	if body.Type != nil {
		g.Type = *body.Type
		res.Success(address+"/type", g.Type)
	}
	if body.State != nil {
		body.applyState(g)
		res.Success(address+"/state", g.State)
	}
	if body.Recycle != nil {
		g.Recycle = *body.Recycle
		res.Success(address+"/recycle", g.Recycle)
	}
	if body.Class != nil {
		g.Class = *body.Class
		res.Success(address+"/class", g.Class)
	}
	if body.Action != nil {
		g.Action = body.Action
		res.Success(address+"/action", g.Action)
	}
	if body.Locations != nil {
		g.Locations = body.Locations
		res.Success(address+"/locations", g.Locations)
	}
	if body.Stream != nil {
		if g.Stream == nil {
			g.Stream = map[string]any{}
		}
		if body.Stream.Active != nil {
			g.Stream["active"] = *body.Stream.Active
			res.Success(address+"/stream/active", *body.Stream.Active)
		}
		if body.Stream.ProxyMode != nil {
			g.Stream["proxymode"] = *body.Stream.ProxyMode
			res.Success(address+"/stream/proxymode", *body.Stream.ProxyMode)
		}
	}
	writeMulti(w, &res)
	h.ds.UpdateGroup(id, g)
	h.ds.Emit(eventbus.Event{Type: eventbus.GroupModified, ID: id, Object: g})
}

// setState fans a light state patch out to the members of a group. Only the
// first light's fields are reported in the response.
func (h *Groups) setState(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	id := m[2]
	var patch datastore.StatePatch
	if !decodeBody(w, r, &patch, "/groups/"+id+"/action") {
		return
	}
	if patch.Scene != nil {
		h.scenes.recall(w, id, *patch.Scene)
		return
	}

	var lights []string
	var g *datastore.Group
	if id == "0" {
		lights = h.ds.AllLightIDs()
	} else {
		var ok bool
		g, ok = h.ds.Group(id)
		if !ok {
			writeError(w, ErrResourceNotAvailable, "/groups/"+id)
			return
		}
		lights = g.Lights
	}

	var res Multi
	prefix := "/groups/" + id + "/action/"
	for i, lightID := range lights {
		if i == 0 {
			h.lights.updateState(lightID, &patch, &res, prefix)
			continue
		}
		h.lights.updateState(lightID, &patch, nil, prefix)
	}
	writeMulti(w, &res)

	if g != nil {
		mergeAction(g, &patch)
		h.ds.RefreshGroup(id)
	}
}

// mergeAction records the absolute fields of patch as the group's last action.
func mergeAction(g *datastore.Group, patch *datastore.StatePatch) {
	data, err := json.Marshal(patch)
	if err != nil {
		return
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return
	}
	if g.Action == nil {
		g.Action = map[string]any{}
	}
	for k, v := range fields {
		switch k {
		case "bri_inc", "hue_inc", "sat_inc", "ct_inc", "xy_inc", "scene":
			continue
		}
		g.Action[k] = v
	}
}

func (h *Groups) delete(w ResponseWriter, r *Request, m []string) {
	if !authorized(h.ds, w, m[1]) {
		return
	}
	id := m[2]
	if !h.ds.DeleteGroup(id) {
		writeError(w, ErrResourceNotAvailable, "/groups/"+id)
		return
	}
	writeRaw(w, []map[string]string{{"success": "/groups/" + id + " deleted."}})
	h.ds.Emit(eventbus.Event{Type: eventbus.GroupDeleted, ID: id})
}
